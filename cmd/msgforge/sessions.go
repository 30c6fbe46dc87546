package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/msgforge/internal/jobs"
	"github.com/kalambet/msgforge/internal/storage"
)

func assetPath(sessionID, assetType string) string {
	return "/sessions/" + sessionID + "/assets/" + assetType
}

// --- versions ---

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage versioned session assets",
}

var versionsListCmd = &cobra.Command{
	Use:   "list <session> <asset-type>",
	Short: "List versions of a session asset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []storage.SessionVersion
		if err := client.call(cmd.Context(), http.MethodGet, assetPath(args[0], args[1])+"/versions", nil, &list); err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, v := range list {
			active := ""
			if v.IsActive {
				active = "*"
			}
			rows = append(rows, []string{fmt.Sprint(v.VersionNumber), v.ID, v.Source, active,
				v.CreatedAt.Format(time.DateTime), truncate(v.Content, 50)})
		}
		printTable([]string{"V", "ID", "SOURCE", "ACTIVE", "CREATED", "CONTENT"}, rows)
		return nil
	},
}

var versionsCreateCmd = &cobra.Command{
	Use:   "create <session> <asset-type>",
	Short: "Save content as the new active version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		content, err := readContent(text, file)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.SessionVersion
		if err := client.call(cmd.Context(), http.MethodPost, assetPath(args[0], args[1])+"/versions", map[string]string{"content": content}, &v); err != nil {
			return err
		}
		printSuccess("Created version %d (%s)", v.VersionNumber, v.ID)
		return nil
	},
}

var versionsActiveCmd = &cobra.Command{
	Use:   "active <session> <asset-type>",
	Short: "Print the active version's content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.SessionVersion
		if err := client.call(cmd.Context(), http.MethodGet, assetPath(args[0], args[1])+"/versions/active", nil, &v); err != nil {
			return err
		}
		printStatus("Version", "%d (%s, %s)", v.VersionNumber, v.Source, v.ID)
		fmt.Fprintln(stdout, v.Content)
		return nil
	},
}

var versionsActivateCmd = &cobra.Command{
	Use:   "activate <version-id>",
	Short: "Make an earlier version active again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.SessionVersion
		if err := client.call(cmd.Context(), http.MethodPost, "/versions/"+args[0]+"/activate", nil, &v); err != nil {
			return err
		}
		printSuccess("Version %d of %s/%s is active", v.VersionNumber, v.SessionID, v.AssetType)
		return nil
	},
}

func init() {
	versionsCreateCmd.Flags().String("text", "", "version content")
	versionsCreateCmd.Flags().String("file", "", "read the content from a file")
	versionsCmd.AddCommand(versionsListCmd, versionsCreateCmd, versionsActiveCmd, versionsActivateCmd)
}

// --- actions ---

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Run background actions on session assets",
}

var actionsRunCmd = &cobra.Command{
	Use:   "run <session> <asset-type> <action>",
	Short: "Start an action, e.g. polish",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var started map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, assetPath(args[0], args[1])+"/actions", map[string]string{"action": args[2]}, &started); err != nil {
			return err
		}
		id := started["id"]
		printSuccess("Started %s action %s", args[2], id)
		if !wait {
			return nil
		}

		job, err := waitForAction(cmd.Context(), client, id, time.Second, func(j storage.ActionJob) {
			printStep("%3d%% %s", j.Progress, j.CurrentStep)
		})
		if err != nil {
			return err
		}
		if job.Status != storage.ActionCompleted {
			return fmt.Errorf("action %s %s: %s", id, job.Status, job.ErrorMessage)
		}
		printSuccess("Action completed: %s", job.Result)
		return nil
	},
}

// waitForAction polls until the action leaves the running state. onProgress
// is called whenever progress or step changes.
func waitForAction(ctx context.Context, client *apiClient, id string, every time.Duration, onProgress func(storage.ActionJob)) (storage.ActionJob, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	lastPct, lastStep := -1, ""
	for {
		var job storage.ActionJob
		if err := client.call(ctx, http.MethodGet, "/actions/"+id, nil, &job); err != nil {
			return job, err
		}
		if job.Status != storage.ActionRunning {
			return job, nil
		}
		if job.Progress != lastPct || job.CurrentStep != lastStep {
			lastPct, lastStep = job.Progress, job.CurrentStep
			onProgress(job)
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

var actionsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show an action's status as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var job storage.ActionJob
		if err := client.call(cmd.Context(), http.MethodGet, "/actions/"+args[0], nil, &job); err != nil {
			return err
		}
		return printJSON(job)
	},
}

var actionsCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/actions/"+args[0]+"/cancel", nil, nil); err != nil {
			return err
		}
		printSuccess("Cancelled action %s", args[0])
		return nil
	},
}

func init() {
	actionsRunCmd.Flags().Bool("wait", false, "wait for the action and show progress")
	actionsCmd.AddCommand(actionsRunCmd, actionsStatusCmd, actionsCancelCmd)
}

// --- discovery schedules ---

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "Manage pain point discovery schedules",
}

var schedulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a discovery schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		source, _ := cmd.Flags().GetString("source")
		query, _ := cmd.Flags().GetString("query")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var sc storage.DiscoverySchedule
		err = client.call(cmd.Context(), http.MethodPost, "/schedules", map[string]any{
			"name": name, "source": source, "query": query, "limit": limit,
		}, &sc)
		if err != nil {
			return err
		}
		printSuccess("Added schedule %s (%s)", sc.Name, sc.ID)
		return nil
	},
}

var schedulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovery schedules",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []storage.DiscoverySchedule
		if err := client.call(cmd.Context(), http.MethodGet, "/schedules", nil, &list); err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, sc := range list {
			next := "now"
			if sc.NextRunAt != nil {
				next = sc.NextRunAt.Format(time.DateTime)
			}
			rows = append(rows, []string{sc.ID, sc.Name, sc.Config.Source, fmt.Sprint(sc.IsActive), next, truncate(sc.LastError, 40)})
		}
		printTable([]string{"ID", "NAME", "SOURCE", "ACTIVE", "NEXT RUN", "LAST ERROR"}, rows)
		return nil
	},
}

func setScheduleActive(active bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/schedules/"+args[0]+"/active", map[string]bool{"active": active}, nil); err != nil {
			return err
		}
		state := "disabled"
		if active {
			state = "enabled"
		}
		printSuccess("Schedule %s %s", args[0], state)
		return nil
	}
}

var schedulesEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Enable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  setScheduleActive(true),
}

var schedulesDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Disable a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  setScheduleActive(false),
}

var schedulesRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run all due schedules now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var sum jobs.RunSummary
		if err := client.call(cmd.Context(), http.MethodPost, "/schedules/run", nil, &sum); err != nil {
			return err
		}
		printSuccess("Processed %d schedules, discovered %d pain points", sum.Processed, sum.Discovered)
		for _, e := range sum.Errors {
			printWarning("%s", e)
		}
		return nil
	},
}

func init() {
	schedulesAddCmd.Flags().String("name", "", "schedule name")
	schedulesAddCmd.Flags().String("source", "", "discovery source, e.g. forum")
	schedulesAddCmd.Flags().String("query", "", "search query passed to the source")
	schedulesAddCmd.Flags().Int("limit", 0, "maximum posts per run (0 for the source default)")
	schedulesCmd.AddCommand(schedulesAddCmd, schedulesListCmd, schedulesEnableCmd, schedulesDisableCmd, schedulesRunCmd)
}
