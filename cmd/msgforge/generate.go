package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/msgforge/internal/api"
	"github.com/kalambet/msgforge/internal/storage"
)

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Queue and inspect generation jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Queue a generation job",
	Long: `Queue a generation job for one pain point across voice profiles and asset types.

Examples:
  msgforge jobs create --pain-point <id> --voices <id>,<id> --assets battlecard,one_pager
  msgforge jobs create --pain-point <id> --voices <id> --assets email --wait`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ppID, _ := cmd.Flags().GetString("pain-point")
		voices, _ := cmd.Flags().GetString("voices")
		assets, _ := cmd.Flags().GetString("assets")
		wait, _ := cmd.Flags().GetBool("wait")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var job storage.GenerationJob
		err = client.call(cmd.Context(), http.MethodPost, "/jobs", map[string]any{
			"pain_point_id":     ppID,
			"voice_profile_ids": splitList(voices),
			"asset_types":       splitList(assets),
		}, &job)
		if err != nil {
			return err
		}
		printSuccess("Queued generation job %s", job.ID)
		if !wait {
			return nil
		}

		printStep("Waiting for job to finish...")
		job, err = waitForJob(cmd.Context(), client, job.ID, 2*time.Second)
		if err != nil {
			return err
		}
		if job.Status == storage.JobFailed {
			return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage)
		}
		return printVariants(cmd.Context(), client, job.ID, false)
	},
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(ctx context.Context, client *apiClient, id string, every time.Duration) (storage.GenerationJob, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		var job storage.GenerationJob
		if err := client.call(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
			return job, err
		}
		if job.Status == storage.JobCompleted || job.Status == storage.JobFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generation jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if status != "" {
			q.Set("status", status)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []storage.GenerationJob
		if err := client.call(cmd.Context(), http.MethodGet, "/jobs?"+q.Encode(), nil, &list); err != nil {
			return err
		}
		rows := make([][]string, 0, len(list))
		for _, j := range list {
			rows = append(rows, []string{j.ID, j.Status, j.PainPointID,
				fmt.Sprintf("%dx%d", len(j.VoiceProfileIDs), len(j.AssetTypes)),
				fmt.Sprint(j.Attempts), truncate(j.ErrorMessage, 40)})
		}
		printTable([]string{"ID", "STATUS", "PAIN POINT", "CELLS", "ATTEMPTS", "ERROR"}, rows)
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a generation job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var job storage.GenerationJob
		if err := client.call(cmd.Context(), http.MethodGet, "/jobs/"+args[0], nil, &job); err != nil {
			return err
		}
		return printJSON(job)
	},
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a failed generation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodPost, "/jobs/"+args[0]+"/retry", nil, nil); err != nil {
			return err
		}
		printSuccess("Requeued job %s", args[0])
		return nil
	},
}

var jobsVariantsCmd = &cobra.Command{
	Use:   "variants <job-id>",
	Short: "List the scored variants of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		passing, _ := cmd.Flags().GetBool("passing")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return printVariants(cmd.Context(), client, args[0], passing)
	},
}

func printVariants(ctx context.Context, client *apiClient, jobID string, passingOnly bool) error {
	var list api.VariantList
	if err := client.call(ctx, http.MethodGet, "/jobs/"+jobID+"/variants", nil, &list); err != nil {
		return err
	}
	printTable([]string{"ID", "VOICE", "ASSET", "#", "SLOP", "VENDOR", "AUTH", "SPEC", "PERSONA", "GATE", "BEST", "REVIEW"},
		variantRows(list, passingOnly))
	return nil
}

func variantRows(list api.VariantList, passingOnly bool) [][]string {
	best := make(map[string]bool, len(list.Best))
	for _, b := range list.Best {
		best[b.VariantID] = true
	}
	var rows [][]string
	for _, v := range list.Variants {
		if passingOnly && !v.Passes {
			continue
		}
		gate := "pass"
		if !v.Passes {
			gate = "fail: " + strings.Join(v.Failures, ",")
		}
		mark := ""
		if best[v.ID] {
			mark = "*"
		}
		s := v.Scores
		rows = append(rows, []string{v.ID, v.VoiceProfileID, v.AssetType, fmt.Sprint(v.VariantIndex),
			fmt.Sprintf("%.1f", s.Slop), fmt.Sprintf("%.1f", s.VendorSpeak), fmt.Sprintf("%.1f", s.Authenticity),
			fmt.Sprintf("%.1f", s.Specificity), fmt.Sprintf("%.1f", s.PersonaAvg), gate, mark, v.ReviewStatus})
	}
	return rows
}

func init() {
	jobsCreateCmd.Flags().String("pain-point", "", "pain point id")
	jobsCreateCmd.Flags().String("voices", "", "comma-separated voice profile ids")
	jobsCreateCmd.Flags().String("assets", "", "comma-separated asset types")
	jobsCreateCmd.Flags().Bool("wait", false, "wait for the job and print its variants")
	jobsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed)")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs")
	jobsVariantsCmd.Flags().Bool("passing", false, "only show variants that pass the quality gate")
	jobsCmd.AddCommand(jobsCreateCmd, jobsListCmd, jobsShowCmd, jobsRetryCmd, jobsVariantsCmd)
}

// --- variants ---

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Review generated variants",
}

var variantsReviewCmd = &cobra.Command{
	Use:   "review <id> <approved|rejected|pending>",
	Short: "Set a variant's review status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.Variant
		if err := client.call(cmd.Context(), http.MethodPost, "/variants/"+args[0]+"/review", map[string]string{"status": args[1]}, &v); err != nil {
			return err
		}
		printSuccess("Variant %s is now %s", v.ID, v.ReviewStatus)
		return nil
	},
}

var variantsSelectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Select a variant as the winner of its cell",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.Variant
		if err := client.call(cmd.Context(), http.MethodPost, "/variants/"+args[0]+"/select", nil, &v); err != nil {
			return err
		}
		printSuccess("Selected variant %s for %s/%s", v.ID, v.VoiceProfileID, v.AssetType)
		fmt.Fprintln(stdout, v.Content)
		return nil
	},
}

func init() {
	variantsCmd.AddCommand(variantsReviewCmd, variantsSelectCmd)
}
