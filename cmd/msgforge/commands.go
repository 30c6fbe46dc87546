package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/msgforge/internal/config"
	"github.com/kalambet/msgforge/internal/retrieval"
	"github.com/kalambet/msgforge/internal/storage"
)

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readContent returns text, or the contents of file when text is empty.
func readContent(text, file string) (string, error) {
	if text != "" {
		return text, nil
	}
	if file == "" {
		return "", fmt.Errorf("one of --text or --file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

// --- pain points ---

var painPointsCmd = &cobra.Command{
	Use:     "painpoints",
	Aliases: []string{"pp"},
	Short:   "Manage customer pain points",
}

var painPointsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a pain point",
	Long: `Add a pain point.

Examples:
  msgforge painpoints add --title "Deploys take 40 minutes" --content "..." --keywords ci,deploy
  msgforge painpoints add --title "Flaky tests" --url https://forum.example.com/t/123 --source forum`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, _ := cmd.Flags().GetString("content")
		url, _ := cmd.Flags().GetString("url")
		source, _ := cmd.Flags().GetString("source")
		keywords, _ := cmd.Flags().GetString("keywords")
		if title == "" {
			return fmt.Errorf("--title is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var pp storage.PainPoint
		err = client.call(cmd.Context(), http.MethodPost, "/pain-points", map[string]any{
			"title":      title,
			"content":    content,
			"source":     source,
			"source_url": url,
			"keywords":   splitList(keywords),
		}, &pp)
		if err != nil {
			return err
		}
		printSuccess("Added pain point %s", pp.ID)
		return nil
	},
}

var painPointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pain points, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var pps []storage.PainPoint
		if err := client.call(cmd.Context(), http.MethodGet, fmt.Sprintf("/pain-points?limit=%d", limit), nil, &pps); err != nil {
			return err
		}
		rows := make([][]string, 0, len(pps))
		for _, p := range pps {
			rows = append(rows, []string{p.ID, p.Source, truncate(p.Title, 60), p.CreatedAt.Format("2006-01-02")})
		}
		printTable([]string{"ID", "SOURCE", "TITLE", "CREATED"}, rows)
		return nil
	},
}

var painPointsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a pain point as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var pp storage.PainPoint
		if err := client.call(cmd.Context(), http.MethodGet, "/pain-points/"+args[0], nil, &pp); err != nil {
			return err
		}
		return printJSON(pp)
	},
}

func init() {
	painPointsAddCmd.Flags().String("title", "", "pain point title")
	painPointsAddCmd.Flags().String("content", "", "full description")
	painPointsAddCmd.Flags().String("url", "", "source URL")
	painPointsAddCmd.Flags().String("source", "manual", "where the pain point came from")
	painPointsAddCmd.Flags().String("keywords", "", "comma-separated keywords")
	painPointsListCmd.Flags().Int("limit", 20, "maximum number of pain points")
	painPointsCmd.AddCommand(painPointsAddCmd, painPointsListCmd, painPointsShowCmd)
}

// --- voices ---

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "Manage voice profiles",
}

// thresholdFlags maps CLI flags to the JSON threshold fields.
var thresholdFlags = map[string]string{
	"slop-max":         "slop_max",
	"vendor-speak-max": "vendor_speak_max",
	"authenticity-min": "authenticity_min",
	"specificity-min":  "specificity_min",
	"persona-min":      "persona_min",
}

// changedThresholds returns only the thresholds set on the command line, so
// the server keeps its defaults for the rest.
func changedThresholds(cmd *cobra.Command) map[string]float64 {
	out := map[string]float64{}
	for flag, field := range thresholdFlags {
		if cmd.Flags().Changed(flag) {
			v, _ := cmd.Flags().GetFloat64(flag)
			out[field] = v
		}
	}
	return out
}

var voicesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a voice profile",
	Long: `Add a voice profile. Thresholds not given keep their defaults.

Examples:
  msgforge voices add --name blunt --guide "Short sentences. No adjectives." --slop-max 3
  msgforge voices add --name engineer --guide-file ./voice.md --authenticity-min 7`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		guide, _ := cmd.Flags().GetString("guide")
		guideFile, _ := cmd.Flags().GetString("guide-file")
		if name == "" {
			return fmt.Errorf("--name is required")
		}
		if guideFile != "" {
			var err error
			if guide, err = readContent("", guideFile); err != nil {
				return err
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var v storage.VoiceProfile
		body := map[string]any{"name": name, "guide": guide, "thresholds": changedThresholds(cmd)}
		if err := client.call(cmd.Context(), http.MethodPost, "/voices", body, &v); err != nil {
			return err
		}
		printSuccess("Added voice profile %s (%s)", v.Name, v.ID)
		return nil
	},
}

var voicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List voice profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var voices []storage.VoiceProfile
		if err := client.call(cmd.Context(), http.MethodGet, "/voices", nil, &voices); err != nil {
			return err
		}
		rows := make([][]string, 0, len(voices))
		for _, v := range voices {
			t := v.Thresholds
			rows = append(rows, []string{v.ID, v.Name,
				fmt.Sprintf("slop<=%g vendor<=%g auth>=%g spec>=%g persona>=%g",
					t.SlopMax, t.VendorSpeakMax, t.AuthenticityMin, t.SpecificityMin, t.PersonaMin)})
		}
		printTable([]string{"ID", "NAME", "THRESHOLDS"}, rows)
		return nil
	},
}

func init() {
	voicesAddCmd.Flags().String("name", "", "profile name")
	voicesAddCmd.Flags().String("guide", "", "style guide text")
	voicesAddCmd.Flags().String("guide-file", "", "read the style guide from a file")
	for flag := range thresholdFlags {
		voicesAddCmd.Flags().Float64(flag, 0, "quality gate bound for "+strings.ReplaceAll(flag, "-", " "))
	}
	voicesCmd.AddCommand(voicesAddCmd, voicesListCmd)
}

// --- reference docs ---

var refsCmd = &cobra.Command{
	Use:   "refs",
	Short: "Manage reference documents used as generation context",
}

// referenceRequest builds the create body for a reference doc. Files are
// converted to plain text by extension (.pdf, .html, anything else as text).
func referenceRequest(name, description, text, file, tags string) (map[string]any, error) {
	content := text
	if content == "" {
		if file == "" {
			return nil, fmt.Errorf("one of --text or --file is required")
		}
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		if content, err = retrieval.ExtractText(file, data); err != nil {
			return nil, fmt.Errorf("extracting text from %s: %w", file, err)
		}
		if name == "" {
			name = filepath.Base(file)
		}
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("reference document is empty")
	}
	if name == "" {
		return nil, fmt.Errorf("--name is required with --text")
	}
	return map[string]any{
		"name":        name,
		"description": description,
		"content":     content,
		"tags":        splitList(tags),
	}, nil
}

var refsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a reference document",
	Long: `Add a reference document from text, a text/markdown file, an HTML page or a PDF.

Examples:
  msgforge refs add --file ./benchmarks.pdf --tags ci,performance
  msgforge refs add --name "Pricing" --text "Team plan is $20/seat" --tags pricing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		description, _ := cmd.Flags().GetString("description")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		tags, _ := cmd.Flags().GetString("tags")

		body, err := referenceRequest(name, description, text, file, tags)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var result map[string]string
		if err := client.call(cmd.Context(), http.MethodPost, "/references", body, &result); err != nil {
			return err
		}
		printSuccess("Added reference doc %s", result["id"])
		return nil
	},
}

var refsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reference documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var docs []storage.ReferenceDoc
		if err := client.call(cmd.Context(), http.MethodGet, "/references", nil, &docs); err != nil {
			return err
		}
		rows := make([][]string, 0, len(docs))
		for _, d := range docs {
			rows = append(rows, []string{d.ID, truncate(d.Name, 40), strings.Join(d.Tags, ","), fmt.Sprintf("%d", len(d.Content))})
		}
		printTable([]string{"ID", "NAME", "TAGS", "CHARS"}, rows)
		return nil
	},
}

var refsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a reference document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if err := client.call(cmd.Context(), http.MethodDelete, "/references/"+args[0], nil, nil); err != nil {
			return err
		}
		printSuccess("Deleted reference doc %s", args[0])
		return nil
	},
}

func init() {
	refsAddCmd.Flags().String("name", "", "document name (defaults to the file name)")
	refsAddCmd.Flags().String("description", "", "short description")
	refsAddCmd.Flags().String("text", "", "document text")
	refsAddCmd.Flags().String("file", "", "read the document from a file")
	refsAddCmd.Flags().String("tags", "", "comma-separated tags")
	refsCmd.AddCommand(refsAddCmd, refsListCmd, refsRemoveCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		for _, k := range config.SecretKeys() {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k), "(secret)")
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (server.api_token, proxy.openrouter_api_key, discovery.token)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored secret %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetSecretCmd)
}
