package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfdeck/internal/api"
	"github.com/kalambet/pdfdeck/internal/config"
	"github.com/kalambet/pdfdeck/internal/engine"
	"github.com/kalambet/pdfdeck/internal/job"
	"github.com/kalambet/pdfdeck/internal/storage"
	"github.com/kalambet/pdfdeck/internal/validate"
)

// isRef reports whether arg names a remote object rather than a local file.
func isRef(arg string) bool {
	return strings.Contains(arg, "://")
}

// waitForJob polls the job until it reaches a terminal status.
func waitForJob(ctx context.Context, c *apiClient, id string, interval time.Duration, onChange func(job.View)) (job.View, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := -1
	for {
		resp, err := c.get(ctx, "/jobs/"+id)
		if err != nil {
			return job.View{}, err
		}
		var v job.View
		if err := decodeJSON(resp, &v); err != nil {
			return job.View{}, err
		}
		if onChange != nil && v.Progress != last {
			onChange(v)
			last = v.Progress
		}
		if v.Status.Terminal() {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-ticker.C:
		}
	}
}

// finish waits for id and downloads its output to dst when it completes.
func finish(ctx context.Context, c *apiClient, id, dst string, interval time.Duration) error {
	printStep("Waiting for job %s", id)
	v, err := waitForJob(ctx, c, id, interval, printProgress)
	if err != nil {
		return err
	}
	if v.Status == job.StatusFailed {
		printError("Job %s failed: %s", id, v.Error)
		return fmt.Errorf("job %s failed", id)
	}
	path, err := c.download(ctx, id, dst)
	if err != nil {
		return err
	}
	printSuccess("Job %s completed with %s engine, saved %s", id, v.EngineUsed, path)
	return nil
}

// --- convert ---

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf|gs://bucket/object>...",
	Short: "Queue PDF to PPTX conversions",
	Long: `Queue one conversion job per input.

Examples:
  pdfdeck convert report.pdf
  pdfdeck convert a.pdf b.pdf --wait --output ./decks
  pdfdeck convert gs://docs/q3.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		output, _ := cmd.Flags().GetString("output")
		poll, _ := cmd.Flags().GetDuration("poll")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var files, refs []string
		for _, a := range args {
			if isRef(a) {
				refs = append(refs, a)
			} else {
				files = append(files, a)
			}
		}

		var results []api.SubmitResult
		if len(files) > 0 {
			resp, err := client.upload(ctx, "/convert", files)
			if err != nil {
				return err
			}
			batch, err := decodeSubmitted(resp)
			if err != nil {
				return err
			}
			results = append(results, batch...)
		}
		if len(refs) > 0 {
			resp, err := client.post(ctx, "/convert", api.SubmitRequest{Inputs: refs})
			if err != nil {
				return err
			}
			batch, err := decodeSubmitted(resp)
			if err != nil {
				return err
			}
			results = append(results, batch...)
		}

		failed := 0
		for _, r := range results {
			if r.Error != "" {
				printError("%s: %s", r.Filename, r.Error)
				failed++
				continue
			}
			printSuccess("Queued %s as job %s", r.Filename, r.ID)
		}

		if wait {
			for _, r := range results {
				if r.ID == "" {
					continue
				}
				if err := finish(ctx, client, r.ID, output, poll); err != nil {
					failed++
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d inputs failed", failed, len(results))
		}
		return nil
	},
}

// decodeSubmitted reads the {"jobs": [...]} body of a convert submission.
func decodeSubmitted(resp *http.Response) ([]api.SubmitResult, error) {
	var body struct {
		Jobs []api.SubmitResult `json:"jobs"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Jobs, nil
}

func init() {
	convertCmd.Flags().Bool("wait", false, "wait for jobs to finish and download the decks")
	convertCmd.Flags().StringP("output", "o", "", "directory for downloaded decks (with --wait)")
	convertCmd.Flags().Duration("poll", time.Second, "status poll interval (with --wait)")
}

// --- merge ---

var mergeCmd = &cobra.Command{
	Use:   "merge <file.pdf>...",
	Short: "Merge PDFs into one document, in argument order",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		output, _ := cmd.Flags().GetString("output")
		poll, _ := cmd.Flags().GetDuration("poll")

		refs := 0
		for _, a := range args {
			if isRef(a) {
				refs++
			}
		}
		if refs != 0 && refs != len(args) {
			return fmt.Errorf("merge inputs must be all local files or all remote references")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		var res api.SubmitResult
		if refs == 0 {
			resp, err := client.upload(ctx, "/merge", args)
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
		} else {
			resp, err := client.post(ctx, "/merge", api.SubmitRequest{Inputs: args})
			if err != nil {
				return err
			}
			if err := decodeJSON(resp, &res); err != nil {
				return err
			}
		}
		printSuccess("Queued merge of %d files as job %s", len(args), res.ID)

		if wait {
			return finish(ctx, client, res.ID, output, poll)
		}
		return nil
	},
}

func init() {
	mergeCmd.Flags().Bool("wait", false, "wait for the merge and download the result")
	mergeCmd.Flags().StringP("output", "o", "", "output file or directory (with --wait)")
	mergeCmd.Flags().Duration("poll", time.Second, "status poll interval (with --wait)")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", fmt.Sprint(limit))
		if status != "" {
			q.Set("status", status)
		}
		resp, err := client.get(cmd.Context(), "/jobs?"+q.Encode())
		if err != nil {
			return err
		}
		var views []job.View
		if err := decodeJSON(resp, &views); err != nil {
			return err
		}

		if len(views) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}
		for _, v := range views {
			fmt.Println(formatJobLine(v))
		}
		return nil
	},
}

// formatJobLine renders one job for list output.
func formatJobLine(v job.View) string {
	line := fmt.Sprintf("%s  %-7s  %s  %3d%%  %s",
		colorize(colorCyan, v.ID),
		v.Kind,
		colorize(statusColor(v.Status), fmt.Sprintf("%-10s", v.Status)),
		v.Progress,
		v.Filename,
	)
	if v.Error != "" {
		line += "  " + v.Error
	}
	return line
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRemoteJSON(cmd.Context(), "/jobs/"+args[0])
	},
}

var jobsDiagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <id>",
	Short: "Show engine attempts and validation for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printRemoteJSON(cmd.Context(), "/jobs/"+args[0]+"/diagnostics")
	},
}

var jobsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a job and its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted job %s", args[0])
		return nil
	},
}

func printRemoteJSON(ctx context.Context, path string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, path)
	if err != nil {
		return err
	}
	var v any
	if err := decodeJSON(resp, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	jobsListCmd.Flags().String("status", "", "only list jobs in this status")
	jobsListCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsDiagnosticsCmd, jobsDeleteCmd)
}

// --- download ---

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download the output of a completed job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path, err := client.download(cmd.Context(), args[0], output)
		if err != nil {
			return err
		}
		printSuccess("Saved %s", path)
		return nil
	},
}

func init() {
	downloadCmd.Flags().StringP("output", "o", "", "output file or directory (default: current directory)")
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate <file.pptx|file.pdf>...",
	Short: "Check that files are usable artifacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		v := validate.New(validate.Thresholds{})

		rejected := 0
		var results []validate.Result
		for _, p := range args {
			r := v.Validate(p)
			results = append(results, r)
			if !r.Accepted() {
				rejected++
			}
			if asJSON {
				continue
			}
			if r.Accepted() {
				printSuccess("%s: %d slides, %d bytes", p, r.SlideCount, r.FileSize)
			} else {
				printError("%s: %s", p, strings.Join(r.Issues, "; "))
			}
			for _, w := range r.Warnings {
				printWarning("%s: %s", p, w)
			}
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(results); err != nil {
				return err
			}
		}
		if rejected > 0 {
			return fmt.Errorf("%d of %d files rejected", rejected, len(args))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().Bool("json", false, "print results as JSON")
}

// --- engines ---

var enginesCmd = &cobra.Command{
	Use:   "engines",
	Short: "Check the configured conversion engines",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		chain, err := buildChain(cfg, newLogger(cfg.Log, os.Stderr))
		if err != nil {
			return err
		}
		statuses, err := engine.CheckAll(cmd.Context(), chain, nil)
		for i, st := range statuses {
			state := colorize(colorGreen, "ready")
			if !st.Available {
				state = colorize(colorRed, "unavailable: "+st.Detail)
			}
			fmt.Printf("%d. %-12s timeout %-6s %s\n", i+1, st.Name, st.Timeout, state)
		}
		return err
	},
}

// --- sweep ---

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired uploads and outputs now",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logger := newLogger(cfg.Log, os.Stderr)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		entries, closeEntries, err := openRetentionStore(cfg, store)
		if err != nil {
			return fmt.Errorf("opening retention store: %w", err)
		}
		defer closeEntries()

		n, err := newScheduler(cfg, entries, logger).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Deleted %d expired artifacts", n)
		return nil
	},
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
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.FromEnv {
				line += colorize(colorDim, " (from "+k.EnvVar+")")
			}
			fmt.Println(line)
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

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Restore a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
