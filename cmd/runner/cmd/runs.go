package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/openhands-runner/internal/adapters/store"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/core"
	"github.com/hugo-lorenzo-mato/openhands-runner/internal/service/query"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs in the store",
	Long: `Inspect runs directly from the configured store. These commands do not
need a running service.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs",
	Long: `List runs ordered by creation time, oldest first.

Examples:
  runner runs list --status running
  runner runs list --project web --limit 20 -o json`,
	Args: cobra.NoArgs,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run with its transitions and artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsProject string
	runsStatus  string
	runsLimit   int
	runsOffset  int
	runsOutput  string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.PersistentFlags().StringVarP(&runsOutput, "output", "o", "", "Output mode (plain, json)")
	runsListCmd.Flags().StringVar(&runsProject, "project", "", "Only runs of this project")
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Only runs in this status")
	runsListCmd.Flags().IntVar(&runsLimit, "limit", query.DefaultLimit, "Maximum number of runs")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "Number of runs to skip")
}

// openQueries opens the configured store for reading.
func openQueries(ctx context.Context) (*query.Service, func(), error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, store.Options{
		Driver:       cfg.Store.Driver,
		DSN:          cfg.Store.DSN,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	return query.New(st), func() { _ = st.Close() }, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	queries, closeStore, err := openQueries(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	runs, err := queries.List(ctx, query.ListOptions{
		ProjectID: runsProject,
		Status:    runsStatus,
		Limit:     runsLimit,
		Offset:    runsOffset,
	})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if runsOutput == "json" {
		return writeJSON(out, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROJECT\tSTATUS\tPERCENT\tREPOSITORY\tCREATED")
	fmt.Fprintln(w, "--\t-------\t------\t-------\t----------\t-------")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
			r.ID, r.ProjectID, formatStatus(r.Status), r.Percent,
			orDash(correlation(r)), formatTime(r.CreatedAt))
	}
	return w.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	queries, closeStore, err := openQueries(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	detail, err := queries.Detail(ctx, args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if runsOutput == "json" {
		return writeJSON(out, detail)
	}

	r := detail.Run
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	fmt.Fprintf(w, "Project:\t%s\n", r.ProjectID)
	fmt.Fprintf(w, "Status:\t%s\n", formatStatus(r.Status))
	fmt.Fprintf(w, "Percent:\t%d%%\n", r.Percent)
	fmt.Fprintf(w, "Repository:\t%s\n", orDash(correlation(r)))
	fmt.Fprintf(w, "Remote handle:\t%s\n", orDash(r.RemoteHandle))
	if r.CompletionSource != "" {
		fmt.Fprintf(w, "Completed by:\t%s\n", r.CompletionSource)
	}
	if r.Reason != "" {
		fmt.Fprintf(w, "Reason:\t%s\n", r.Reason)
	}
	fmt.Fprintf(w, "Created:\t%s\n", formatTime(r.CreatedAt))
	fmt.Fprintf(w, "Updated:\t%s\n", formatTime(r.UpdatedAt))
	if err := w.Flush(); err != nil {
		return err
	}

	if len(detail.Transitions) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Transitions:")
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, t := range detail.Transitions {
			fmt.Fprintf(tw, "  %s\t%s -> %s\t%s\t%s\n", formatTime(t.At), t.From, t.To, t.Source, t.Reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(detail.Artifacts) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Artifacts:")
		for _, a := range detail.Artifacts {
			fmt.Fprintf(out, "  %s\t%s\n", a.Type, orDash(a.URL))
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatStatus(s core.RunStatus) string {
	return strings.ToLower(string(s))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func correlation(r *core.Run) string {
	if r.Branch == "" {
		return r.Repository
	}
	return r.Repository + "@" + r.Branch
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
