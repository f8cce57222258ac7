package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect resolution run history",
	Long:  "Commands for listing, viewing, and summarizing resolution runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resolution runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		domain, _ := cmd.Flags().GetString("domain")
		limit, _ := cmd.Flags().GetInt("limit")

		runs, err := st.ListProcessingResults(ctx, store.Filter{
			Status: model.ProcessingStatus(status),
			Domain: domain,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show full details of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetProcessingResult(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}
		if run == nil {
			return eris.Errorf("run not found: %s", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate pipeline statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lookback, _ := cmd.Flags().GetInt("lookback-hours")
		staleAfter := time.Duration(cfg.Pipeline.StaleAfterSecs) * time.Second

		snap, err := monitoring.NewCollector(st, staleAfter).Collect(ctx, lookback)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatStats(os.Stdout, snap)
		return nil
	},
}

// -- runs dlq --

var runsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered resolutions",
	Long:  "Raw page dumps are not persisted, so replay requires re-submitting the domain; the queue records what failed and whether a retry budget remains.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		errType, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := st.ListDLQEntries(ctx, resilience.DLQFilter{ErrorType: errType, Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs dlq")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}

		formatDLQList(os.Stdout, entries)
		return nil
	},
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by run status (pending, stage1..stage4, completed, failed)")
	runsListCmd.Flags().String("domain", "", "filter by domain")
	runsListCmd.Flags().Int("limit", 50, "max number of runs to display")

	runsStatsCmd.Flags().Int("lookback-hours", 24, "time window for stats")

	runsDLQCmd.Flags().String("type", "", "filter by error type (transient, permanent)")
	runsDLQCmd.Flags().Int("limit", 50, "max number of entries to display")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsStatsCmd)
	runsCmd.AddCommand(runsDLQCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a tabular list of runs to w.
func formatRunsList(out io.Writer, runs []model.ProcessingResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN_ID\tDOMAIN\tSTATUS\tENTITY\tGRADE\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "------\t------\t------\t------\t-----\t-------\t--------")

	for _, r := range runs {
		entity, grade := topEntity(r.FinalResult)
		if len(entity) > 30 {
			entity = entity[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%dms\n",
			truncateID(r.RunID),
			r.Domain,
			r.Status,
			entity,
			grade,
			r.CreatedAt.Format(time.RFC3339),
			r.ProcessingTimeMs,
		)
	}
	_ = w.Flush()
}

// formatDLQList writes a tabular dead letter queue listing to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tDOMAIN\tSTAGE\tTYPE\tRETRIES\tLAST_FAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t----\t-------\t-----------\t-----")

	for _, e := range entries {
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(e.ID),
			e.Domain,
			e.FailedStage,
			e.ErrorType,
			e.RetryCount,
			e.MaxRetries,
			e.LastFailedAt.Format(time.RFC3339),
			msg,
		)
	}
	_ = w.Flush()
}

// formatStats writes a metrics snapshot to w.
func formatStats(out io.Writer, snap *monitoring.MetricsSnapshot) {
	fmt.Fprintf(out, "Runs (last %dh):\n", snap.LookbackHours)
	fmt.Fprintf(out, "  total:      %d\n", snap.RunsTotal)
	fmt.Fprintf(out, "  completed:  %d\n", snap.RunsCompleted)
	fmt.Fprintf(out, "  failed:     %d\n", snap.RunsFailed)
	fmt.Fprintf(out, "  in flight:  %d (%d stale)\n", snap.RunsInFlight, snap.RunsStale)
	fmt.Fprintf(out, "  fail rate:  %.1f%%\n", snap.FailRate*100)
	fmt.Fprintf(out, "Quality:\n")
	fmt.Fprintf(out, "  avg confidence:   %.2f\n", snap.AvgConfidence)
	fmt.Fprintf(out, "  avg duration:     %dms\n", snap.AvgProcessingMs)
	fmt.Fprintf(out, "Dead letter queue: %d (%d retryable)\n", snap.DLQDepth, snap.DLQRetryable)
}

// topEntity extracts the winning entity name and grade from a final result.
func topEntity(final *model.ArbitrationResult) (string, string) {
	if final == nil || len(final.RankedEntities) == 0 {
		return "", ""
	}
	top := final.RankedEntities[0]
	return top.EntityName, string(top.AcquisitionGrade)
}

// truncateID shortens a UUID to its first segment for table display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
