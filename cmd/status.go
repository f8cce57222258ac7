package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/entity-resolver/internal/pipeline"
)

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the status of a single resolution run",
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
			return eris.Wrap(err, "status")
		}
		if run == nil {
			return eris.Errorf("run not found: %s", args[0])
		}

		staleAfter := time.Duration(cfg.Pipeline.StaleAfterSecs) * time.Second

		fmt.Fprintf(os.Stdout, "run:     %s\n", run.RunID)
		fmt.Fprintf(os.Stdout, "domain:  %s\n", run.Domain)
		fmt.Fprintf(os.Stdout, "status:  %s", run.Status)
		if pipeline.IsStale(run, staleAfter) {
			fmt.Fprint(os.Stdout, " (stale)")
		}
		fmt.Fprintln(os.Stdout)

		if entity, grade := topEntity(run.FinalResult); entity != "" {
			fmt.Fprintf(os.Stdout, "entity:  %s\n", entity)
			fmt.Fprintf(os.Stdout, "grade:   %s\n", grade)
		}
		if run.ErrorMessage != "" {
			fmt.Fprintf(os.Stdout, "error:   %s\n", run.ErrorMessage)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
