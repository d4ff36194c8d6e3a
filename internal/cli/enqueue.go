package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"datastash/internal/runs"
)

func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a manual run",
		Long: `Queue a manual run for the serving daemon to pick up. If a manual run is
already queued, that run is reported and nothing new is queued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			run, created, err := a.Enqueue(cmd.Context(), runs.Manual)
			if err != nil {
				return WrapExitError(ExitFailure, "enqueue", err)
			}
			out := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(out, map[string]any{"run": run, "created": created})
			}
			if created {
				fmt.Fprintf(out, "queued %s\n", run.ID)
			} else {
				fmt.Fprintf(out, "already queued %s\n", run.ID)
			}
			return nil
		},
	}
}
