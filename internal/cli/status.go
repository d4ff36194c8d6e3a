package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datastash/internal/app"
)

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the recipe, run statistics and the next scheduled run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.Status(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "status", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), st)
			}
			printStatus(cmd.OutOrStdout(), st, time.Now())
			return nil
		},
	}
}

func printStatus(w io.Writer, st app.Status, now time.Time) {
	if st.Recipe == nil {
		fmt.Fprintln(w, "recipe:    (none; run setup first)")
	} else {
		fmt.Fprintf(w, "recipe:    %s (rev %s)\n", st.Recipe.Name, st.Revision)
		sched := st.Recipe.Schedule
		if sched == "" {
			sched = "(manual only)"
		}
		fmt.Fprintf(w, "schedule:  %s\n", sched)
	}
	if st.NextRun != nil {
		fmt.Fprintf(w, "next run:  %s (%s)\n", st.NextRun.Format(time.RFC3339), humanize.RelTime(*st.NextRun, now, "ago", "from now"))
	}
	if st.LastFired != nil {
		fmt.Fprintf(w, "last fire: %s (%s)\n", st.LastFired.Format(time.RFC3339), humanize.RelTime(*st.LastFired, now, "ago", "from now"))
	}

	s := st.Stats
	fmt.Fprintf(w, "runs:      %s finished, %s successful (%.1f%%)\n",
		humanize.Comma(int64(s.NumberRuns)), humanize.Comma(int64(s.NumberRunsSuccessful)), s.SuccessRate)
	if s.NumberRuns > 0 {
		fmt.Fprintf(w, "avg time:  %s\n", s.AverageRunTime)
	}
	if s.DateLastSuccessfulRun != nil {
		fmt.Fprintf(w, "last ok:   %s (%s)\n", s.DateLastSuccessfulRun.Format(time.RFC3339), humanize.RelTime(*s.DateLastSuccessfulRun, now, "ago", "from now"))
	}
	fmt.Fprintf(w, "queue:     %d queued, %d running\n", s.Queued, s.Running)
}
