package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"datastash/internal/app"
	"datastash/internal/pipeline"
	"datastash/internal/storage"
)

func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs",
	}
	cmd.AddCommand(newRunsListCommand(rootOpts))
	cmd.AddCommand(newRunsShowCommand(rootOpts))
	cmd.AddCommand(newRunsLogCommand(rootOpts))
	cmd.AddCommand(newRunsDataCommand(rootOpts))
	return cmd
}

func runError(op string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return WrapExitError(ExitCommandError, op, err)
	}
	return WrapExitError(ExitFailure, op, err)
}

func newRunsListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.ListRuns(cmd.Context())
			if err != nil {
				return runError("runs", err)
			}
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATE\tINITIATOR\tQUEUED\tDURATION\tADDED\tREMOVED")
			for _, r := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
					r.ID, r.State, r.Initiator, humanize.Time(r.DateQueued), r.Duration, r.RecordsAdded, r.RecordsRemoved)
			}
			return tw.Flush()
		},
	}
}

func newRunsShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := a.GetRun(cmd.Context(), args[0])
			if err != nil {
				return runError("run", err)
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
}

type runsLogOptions struct {
	*RootOptions
	Since int
}

func newRunsLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runsLogOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "log <id>",
		Short: "Print a run's command output from offset --since",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			lines, next, err := a.GetRunExecutionLog(cmd.Context(), args[0], opts.Since)
			if err != nil {
				return runError("log", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"lines": lines, "next": next})
			}
			for _, l := range lines {
				w := cmd.OutOrStdout()
				if l.Stream == pipeline.Stderr {
					w = cmd.ErrOrStderr()
				}
				_, _ = w.Write(l.Data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Since, "since", 0, "offset returned by a previous call (json output reports it as next)")
	return cmd
}

type runsDataOptions struct {
	*RootOptions
	Added   bool
	Removed bool
	CSV     bool
}

func newRunsDataCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runsDataOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "data <id>",
		Short: "Print a run's result rows, or only the rows it added or removed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Added && opts.Removed {
				return NewExitError(ExitCommandError, "--added and --removed are exclusive")
			}
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			format := app.FormatJSON
			if opts.CSV {
				format = app.FormatCSV
			}
			get := a.GetRunData
			switch {
			case opts.Added:
				get = a.GetRunDataAdded
			case opts.Removed:
				get = a.GetRunDataRemoved
			}
			b, err := get(cmd.Context(), args[0], format)
			if err != nil {
				return runError("data", err)
			}
			if _, err := cmd.OutOrStdout().Write(b); err != nil {
				return err
			}
			if format == app.FormatJSON {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.Added, "added", false, "only rows added since the previous successful run")
	cmd.Flags().BoolVar(&opts.Removed, "removed", false, "only rows removed since the previous successful run")
	cmd.Flags().BoolVar(&opts.CSV, "csv", false, "CSV instead of JSON")
	return cmd
}
