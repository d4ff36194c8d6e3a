package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datastash/internal/app"
)

type ServeOptions struct {
	*RootOptions
	StopTimeout time.Duration
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the run engine until interrupted",
		Long: `Run the daemon: arm the recipe schedule, drain the run queue one run at a
time and reload the config (and the recipe file, if configured) on change.

SIGINT or SIGTERM stops it; an in-flight run gets --stop-timeout to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().DurationVar(&opts.StopTimeout, "stop-timeout", 15*time.Second, "graceful shutdown bound")
	return cmd
}

func serve(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Close()
		return WrapExitError(ExitFailure, "start", err)
	}

	reason := app.StopAppStop
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	case <-parent.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), opts.StopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return WrapExitError(ExitFailure, "serve", err)
	}
	return nil
}
