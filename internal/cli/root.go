// Package cli is the datastash command line.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"datastash/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Format     string // "text" | "json"
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "datastash",
		Short: "Run a data recipe on a schedule and report what changed",
		Long: `datastash runs a recipe's shell commands, reads the tabular result they
produce, diffs it against the previous successful run and notifies the
recipe's subscribers about added and removed rows.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "./config.yaml", "path to config file (yaml or json)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEnqueueCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRecipeCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))

	return cmd
}

// openApp loads the config and opens storage for a one-shot command.
// Callers must Close the app.
func openApp(opts *RootOptions) (*app.App, error) {
	a, err := app.NewApp(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load", err)
	}
	return a, nil
}
