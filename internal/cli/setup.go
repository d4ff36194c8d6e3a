package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"datastash/internal/app"
)

type SetupOptions struct {
	*RootOptions
	Recipe string
}

func NewSetupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Store the recipe and run its setup commands",
		Long: `Store the recipe, create the working directory and run the recipe's setup
commands in it, echoing their output. Exits 1 if a setup command fails.

Example:
  datastash setup --recipe recipe.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.Setup(cmd.Context(), opts.Recipe, cmd.OutOrStdout(), cmd.ErrOrStderr())
			switch {
			case err == nil:
				return nil
			case errors.Is(err, app.ErrSetupFailed):
				return WrapExitError(ExitFailure, "setup", err)
			default:
				return WrapExitError(ExitCommandError, "setup", err)
			}
		},
	}
	cmd.Flags().StringVarP(&opts.Recipe, "recipe", "r", "", "recipe file (defaults to recipe.file from the config)")
	return cmd
}
