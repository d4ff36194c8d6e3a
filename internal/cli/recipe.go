package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"datastash/internal/recipe"
	"datastash/internal/storage"
)

func NewRecipeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Show or modify the stored recipe",
	}
	cmd.AddCommand(newRecipeShowCommand(rootOpts))
	cmd.AddCommand(newRecipeSetCommand(rootOpts))
	return cmd
}

func newRecipeShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored recipe and its revision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			r, rev, err := a.GetRecipe(cmd.Context())
			if errors.Is(err, storage.ErrNotFound) {
				return NewExitError(ExitFailure, "no recipe stored; run setup first")
			}
			if err != nil {
				return WrapExitError(ExitFailure, "recipe", err)
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"revision": rev, "recipe": r})
		},
	}
}

type recipeSetOptions struct {
	*RootOptions
	Rev string
}

func newRecipeSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &recipeSetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "set <file>",
		Short: "Replace the stored recipe",
		Long: `Replace the stored recipe with the one in <file>. The schedule is validated
before anything is written.

With --rev the write only succeeds if the stored revision still matches;
without it the current revision is read and used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := recipe.LoadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "recipe", err)
			}

			a, err := openApp(opts.RootOptions)
			if err != nil {
				return err
			}
			defer a.Close()

			rev := opts.Rev
			if rev == "" {
				if _, cur, err := a.GetRecipe(ctx); err == nil {
					rev = cur
				} else if !errors.Is(err, storage.ErrNotFound) {
					return WrapExitError(ExitFailure, "recipe", err)
				}
			}
			newRev, err := a.ModifyRecipe(ctx, r, rev)
			switch {
			case errors.Is(err, storage.ErrConflict):
				return WrapExitError(ExitFailure, "recipe was modified concurrently; re-read and retry", err)
			case err != nil:
				return WrapExitError(ExitCommandError, "recipe", err)
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"revision": newRev})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recipe %q stored (rev %s)\n", r.Name, newRev)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Rev, "rev", "", "expected current revision")
	return cmd
}
