package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"datastash/internal/pipeline"
	"datastash/internal/recipe"
	logx "datastash/pkg/logx"
)

var ErrSetupFailed = errors.New("setup failed")

// Setup stores the recipe from recipeFile (or recipe.file from the config),
// creates the working directory and runs the recipe's setup commands there,
// echoing their output to out and errOut. No run is recorded.
func (a *App) Setup(ctx context.Context, recipeFile string, out, errOut io.Writer) error {
	path := strings.TrimSpace(recipeFile)
	if path == "" {
		path = strings.TrimSpace(a.cfgm.Get().Recipe.File)
	}
	if path == "" {
		return errors.New("setup: no recipe file given")
	}

	r, err := recipe.LoadFile(path)
	if err != nil {
		return err
	}
	if err := a.checkSchedule(r.Schedule); err != nil {
		return err
	}
	rev, err := recipe.Replace(ctx, a.store, r)
	if err != nil {
		return fmt.Errorf("store recipe: %w", err)
	}
	a.log.Info("recipe stored", logx.String("name", r.Name), logx.String("rev", rev))

	dir := a.engine.WorkDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	res := a.runner.Execute(ctx, dir, r.Setup)
	for _, c := range res {
		for _, e := range c.Log {
			w := out
			if e.Stream == pipeline.Stderr {
				w = errOut
			}
			_, _ = w.Write(e.Data)
		}
	}
	if res.Failed() {
		last := res[len(res)-1]
		return fmt.Errorf("%w: %q exited with code %d", ErrSetupFailed, last.Command, last.ExitCode)
	}
	a.log.Info("setup finished", logx.String("dir", dir), logx.Int("commands", len(res)))
	return nil
}
