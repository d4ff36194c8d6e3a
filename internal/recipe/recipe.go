// Package recipe defines the user-authored recipe and its stored singleton copy.
package recipe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"datastash/internal/config"
	"datastash/internal/snapshot"
	"datastash/internal/storage"
)

// Document address of the stored recipe singleton.
const (
	DocType = "system"
	DocID   = "recipe"
)

// Condition decides whether a trigger fires for a diff.
type Condition string

const (
	Changed Condition = "changed" // default: anything added or removed
	Added   Condition = "added"
	Removed Condition = "removed"
	Always  Condition = "always"
)

// Met reports whether the condition holds for d. The empty condition means Changed.
func (c Condition) Met(d snapshot.Diff) bool {
	switch c {
	case Added:
		return len(d.Added) > 0
	case Removed:
		return len(d.Removed) > 0
	case Always:
		return true
	default:
		return !d.Empty()
	}
}

func (c Condition) Valid() bool {
	switch c {
	case "", Changed, Added, Removed, Always:
		return true
	}
	return false
}

// OrDefault returns Changed for the empty condition.
func (c Condition) OrDefault() Condition {
	if c == "" {
		return Changed
	}
	return c
}

type Trigger struct {
	Recipient string    `json:"recipient"`
	Condition Condition `json:"condition,omitempty"`
}

type Recipe struct {
	Name     string    `json:"name"`
	Setup    []string  `json:"setup,omitempty"`
	Run      []string  `json:"run"`
	Result   string    `json:"result"`
	Schedule string    `json:"schedule,omitempty"`
	Triggers []Trigger `json:"triggers,omitempty"`
}

// Validate checks structure only. Schedule syntax is checked by the scheduler.
func (r Recipe) Validate() error {
	var errs []error
	if strings.TrimSpace(r.Name) == "" {
		errs = append(errs, errors.New("recipe.name: required"))
	}
	if strings.TrimSpace(r.Result) == "" {
		errs = append(errs, errors.New("recipe.result: required"))
	}
	for i, t := range r.Triggers {
		if strings.TrimSpace(t.Recipient) == "" {
			errs = append(errs, fmt.Errorf("recipe.triggers[%d].recipient: required", i))
		}
		if !t.Condition.Valid() {
			errs = append(errs, fmt.Errorf("recipe.triggers[%d].condition: unknown %q", i, t.Condition))
		}
	}
	return errors.Join(errs...)
}

// LoadFile reads a YAML or JSON recipe file and validates it.
func LoadFile(path string) (Recipe, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, err
	}
	var r Recipe
	if err := config.DecodeStrict(path, b, &r); err != nil {
		return Recipe{}, fmt.Errorf("recipe %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return Recipe{}, err
	}
	return r, nil
}

// Get returns the stored recipe and its revision, or storage.ErrNotFound.
func Get(ctx context.Context, s storage.Store) (Recipe, string, error) {
	var r Recipe
	rev, err := storage.GetJSON(ctx, s, DocType, DocID, &r)
	if err != nil {
		return Recipe{}, "", err
	}
	return r, rev, nil
}

// Put writes the recipe. An empty rev creates it; otherwise the stored
// revision must match or storage.ErrConflict is returned.
func Put(ctx context.Context, s storage.Store, r Recipe, rev string) (string, error) {
	ref, err := storage.PutJSON(ctx, s, DocType, DocID, r, rev)
	if err != nil {
		return "", err
	}
	return ref.Rev, nil
}

// Replace writes r over whatever is stored, creating it if absent.
// Used by setup and the recipe file watcher, which are authoritative.
func Replace(ctx context.Context, s storage.Store, r Recipe) (string, error) {
	_, rev, err := Get(ctx, s)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	return Put(ctx, s, r, rev)
}
