package recipe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"datastash/internal/snapshot"
	"datastash/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionMet(t *testing.T) {
	added := snapshot.Diff{Added: []snapshot.Row{{"k": "a"}}}
	removed := snapshot.Diff{Removed: []snapshot.Row{{"k": "a"}}}
	none := snapshot.Diff{}

	cases := []struct {
		c    Condition
		d    snapshot.Diff
		want bool
	}{
		{"", added, true},
		{"", none, false},
		{Changed, removed, true},
		{Added, added, true},
		{Added, removed, false},
		{Removed, removed, true},
		{Removed, added, false},
		{Always, none, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.c.Met(tc.d), "%q", tc.c)
	}
}

func TestValidate(t *testing.T) {
	ok := Recipe{Name: "n", Run: []string{"true"}, Result: "out.csv"}
	assert.NoError(t, ok.Validate())

	bad := Recipe{Triggers: []Trigger{{Recipient: "", Condition: "sometimes"}}}
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipe.name")
	assert.Contains(t, err.Error(), "recipe.result")
	assert.Contains(t, err.Error(), "recipient")
	assert.Contains(t, err.Error(), "sometimes")
}

func TestLoadFileYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(p, []byte(`
name: prices
setup:
  - git clone https://example.com/scraper .
run:
  - ./scrape > out.csv
result: out.csv
schedule: "0 */6 * * *"
triggers:
  - recipient: log:prices
  - recipient: telegram:-1001/7
    condition: added
`), 0o644))

	r, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "prices", r.Name)
	assert.Equal(t, []string{"./scrape > out.csv"}, r.Run)
	assert.Equal(t, "0 */6 * * *", r.Schedule)
	require.Len(t, r.Triggers, 2)
	assert.Equal(t, Condition(""), r.Triggers[0].Condition)
	assert.Equal(t, Added, r.Triggers[1].Condition)
}

func TestLoadFileUnknownField(t *testing.T) {
	p := filepath.Join(t.TempDir(), "recipe.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"name":"n","result":"r","cron":"x"}`), 0o644))
	_, err := LoadFile(p)
	assert.Error(t, err)
}

func TestStoredRecipeRevisions(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()

	_, _, err := Get(ctx, s)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	r := Recipe{Name: "n", Result: "out.csv"}
	rev1, err := Replace(ctx, s, r)
	require.NoError(t, err)

	r.Schedule = "@hourly"
	rev2, err := Put(ctx, s, r, rev1)
	require.NoError(t, err)

	// a writer holding the old revision loses
	_, err = Put(ctx, s, r, rev1)
	assert.ErrorIs(t, err, storage.ErrConflict)

	got, rev, err := Get(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, rev2, rev)
	assert.Equal(t, "@hourly", got.Schedule)

	_, err = Replace(ctx, s, Recipe{Name: "m", Result: "x"})
	require.NoError(t, err)
}
