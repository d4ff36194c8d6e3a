package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"datastash/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rows(vals ...string) []Row {
	out := make([]Row, 0, len(vals))
	for _, v := range vals {
		out = append(out, Row{"k": v})
	}
	return out
}

func TestCompareAddedRow(t *testing.T) {
	s1 := Snapshot{Columns: []string{"k"}, Rows: rows("a")}
	s2 := Snapshot{Columns: []string{"k"}, Rows: rows("a", "b")}

	d := Compare(s2, &s1)
	assert.Equal(t, rows("b"), d.Added)
	assert.Empty(t, d.Removed)
}

func TestCompareAbsentPrevious(t *testing.T) {
	d := Compare(Snapshot{Rows: rows("a", "b")}, nil)
	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
	assert.True(t, d.Empty())
	assert.NotNil(t, d.Added, "empty diff encodes as [] not null")
}

func TestCompareIsOrderIndependentAndKeepsOrder(t *testing.T) {
	prev := Snapshot{Rows: rows("c", "a", "x")}
	cur := Snapshot{Rows: rows("a", "z", "c", "y")}
	d := Compare(cur, &prev)
	assert.Equal(t, rows("z", "y"), d.Added)
	assert.Equal(t, rows("x"), d.Removed)
}

func TestCompareMultiColumnDeepEquality(t *testing.T) {
	prev := Snapshot{Rows: []Row{{"name": "ada", "age": "36"}}}
	cur := Snapshot{Rows: []Row{{"age": "36", "name": "ada"}, {"name": "ada", "age": "37"}}}
	d := Compare(cur, &prev)
	assert.Equal(t, []Row{{"name": "ada", "age": "37"}}, d.Added)
	assert.Empty(t, d.Removed)
}

func TestCompareDuplicatesCountedPerOccurrence(t *testing.T) {
	prev := Snapshot{Rows: rows("a")}
	cur := Snapshot{Rows: rows("a", "b", "b")}
	d := Compare(cur, &prev)
	assert.Equal(t, rows("b", "b"), d.Added)

	// a duplicate of a row that is still present is not "added"
	d = Compare(Snapshot{Rows: rows("a", "a")}, &prev)
	assert.Empty(t, d.Added)
}

func TestCompareLengthPrefixAvoidsAmbiguity(t *testing.T) {
	prev := Snapshot{Rows: []Row{{"a": "b:c"}}}
	cur := Snapshot{Rows: []Row{{"a:b": "c"}}}
	d := Compare(cur, &prev)
	assert.Len(t, d.Added, 1)
	assert.Len(t, d.Removed, 1)
}

func TestCompareSymmetricComplementary(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	gen := func() Snapshot {
		n := rng.Intn(12)
		s := Snapshot{Rows: make([]Row, 0, n)}
		for range n {
			s.Rows = append(s.Rows, Row{"k": fmt.Sprint(rng.Intn(6)), "v": fmt.Sprint(rng.Intn(2))})
		}
		return s
	}
	for i := range 200 {
		s1, s2 := gen(), gen()
		a := Compare(s1, &s2)
		b := Compare(s2, &s1)
		assert.Equal(t, a.Added, b.Removed, "iteration %d", i)
		assert.Equal(t, a.Removed, b.Added, "iteration %d", i)
	}
}

func TestParseCSV(t *testing.T) {
	snap, err := ParseCSV(strings.NewReader("\ufeffname,city\nada,london\n\"bob, jr\",paris\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "city"}, snap.Columns)
	assert.Equal(t, []Row{
		{"name": "ada", "city": "london"},
		{"name": "bob, jr", "city": "paris"},
	}, snap.Rows)
}

func TestParseCSVRagged(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("a,b\n1\n"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseJSON(t *testing.T) {
	snap, err := ParseJSON([]byte(`[{"n":"x","c":3,"ok":true,"z":null}]`))
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "n", "ok", "z"}, snap.Columns)
	assert.Equal(t, []Row{{"n": "x", "c": "3", "ok": "true", "z": "null"}}, snap.Rows)

	_, err = ParseJSON([]byte(`{"not":"an array"}`))
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseJSONKeepsValueTypes(t *testing.T) {
	snap, err := ParseJSON([]byte(`[
		{"k":1,"s":"1","b":"true","q":"\"x\"","e":"","n":null,"o":{"a": [1, 2]},"u":"\u0031"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, Row{
		"k": "1", "s": `"1"`, "b": `"true"`, "q": `"\"x\""`,
		"e": "", "n": "null", "o": `{"a":[1,2]}`, "u": `"1"`,
	}, snap.Rows[0])

	prev, err := ParseJSON([]byte(`[{"id":"a","k":1}]`))
	require.NoError(t, err)
	cur, err := ParseJSON([]byte(`[{"id":"a","k":"1"}]`))
	require.NoError(t, err)
	d := Compare(cur, &prev)
	assert.Len(t, d.Added, 1)
	assert.Len(t, d.Removed, 1)
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "result.csv"))
	assert.ErrorIs(t, err, ErrParse)
}

func TestReadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(p, []byte(`[{"k":"a"}]`), 0o644))
	snap, err := ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, rows("a"), snap.Rows)
}

func TestEncodeCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeCSV(&buf, nil, []Row{{"b": "2", "a": "1"}, {"a": "x,y"}}))
	assert.Equal(t, "a,b\n1,2\n\"x,y\",\n", buf.String())
}

func TestSaveLoadPrevious(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()

	first := Snapshot{Columns: []string{"k"}, Rows: rows("a")}
	second := Snapshot{Columns: []string{"k"}, Rows: rows("a", "b")}
	require.NoError(t, Save(ctx, s, "2024-01-01T00:00:00.000000000Z", first))
	require.NoError(t, Save(ctx, s, "2024-01-02T00:00:00.000000000Z", second))

	got, err := Load(ctx, s, "2024-01-02T00:00:00.000000000Z")
	require.NoError(t, err)
	assert.Equal(t, second, got)

	prev, id, err := Previous(ctx, s, "2024-01-02T00:00:00.000000000Z")
	require.NoError(t, err)
	require.NotNil(t, prev)
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", id)
	assert.Equal(t, first, *prev)

	prev, _, err = Previous(ctx, s, "2024-01-01T00:00:00.000000000Z")
	require.NoError(t, err)
	assert.Nil(t, prev)

	require.NoError(t, Delete(ctx, s, "2024-01-01T00:00:00.000000000Z"))
	require.NoError(t, Delete(ctx, s, "2024-01-01T00:00:00.000000000Z"))
	_, err = Load(ctx, s, "2024-01-01T00:00:00.000000000Z")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	ids, err := IDs(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02T00:00:00.000000000Z"}, ids)
}

func TestSaveLargeSnapshotChunks(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemory()
	snap := Snapshot{Columns: []string{"k"}}
	for i := range 2500 {
		snap.Rows = append(snap.Rows, Row{"k": fmt.Sprint(i)})
	}
	require.NoError(t, Save(ctx, s, "r", snap))

	docs, err := s.List(ctx, "data/r")
	require.NoError(t, err)
	assert.Len(t, docs, 3)

	got, err := Load(ctx, s, "r")
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}
