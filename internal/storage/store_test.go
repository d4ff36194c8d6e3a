package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	logx "datastash/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type storeFactory func(t *testing.T) Store

func drivers(t *testing.T) map[string]storeFactory {
	t.Helper()
	out := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemory() },
		"sqlite": func(t *testing.T) Store {
			s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "docs.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("DATASTASH_TEST_POSTGRES_DSN"); dsn != "" {
		out["postgres"] = func(t *testing.T) Store {
			s, err := Open(Config{Driver: "postgres", DSN: dsn}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}
	}
	return out
}

// uniqueType isolates test data when a shared server database is used.
func uniqueType(t *testing.T, base string) string {
	return fmt.Sprintf("%s-%s", base, filepath.Base(t.Name()))
}

func TestStoreContract(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create get update", func(t *testing.T) {
				s := open(t)
				typ := uniqueType(t, "run")
				ref, err := s.Put(ctx, typ, "a", []byte(`{"v":1}`), "")
				require.NoError(t, err)
				assert.Equal(t, "a", ref.ID)
				assert.Equal(t, 1, RevisionGeneration(ref.Rev))

				_, err = s.Put(ctx, typ, "a", []byte(`{"v":2}`), "")
				assert.ErrorIs(t, err, ErrConflict)

				doc, err := s.Get(ctx, typ, "a")
				require.NoError(t, err)
				assert.JSONEq(t, `{"v":1}`, string(doc.Data))
				assert.Equal(t, ref.Rev, doc.Rev)

				ref2, err := s.Put(ctx, typ, "a", []byte(`{"v":3}`), ref.Rev)
				require.NoError(t, err)
				assert.Equal(t, 2, RevisionGeneration(ref2.Rev))

				// stale revision
				_, err = s.Put(ctx, typ, "a", []byte(`{"v":4}`), ref.Rev)
				assert.ErrorIs(t, err, ErrConflict)

				_, err = s.Put(ctx, typ, "missing", []byte(`{}`), ref.Rev)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("get missing", func(t *testing.T) {
				s := open(t)
				_, err := s.Get(ctx, uniqueType(t, "run"), "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list newest first", func(t *testing.T) {
				s := open(t)
				typ := uniqueType(t, "run")
				for _, id := range []string{"2024-01-02", "2024-01-01", "2024-01-03"} {
					_, err := s.Put(ctx, typ, id, []byte(`{}`), "")
					require.NoError(t, err)
				}
				_, err := s.Put(ctx, typ+"x", "2099-01-01", []byte(`{}`), "")
				require.NoError(t, err)

				docs, err := s.List(ctx, typ)
				require.NoError(t, err)
				ids := make([]string, 0, len(docs))
				for _, d := range docs {
					ids = append(ids, d.ID)
				}
				assert.Equal(t, []string{"2024-01-03", "2024-01-02", "2024-01-01"}, ids)
			})

			t.Run("delete", func(t *testing.T) {
				s := open(t)
				typ := uniqueType(t, "run")
				_, err := s.Put(ctx, typ, "a", []byte(`{}`), "")
				require.NoError(t, err)
				require.NoError(t, s.Delete(ctx, typ, "a"))
				assert.ErrorIs(t, s.Delete(ctx, typ, "a"), ErrNotFound)
			})

			t.Run("batch is atomic", func(t *testing.T) {
				s := open(t)
				typ := uniqueType(t, "set")
				_, err := s.Put(ctx, typ, "2", []byte(`{}`), "")
				require.NoError(t, err)

				err = s.PutBatch(ctx, []Document{
					{Type: typ, ID: "1", Data: []byte(`{}`)},
					{Type: typ, ID: "2", Data: []byte(`{}`)},
				})
				assert.ErrorIs(t, err, ErrConflict)

				_, err = s.Get(ctx, typ, "1")
				assert.ErrorIs(t, err, ErrNotFound)

				n, err := s.DeleteType(ctx, typ)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})

			t.Run("create retries with suffix", func(t *testing.T) {
				s := open(t)
				typ := uniqueType(t, "run")
				ids := make([]string, 0, 3)
				for range 3 {
					ref, err := Create(ctx, s, typ, "x", []byte(`{}`))
					require.NoError(t, err)
					ids = append(ids, ref.ID)
				}
				assert.Equal(t, []string{"x", "x-1", "x-2"}, ids)
			})

			t.Run("collection", func(t *testing.T) {
				s := open(t)
				c := NewCollection(s, "data", uniqueType(t, "r1"))
				c.ChunkSize = 2

				items := func(from, to int) []json.RawMessage {
					var out []json.RawMessage
					for i := from; i < to; i++ {
						out = append(out, json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)))
					}
					return out
				}
				require.NoError(t, c.Append(ctx, items(0, 5)))
				require.NoError(t, c.Append(ctx, items(5, 7)))

				got, err := c.List(ctx)
				require.NoError(t, err)
				require.Len(t, got, 7)
				for i, raw := range got {
					assert.JSONEq(t, fmt.Sprintf(`{"i":%d}`, i), string(raw))
				}

				n, err := c.Clear(ctx)
				require.NoError(t, err)
				assert.Equal(t, 4, n)
				got, err = c.List(ctx)
				require.NoError(t, err)
				assert.Empty(t, got)
			})
		})
	}
}

func TestNextID(t *testing.T) {
	cases := map[string]string{
		"a":                              "a-1",
		"a-1":                            "a-2",
		"a-9":                            "a-10",
		"2024-01-02T03:04:05.000000000Z": "2024-01-02T03:04:05.000000000Z-1",
		"x-y":                            "x-y-1",
	}
	for in, want := range cases {
		assert.Equal(t, want, NextID(in), in)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	assert.Error(t, err)
	_, err = Open(Config{}, logx.Nop())
	assert.Error(t, err)
}
