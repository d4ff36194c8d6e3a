// Package snapshot parses tabular run results, diffs them and persists them per run.
package snapshot

import (
	"errors"
	"maps"
	"slices"
)

// ErrParse reports an unreadable or malformed result file.
var ErrParse = errors.New("snapshot: result parse error")

// Row maps column name to value.
type Row map[string]string

// Equal reports deep value equality over all columns.
func (r Row) Equal(o Row) bool { return maps.Equal(r, o) }

// Snapshot is the parsed result of one successful run.
type Snapshot struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// ColumnsOf returns cols if non-empty, else the sorted union of row keys.
func ColumnsOf(cols []string, rows []Row) []string {
	if len(cols) > 0 {
		return cols
	}
	set := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(set))
}
