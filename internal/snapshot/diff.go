package snapshot

import (
	"hash/fnv"
	"maps"
	"slices"
	"strconv"
)

// Diff is the added/removed row sets between two snapshots.
type Diff struct {
	Added   []Row `json:"added"`
	Removed []Row `json:"removed"`
}

func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Compare diffs current against previous. A nil previous yields an empty diff.
//
// Every row occurrence is tested on its own: a row is added when no equal row
// exists anywhere in previous, and removed when no equal row exists anywhere in
// current. Duplicates of an absent row therefore each appear in the output.
// Output order is the order of occurrence in the respective snapshot.
func Compare(current Snapshot, previous *Snapshot) Diff {
	d := Diff{Added: []Row{}, Removed: []Row{}}
	if previous == nil {
		return d
	}
	prevIdx := newRowIndex(previous.Rows)
	curIdx := newRowIndex(current.Rows)
	for _, r := range current.Rows {
		if !prevIdx.contains(r) {
			d.Added = append(d.Added, r)
		}
	}
	for _, r := range previous.Rows {
		if !curIdx.contains(r) {
			d.Removed = append(d.Removed, r)
		}
	}
	return d
}

// rowIndex buckets rows by content hash; lookups confirm with full equality.
type rowIndex map[uint64][]Row

func newRowIndex(rows []Row) rowIndex {
	idx := make(rowIndex, len(rows))
	for _, r := range rows {
		h := hashRow(r)
		idx[h] = append(idx[h], r)
	}
	return idx
}

func (idx rowIndex) contains(r Row) bool {
	for _, c := range idx[hashRow(r)] {
		if c.Equal(r) {
			return true
		}
	}
	return false
}

// hashRow hashes a canonical encoding: keys sorted, every key and value length-prefixed.
func hashRow(r Row) uint64 {
	h := fnv.New64a()
	var num []byte
	write := func(s string) {
		num = strconv.AppendInt(num[:0], int64(len(s)), 10)
		num = append(num, ':')
		_, _ = h.Write(num)
		_, _ = h.Write([]byte(s))
	}
	for _, k := range slices.Sorted(maps.Keys(r)) {
		write(k)
		write(r[k])
	}
	return h.Sum64()
}
