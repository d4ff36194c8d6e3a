package snapshot

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadFile parses a result file. Files ending in .json must hold an array of
// objects; anything else is read as CSV with a header row.
func ReadFile(path string) (Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ParseJSON(b)
	}
	return ParseCSV(bytes.NewReader(b))
}

// ParseCSV reads a header row followed by data rows. Rows must match the header width.
func ParseCSV(r io.Reader) (Snapshot, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Snapshot{Columns: []string{}, Rows: []Row{}}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: header: %w", ErrParse, err)
	}
	// Excel and friends prepend a BOM.
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	snap := Snapshot{Columns: header, Rows: []Row{}}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrParse, err)
		}
		row := make(Row, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		snap.Rows = append(snap.Rows, row)
	}
	return snap, nil
}

// ParseJSON reads an array of flat objects. Non-string values keep their
// compacted JSON text. A string that would read back as a non-string value, or
// that starts with a quote, is kept JSON-quoted so 1 and "1" stay distinct.
func ParseJSON(b []byte) (Snapshot, error) {
	var objs []map[string]json.RawMessage
	if err := json.Unmarshal(b, &objs); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrParse, err)
	}
	snap := Snapshot{Rows: make([]Row, 0, len(objs))}
	for _, obj := range objs {
		row := make(Row, len(obj))
		for k, raw := range obj {
			v, err := jsonScalar(raw)
			if err != nil {
				return Snapshot{}, fmt.Errorf("%w: column %q: %w", ErrParse, k, err)
			}
			row[k] = v
		}
		snap.Rows = append(snap.Rows, row)
	}
	snap.Columns = ColumnsOf(nil, snap.Rows)
	return snap, nil
}

func jsonScalar(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if !strings.HasPrefix(s, `"`) && !json.Valid([]byte(s)) {
			return s, nil
		}
		q, err := json.Marshal(s)
		return string(q), err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EncodeCSV writes rows with a header row. Missing values are written empty.
func EncodeCSV(w io.Writer, columns []string, rows []Row) error {
	columns = ColumnsOf(columns, rows)
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return err
	}
	rec := make([]string, len(columns))
	for _, r := range rows {
		for i, c := range columns {
			rec[i] = r[c]
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
