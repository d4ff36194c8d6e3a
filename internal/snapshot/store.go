package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"datastash/internal/storage"
)

// DocType is the parent document type; rows live in the child collection "data/<runID>".
const DocType = "data"

type header struct {
	Columns []string `json:"columns"`
	Count   int      `json:"count"`
}

// Save persists snap under runID. Rows are written before the parent document
// so a listed parent always has its rows.
func Save(ctx context.Context, s storage.Store, runID string, snap Snapshot) error {
	items := make([]json.RawMessage, 0, len(snap.Rows))
	for _, r := range snap.Rows {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
		items = append(items, b)
	}
	if err := storage.NewCollection(s, DocType, runID).Append(ctx, items); err != nil {
		return fmt.Errorf("save rows %s: %w", runID, err)
	}
	if _, err := storage.PutJSON(ctx, s, DocType, runID, header{Columns: snap.Columns, Count: len(snap.Rows)}, ""); err != nil {
		return fmt.Errorf("save snapshot %s: %w", runID, err)
	}
	return nil
}

// Load returns the snapshot of runID or storage.ErrNotFound.
func Load(ctx context.Context, s storage.Store, runID string) (Snapshot, error) {
	var h header
	if _, err := storage.GetJSON(ctx, s, DocType, runID, &h); err != nil {
		return Snapshot{}, err
	}
	items, err := storage.NewCollection(s, DocType, runID).List(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Columns: h.Columns, Rows: make([]Row, 0, len(items))}
	for _, raw := range items {
		var r Row
		if err := json.Unmarshal(raw, &r); err != nil {
			return Snapshot{}, fmt.Errorf("decode row %s: %w", runID, err)
		}
		snap.Rows = append(snap.Rows, r)
	}
	return snap, nil
}

// Previous returns the snapshot stored immediately before runID, or nil if there is none.
func Previous(ctx context.Context, s storage.Store, runID string) (*Snapshot, string, error) {
	docs, err := s.List(ctx, DocType)
	if err != nil {
		return nil, "", err
	}
	// newest-first: the first id below runID is the previous one
	for _, d := range docs {
		if d.ID >= runID {
			continue
		}
		snap, err := Load(ctx, s, d.ID)
		if err != nil {
			return nil, "", err
		}
		return &snap, d.ID, nil
	}
	return nil, "", nil
}

// IDs lists run ids that have a snapshot, newest-first.
func IDs(ctx context.Context, s storage.Store) ([]string, error) {
	docs, err := s.List(ctx, DocType)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// Delete removes the snapshot of runID. A missing snapshot is not an error.
func Delete(ctx context.Context, s storage.Store, runID string) error {
	if _, err := storage.NewCollection(s, DocType, runID).Clear(ctx); err != nil {
		return err
	}
	if err := s.Delete(ctx, DocType, runID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}
