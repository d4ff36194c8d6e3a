package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// DefaultChunkSize is the number of items stored per child document.
const DefaultChunkSize = 1000

// Collection is an ordered set of child records under a parent document.
// Items are stored in chunk documents of type "<parentType>/<parentID>" with
// zero-padded ids so the store's id ordering is the append order.
type Collection struct {
	store     Store
	typ       string
	ChunkSize int
}

func NewCollection(s Store, parentType, parentID string) *Collection {
	return &Collection{store: s, typ: parentType + "/" + parentID, ChunkSize: DefaultChunkSize}
}

// Type returns the document type used for the chunks.
func (c *Collection) Type() string { return c.typ }

func chunkID(n int) string { return fmt.Sprintf("%08d", n) }

// Append stores items after any existing ones, in one batch.
func (c *Collection) Append(ctx context.Context, items []json.RawMessage) error {
	if len(items) == 0 {
		return nil
	}
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	existing, err := c.store.List(ctx, c.typ)
	if err != nil {
		return err
	}
	next := len(existing)

	docs := make([]Document, 0, (len(items)+size-1)/size)
	for chunk := range slices.Chunk(items, size) {
		b, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("encode chunk: %w", err)
		}
		docs = append(docs, Document{Type: c.typ, ID: chunkID(next), Data: b})
		next++
	}
	return c.store.PutBatch(ctx, docs)
}

// List returns all items in append order.
func (c *Collection) List(ctx context.Context) ([]json.RawMessage, error) {
	docs, err := c.store.List(ctx, c.typ)
	if err != nil {
		return nil, err
	}
	var out []json.RawMessage
	for i := len(docs) - 1; i >= 0; i-- {
		var chunk []json.RawMessage
		if err := json.Unmarshal(docs[i].Data, &chunk); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", c.typ, docs[i].ID, err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// Clear removes every chunk.
func (c *Collection) Clear(ctx context.Context) (int, error) {
	return c.store.DeleteType(ctx, c.typ)
}
