package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// memoryStore keeps documents in process memory. Data slices are copied on the way in and out.
type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]Document
}

func NewMemory() Store {
	return &memoryStore{docs: map[string]map[string]Document{}}
}

func (m *memoryStore) Put(ctx context.Context, typ, id string, data []byte, rev string) (Ref, error) {
	if err := ctx.Err(); err != nil {
		return Ref{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	byID := m.docs[typ]
	cur, exists := byID[id]
	switch {
	case rev == "" && exists:
		return Ref{}, ErrConflict
	case rev != "" && !exists:
		return Ref{}, ErrNotFound
	case rev != "" && cur.Rev != rev:
		return Ref{}, ErrConflict
	}
	if byID == nil {
		byID = map[string]Document{}
		m.docs[typ] = byID
	}
	next := NewRevision(rev)
	byID[id] = Document{Type: typ, ID: id, Rev: next, Data: slices.Clone(data)}
	return Ref{ID: id, Rev: next}, nil
}

func (m *memoryStore) Get(ctx context.Context, typ, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[typ][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	d.Data = slices.Clone(d.Data)
	return d, nil
}

func (m *memoryStore) List(ctx context.Context, typ string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Document, 0, len(m.docs[typ]))
	for _, d := range m.docs[typ] {
		d.Data = slices.Clone(d.Data)
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b Document) int { return strings.Compare(b.ID, a.ID) })
	return out, nil
}

func (m *memoryStore) Delete(ctx context.Context, typ, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[typ][id]; !ok {
		return ErrNotFound
	}
	delete(m.docs[typ], id)
	if len(m.docs[typ]) == 0 {
		delete(m.docs, typ)
	}
	return nil
}

func (m *memoryStore) PutBatch(ctx context.Context, docs []Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[[2]string]struct{}, len(docs))
	for _, d := range docs {
		k := [2]string{d.Type, d.ID}
		if _, dup := seen[k]; dup {
			return ErrConflict
		}
		seen[k] = struct{}{}
		if _, ok := m.docs[d.Type][d.ID]; ok {
			return ErrConflict
		}
	}
	for _, d := range docs {
		byID := m.docs[d.Type]
		if byID == nil {
			byID = map[string]Document{}
			m.docs[d.Type] = byID
		}
		byID[d.ID] = Document{Type: d.Type, ID: d.ID, Rev: NewRevision(""), Data: slices.Clone(d.Data)}
	}
	return nil
}

func (m *memoryStore) DeleteType(ctx context.Context, typ string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.docs[typ])
	delete(m.docs, typ)
	return n, nil
}

func (m *memoryStore) Close() error { return nil }
