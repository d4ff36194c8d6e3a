package runs

import (
	"context"
	"encoding/json"
	"fmt"

	"datastash/internal/storage"
)

// DocType is the document type of run records.
const DocType = "run"

// Repository stores runs as "run/<id>" documents.
type Repository struct {
	store storage.Store
}

func NewRepository(s storage.Store) *Repository { return &Repository{store: s} }

// Create stores a new run. On an id collision the id gets a "-N" suffix;
// the stored id and revision are written back into r.
func (p *Repository) Create(ctx context.Context, r *Run) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	ref, err := storage.Create(ctx, p.store, DocType, r.ID, b)
	if err != nil {
		return err
	}
	if ref.ID != r.ID {
		// Keep the embedded id in sync with the key.
		r.ID = ref.ID
		ref, err = storage.PutJSON(ctx, p.store, DocType, r.ID, r, ref.Rev)
		if err != nil {
			return err
		}
	}
	r.Rev = ref.Rev
	return nil
}

func (p *Repository) Get(ctx context.Context, id string) (*Run, error) {
	d, err := p.store.Get(ctx, DocType, id)
	if err != nil {
		return nil, err
	}
	return decode(d)
}

// Update writes r if it is still at r.Rev; a concurrent writer yields storage.ErrConflict.
func (p *Repository) Update(ctx context.Context, r *Run) error {
	ref, err := storage.PutJSON(ctx, p.store, DocType, r.ID, r, r.Rev)
	if err != nil {
		return err
	}
	r.Rev = ref.Rev
	return nil
}

// List returns all runs newest-first.
func (p *Repository) List(ctx context.Context) ([]*Run, error) {
	docs, err := p.store.List(ctx, DocType)
	if err != nil {
		return nil, err
	}
	out := make([]*Run, 0, len(docs))
	for _, d := range docs {
		r, err := decode(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (p *Repository) Delete(ctx context.Context, id string) error {
	return p.store.Delete(ctx, DocType, id)
}

func decode(d storage.Document) (*Run, error) {
	var r Run
	if err := json.Unmarshal(d.Data, &r); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", d.ID, err)
	}
	r.ID = d.ID
	r.Rev = d.Rev
	return &r, nil
}
