package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConflict reports a revision mismatch on update or an existing document on create.
	ErrConflict = errors.New("storage: conflict")
	// ErrNotFound reports a missing document.
	ErrNotFound = errors.New("storage: not found")
	// ErrUnavailable wraps driver connection and I/O failures.
	ErrUnavailable = errors.New("storage: unavailable")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps
//   - "sqlite": SQLite database file at Path
//   - "postgres": PostgreSQL at DSN
type Config struct {
	Driver string
	Path   string
	DSN    string

	BusyTimeout time.Duration // sqlite only; 0 means default

	// postgres pool limits; zero means default
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// Document is one stored record.
type Document struct {
	Type string
	ID   string
	Rev  string
	Data []byte
}

// Ref identifies a written document revision.
type Ref struct {
	ID  string
	Rev string
}

// Store is the document store contract consumed by the engine.
type Store interface {
	// Put creates the document when rev is empty (ErrConflict if it exists),
	// otherwise updates it only if the stored revision equals rev.
	Put(ctx context.Context, typ, id string, data []byte, rev string) (Ref, error)
	// Get returns ErrNotFound if the document is absent.
	Get(ctx context.Context, typ, id string) (Document, error)
	// List returns all documents of typ, newest-first by id.
	List(ctx context.Context, typ string) ([]Document, error)
	// Delete returns ErrNotFound if the document is absent.
	Delete(ctx context.Context, typ, id string) error
	// PutBatch creates all docs atomically. Any existing document fails the batch with ErrConflict.
	PutBatch(ctx context.Context, docs []Document) error
	// DeleteType removes every document of typ and reports how many were removed.
	DeleteType(ctx context.Context, typ string) (int, error)
	Close() error
}

func unavailable(op string, err error) error {
	return fmt.Errorf("storage %s: %w: %w", op, ErrUnavailable, err)
}
