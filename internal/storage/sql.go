package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"strconv"
	"strings"

	logx "datastash/pkg/logx"
)

//go:embed schema.sql
var schemaSQL string

// dialect captures the differences between the SQL backends.
type dialect struct {
	name string
	// placeholders rewrites '?' placeholders for the driver.
	placeholders func(q string) string
	// orderByID is the ORDER BY clause giving byte-wise id order.
	orderByID string
}

var sqliteDialect = dialect{
	name:         "sqlite",
	placeholders: func(q string) string { return q },
	orderByID:    "doc_id DESC",
}

var postgresDialect = dialect{
	name:         "postgres",
	placeholders: dollarPlaceholders,
	orderByID:    `doc_id COLLATE "C" DESC`,
}

func dollarPlaceholders(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlStore implements Store over database/sql.
type sqlStore struct {
	db  *sql.DB
	d   dialect
	log logx.Logger
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	s := &sqlStore{db: db, d: d, log: log}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

func (s *sqlStore) q(query string) string { return s.d.placeholders(query) }

const insertDoc = `INSERT INTO documents(doc_type, doc_id, rev, data) VALUES(?,?,?,?)
	ON CONFLICT(doc_type, doc_id) DO NOTHING`

func (s *sqlStore) Put(ctx context.Context, typ, id string, data []byte, rev string) (Ref, error) {
	next := NewRevision(rev)
	if rev == "" {
		res, err := s.db.ExecContext(ctx, s.q(insertDoc), typ, id, next, string(data))
		if err != nil {
			return Ref{}, unavailable("put", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return Ref{}, ErrConflict
		}
		return Ref{ID: id, Rev: next}, nil
	}

	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE documents SET rev = ?, data = ? WHERE doc_type = ? AND doc_id = ? AND rev = ?`),
		next, string(data), typ, id, rev,
	)
	if err != nil {
		return Ref{}, unavailable("put", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, typ, id); err != nil {
			return Ref{}, err
		}
		return Ref{}, ErrConflict
	}
	return Ref{ID: id, Rev: next}, nil
}

func (s *sqlStore) Get(ctx context.Context, typ, id string) (Document, error) {
	var (
		rev  string
		data string
	)
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT rev, data FROM documents WHERE doc_type = ? AND doc_id = ?`), typ, id,
	).Scan(&rev, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, unavailable("get", err)
	}
	return Document{Type: typ, ID: id, Rev: rev, Data: []byte(data)}, nil
}

func (s *sqlStore) List(ctx context.Context, typ string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT doc_id, rev, data FROM documents WHERE doc_type = ? ORDER BY `+s.d.orderByID), typ,
	)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d    = Document{Type: typ}
			data string
		)
		if err := rows.Scan(&d.ID, &d.Rev, &data); err != nil {
			return nil, unavailable("list", err)
		}
		d.Data = []byte(data)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

func (s *sqlStore) Delete(ctx context.Context, typ, id string) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM documents WHERE doc_type = ? AND doc_id = ?`), typ, id)
	if err != nil {
		return unavailable("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) PutBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(insertDoc))
	if err != nil {
		return unavailable("batch", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		res, err := stmt.ExecContext(ctx, d.Type, d.ID, NewRevision(""), string(d.Data))
		if err != nil {
			return unavailable("batch", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("batch", err)
	}
	return nil
}

func (s *sqlStore) DeleteType(ctx context.Context, typ string) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM documents WHERE doc_type = ?`), typ)
	if err != nil {
		return 0, unavailable("delete", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
