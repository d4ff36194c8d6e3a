package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// maxCreateAttempts bounds the suffix retries in Create.
const maxCreateAttempts = 100

var suffixRe = regexp.MustCompile(`^(.*-)(\d+)$`)

// NextID appends or increments a numeric "-N" suffix: "a" -> "a-1", "a-1" -> "a-2".
func NextID(id string) string {
	if m := suffixRe.FindStringSubmatch(id); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil {
			return m[1] + strconv.Itoa(n+1)
		}
	}
	return id + "-1"
}

// Create writes a new document, retrying with an incrementing suffix while the id is taken.
// The returned Ref carries the id that was actually used.
func Create(ctx context.Context, s Store, typ, id string, data []byte) (Ref, error) {
	cur := id
	for range maxCreateAttempts {
		ref, err := s.Put(ctx, typ, cur, data, "")
		if err == nil {
			return ref, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Ref{}, err
		}
		cur = NextID(cur)
	}
	return Ref{}, fmt.Errorf("create %s/%s: %w (after %d attempts)", typ, id, ErrConflict, maxCreateAttempts)
}

// GetJSON decodes the document into v and returns its revision.
func GetJSON(ctx context.Context, s Store, typ, id string, v any) (string, error) {
	d, err := s.Get(ctx, typ, id)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(d.Data, v); err != nil {
		return "", fmt.Errorf("decode %s/%s: %w", typ, id, err)
	}
	return d.Rev, nil
}

// PutJSON encodes v and writes it with Put semantics.
func PutJSON(ctx context.Context, s Store, typ, id string, v any, rev string) (Ref, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Ref{}, fmt.Errorf("encode %s/%s: %w", typ, id, err)
	}
	return s.Put(ctx, typ, id, b, rev)
}
