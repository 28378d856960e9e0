// Package state persists whole JSON documents by key. Workspaces, schedule
// rules and version logs are each stored as documents.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxDocumentBytes bounds a single document. Remote schemes may carry
// several MiB of content, so the limit is generous.
const DefaultMaxDocumentBytes = 32 << 20

// ErrTooLarge is returned when an encoded document exceeds the size limit.
var ErrTooLarge = errors.New("document exceeds max size")

type Store struct {
	db       *sql.DB
	maxBytes int
	now      func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:       db,
		maxBytes: DefaultMaxDocumentBytes,
		now:      time.Now,
	}
}

// GetRaw returns the stored JSON for key. ok is false if the key is missing.
func (s *Store) GetRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("document key is empty")
	}

	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?;", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read document %q: %w", key, err)
	}
	if !json.Valid([]byte(raw)) {
		return nil, false, fmt.Errorf("stored document %q is invalid JSON", key)
	}
	return json.RawMessage(raw), true, nil
}

// Get decodes the document at key into v. It reports false, leaving v
// untouched, when the key is missing.
func (s *Store) Get(ctx context.Context, key string, v any) (bool, error) {
	raw, ok, err := s.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode document %q: %w", key, err)
	}
	return true, nil
}

// Put replaces the document at key with the JSON encoding of v.
func (s *Store) Put(ctx context.Context, key string, v any) error {
	body, err := s.encode(key, v)
	if err != nil {
		return err
	}
	return upsert(ctx, s.db, key, body, s.now())
}

// Update runs a read-modify-write cycle on key inside one transaction. fn
// receives the current JSON (nil when missing) and returns the new value.
// fn must not call back into the Store.
func (s *Store) Update(ctx context.Context, key string, fn func(cur json.RawMessage) (any, error)) error {
	if key == "" {
		return fmt.Errorf("document key is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var cur json.RawMessage
	var raw string
	err = tx.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?;", key).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("read document %q: %w", key, err)
	default:
		cur = json.RawMessage(raw)
	}

	next, err := fn(cur)
	if err != nil {
		return err
	}
	body, err := s.encode(key, next)
	if err != nil {
		return err
	}
	if err := upsert(ctx, tx, key, body, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM documents WHERE key = ?;", key); err != nil {
		return fmt.Errorf("delete document %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys with the given prefix in lexical order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT key FROM documents WHERE substr(key, 1, ?) = ? ORDER BY key;", len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) encode(key string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode document %q: %w", key, err)
	}
	if len(b) > s.maxBytes {
		return "", fmt.Errorf("document %q (%d bytes, max %d): %w", key, len(b), s.maxBytes, ErrTooLarge)
	}
	return string(b), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, key, body string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
INSERT INTO documents(key, body, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  body = excluded.body,
  updated_at = excluded.updated_at;
`, key, body, now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert document %q: %w", key, err)
	}
	return nil
}
