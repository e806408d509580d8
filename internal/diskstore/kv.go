package diskstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tuist/fabrik/internal/store"
)

func (s *Store) KVGet(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("diskstore: kv get: %w", err)
	}
	return value, nil
}

func (s *Store) KVPut(ctx context.Context, key string, value []byte) error {
	if len(key) > store.MaxKVKeySize {
		return store.ErrKeyTooLong
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("diskstore: kv put: %w", err)
	}
	return nil
}

func (s *Store) KVExists(ctx context.Context, key string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM kv WHERE key = ?`, key).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("diskstore: kv exists: %w", err)
	}
	return true, nil
}

func (s *Store) KVDelete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("diskstore: kv delete: %w", err)
	}
	return nil
}

func (s *Store) KVList(ctx context.Context, prefix string) (store.KeyIterator, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE key LIKE ? || '%' ORDER BY key ASC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("diskstore: kv list: %w", err)
	}
	return &kvIterator{rows: rows}, nil
}

type kvIterator struct {
	rows *sql.Rows
	cur  string
	err  error
}

func (it *kvIterator) Next(ctx context.Context) bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.cur); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *kvIterator) Key() string { return it.cur }
func (it *kvIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}
func (it *kvIterator) Close() error { return it.rows.Close() }
