package diskstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/tuist/fabrik/internal/store"
)

// chunkSize bounds how many bytes of a blob are buffered per row. It mirrors
// store.RecommendedChunkSize so the on-disk chunking matches the streaming
// contract the rest of the stack assumes.
const chunkSize = store.RecommendedChunkSize

func (s *Store) Exists(ctx context.Context, hash store.Hash) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM blob_meta WHERE hash = ? AND quarantined = 0`, hash.String()).Scan(&n)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("diskstore: exists: %w", err)
	default:
		return true, nil
	}
}

func (s *Store) Info(ctx context.Context, hash store.Hash) (store.Info, error) {
	var info store.Info
	var createdNS, accessedNS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT size, created_at, last_accessed, access_count FROM blob_meta WHERE hash = ? AND quarantined = 0`,
		hash.String()).Scan(&info.Size, &createdNS, &accessedNS, &info.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Info{}, store.ErrNotFound
	}
	if err != nil {
		return store.Info{}, fmt.Errorf("diskstore: info: %w", err)
	}
	info.CreatedAt = time.Unix(0, createdNS)
	info.LastAccessed = time.Unix(0, accessedNS)
	return info, nil
}

// Get streams hash's bytes back to the caller a row at a time, never
// materializing the full blob in memory regardless of its size (spec.md's
// chunked-streaming requirement). When VerifyOnRead is enabled, the running
// hash is checked once the last row is consumed; a mismatch quarantines the
// entry and the final Read returns an error matching both store.ErrNotFound
// and store.ErrCorrupt. A cache
// hit bumps the access record in a best-effort fashion (failure to update
// stats never fails the read).
func (s *Store) Get(ctx context.Context, hash store.Hash) (io.ReadCloser, error) {
	hex := hash.String()

	// The pool holds a single connection and the open rows below keep it for
	// the reader's lifetime, so the access record of a live entry is bumped
	// before querying.
	if ok, _ := s.Exists(ctx, hash); ok {
		s.touchAccess(hex)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM blob_data WHERE hash = ? ORDER BY chunk_index ASC`, hex)
	if err != nil {
		return nil, fmt.Errorf("diskstore: get: %w", err)
	}

	if !rows.Next() {
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("diskstore: get: %w", err)
		}
		s.recordMiss()
		return nil, store.ErrNotFound
	}

	var first []byte
	if err := rows.Scan(&first); err != nil {
		rows.Close()
		return nil, fmt.Errorf("diskstore: get: scanning chunk: %w", err)
	}

	s.recordHit()

	br := &blobReader{rows: rows, hex: hex, store: s, chunk: first}
	if s.opts.VerifyOnRead {
		br.verify = sha256.New()
		br.expect = hash
		br.verify.Write(first)
	}
	return br, nil
}

// blobReader pages blob_data rows out one at a time so Get never holds more
// than a single chunk in memory at once.
type blobReader struct {
	rows   *sql.Rows
	hex    string
	store  *Store
	chunk  []byte
	verify hash.Hash // nil unless VerifyOnRead
	expect store.Hash
	done   bool
}

func (r *blobReader) Read(p []byte) (int, error) {
	for len(r.chunk) == 0 {
		if r.done {
			return 0, r.finish()
		}
		if !r.rows.Next() {
			r.done = true
			if err := r.rows.Err(); err != nil {
				r.rows.Close()
				return 0, fmt.Errorf("diskstore: get: %w", err)
			}
			return 0, r.finish()
		}
		if err := r.rows.Scan(&r.chunk); err != nil {
			r.rows.Close()
			return 0, fmt.Errorf("diskstore: get: scanning chunk: %w", err)
		}
		if r.verify != nil {
			r.verify.Write(r.chunk)
		}
	}
	n := copy(p, r.chunk)
	r.chunk = r.chunk[n:]
	return n, nil
}

// finish closes the row cursor and, when verifying, checks the accumulated
// hash against the expected one. Called once rows are exhausted.
func (r *blobReader) finish() error {
	defer r.rows.Close()
	if r.verify != nil {
		var got store.Hash
		copy(got[:], r.verify.Sum(nil))
		if got != r.expect {
			r.store.quarantine(r.hex)
			r.store.log.Printf("diskstore: quarantined %s: byte-hash mismatch on read", r.hex)
			return fmt.Errorf("%w: %w", store.ErrNotFound, store.ErrCorrupt)
		}
	}
	return io.EOF
}

func (r *blobReader) Close() error {
	return r.rows.Close()
}

func (s *Store) touchAccess(hex string) {
	now := time.Now().UnixNano()
	_, err := s.db.Exec(
		`UPDATE blob_meta SET last_accessed = ?, access_count = access_count + 1 WHERE hash = ?`, now, hex)
	if err != nil {
		s.log.Printf("diskstore: warning: failed to update access record for %s: %v", hex, err)
		return
	}
	var count, size int64
	if err := s.db.QueryRow(`SELECT access_count, size FROM blob_meta WHERE hash = ?`, hex).Scan(&count, &size); err == nil {
		s.indexTouch(hex, count, now, size)
	}
}

func (s *Store) quarantine(hex string) {
	_, _ = s.db.Exec(`UPDATE blob_meta SET quarantined = 1 WHERE hash = ?`, hex)
	_, _ = s.db.Exec(`DELETE FROM blob_data WHERE hash = ?`, hex)
	s.indexRemove(hex)
}

// Put stores body under hash, verifying the streamed bytes hash to hash.
// Concurrent Puts of the same hash are coalesced through a singleflight
// group so exactly one copy is written and every caller observes success.
func (s *Store) Put(ctx context.Context, hash store.Hash, size int64, body io.Reader) (store.Digest, error) {
	hex := hash.String()

	type result struct {
		digest store.Digest
	}

	v, err, _ := s.putGroup.Do(hex, func() (interface{}, error) {
		if ok, _ := s.Exists(ctx, hash); ok {
			// Idempotent: identical hash already stored. Drain body so the
			// caller's stream is fully consumed either way.
			_, _ = io.Copy(io.Discard, body)
			return result{digest: store.Digest{Hash: hash, Size: size}}, nil
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("diskstore: put: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		// Each chunk is written to blob_data as soon as it's read, inside
		// the same transaction, instead of accumulating the whole blob in
		// memory first: a mismatch caught after the loop just rolls the tx
		// back, so the partially-written rows never become visible.
		hr := store.NewHashingReader(body)
		buf := make([]byte, chunkSize)
		var total int64
		var index int
		for {
			n, rerr := io.ReadFull(hr, buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if _, err := tx.ExecContext(ctx,
					`INSERT OR REPLACE INTO blob_data (hash, chunk_index, data) VALUES (?, ?, ?)`, hex, index, chunk); err != nil {
					return nil, fmt.Errorf("diskstore: put: writing chunk %d: %w", index, err)
				}
				total += int64(n)
				index++
			}
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
			if rerr != nil {
				return nil, fmt.Errorf("diskstore: put: reading body: %w", rerr)
			}
		}

		sum := hr.Sum()
		if sum.Hash != hash {
			return nil, store.ErrHashMismatch
		}

		now := time.Now().UnixNano()
		if _, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO blob_meta (hash, size, created_at, last_accessed, access_count, quarantined)
			 VALUES (?, ?, ?, ?, 0, 0)`, hex, total, now, now); err != nil {
			return nil, fmt.Errorf("diskstore: put: writing metadata: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("diskstore: put: commit: %w", err)
		}

		s.indexTouch(hex, 0, now, total)
		return result{digest: store.Digest{Hash: hash, Size: total}}, nil
	})
	if err != nil {
		return store.Digest{}, err
	}
	return v.(result).digest, nil
}

func (s *Store) Delete(ctx context.Context, hash store.Hash) error {
	hex := hash.String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("diskstore: delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_data WHERE hash = ?`, hex); err != nil {
		return fmt.Errorf("diskstore: delete: data: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blob_meta WHERE hash = ?`, hex); err != nil {
		return fmt.Errorf("diskstore: delete: meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("diskstore: delete: commit: %w", err)
	}
	s.indexRemove(hex)
	return nil
}
