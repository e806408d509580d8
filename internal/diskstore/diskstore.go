// Package diskstore implements the embedded on-disk backend (spec component
// C2): a single SQLite database, accessed through the pure-Go
// github.com/ncruces/go-sqlite3 driver, holding blob bytes, blob metadata,
// and KV entries in three logically separate tables (the B/M/K ranges of
// the original design). A background worker evicts entries under LFU, LRU,
// or TTL policy once total size crosses the configured high-water mark.
package diskstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/btree"
	"golang.org/x/sync/singleflight"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/tuist/fabrik/internal/store"
)

// Policy selects the eviction strategy run by the background sweeper.
type Policy string

const (
	PolicyLFU Policy = "lfu"
	PolicyLRU Policy = "lru"
	PolicyTTL Policy = "ttl"
)

// Options configures a Store.
type Options struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string
	// MaxSize is the high-water mark, in bytes, that triggers eviction.
	MaxSize int64
	// LowWaterRatio is the fraction of MaxSize eviction targets (default
	// 0.9, per the spec's recommendation).
	LowWaterRatio float64
	// EvictionPolicy selects LFU, LRU, or TTL.
	EvictionPolicy Policy
	// DefaultTTL is used by PolicyTTL to find eligible victims first.
	DefaultTTL time.Duration
	// VerifyOnRead re-hashes blob bytes on every Get and quarantines
	// mismatches as store.ErrCorrupt. Off by default (CPU cost).
	VerifyOnRead bool
	// SweepInterval is how often the eviction worker wakes to check
	// usage. Defaults to 30s.
	SweepInterval time.Duration
	Logger        *log.Logger
}

// Store is the embedded on-disk backend. It implements store.Composite.
type Store struct {
	opts Options
	db   *sql.DB
	log  *log.Logger

	putGroup singleflight.Group

	mu       sync.Mutex
	lfuIndex *btree.BTreeG[lfuItem]
	lfuByKey map[string]lfuItem

	statsMu sync.Mutex
	stats   store.Stats

	closeOnce sync.Once
	stopSweep chan struct{}
	sweepDone chan struct{}
}

type lfuItem struct {
	hash         string
	accessCount  int64
	lastAccessed int64 // unix nanos
	size         int64
}

func lfuLess(a, b lfuItem) bool {
	if a.accessCount != b.accessCount {
		return a.accessCount < b.accessCount
	}
	if a.lastAccessed != b.lastAccessed {
		return a.lastAccessed < b.lastAccessed
	}
	return a.hash < b.hash
}

const schema = `
CREATE TABLE IF NOT EXISTS blob_meta (
	hash TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	last_accessed INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0,
	quarantined INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS blob_meta_last_accessed ON blob_meta(last_accessed);
CREATE INDEX IF NOT EXISTS blob_meta_created_at ON blob_meta(created_at);

CREATE TABLE IF NOT EXISTS blob_data (
	hash TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	data BLOB NOT NULL,
	PRIMARY KEY (hash, chunk_index)
);

CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open creates or opens the SQLite-backed store at opts.Path, running schema
// migration and rebuilding the in-memory LFU index from persisted metadata.
func Open(opts Options) (*Store, error) {
	if opts.LowWaterRatio <= 0 {
		opts.LowWaterRatio = 0.9
	}
	if opts.EvictionPolicy == "" {
		opts.EvictionPolicy = PolicyLRU
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("diskstore: opening %s: %w", opts.Path, err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer, avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("diskstore: migrating schema: %w", err)
	}

	s := &Store{
		opts:      opts,
		db:        db,
		log:       opts.Logger,
		lfuByKey:  make(map[string]lfuItem),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	s.lfuIndex = btree.NewG(32, lfuLess)

	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}

	go s.sweepLoop()
	return s, nil
}

// Close stops the eviction worker and closes the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
		<-s.sweepDone
	})
	return s.db.Close()
}

func (s *Store) rebuildIndex() error {
	rows, err := s.db.Query(`SELECT hash, access_count, last_accessed, size FROM blob_meta WHERE quarantined = 0`)
	if err != nil {
		return fmt.Errorf("diskstore: rebuilding index: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var it lfuItem
		if err := rows.Scan(&it.hash, &it.accessCount, &it.lastAccessed, &it.size); err != nil {
			return fmt.Errorf("diskstore: scanning index row: %w", err)
		}
		s.lfuIndex.ReplaceOrInsert(it)
		s.lfuByKey[it.hash] = it
	}
	return rows.Err()
}

func (s *Store) indexTouch(hash string, accessCount, lastAccessed, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lfuByKey[hash]; ok {
		s.lfuIndex.Delete(old)
	}
	it := lfuItem{hash: hash, accessCount: accessCount, lastAccessed: lastAccessed, size: size}
	s.lfuIndex.ReplaceOrInsert(it)
	s.lfuByKey[hash] = it
}

func (s *Store) indexRemove(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lfuByKey[hash]; ok {
		s.lfuIndex.Delete(old)
		delete(s.lfuByKey, hash)
	}
}

// Stats returns the current counters backing the observability rollup.
func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	var row store.Stats
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(size), 0) FROM blob_meta WHERE quarantined = 0`).
		Scan(&row.ObjectCount, &row.TotalBytes)
	if err != nil {
		return store.Stats{}, fmt.Errorf("diskstore: stats: %w", err)
	}

	s.statsMu.Lock()
	row.CacheHits = s.stats.CacheHits
	row.CacheMisses = s.stats.CacheMisses
	row.Evictions = s.stats.Evictions
	row.UploadBytes = s.stats.UploadBytes
	row.DownloadBytes = s.stats.DownloadBytes
	s.statsMu.Unlock()
	return row, nil
}

func (s *Store) recordHit()  { s.statsMu.Lock(); s.stats.CacheHits++; s.statsMu.Unlock() }
func (s *Store) recordMiss() { s.statsMu.Lock(); s.stats.CacheMisses++; s.statsMu.Unlock() }
