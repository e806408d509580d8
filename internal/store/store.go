package store

import (
	"context"
	"io"
	"time"
)

// MaxKVKeySize is the maximum length of a KV key, per the data model.
const MaxKVKeySize = 1024

// Info is the access record maintained per blob (and, with KV semantics
// adjusted, per KV entry): creation time, last access, access count, size.
type Info struct {
	Size         int64
	CreatedAt    time.Time
	LastAccessed time.Time
	AccessCount  int64
}

// CAS is the content-addressed blob store surface. Every method accepts a
// context so long-running network or disk operations are cancellable; a
// cancelled Get must not leak descriptors or partial local writes.
type CAS interface {
	// Exists reports whether hash is present, without streaming it.
	Exists(ctx context.Context, hash Hash) (bool, error)

	// Get streams the blob identified by hash. Returns ErrNotFound if
	// absent. Callers must Close the returned ReadCloser.
	Get(ctx context.Context, hash Hash) (io.ReadCloser, error)

	// Put stores body, verifying it hashes to hash and does not exceed
	// the configured maximum size. Returns ErrHashMismatch or ErrTooLarge
	// on violation; no bytes are persisted in either case. Concurrent
	// Puts of the same hash must produce exactly one stored copy and
	// every caller must observe success.
	Put(ctx context.Context, hash Hash, size int64, body io.Reader) (Digest, error)

	// Delete removes hash if present. Deleting an absent hash is not an
	// error.
	Delete(ctx context.Context, hash Hash) error

	// Info returns the access record for hash, or ErrNotFound.
	Info(ctx context.Context, hash Hash) (Info, error)
}

// KV is the opaque key-value store surface, a namespace distinct from CAS.
type KV interface {
	// KVGet returns the value for key, or (nil, ErrNotFound).
	KVGet(ctx context.Context, key string) ([]byte, error)

	// KVPut stores value for key. Last-write-wins with total order per
	// key.
	KVPut(ctx context.Context, key string, value []byte) error

	// KVExists reports whether key is present.
	KVExists(ctx context.Context, key string) (bool, error)

	// KVDelete removes key if present.
	KVDelete(ctx context.Context, key string) error

	// KVList returns an iterator over keys sharing prefix (or every key,
	// if prefix is empty). The sequence is lazy: implementations must not
	// materialize the full key set up front for large namespaces.
	KVList(ctx context.Context, prefix string) (KeyIterator, error)
}

// KeyIterator lazily enumerates KV keys. Callers must call Close.
type KeyIterator interface {
	// Next advances the iterator and reports whether a key is available.
	Next(ctx context.Context) bool
	// Key returns the current key. Valid only after Next returns true.
	Key() string
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Composite is the full local surface: CAS plus KV plus a stats rollup,
// implemented by internal/diskstore. The origin adapter and the layerrpc
// client implement only CAS and KV (composer.Upstream), not Composite.
type Composite interface {
	CAS
	KV
	Stats(ctx context.Context) (Stats, error)
}

// Stats is the summary counters backing the observability rollup and the
// GetStats RPC.
type Stats struct {
	CacheHits        int64
	CacheMisses      int64
	ObjectCount      int64
	TotalBytes       int64
	Evictions        int64
	UploadBytes      int64
	DownloadBytes    int64
	UpstreamHits     int64
	UpstreamMisses   int64
	P2PHits          int64
	P2PMisses        int64
}

// HitRatio returns CacheHits / (CacheHits + CacheMisses), or 0 if no
// requests have been observed yet.
func (s Stats) HitRatio() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
