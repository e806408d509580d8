package composer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/singleflight"

	"github.com/tuist/fabrik/internal/store"
)

// Metrics is the subset of the observability facade the composer reports
// through. Defined here (rather than imported from internal/observability)
// so the composer has no dependency on the HTTP/metrics stack — it only
// needs somewhere to record counters, per the "observation channels are
// one-way" ownership rule in the Design Notes.
type Metrics interface {
	IncCacheHit()
	IncCacheMiss()
	IncUpstreamResult(upstream string, hit bool)
	IncReplicationDropped()
	ObserveUpstreamError(upstream string, kind store.UpstreamErrorKind)
}

type noopMetrics struct{}

func (noopMetrics) IncCacheHit()                                         {}
func (noopMetrics) IncCacheMiss()                                        {}
func (noopMetrics) IncUpstreamResult(string, bool)                       {}
func (noopMetrics) IncReplicationDropped()                               {}
func (noopMetrics) ObserveUpstreamError(string, store.UpstreamErrorKind) {}

// Composer is the layered read/write cascade over a local backend and an
// immutable, ordered list of upstream entries (§4.3). The upstream list is
// fixed for the process lifetime; reconfiguration requires a restart.
type Composer struct {
	local     store.Composite
	upstreams []Entry
	metrics   Metrics
	log       *log.Logger

	sf   singleflight.Group
	pools []*pool.Pool // one bounded replication pool per upstream entry, index-aligned
}

// New builds a Composer over local and the given ordered upstream entries.
// metrics and logger may be nil, in which case observations are dropped and
// logs go nowhere — convenient for tests.
func New(local store.Composite, upstreams []Entry, metrics Metrics, logger *log.Logger) *Composer {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	c := &Composer{local: local, upstreams: upstreams, metrics: metrics, log: logger}
	c.pools = make([]*pool.Pool, len(upstreams))
	for i, e := range upstreams {
		workers := e.Workers
		if workers <= 0 {
			workers = 1
		}
		c.pools[i] = pool.New().WithMaxGoroutines(workers)
	}
	return c
}

// Exists consults the local backend first, then each upstream in order,
// stopping at the first positive. It never writes back (no bytes to cache).
func (c *Composer) Exists(ctx context.Context, hash store.Hash) (bool, error) {
	if ok, err := c.local.Exists(ctx, hash); err == nil && ok {
		return true, nil
	}
	for _, e := range c.upstreams {
		cctx, cancel := withTimeout(ctx, e.Timeout)
		ok, err := e.Upstream.Exists(cctx, hash)
		cancel()
		if err != nil {
			continue // transport error: treat as miss, try next
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Get implements the read cascade: local first; on miss, upstreams in
// order; the first hit is streamed back to the caller and written into the
// local backend (write-back). Concurrent Gets of the same hash are
// coalesced so at most one upstream fetch is in flight at a time.
func (c *Composer) Get(ctx context.Context, hash store.Hash) (io.ReadCloser, error) {
	if rc, err := c.local.Get(ctx, hash); err == nil {
		c.metrics.IncCacheHit()
		return rc, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	c.metrics.IncCacheMiss()

	v, err, _ := c.sf.Do(hash.String(), func() (interface{}, error) {
		return c.fetchFromUpstreams(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)
	return io.NopCloser(byteReaderFrom(data)), nil
}

func (c *Composer) fetchFromUpstreams(ctx context.Context, hash store.Hash) ([]byte, error) {
	for _, e := range c.upstreams {
		cctx, cancel := withTimeout(ctx, e.Timeout)
		data, err := readAll(cctx, 0, e.Upstream, hash) // timeout already applied via cctx
		cancel()
		if err != nil {
			kind := classifyErr(err)
			c.metrics.ObserveUpstreamError(e.Upstream.Name(), kind)
			c.metrics.IncUpstreamResult(e.Upstream.Name(), false)
			continue
		}
		c.metrics.IncUpstreamResult(e.Upstream.Name(), true)

		// Write-back: best effort, failures are logged and do not fail
		// the read that's already succeeded.
		if _, werr := c.local.Put(context.Background(), hash, int64(len(data)), byteReaderFrom(data)); werr != nil {
			c.log.Printf("composer: write-back for %s failed: %v", hash, werr)
		}
		return data, nil
	}
	return nil, store.ErrNotFound
}

// Put always writes to the local backend first, then enqueues asynchronous
// replication to every write_through, non-read_only upstream on that
// upstream's bounded worker pool. It does not wait for replication to finish,
// but when all of an upstream's workers are busy, enqueueing waits for a free
// worker; no job is dropped. A failed replication is logged and counted via
// IncReplicationDropped.
func (c *Composer) Put(ctx context.Context, hash store.Hash, size int64, body io.Reader) (store.Digest, error) {
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return store.Digest{}, fmt.Errorf("composer: put: reading body: %w", err)
	}
	digest, err := c.local.Put(ctx, hash, size, byteReaderFrom(data))
	if err != nil {
		return store.Digest{}, err
	}

	for i, e := range c.upstreams {
		if !e.WriteThrough || e.ReadOnly {
			continue
		}
		i, e := i, e
		c.pools[i].Go(func() {
			if _, err := e.Upstream.Put(context.Background(), hash, int64(len(data)), byteReaderFrom(data)); err != nil {
				c.log.Printf("composer: replication to %s failed: %v", e.Upstream.Name(), err)
				c.metrics.IncReplicationDropped()
			}
		})
	}
	return digest, nil
}

// Delete removes hash from the local backend only. Upstream delete
// propagation is explicitly out of scope (§4.3).
func (c *Composer) Delete(ctx context.Context, hash store.Hash) error {
	return c.local.Delete(ctx, hash)
}

func (c *Composer) Info(ctx context.Context, hash store.Hash) (store.Info, error) {
	return c.local.Info(ctx, hash)
}

// KV operations, KVList included, consult only the local namespace;
// upstreams are never traversed.
func (c *Composer) KVGet(ctx context.Context, key string) ([]byte, error) { return c.local.KVGet(ctx, key) }
func (c *Composer) KVPut(ctx context.Context, key string, value []byte) error {
	return c.local.KVPut(ctx, key, value)
}
func (c *Composer) KVExists(ctx context.Context, key string) (bool, error) {
	return c.local.KVExists(ctx, key)
}
func (c *Composer) KVDelete(ctx context.Context, key string) error { return c.local.KVDelete(ctx, key) }
func (c *Composer) KVList(ctx context.Context, prefix string) (store.KeyIterator, error) {
	return c.local.KVList(ctx, prefix)
}

func (c *Composer) Stats(ctx context.Context) (store.Stats, error) { return c.local.Stats(ctx) }

// Close waits for in-flight replication jobs to drain.
func (c *Composer) Close() {
	var wg sync.WaitGroup
	for _, p := range c.pools {
		p := p
		wg.Add(1)
		go func() { defer wg.Done(); p.Wait() }()
	}
	wg.Wait()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func byteReaderFrom(b []byte) *bytes.Reader { return bytes.NewReader(b) }

func classifyErr(err error) store.UpstreamErrorKind {
	var ue *store.UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return store.UpstreamTimeout
	}
	return store.UpstreamTransport
}
