// Package composer implements the layered cascade (spec component C3): the
// local backend is always consulted first; on miss, configured upstreams
// are consulted in order, each under its own timeout, with concurrent reads
// for the same hash coalesced through a single-flight group.
package composer

import (
	"context"
	"io"
	"time"

	"github.com/tuist/fabrik/internal/store"
)

// Upstream is the tagged-variant interface every cascade entry satisfies,
// regardless of whether it is backed by another layer-2 instance
// (internal/layerrpc.Client), the origin object store (internal/origin.Adapter),
// or the LAN peer pool (internal/peer.RacingClient). Adding a new upstream
// kind means implementing this interface; the composer and adapters need no
// changes, per the Design Notes' "dynamic dispatch across storage backends"
// guidance.
type Upstream interface {
	store.CAS
	store.KV
	// Name identifies the upstream for logging and metrics tags.
	Name() string
}

// Entry pairs an Upstream with its cascade-level policy, mirroring the
// [[upstream]] config array.
type Entry struct {
	Upstream Upstream
	Timeout  time.Duration
	// ReadOnly upstreams are never targets of write-through replication.
	ReadOnly bool
	// Permanent upstreams are never elided from the read cascade (the
	// origin adapter is conventionally permanent).
	Permanent bool
	// WriteThrough enables asynchronous replication of local writes.
	WriteThrough bool
	// Workers sizes the bounded replication pool for this upstream.
	Workers int
}

// readAll adapts an Upstream's Get to a byte slice read under a
// deadline, used by the cascade read path.
func readAll(ctx context.Context, timeout time.Duration, u Upstream, hash store.Hash) ([]byte, error) {
	cctx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	rc, err := u.Get(cctx, hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
