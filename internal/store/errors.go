// Package store defines the content-addressed blob store and key-value
// store abstractions shared by every storage tier (local backend, origin
// adapter, inter-layer RPC client) and by the layered composer that sits
// above them.
package store

import "errors"

// Sentinel errors surfaced through every CAS/KV implementation. Callers
// should compare with errors.Is, never string-match, since every layer
// wraps these with additional context as they propagate.
var (
	// ErrNotFound means the key is absent locally and, where the caller
	// consulted them, in every upstream.
	ErrNotFound = errors.New("fabrik: not found")

	// ErrHashMismatch means the declared hash did not match the bytes
	// actually streamed during a Put. No bytes are persisted.
	ErrHashMismatch = errors.New("fabrik: hash mismatch")

	// ErrTooLarge means a Put exceeded the configured maximum blob size.
	ErrTooLarge = errors.New("fabrik: blob too large")

	// ErrStorageFull means the local backend has no room and eviction
	// could not reclaim enough space within the configured retry budget.
	ErrStorageFull = errors.New("fabrik: storage full")

	// ErrCorrupt means a stored entry failed verify-on-read. The entry
	// is quarantined and the read is reported as ErrNotFound to callers.
	ErrCorrupt = errors.New("fabrik: corrupt entry")

	// ErrCancelled means the caller's context was cancelled or its
	// deadline was exceeded mid-operation. Treated as normal termination,
	// never logged as a failure.
	ErrCancelled = errors.New("fabrik: cancelled")

	// ErrKeyTooLong means a KV key exceeded the 1 KiB limit.
	ErrKeyTooLong = errors.New("fabrik: kv key too long")
)

// UpstreamError wraps a failure observed while consulting an upstream
// (another layer, the origin, or a peer). The composer's read path treats
// any UpstreamError as a miss and continues to the next upstream; the
// write path only reports it through metrics.
type UpstreamError struct {
	Upstream string
	Kind     UpstreamErrorKind
	Err      error
}

// UpstreamErrorKind classifies an UpstreamError for metrics tagging.
type UpstreamErrorKind string

const (
	UpstreamTimeout   UpstreamErrorKind = "timeout"
	UpstreamTransport UpstreamErrorKind = "transport"
	UpstreamProtocol  UpstreamErrorKind = "protocol"
)

func (e *UpstreamError) Error() string {
	return "fabrik: upstream " + e.Upstream + " " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }
