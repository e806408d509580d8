package peer

import (
	"sync"
	"time"
)

// Info is one entry in the peer table maintained from mDNS browse results.
type Info struct {
	MachineID string
	Address   string // host:port
	Version   string
	Accepting bool
	LastSeen  time.Time
}

// Table is the TTL-expiring set of currently-known peers, populated by
// discovery.go's zeroconf browser and consulted by the racing client.
type Table struct {
	ttl time.Duration

	mu    sync.RWMutex
	peers map[string]Info // keyed by machine_id
}

// NewTable builds a Table that expires entries not refreshed within ttl.
func NewTable(ttl time.Duration) *Table {
	return &Table{ttl: ttl, peers: make(map[string]Info)}
}

// Upsert records or refreshes a peer sighting.
func (t *Table) Upsert(info Info) {
	info.LastSeen = time.Now()
	t.mu.Lock()
	t.peers[info.MachineID] = info
	t.mu.Unlock()
}

// Remove drops a peer immediately (e.g. on mDNS "goodbye").
func (t *Table) Remove(machineID string) {
	t.mu.Lock()
	delete(t.peers, machineID)
	t.mu.Unlock()
}

// Prune evicts entries not seen within ttl. Called periodically by the
// owning daemon loop.
func (t *Table) Prune() {
	cutoff := time.Now().Add(-t.ttl)
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, p := range t.peers {
		if p.LastSeen.Before(cutoff) {
			delete(t.peers, id)
		}
	}
}

// Accepting returns every currently-known peer advertising accepting=1,
// the candidate set for a racing Exists fan-out.
func (t *Table) Accepting() []Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Info, 0, len(t.peers))
	for _, p := range t.peers {
		if p.Accepting {
			out = append(out, p)
		}
	}
	return out
}
