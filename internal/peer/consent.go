package peer

import (
	"fmt"
	"sync"
)

// ConsentMode selects how the consent gate treats a previously-unseen (or
// previously-seen) peer, per §4.7.
type ConsentMode string

const (
	ConsentNotifyOnce   ConsentMode = "notify-once"
	ConsentNotifyAlways ConsentMode = "notify-always"
	ConsentAlwaysAllow  ConsentMode = "always-allow"
	ConsentDisabled     ConsentMode = "disabled"
)

// Notifier presents a cross-platform system notification identifying a
// peer and returns the user's decision. Its implementation (actual OS
// notification APIs) is the opaque external collaborator from the original
// design; this package only defines the interface and a logging stub.
type Notifier interface {
	Prompt(machineID, address string) (allow bool, err error)
}

// LoggingNotifier answers every prompt with a fixed decision and logs it,
// suitable for headless daemons where no human is present to respond to a
// system notification.
type LoggingNotifier struct {
	// DefaultAllow is returned (with no actual UI) for every prompt.
	DefaultAllow bool
	Logf         func(format string, args ...interface{})
}

func (n LoggingNotifier) Prompt(machineID, address string) (bool, error) {
	if n.Logf != nil {
		n.Logf("peer: consent prompt for %s (%s) auto-answered %v (headless notifier)", machineID, address, n.DefaultAllow)
	}
	return n.DefaultAllow, nil
}

// Gate decides, per request, whether a source peer may be served. Decisions
// are memoized per machine_id under notify-once.
type Gate struct {
	mode     ConsentMode
	notifier Notifier

	mu        sync.Mutex
	decisions map[string]bool // machine_id -> allowed, populated under notify-once
}

// NewGate builds a Gate enforcing mode, prompting via notifier when needed.
func NewGate(mode ConsentMode, notifier Notifier) *Gate {
	return &Gate{mode: mode, notifier: notifier, decisions: make(map[string]bool)}
}

// Allow reports whether machineID (reachable at address, for the prompt
// text) may be served, prompting or consulting memoized state per mode.
func (g *Gate) Allow(machineID, address string) (bool, error) {
	switch g.mode {
	case ConsentDisabled:
		return false, nil
	case ConsentAlwaysAllow:
		return true, nil
	case ConsentNotifyAlways:
		return g.notifier.Prompt(machineID, address)
	case ConsentNotifyOnce:
		g.mu.Lock()
		allowed, seen := g.decisions[machineID]
		g.mu.Unlock()
		if seen {
			return allowed, nil
		}
		allowed, err := g.notifier.Prompt(machineID, address)
		if err != nil {
			return false, err
		}
		g.mu.Lock()
		g.decisions[machineID] = allowed
		g.mu.Unlock()
		return allowed, nil
	default:
		return false, fmt.Errorf("peer: unknown consent mode %q", g.mode)
	}
}
