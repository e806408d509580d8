package peer

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// cooldownPeriod is the §4.7 "repeatedly times out -> 30s cooldown" window,
// implemented as a gobreaker open-state timeout per machine_id rather than
// a hand-rolled timer map.
const cooldownPeriod = 30 * time.Second

// Breakers tracks one circuit breaker per peer, opening after repeated
// timeouts and half-opening to probe after cooldownPeriod.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers builds an empty breaker set.
func NewBreakers() *Breakers {
	return &Breakers{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *Breakers) get(machineID string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[machineID]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "peer:" + machineID,
		Timeout: cooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip after 3 consecutive failures (timeouts), not on the
			// first one, since a single slow probe is expected noise on a
			// LAN racing deadline as tight as 5ms.
			return counts.ConsecutiveFailures >= 3
		},
	})
	b.breakers[machineID] = cb
	return cb
}

// Allowed reports whether machineID is currently eligible for racing
// (breaker closed or half-open), without attempting a call.
func (b *Breakers) Allowed(machineID string) bool {
	return b.get(machineID).State() != gobreaker.StateOpen
}

// Call runs fn through machineID's breaker, recording success/failure for
// future ReadyToTrip evaluation.
func (b *Breakers) Call(machineID string, fn func() error) error {
	_, err := b.get(machineID).Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}
