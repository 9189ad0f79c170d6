package engine

import (
	"sync"
	"time"
)

// CooldownStore tracks the last trade time per product. A product that was
// just traded is not re-evaluated until the configured cooldown has elapsed.
// Entries never expire on their own; they are checked lazily against now.
type CooldownStore struct {
	mu       sync.RWMutex
	duration time.Duration
	last     map[string]time.Time
}

// NewCooldownStore creates a cooldown store with the configured duration.
func NewCooldownStore(duration time.Duration) *CooldownStore {
	return &CooldownStore{
		duration: duration,
		last:     make(map[string]time.Time),
	}
}

// MarkTraded records a trade for the product at now, overwriting any prior
// entry.
func (cs *CooldownStore) MarkTraded(product string) {
	cs.markTradedAt(product, time.Now())
}

func (cs *CooldownStore) markTradedAt(product string, t time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.last[product] = t
}

// Active reports whether the product is still cooling down, and how long
// remains.
func (cs *CooldownStore) Active(product string) (bool, time.Duration) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	t, ok := cs.last[product]
	if !ok || cs.duration <= 0 {
		return false, 0
	}
	elapsed := time.Since(t)
	if elapsed >= cs.duration {
		return false, 0
	}
	return true, cs.duration - elapsed
}

// Entries returns a copy of the last-trade timestamps, for persistence and
// the dashboard.
func (cs *CooldownStore) Entries() map[string]time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	out := make(map[string]time.Time, len(cs.last))
	for k, v := range cs.last {
		out[k] = v
	}
	return out
}

// Restore replaces the store contents, e.g. from a Redis snapshot on start.
func (cs *CooldownStore) Restore(entries map[string]time.Time) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.last = make(map[string]time.Time, len(entries))
	for k, v := range entries {
		cs.last[k] = v
	}
}
