package quota

import (
	"sync"
	"time"
)

const (
	storeFailureThreshold = 3
	storeFailureWindow    = time.Minute
	storeCooldown         = 30 * time.Second
)

// storeHealth tracks availability of the backing record store. Repeated
// infrastructure faults open the breaker so degraded requests fail open
// immediately instead of each waiting out a connection timeout; after a
// cooldown one probe call is let through.
type storeHealth struct {
	mu       sync.Mutex
	failures []time.Time // sliding window of fault timestamps
	down     bool
	downAt   time.Time
}

func newStoreHealth() *storeHealth {
	return &storeHealth{}
}

// available reports whether the store should be tried at all.
func (h *storeHealth) available() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.down {
		return true
	}
	if time.Since(h.downAt) >= storeCooldown {
		// Half-open: let one call probe the store.
		h.down = false
		h.failures = h.failures[:0]
		return true
	}
	return false
}

func (h *storeHealth) recordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.down = false
	h.failures = h.failures[:0]
}

func (h *storeHealth) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-storeFailureWindow)
	valid := h.failures[:0]
	for _, t := range h.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	h.failures = append(valid, now)

	if len(h.failures) >= storeFailureThreshold {
		h.down = true
		h.downAt = now
	}
}
