package quota

import "sync"

// Guard caps how many times a single logical request, identified by a
// client-supplied idempotency token, may attempt a quota reservation. A
// client retrying after a transient upstream failure gets one more shot;
// anything past the cap fails closed without touching the quota counter.
type Guard struct {
	mu      sync.Mutex
	max     int
	entries map[guardKey]*guardEntry
}

type guardKey struct {
	userID    string
	requestID string
}

type guardEntry struct {
	count int
	day   string
}

// NewGuard creates a guard allowing max total attempts per (user, request id).
func NewGuard(max int) *Guard {
	return &Guard{
		max:     max,
		entries: make(map[guardKey]*guardEntry),
	}
}

// RegisterAttempt records one attempt for (userID, requestID) and reports
// whether it is within the budget. Once false, every further call for the
// same pair returns false until the entry is swept.
func (g *Guard) RegisterAttempt(userID, requestID, day string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	k := guardKey{userID: userID, requestID: requestID}
	e, ok := g.entries[k]
	if !ok {
		e = &guardEntry{}
		g.entries[k] = e
	}

	if e.count >= g.max {
		return false
	}
	e.count++
	e.day = day
	return true
}

// sweep removes entries whose day key is strictly older than cutoff and
// returns how many were removed.
func (g *Guard) sweep(cutoff string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for k, e := range g.entries {
		if e.day < cutoff {
			delete(g.entries, k)
			removed++
		}
	}
	return removed
}
