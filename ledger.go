package promptforge

import (
	"context"
	"sync/atomic"
	"time"
)

// Ledger manages per-user daily generation quotas with transactional
// reserve/commit/rollback semantics.
type Ledger interface {
	// Check returns the user's current quota snapshot. Pure read.
	Check(ctx context.Context, userID string, tier Tier, tzOffsetMin int) (QuotaStatus, error)

	// Reserve atomically consumes one unit of capacity for the user's
	// current local day and returns an open Reservation. Returns
	// ErrQuotaExceeded when the daily cap is reached and ErrRetryExhausted
	// when the retry budget for requestID is spent. requestID may be empty.
	Reserve(ctx context.Context, userID string, tier Tier, requestID string, tzOffsetMin int) (*Reservation, error)

	// Commit marks the reservation settled. The unit was already consumed
	// at reserve time, so commit performs no further ledger mutation.
	Commit(ctx context.Context, res *Reservation) error

	// Rollback returns the reserved unit if the reservation has not been
	// committed. Rollback after commit, or a second rollback, is a no-op.
	Rollback(ctx context.Context, res *Reservation) error

	// Sweep deletes quota records and retry counters whose day key is
	// strictly older than yesterday relative to now. Idempotent.
	Sweep(ctx context.Context, now time.Time) (removed int, err error)
}

// Reservation is an ephemeral handle for one reserved unit of quota.
// Exactly one of commit or rollback settles it; later calls are no-ops.
// A reservation is owned by the caller that requested it and is never shared.
type Reservation struct {
	ID     string
	UserID string
	Day    string // ledger day key the unit was reserved against
	Tier   Tier

	// Degraded marks a reservation granted while the backing store was
	// unavailable or bypassed. Settling it never touches the store.
	Degraded bool

	settled atomic.Bool
}

// Settle transitions the reservation to settled. It returns true exactly
// once; ledger implementations use it to enforce at-most-once settlement.
func (r *Reservation) Settle() bool {
	return r.settled.CompareAndSwap(false, true)
}

// Settled reports whether commit or rollback has already happened.
func (r *Reservation) Settled() bool {
	return r.settled.Load()
}

// QuotaRecord is the persisted usage counter for one (user, local day) pair.
type QuotaRecord struct {
	UserID string
	Day    string // YYYY-MM-DD in the user's timezone
	Used   int
	Tier   Tier
}

// RecordStore is the persistence contract consumed by the ledger.
// Implementations wrap infrastructure faults with ErrStoreUnavailable so the
// ledger can distinguish "store down" from a programming error and fail open.
type RecordStore interface {
	// GetRecord returns the record for (userID, day), reporting absence
	// via found=false rather than an error.
	GetRecord(ctx context.Context, userID, day string) (rec QuotaRecord, found bool, err error)

	// UpsertRecord inserts a new record. Returns ErrRecordConflict if a
	// record for the key already exists; callers fall back to PatchRecord.
	UpsertRecord(ctx context.Context, rec QuotaRecord) error

	// PatchRecord overwrites the used counter of an existing record.
	PatchRecord(ctx context.Context, userID, day string, used int) error

	// DeleteBefore removes all records with a day key strictly older than
	// day, returning how many were removed.
	DeleteBefore(ctx context.Context, day string) (int, error)

	// Close releases the store's resources.
	Close() error
}

// ConditionalStore is an optional RecordStore capability for backends with a
// native conditional-update primitive. Stores that implement it give the
// ledger cross-process exclusivity without in-process locks.
type ConditionalStore interface {
	// IncrementIfBelow atomically increments the used counter for
	// (userID, day) when it is below limit, creating the record if absent.
	// Returns the counter after the operation and whether it incremented.
	IncrementIfBelow(ctx context.Context, userID, day string, tier Tier, limit int) (used int, ok bool, err error)

	// DecrementFloor atomically decrements the used counter, floored at zero.
	DecrementFloor(ctx context.Context, userID, day string) (int, error)
}
