// Package quota implements the daily-quota ledger: per-(user, local day)
// usage counters with atomic check-then-reserve, commit/rollback settlement,
// a retry de-duplication guard, and a daily sweep of stale state. Persistence
// is pluggable through the promptforge.RecordStore contract; when the store
// is unreachable the ledger deliberately fails open rather than blocking
// users on an infrastructure fault.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptforge/promptforge"
)

// Limits maps account tiers to their daily generation caps.
type Limits struct {
	Free int
	Pro  int
}

// For resolves the daily cap for a tier.
func (l Limits) For(tier promptforge.Tier) int {
	if tier == promptforge.TierPro {
		return l.Pro
	}
	return l.Free
}

// DefaultLimits matches the reference tiers.
var DefaultLimits = Limits{Free: 5, Pro: 100}

// Ledger is the promptforge.Ledger implementation.
//
// Reservations for the same (user, day) key are serialized through a per-key
// mutex so two concurrent reservations cannot both observe used < limit when
// only one unit remains. Stores that implement ConditionalStore get the same
// exclusivity across processes through their native conditional update; the
// per-key mutex then only serializes the local fallback paths.
type Ledger struct {
	store  promptforge.RecordStore
	cond   promptforge.ConditionalStore // nil when the store has no conditional primitive
	guard  *Guard
	limits Limits
	bypass bool
	logger *slog.Logger
	health *storeHealth

	locks sync.Map // map[string]*sync.Mutex, keyed by user|day
}

var _ promptforge.Ledger = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

// WithLimits sets the per-tier daily caps.
func WithLimits(l Limits) Option {
	return func(lg *Ledger) { lg.limits = l }
}

// WithBypass disables quota enforcement. The bypass is operator-controlled
// (dev/test environments); it is logged at construction, never silent.
func WithBypass(b bool) Option {
	return func(lg *Ledger) { lg.bypass = b }
}

// WithMaxRequestRetries sets the total attempt budget per request id.
func WithMaxRequestRetries(n int) Option {
	return func(lg *Ledger) { lg.guard = NewGuard(n) }
}

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = logger }
}

// New creates a Ledger over the given record store.
func New(store promptforge.RecordStore, opts ...Option) *Ledger {
	lg := &Ledger{
		store:  store,
		limits: DefaultLimits,
		logger: slog.Default(),
		health: newStoreHealth(),
	}
	for _, opt := range opts {
		opt(lg)
	}
	if lg.guard == nil {
		lg.guard = NewGuard(2)
	}
	if cs, ok := store.(promptforge.ConditionalStore); ok {
		lg.cond = cs
	}
	if lg.bypass {
		lg.logger.Info("quota enforcement disabled by environment")
	}
	return lg
}

// Check returns the user's quota snapshot. In bypass or degraded mode it
// reports used=0 and can_generate=true.
func (lg *Ledger) Check(ctx context.Context, userID string, tier promptforge.Tier, tzOffsetMin int) (promptforge.QuotaStatus, error) {
	now := time.Now()
	status := promptforge.QuotaStatus{
		UserID:  userID,
		Limit:   lg.limits.For(tier),
		ResetAt: nextReset(now, tzOffsetMin),
	}

	if lg.bypass {
		status.CanGenerate = true
		return status, nil
	}

	rec, found, err := lg.getRecord(ctx, userID, dayKey(now, tzOffsetMin))
	if err != nil {
		if lg.failOpen(err, "check", userID) {
			status.CanGenerate = true
			return status, nil
		}
		return promptforge.QuotaStatus{}, err
	}
	if found {
		status.Used = rec.Used
	}
	status.CanGenerate = status.Used < status.Limit
	return status, nil
}

// Reserve consumes one unit of the user's daily allowance and returns an
// open reservation bound to the (user, day) key it incremented.
func (lg *Ledger) Reserve(ctx context.Context, userID string, tier promptforge.Tier, requestID string, tzOffsetMin int) (*promptforge.Reservation, error) {
	now := time.Now()
	day := dayKey(now, tzOffsetMin)

	// The retry guard runs before any quota mutation: a request past its
	// attempt budget is denied without charging the user.
	if requestID != "" && !lg.guard.RegisterAttempt(userID, requestID, day) {
		return nil, promptforge.ErrRetryExhausted
	}

	res := &promptforge.Reservation{
		ID:     uuid.New().String(),
		UserID: userID,
		Day:    day,
		Tier:   tier,
	}

	if lg.bypass {
		res.Degraded = true
		return res, nil
	}

	limit := lg.limits.For(tier)

	if lg.cond != nil {
		return lg.reserveConditional(ctx, res, limit)
	}
	return lg.reserveLocked(ctx, res, limit)
}

// reserveConditional delegates exclusivity to the store's atomic primitive.
func (lg *Ledger) reserveConditional(ctx context.Context, res *promptforge.Reservation, limit int) (*promptforge.Reservation, error) {
	if !lg.health.available() {
		return degraded(res), nil
	}

	_, ok, err := lg.cond.IncrementIfBelow(ctx, res.UserID, res.Day, res.Tier, limit)
	if err != nil {
		if lg.failOpen(err, "reserve", res.UserID) {
			return degraded(res), nil
		}
		return nil, err
	}
	lg.health.recordSuccess()
	if !ok {
		return nil, promptforge.ErrQuotaExceeded
	}
	return res, nil
}

// reserveLocked serializes check-then-increment through the per-key mutex
// and drives the store through the get/upsert/patch contract, tolerating an
// upsert conflict by falling back to the update path.
func (lg *Ledger) reserveLocked(ctx context.Context, res *promptforge.Reservation, limit int) (*promptforge.Reservation, error) {
	mu := lg.keyLock(res.UserID + "|" + res.Day)
	mu.Lock()
	defer mu.Unlock()

	rec, found, err := lg.getRecord(ctx, res.UserID, res.Day)
	if err != nil {
		if lg.failOpen(err, "reserve", res.UserID) {
			return degraded(res), nil
		}
		return nil, err
	}

	if !found {
		if limit <= 0 {
			return nil, promptforge.ErrQuotaExceeded
		}
		err := lg.store.UpsertRecord(ctx, promptforge.QuotaRecord{
			UserID: res.UserID,
			Day:    res.Day,
			Used:   1,
			Tier:   res.Tier,
		})
		switch {
		case err == nil:
			lg.health.recordSuccess()
			return res, nil
		case errors.Is(err, promptforge.ErrRecordConflict):
			// Another writer created the record since our read; re-read
			// and fall through to the patch path.
			rec, found, err = lg.getRecord(ctx, res.UserID, res.Day)
			if err != nil || !found {
				if err != nil && lg.failOpen(err, "reserve", res.UserID) {
					return degraded(res), nil
				}
				return nil, fmt.Errorf("promptforge: quota record vanished during reserve: %w", err)
			}
		default:
			if lg.failOpen(err, "reserve", res.UserID) {
				return degraded(res), nil
			}
			return nil, err
		}
	}

	if rec.Used >= limit {
		return nil, promptforge.ErrQuotaExceeded
	}
	if err := lg.store.PatchRecord(ctx, res.UserID, res.Day, rec.Used+1); err != nil {
		if lg.failOpen(err, "reserve", res.UserID) {
			return degraded(res), nil
		}
		return nil, err
	}
	lg.health.recordSuccess()
	return res, nil
}

// Commit marks the reservation settled. The counter was incremented at
// reserve time; commit is a confirmation, not a second write.
func (lg *Ledger) Commit(_ context.Context, res *promptforge.Reservation) error {
	if res == nil {
		return nil
	}
	res.Settle()
	return nil
}

// Rollback returns the reserved unit unless the reservation was already
// settled. The counter is decremented, floored at zero.
func (lg *Ledger) Rollback(ctx context.Context, res *promptforge.Reservation) error {
	if res == nil || !res.Settle() {
		return nil
	}
	if res.Degraded || lg.bypass {
		return nil
	}

	if lg.cond != nil {
		if _, err := lg.cond.DecrementFloor(ctx, res.UserID, res.Day); err != nil {
			// A lost rollback only over-counts by one unit until the day
			// rolls over; absorbing it beats failing the caller twice.
			lg.failOpen(err, "rollback", res.UserID)
		}
		return nil
	}

	mu := lg.keyLock(res.UserID + "|" + res.Day)
	mu.Lock()
	defer mu.Unlock()

	rec, found, err := lg.getRecord(ctx, res.UserID, res.Day)
	if err != nil {
		lg.failOpen(err, "rollback", res.UserID)
		return nil
	}
	if !found || rec.Used <= 0 {
		return nil
	}
	if err := lg.store.PatchRecord(ctx, res.UserID, res.Day, rec.Used-1); err != nil {
		lg.failOpen(err, "rollback", res.UserID)
	}
	return nil
}

// Sweep deletes quota records and retry counters whose day key is strictly
// older than yesterday relative to now. Running it twice in a row, or
// skipping a day, is harmless: staleness is always computed from now.
func (lg *Ledger) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := sweepCutoff(now)
	removed := lg.guard.sweep(cutoff)

	n, err := lg.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		if lg.failOpen(err, "sweep", "") {
			return removed, nil
		}
		return removed, err
	}
	return removed + n, nil
}

func (lg *Ledger) getRecord(ctx context.Context, userID, day string) (promptforge.QuotaRecord, bool, error) {
	if !lg.health.available() {
		return promptforge.QuotaRecord{}, false, fmt.Errorf("promptforge: store breaker open: %w", promptforge.ErrStoreUnavailable)
	}
	rec, found, err := lg.store.GetRecord(ctx, userID, day)
	if err == nil {
		lg.health.recordSuccess()
	}
	return rec, found, err
}

// failOpen reports whether err is an infrastructure fault that should flip
// the operation to permissive behavior. The distinction matters: a store
// outage fails open by policy, a programming error must surface.
func (lg *Ledger) failOpen(err error, op, userID string) bool {
	if !errors.Is(err, promptforge.ErrStoreUnavailable) {
		return false
	}
	lg.health.recordFailure()
	lg.logger.Warn("quota store unavailable, failing open",
		"op", op,
		"user", userID,
		"error", err,
	)
	return true
}

func degraded(res *promptforge.Reservation) *promptforge.Reservation {
	res.Degraded = true
	return res
}

func (lg *Ledger) keyLock(key string) *sync.Mutex {
	actual, _ := lg.locks.LoadOrStore(key, &sync.Mutex{})
	return actual.(*sync.Mutex)
}
