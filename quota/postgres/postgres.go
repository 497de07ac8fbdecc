// Package postgres provides a PostgreSQL-backed quota record store.
//
// Counters live in a single table keyed by (user_id, day) with conditional
// increments executed server-side, so concurrent reservations from multiple
// replicas cannot over-admit. Durable across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptforge/promptforge"
)

// Store is a PostgreSQL-backed record store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ promptforge.RecordStore      = (*Store)(nil)
	_ promptforge.ConditionalStore = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "promptforge_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed record store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "promptforge_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordsTable() string { return s.tablePrefix + "quota_records" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			day TEXT NOT NULL,
			used INT NOT NULL DEFAULT 0,
			tier TEXT NOT NULL DEFAULT 'free',
			PRIMARY KEY (user_id, day)
		);
	`, s.recordsTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return storeErr("ensure schema", err)
	}
	return nil
}

// GetRecord returns the record for (userID, day) if present.
func (s *Store) GetRecord(ctx context.Context, userID, day string) (promptforge.QuotaRecord, bool, error) {
	rec := promptforge.QuotaRecord{UserID: userID, Day: day}
	var tier string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT used, tier FROM %s WHERE user_id = $1 AND day = $2`, s.recordsTable()),
		userID, day,
	).Scan(&rec.Used, &tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return promptforge.QuotaRecord{}, false, nil
	}
	if err != nil {
		return promptforge.QuotaRecord{}, false, storeErr("get record", err)
	}
	rec.Tier = promptforge.Tier(tier)
	return rec, true, nil
}

// UpsertRecord inserts a new record, failing with ErrRecordConflict when one
// already exists for the key.
func (s *Store) UpsertRecord(ctx context.Context, rec promptforge.QuotaRecord) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, day, used, tier) VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, day) DO NOTHING`, s.recordsTable()),
		rec.UserID, rec.Day, rec.Used, string(rec.Tier),
	)
	if err != nil {
		return storeErr("upsert record", err)
	}
	if tag.RowsAffected() == 0 {
		return promptforge.ErrRecordConflict
	}
	return nil
}

// PatchRecord sets the used counter on an existing record.
func (s *Store) PatchRecord(ctx context.Context, userID, day string, used int) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET used = $3 WHERE user_id = $1 AND day = $2`, s.recordsTable()),
		userID, day, used,
	)
	if err != nil {
		return storeErr("patch record", err)
	}
	return nil
}

// IncrementIfBelow atomically increments the user's counter for the day when
// it is below limit. Returns the counter after the call and whether the
// increment was admitted.
func (s *Store) IncrementIfBelow(ctx context.Context, userID, day string, tier promptforge.Tier, limit int) (int, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, false, storeErr("begin tx", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, day, used, tier) VALUES ($1, $2, 0, $3)
			ON CONFLICT (user_id, day) DO NOTHING`, s.recordsTable()),
		userID, day, string(tier),
	)
	if err != nil {
		return 0, false, storeErr("seed record", err)
	}

	var used int
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET used = used + 1
			WHERE user_id = $1 AND day = $2 AND used < $3
			RETURNING used`, s.recordsTable()),
		userID, day, limit,
	).Scan(&used)

	if errors.Is(err, pgx.ErrNoRows) {
		// At or over the limit; report the current counter.
		err = tx.QueryRow(ctx,
			fmt.Sprintf(`SELECT used FROM %s WHERE user_id = $1 AND day = $2`, s.recordsTable()),
			userID, day,
		).Scan(&used)
		if err != nil {
			return 0, false, storeErr("read counter", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, false, storeErr("commit", err)
		}
		return used, false, nil
	}
	if err != nil {
		return 0, false, storeErr("increment", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, storeErr("commit", err)
	}
	return used, true, nil
}

// DecrementFloor decrements the user's counter for the day, floored at zero.
func (s *Store) DecrementFloor(ctx context.Context, userID, day string) (int, error) {
	var used int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET used = GREATEST(used - 1, 0)
			WHERE user_id = $1 AND day = $2
			RETURNING used`, s.recordsTable()),
		userID, day,
	).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("decrement", err)
	}
	return used, nil
}

// DeleteBefore removes all records with a day key strictly before cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE day < $1`, s.recordsTable()),
		cutoff,
	)
	if err != nil {
		return 0, storeErr("delete before", err)
	}
	return int(tag.RowsAffected()), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// storeErr tags infrastructure faults so the ledger can fail open on them.
func storeErr(op string, err error) error {
	return fmt.Errorf("promptforge/postgres: %s: %v: %w", op, err, promptforge.ErrStoreUnavailable)
}
