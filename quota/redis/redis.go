// Package redis provides a Redis-backed quota record store.
//
// Counters are stored in Redis hashes keyed by user and day, with atomic Lua
// scripts for the conditional increment and floored decrement. Keys expire
// two days after creation, so the sweep serves as a safety net rather than
// the primary cleanup mechanism.
package redis

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/promptforge/promptforge"
)

// recordTTL is two days in seconds. A record becomes sweepable after one
// day; the extra day keeps it visible to at least one sweep pass.
const recordTTL = 172800

// Store is a Redis-backed record store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var (
	_ promptforge.RecordStore      = (*Store)(nil)
	_ promptforge.ConditionalStore = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "promptforge:quota:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed record store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "promptforge:quota:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) recordKey(userID, day string) string {
	return s.keyPrefix + userID + ":" + day
}

// incrementScript atomically increments the counter when below the limit.
// KEYS[1] = record hash key
// ARGV[1] = limit
// ARGV[2] = tier
// ARGV[3] = ttl seconds
//
// Returns {admitted, used}: admitted is 1 when the increment happened.
var incrementScript = goredis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 0 then
    if limit <= 0 then
        return {0, 0}
    end
    redis.call("HSET", key, "used", "1", "tier", ARGV[2])
    redis.call("EXPIRE", key, tonumber(ARGV[3]))
    return {1, 1}
end

local used = tonumber(redis.call("HGET", key, "used") or "0")
if used >= limit then
    return {0, used}
end
used = redis.call("HINCRBY", key, "used", 1)
return {1, used}
`)

// decrementScript decrements the counter, floored at zero.
// KEYS[1] = record hash key
var decrementScript = goredis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
    return 0
end
local used = tonumber(redis.call("HGET", key, "used") or "0")
if used <= 0 then
    return 0
end
return redis.call("HINCRBY", key, "used", -1)
`)

// GetRecord returns the record for (userID, day) if present.
func (s *Store) GetRecord(ctx context.Context, userID, day string) (promptforge.QuotaRecord, bool, error) {
	vals, err := s.client.HMGet(ctx, s.recordKey(userID, day), "used", "tier").Result()
	if err != nil {
		return promptforge.QuotaRecord{}, false, storeErr("get record", err)
	}
	if vals[0] == nil {
		return promptforge.QuotaRecord{}, false, nil
	}

	used, _ := strconv.Atoi(vals[0].(string))
	rec := promptforge.QuotaRecord{UserID: userID, Day: day, Used: used}
	if tier, ok := vals[1].(string); ok {
		rec.Tier = promptforge.Tier(tier)
	}
	return rec, true, nil
}

// UpsertRecord inserts a new record, failing with ErrRecordConflict when one
// already exists for the key.
func (s *Store) UpsertRecord(ctx context.Context, rec promptforge.QuotaRecord) error {
	key := s.recordKey(rec.UserID, rec.Day)
	set, err := s.client.HSetNX(ctx, key, "used", rec.Used).Result()
	if err != nil {
		return storeErr("upsert record", err)
	}
	if !set {
		return promptforge.ErrRecordConflict
	}
	s.client.HSet(ctx, key, "tier", string(rec.Tier))
	s.client.Expire(ctx, key, recordTTL*time.Second)
	return nil
}

// PatchRecord sets the used counter on an existing record.
func (s *Store) PatchRecord(ctx context.Context, userID, day string, used int) error {
	key := s.recordKey(userID, day)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return storeErr("patch record", err)
	}
	if exists == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, key, "used", used).Err(); err != nil {
		return storeErr("patch record", err)
	}
	return nil
}

// IncrementIfBelow atomically increments the user's counter for the day when
// it is below limit.
func (s *Store) IncrementIfBelow(ctx context.Context, userID, day string, tier promptforge.Tier, limit int) (int, bool, error) {
	result, err := incrementScript.Run(ctx, s.client,
		[]string{s.recordKey(userID, day)},
		limit, string(tier), recordTTL,
	).Int64Slice()
	if err != nil {
		return 0, false, storeErr("increment", err)
	}
	if len(result) != 2 {
		return 0, false, storeErr("increment", fmt.Errorf("unexpected script result %v", result))
	}
	return int(result[1]), result[0] == 1, nil
}

// DecrementFloor decrements the user's counter for the day, floored at zero.
func (s *Store) DecrementFloor(ctx context.Context, userID, day string) (int, error) {
	used, err := decrementScript.Run(ctx, s.client,
		[]string{s.recordKey(userID, day)},
	).Int64()
	if err != nil {
		return 0, storeErr("decrement", err)
	}
	return int(used), nil
}

// DeleteBefore removes all records with a day key strictly before cutoff.
// Record keys embed the day as their last colon-separated segment.
func (s *Store) DeleteBefore(ctx context.Context, cutoff string) (int, error) {
	var deleted int
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 || key[idx+1:] >= cutoff {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return deleted, storeErr("delete before", err)
		}
		deleted += int(n)
	}
	if err := iter.Err(); err != nil {
		return deleted, storeErr("delete before", err)
	}
	return deleted, nil
}

// Close closes the underlying client when it supports closing.
func (s *Store) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// storeErr tags infrastructure faults so the ledger can fail open on them.
func storeErr(op string, err error) error {
	return fmt.Errorf("promptforge/redis: %s: %v: %w", op, err, promptforge.ErrStoreUnavailable)
}
