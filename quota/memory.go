package quota

import (
	"context"
	"sync"

	"github.com/promptforge/promptforge"
)

// MemoryStore keeps quota records in process memory. It is the default
// backend for development and tests; counters do not survive a restart and
// are not shared between replicas.
//
// MemoryStore intentionally implements only the base RecordStore contract,
// so the ledger's upsert/conflict/patch path stays exercised in every dev
// environment.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]promptforge.QuotaRecord
}

var _ promptforge.RecordStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]promptforge.QuotaRecord)}
}

func recordKey(userID, day string) string {
	return userID + "|" + day
}

// GetRecord returns the record for (userID, day) if present.
func (s *MemoryStore) GetRecord(_ context.Context, userID, day string) (promptforge.QuotaRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[recordKey(userID, day)]
	return rec, ok, nil
}

// UpsertRecord inserts a new record, failing with ErrRecordConflict when one
// already exists for the key.
func (s *MemoryStore) UpsertRecord(_ context.Context, rec promptforge.QuotaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(rec.UserID, rec.Day)
	if _, ok := s.records[key]; ok {
		return promptforge.ErrRecordConflict
	}
	s.records[key] = rec
	return nil
}

// PatchRecord sets the used counter on an existing record. A missing record
// is a no-op; the ledger re-reads before patching.
func (s *MemoryStore) PatchRecord(_ context.Context, userID, day string, used int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := recordKey(userID, day)
	rec, ok := s.records[key]
	if !ok {
		return nil
	}
	rec.Used = used
	s.records[key] = rec
	return nil
}

// DeleteBefore removes all records with a day key strictly before cutoff.
// Day keys are zero-padded ISO dates, so lexical comparison is date order.
func (s *MemoryStore) DeleteBefore(_ context.Context, cutoff string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, rec := range s.records {
		if rec.Day < cutoff {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}

// Close releases the store's memory.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]promptforge.QuotaRecord)
	return nil
}
