package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process, for tests and the in-memory deployment mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty memory-backed idempotency store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservation, fresh, err := reserveRecord(s.lookupLocked(key), key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if fresh != nil {
		s.records[recordID(key)] = *fresh
	}
	return reservation, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := completeRecord(s.lookupLocked(key), key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.records[recordID(key)] = record
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if releasable(s.lookupLocked(key), fingerprint) {
		delete(s.records, recordID(key))
	}
	return nil
}

// CleanupExpired implements Store. A non-positive limit removes every expired record.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, record := range s.records {
		if limit > 0 && removed == limit {
			break
		}
		if !record.ExpiresAt.IsZero() && !now.Before(record.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports how many records are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) lookupLocked(key string) *Record {
	record, ok := s.records[recordID(key)]
	if !ok {
		return nil
	}
	return &record
}
