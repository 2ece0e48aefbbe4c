package ledger

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of Store for testing.
// Thread-safe via mutex; increments for the same (uid, day) serialize.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record // uid + "_" + dayKey -> record

	// now is overridable for tests that need day control.
	now func() time.Time
}

// NewInMemoryStore creates a new in-memory usage ledger.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// SetClock overrides the store's notion of "now". Intended for tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func recordKey(uid, dayKey string) string {
	return uid + "_" + dayKey
}

// Increment atomically adds delta to the given counter for the current UTC day.
func (s *InMemoryStore) Increment(ctx context.Context, uid string, kind Kind, delta int) (Record, error) {
	if !kind.Valid() {
		return Record{}, ErrInvalidKind
	}
	if delta <= 0 {
		return Record{}, ErrInvalidDelta
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	dayKey := DayKey(now)
	key := recordKey(uid, dayKey)

	rec, ok := s.records[key]
	if !ok {
		rec = &Record{
			UID:       uid,
			DayKey:    dayKey,
			CreatedAt: now,
		}
		s.records[key] = rec
	}

	switch kind {
	case KindMessages:
		rec.Messages += delta
	case KindFiles:
		rec.Files += delta
	case KindFlags:
		rec.Flags += delta
	}
	rec.UpdatedAt = now

	return *rec, nil
}

// Today returns the current UTC day's record for the user.
func (s *InMemoryStore) Today(ctx context.Context, uid string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dayKey := DayKey(s.now())
	rec, ok := s.records[recordKey(uid, dayKey)]
	if !ok {
		return Record{UID: uid, DayKey: dayKey}, nil
	}
	return *rec, nil
}
