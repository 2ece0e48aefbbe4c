package trust

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-memory implementation of Store for testing.
// Thread-safe via RWMutex.
type InMemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*UserRecord
	ratings []Rating
	flags   []Flag

	now func() time.Time
}

// NewInMemoryStore creates a new in-memory trust store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users: make(map[string]*UserRecord),
		now:   time.Now,
	}
}

// SetClock overrides the store's notion of "now". Intended for tests.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// EnsureUser returns the user's trust record, creating it with zero defaults
// if it does not exist.
func (s *InMemoryStore) EnsureUser(ctx context.Context, uid string) (*UserRecord, error) {
	if uid == "" {
		return nil, ErrEmptyUID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[uid]
	if !ok {
		now := s.now()
		u = &UserRecord{
			UID:       uid,
			Badge:     BadgeNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.users[uid] = u
	}

	userCopy := *u
	return &userCopy, nil
}

// GetUser returns a copy of the user's record, or nil if absent.
func (s *InMemoryStore) GetUser(uid string) *UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[uid]
	if !ok {
		return nil
	}
	userCopy := *u
	return &userCopy
}

// MergeState merge-writes the derived trust fields onto the user record.
func (s *InMemoryStore) MergeState(ctx context.Context, uid string, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureLocked(uid)
	u.TrustScore = st.Score
	u.Badge = st.Badge
	u.RatingCount = st.RatingCount
	u.RatingAvg = st.RatingAvg
	u.FlagsAgainstToday = st.FlagsAgainstToday
	u.Limits = st.Limits
	u.UpdatedAt = s.now()
	return nil
}

// SetLimitedUntil merge-writes the message/file restriction marker.
func (s *InMemoryStore) SetLimitedUntil(ctx context.Context, uid string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureLocked(uid)
	u.LimitedUntil = &until
	u.UpdatedAt = s.now()
	return nil
}

// SetFlagLimitedUntil merge-writes the flag-filing restriction marker.
func (s *InMemoryStore) SetFlagLimitedUntil(ctx context.Context, uid string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureLocked(uid)
	u.FlagLimitedUntil = &until
	u.UpdatedAt = s.now()
	return nil
}

// SetFlagsAgainstToday merge-writes the refreshed flags-received count.
func (s *InMemoryStore) SetFlagsAgainstToday(ctx context.Context, uid string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureLocked(uid)
	u.FlagsAgainstToday = count
	u.UpdatedAt = s.now()
	return nil
}

// Ban marks the user banned. The transition is one-way.
func (s *InMemoryStore) Ban(ctx context.Context, uid, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.ensureLocked(uid)
	u.IsBanned = true
	u.BanReason = reason
	u.BannedAt = &at
	u.UpdatedAt = s.now()
	return nil
}

// RecentRatings returns the most recent ratings received by uid, newest
// first, at most limit.
func (s *InMemoryStore) RecentRatings(ctx context.Context, uid string, limit int) ([]Rating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Rating
	for _, r := range s.ratings {
		if r.RatedUID == uid {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// FlagsAgainstInRange counts flags filed against uid inside [from, to].
func (s *InMemoryStore) FlagsAgainstInRange(ctx context.Context, uid string, from, to time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, f := range s.flags {
		if f.ToUID == uid && !f.CreatedAt.Before(from) && !f.CreatedAt.After(to) {
			count++
		}
	}
	return count, nil
}

// AddRating appends a rating fact, assigning an ID and timestamp if unset.
func (s *InMemoryStore) AddRating(r Rating) Rating {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.ratings = append(s.ratings, r)
	return r
}

// AddFlag appends a flag fact, assigning an ID and timestamp if unset.
func (s *InMemoryStore) AddFlag(f Flag) Flag {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}
	s.flags = append(s.flags, f)
	return f
}

// ensureLocked returns the user record, creating it if missing.
// Caller must hold the write lock.
func (s *InMemoryStore) ensureLocked(uid string) *UserRecord {
	u, ok := s.users[uid]
	if !ok {
		now := s.now()
		u = &UserRecord{
			UID:       uid,
			Badge:     BadgeNew,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.users[uid] = u
	}
	return u
}
