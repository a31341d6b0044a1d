package testutil

import (
	"context"
	"sync"
	"time"
)

// QuotaStore keeps per-user counters in memory. The mutex makes each
// Consume indivisible within one process, which is what the shared
// Postgres statement guarantees across processes.
type QuotaStore struct {
	mu     sync.Mutex
	days   map[string]time.Time
	counts map[string]int
	Err    error
}

func NewQuotaStore() *QuotaStore {
	return &QuotaStore{
		days:   make(map[string]time.Time),
		counts: make(map[string]int),
	}
}

func (s *QuotaStore) Consume(_ context.Context, userID string, day time.Time, limit int) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return 0, false, s.Err
	}
	if !s.days[userID].Equal(day) {
		s.days[userID] = day
		s.counts[userID] = 0
	}
	if s.counts[userID] >= limit {
		return s.counts[userID], false, nil
	}
	s.counts[userID]++
	return s.counts[userID], true, nil
}

// Set seeds a counter.
func (s *QuotaStore) Set(userID string, day time.Time, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days[userID] = day
	s.counts[userID] = count
}

func (s *QuotaStore) Count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[userID]
}
