package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

type stamp struct {
	at     time.Time
	weight int
}

// MemoryStore is an in-process sliding-window log. An entry recorded at t
// counts against every window that contains t and expires at t+window.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]stamp
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]stamp)}
}

// Reserve implements domain.WindowStore.
func (s *MemoryStore) Reserve(_ context.Context, now time.Time, weight int, budgets ...domain.Budget) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var wait time.Duration
	logs := make([][]stamp, len(budgets))
	for i, b := range budgets {
		logs[i] = s.prune(b.Key, b.Limit.Window, now)
		if d := delayFor(logs[i], b.Limit, b.Limit.Clamp(weight), now); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait, nil
	}
	for i, b := range budgets {
		s.logs[b.Key] = append(logs[i], stamp{at: now, weight: b.Limit.Clamp(weight)})
	}
	return 0, nil
}

// delayFor returns how long until weight fits in log, or zero when it fits now.
func delayFor(log []stamp, limit domain.Limit, weight int, now time.Time) time.Duration {
	used := 0
	for _, st := range log {
		used += st.weight
	}
	if used+weight <= limit.Capacity {
		return 0
	}

	// Walk from the oldest entry until enough weight has expired.
	excess := used + weight - limit.Capacity
	for _, st := range log {
		excess -= st.weight
		if excess <= 0 {
			return st.at.Add(limit.Window).Sub(now)
		}
	}
	return limit.Window
}

// Used returns the weight currently counted under key.
func (s *MemoryStore) Used(key string, window time.Duration, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	used := 0
	for _, st := range s.prune(key, window, now) {
		used += st.weight
	}
	return used
}

func (s *MemoryStore) prune(key string, window time.Duration, now time.Time) []stamp {
	log := s.logs[key]
	i := 0
	for i < len(log) && !now.Before(log[i].at.Add(window)) {
		i++
	}
	if i > 0 {
		log = append(log[:0:0], log[i:]...)
		s.logs[key] = log
	}
	return log
}

var _ domain.WindowStore = (*MemoryStore)(nil)
