package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// State is the lifecycle position of a dedup key.
type State int

const (
	// StateAbsent keys notify on the next qualifying opportunity.
	StateAbsent State = iota
	// StateActive is the instant a key was claimed and notified.
	StateActive
	// StateCooling keys suppress repeats until the cool-down ends.
	StateCooling
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCooling:
		return "cooling"
	}
	return "absent"
}

type entry struct {
	claimedAt  time.Time
	expiresAt  time.Time
	suppressed int
}

// MemoryStore is the in-process domain.DedupStore. It is safe for
// concurrent use.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[domain.DedupKey]*entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[domain.DedupKey]*entry)}
}

// Claim takes key for cooldown when it is absent or expired.
func (s *MemoryStore) Claim(_ context.Context, key domain.DedupKey, now time.Time, cooldown time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.seen[key]; ok && now.Before(e.expiresAt) {
		e.suppressed++
		return false, nil
	}
	s.seen[key] = &entry{claimedAt: now, expiresAt: now.Add(cooldown)}
	return true, nil
}

// State reports where key is in its lifecycle at now.
func (s *MemoryStore) State(key domain.DedupKey, now time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.seen[key]
	switch {
	case !ok || !now.Before(e.expiresAt):
		return StateAbsent
	case now.Equal(e.claimedAt):
		return StateActive
	}
	return StateCooling
}

// Sweep evicts expired keys and returns how many were removed.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.seen {
		if !now.Before(e.expiresAt) {
			delete(s.seen, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

var _ domain.DedupStore = (*MemoryStore)(nil)
