package engine

import (
	"sync"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// recentRing keeps the last notified opportunities for the status API.
type recentRing struct {
	mu   sync.Mutex
	buf  []domain.SpreadOpportunity
	next int
	full bool
}

func newRecentRing(size int) *recentRing {
	if size <= 0 {
		size = 200
	}
	return &recentRing{buf: make([]domain.SpreadOpportunity, size)}
}

func (r *recentRing) add(o domain.SpreadOpportunity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = o
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// list returns up to limit entries, newest first.
func (r *recentRing) list(limit int) []domain.SpreadOpportunity {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]domain.SpreadOpportunity, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (r.next - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}
