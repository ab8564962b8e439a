// Package dedup gates alerts so each opportunity key notifies at most once
// per cool-down window. After the window the key is forgotten and a still
// present opportunity fires again.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// Deduplicator decides whether an opportunity should be notified.
type Deduplicator struct {
	store    domain.DedupStore
	cooldown time.Duration
	now      func() time.Time
}

// New creates a Deduplicator. now defaults to time.Now.
func New(store domain.DedupStore, cooldown time.Duration, now func() time.Time) *Deduplicator {
	if now == nil {
		now = time.Now
	}
	return &Deduplicator{store: store, cooldown: cooldown, now: now}
}

// Admit returns true when opp's key was absent and has now been claimed for
// the cool-down. A store failure suppresses the alert and returns the error.
func (d *Deduplicator) Admit(ctx context.Context, opp domain.SpreadOpportunity) (bool, error) {
	key := opp.DedupKey()
	ok, err := d.store.Claim(ctx, key, d.now(), d.cooldown)
	if err != nil {
		return false, fmt.Errorf("dedup: admit %s: %w", key, err)
	}
	return ok, nil
}

// Sweep evicts expired keys when the store keeps them in process.
func (d *Deduplicator) Sweep() int {
	if s, ok := d.store.(interface{ Sweep(time.Time) int }); ok {
		return s.Sweep(d.now())
	}
	return 0
}

// Cooldown returns the configured window.
func (d *Deduplicator) Cooldown() time.Duration { return d.cooldown }
