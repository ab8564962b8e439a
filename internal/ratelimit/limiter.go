// Package ratelimit enforces per-exchange request budgets. Every budget is a
// sliding window: no more than Capacity weight units are accepted in any
// window of length Window. Callers that would exceed a budget block until
// enough earlier requests age out of the window.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
)

// Limiter hands out rate budget to the scheduler.
type Limiter struct {
	store    domain.WindowStore
	profiles map[domain.ExchangeID]domain.RateProfile
	fallback domain.RateProfile
	clock    Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(l *Limiter) { l.clock = c } }

// WithFallback replaces the profile used for unknown exchanges.
func WithFallback(p domain.RateProfile) Option { return func(l *Limiter) { l.fallback = p } }

// WithMetrics records wait times.
func WithMetrics(m *metrics.Metrics) Option { return func(l *Limiter) { l.metrics = m } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Limiter) { l.logger = logger } }

// New creates a Limiter over store with the given per-exchange profiles.
func New(store domain.WindowStore, profiles map[domain.ExchangeID]domain.RateProfile, opts ...Option) *Limiter {
	l := &Limiter{
		store:    store,
		profiles: make(map[domain.ExchangeID]domain.RateProfile, len(profiles)),
		fallback: Fallback,
		clock:    SystemClock,
		logger:   slog.Default(),
	}
	for id, p := range profiles {
		l.profiles[id] = p
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ratelimit"))
	return l
}

// Profile returns the effective profile of an exchange, filling unset
// classes from the fallback.
func (l *Limiter) Profile(exchange domain.ExchangeID) domain.RateProfile {
	p, ok := l.profiles[exchange]
	if !ok {
		return l.fallback
	}
	if p.Market.IsZero() {
		p.Market = l.fallback.Market
	}
	if p.Private.IsZero() {
		p.Private = l.fallback.Private
	}
	return p
}

func limitFor(p domain.RateProfile, class domain.EndpointClass) domain.Limit {
	switch class {
	case domain.ClassPrivate:
		return p.Private
	case domain.ClassIP:
		return p.IP
	default:
		return p.Market
	}
}

func budgetKey(exchange domain.ExchangeID, class domain.EndpointClass) string {
	return string(exchange) + ":" + string(class)
}

// Acquire blocks until weight units fit in the exchange's budget for class
// and, when the exchange has one, in its IP-wide budget. Both budgets are
// reserved together, so a request is stamped in each at the moment it is
// granted. It returns only when the budget was granted or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, exchange domain.ExchangeID, class domain.EndpointClass, weight int) error {
	if weight < 1 {
		weight = 1
	}
	budgets := l.budgets(exchange, class)
	if len(budgets) == 0 {
		return nil
	}
	key := budgetKey(exchange, class)
	start := l.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("ratelimit: acquire %s: %w", key, err)
		}
		delay, err := l.store.Reserve(ctx, l.clock.Now(), weight, budgets...)
		if err != nil {
			return fmt.Errorf("ratelimit: acquire %s: %w", key, err)
		}
		if delay <= 0 {
			if waited := l.clock.Now().Sub(start); waited > 0 {
				l.metrics.ObserveRateWait(string(exchange), string(class), waited)
				l.logger.Debug("rate budget granted after wait",
					slog.String("budget", key),
					slog.Duration("waited", waited),
				)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("ratelimit: acquire %s: %w", key, ctx.Err())
		case <-l.clock.After(delay):
		}
	}
}

func (l *Limiter) budgets(exchange domain.ExchangeID, class domain.EndpointClass) []domain.Budget {
	p := l.Profile(exchange)
	var out []domain.Budget
	if lim := limitFor(p, class); !lim.IsZero() {
		out = append(out, domain.Budget{Key: budgetKey(exchange, class), Limit: lim})
	}
	if class != domain.ClassIP && !p.IP.IsZero() {
		out = append(out, domain.Budget{Key: budgetKey(exchange, domain.ClassIP), Limit: p.IP})
	}
	return out
}

// Remaining reports the unused weight of a budget. It returns -1 when the
// backing store cannot report usage.
func (l *Limiter) Remaining(exchange domain.ExchangeID, class domain.EndpointClass) int {
	lim := limitFor(l.Profile(exchange), class)
	if lim.IsZero() {
		return -1
	}
	u, ok := l.store.(interface {
		Used(key string, window time.Duration, now time.Time) int
	})
	if !ok {
		return -1
	}
	rem := lim.Capacity - u.Used(budgetKey(exchange, class), lim.Window, l.clock.Now())
	if rem < 0 {
		return 0
	}
	return rem
}
