// Package scheduler wraps every adapter call with rate-budget acquisition,
// a per-exchange concurrency gate and retry with exponential backoff. A
// failure on one exchange never blocks or fails calls to another.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"golang.org/x/sync/semaphore"
)

// Acquirer is the rate-limiter surface the scheduler needs.
type Acquirer interface {
	Acquire(ctx context.Context, exchange domain.ExchangeID, class domain.EndpointClass, weight int) error
}

// Config holds the retry policy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryDelay is the first backoff; each further retry doubles it.
	RetryDelay time.Duration
	// MaxBackoff caps a single backoff. Zero means uncapped.
	MaxBackoff time.Duration
	// DefaultConcurrency applies to exchanges without a handle.
	DefaultConcurrency int
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	limiter  Acquirer
	adapters map[domain.ExchangeID]domain.Adapter
	feeds    map[domain.ExchangeID]domain.DexFeed
	gates    map[domain.ExchangeID]*semaphore.Weighted
	cfg      Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu       sync.RWMutex
	degraded map[domain.ExchangeID]error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Scheduler) { s.metrics = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithSleep replaces the backoff sleep, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = fn }
}

// New builds a Scheduler. Each handle's MaxConcurrency sizes its gate.
func New(limiter Acquirer, handles []domain.ExchangeHandle, adapters []domain.Adapter, feeds []domain.DexFeed, cfg Config, opts ...Option) *Scheduler {
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = 4
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	s := &Scheduler{
		limiter:  limiter,
		adapters: make(map[domain.ExchangeID]domain.Adapter, len(adapters)),
		feeds:    make(map[domain.ExchangeID]domain.DexFeed, len(feeds)),
		gates:    make(map[domain.ExchangeID]*semaphore.Weighted),
		cfg:      cfg,
		logger:   slog.Default(),
		sleep:    sleepCtx,
		degraded: make(map[domain.ExchangeID]error),
	}
	for _, a := range adapters {
		s.adapters[a.ID()] = a
	}
	for _, f := range feeds {
		s.feeds[f.ID()] = f
	}
	for _, h := range handles {
		n := h.MaxConcurrency
		if n <= 0 {
			n = cfg.DefaultConcurrency
		}
		s.gates[h.ID] = semaphore.NewWeighted(int64(n))
	}
	for id := range s.adapters {
		if _, ok := s.gates[id]; !ok {
			s.gates[id] = semaphore.NewWeighted(int64(cfg.DefaultConcurrency))
		}
	}
	for id := range s.feeds {
		if _, ok := s.gates[id]; !ok {
			s.gates[id] = semaphore.NewWeighted(int64(cfg.DefaultConcurrency))
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "scheduler"))
	return s
}

// ListPairs lists the tradable bases of one market.
func (s *Scheduler) ListPairs(ctx context.Context, ex domain.ExchangeID, market domain.MarketType) ([]domain.TokenSymbol, error) {
	a, err := s.adapter(ex)
	if err != nil {
		return nil, err
	}
	return call(ctx, s, ex, "list_pairs", domain.ClassMarket, func(ctx context.Context) ([]domain.TokenSymbol, error) {
		return a.ListTradablePairs(ctx, market)
	})
}

// Quote fetches one price quote.
func (s *Scheduler) Quote(ctx context.Context, ex domain.ExchangeID, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	a, err := s.adapter(ex)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	return call(ctx, s, ex, "quote", domain.ClassMarket, func(ctx context.Context) (domain.PriceQuote, error) {
		return a.GetPrice(ctx, token, market)
	})
}

// TransferStatus fetches deposit/withdraw state through the private budget.
func (s *Scheduler) TransferStatus(ctx context.Context, ex domain.ExchangeID, token domain.TokenSymbol) (domain.TransferStatus, error) {
	a, err := s.adapter(ex)
	if err != nil {
		return domain.TransferStatus{}, err
	}
	return call(ctx, s, ex, "transfer_status", domain.ClassPrivate, func(ctx context.Context) (domain.TransferStatus, error) {
		return a.GetTransferStatus(ctx, token)
	})
}

// DexPools looks up pools for token on a DEX feed.
func (s *Scheduler) DexPools(ctx context.Context, feed domain.ExchangeID, token domain.TokenSymbol) ([]domain.DexPool, error) {
	f, ok := s.feeds[feed]
	if !ok {
		return nil, fmt.Errorf("scheduler: dex feed %s: %w", feed, domain.ErrNotFound)
	}
	return call(ctx, s, feed, "dex_pools", domain.ClassMarket, func(ctx context.Context) ([]domain.DexPool, error) {
		return f.FindPools(ctx, token)
	})
}

// Degraded reports whether an exchange was disabled by a permanent failure.
func (s *Scheduler) Degraded(ex domain.ExchangeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.degraded[ex]
	return ok
}

// DegradedSet lists every degraded exchange with the error that caused it.
func (s *Scheduler) DegradedSet() map[domain.ExchangeID]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.ExchangeID]string, len(s.degraded))
	for id, err := range s.degraded {
		out[id] = err.Error()
	}
	return out
}

// Exchanges returns the IDs of all known adapters and feeds, sorted.
func (s *Scheduler) Exchanges() []domain.ExchangeID {
	ids := make([]domain.ExchangeID, 0, len(s.gates))
	for id := range s.gates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Scheduler) adapter(ex domain.ExchangeID) (domain.Adapter, error) {
	a, ok := s.adapters[ex]
	if !ok {
		return nil, fmt.Errorf("scheduler: adapter %s: %w", ex, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Scheduler) degrade(ex domain.ExchangeID, err error) {
	s.mu.Lock()
	_, already := s.degraded[ex]
	if !already {
		s.degraded[ex] = err
	}
	s.mu.Unlock()
	if !already {
		s.metrics.Degraded(string(ex))
		s.logger.Error("exchange degraded after permanent failure",
			slog.String("exchange", string(ex)),
			slog.String("error", err.Error()),
		)
	}
}

// call runs fn under the exchange's gate and budget, retrying transient
// failures with jittered exponential backoff.
func call[T any](ctx context.Context, s *Scheduler, ex domain.ExchangeID, op string, class domain.EndpointClass, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.Degraded(ex) {
		return zero, fmt.Errorf("scheduler: %s %s: %w", ex, op, domain.ErrDegraded)
	}

	backoff := s.cfg.RetryDelay
	var lastErr error
	for try := 0; try <= s.cfg.MaxRetries; try++ {
		if try > 0 {
			s.metrics.Retry(string(ex), op)
			wait := jitter(backoff)
			s.logger.Debug("retrying",
				slog.String("exchange", string(ex)),
				slog.String("op", op),
				slog.Int("attempt", try),
				slog.Duration("backoff", wait),
			)
			if err := s.sleep(ctx, wait); err != nil {
				return zero, err
			}
			backoff *= 2
			if s.cfg.MaxBackoff > 0 && backoff > s.cfg.MaxBackoff {
				backoff = s.cfg.MaxBackoff
			}
		}

		v, err := attempt(ctx, s, ex, class, fn)
		switch {
		case err == nil:
			s.metrics.Fetch(string(ex), op, "ok")
			return v, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case errors.Is(err, domain.ErrNotListed):
			s.metrics.Fetch(string(ex), op, "not_listed")
			return zero, err
		case domain.IsPermanent(err):
			s.metrics.Fetch(string(ex), op, "permanent")
			s.degrade(ex, err)
			return zero, err
		}
		lastErr = err
		s.metrics.Fetch(string(ex), op, "transient")
	}

	s.logger.Warn("retries exhausted",
		slog.String("exchange", string(ex)),
		slog.String("op", op),
		slog.Int("attempts", s.cfg.MaxRetries+1),
		slog.String("error", lastErr.Error()),
	)
	return zero, fmt.Errorf("scheduler: %s %s: retries exhausted: %w", ex, op, lastErr)
}

// attempt holds one gate slot for the duration of a single call. The slot is
// released before any backoff sleep.
func attempt[T any](ctx context.Context, s *Scheduler, ex domain.ExchangeID, class domain.EndpointClass, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	gate := s.gates[ex]
	if err := gate.Acquire(ctx, 1); err != nil {
		return zero, err
	}
	defer gate.Release(1)

	if err := s.limiter.Acquire(ctx, ex, class, 1); err != nil {
		return zero, err
	}
	return fn(ctx)
}

// jitter spreads d over [d/2, 3d/2).
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
