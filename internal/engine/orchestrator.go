// Package engine drives the monitor: every interval it walks the token
// universe in fixed-size batches, fetches quotes for each batch in parallel,
// then filters, computes spreads, deduplicates and notifies before moving to
// the next batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/dedup"
	"github.com/alanyoungcy/spreadbot/internal/discovery"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/liquidity"
	"github.com/alanyoungcy/spreadbot/internal/metrics"
	"github.com/alanyoungcy/spreadbot/internal/snapshot"
	"github.com/alanyoungcy/spreadbot/internal/spread"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Fetcher is the scheduler surface used per batch.
type Fetcher interface {
	Quote(ctx context.Context, ex domain.ExchangeID, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error)
	DexPools(ctx context.Context, feed domain.ExchangeID, token domain.TokenSymbol) ([]domain.DexPool, error)
	TransferStatus(ctx context.Context, ex domain.ExchangeID, token domain.TokenSymbol) (domain.TransferStatus, error)
	Degraded(ex domain.ExchangeID) bool
}

// UniverseSource yields the current token universe.
type UniverseSource interface {
	Current(ctx context.Context) (*discovery.Universe, error)
}

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, opp domain.SpreadOpportunity) error
}

// Recorder is the write-behind persistence sink.
type Recorder interface {
	RecordOpportunity(opp domain.SpreadOpportunity, notified bool)
	RecordCycle(stats domain.CycleStats)
}

// Config holds the orchestration parameters.
type Config struct {
	Interval     time.Duration
	BatchSize    int
	BatchTimeout time.Duration
	BatchPause   time.Duration
	MaxWorkers   int
	// Staleness bounds quote age; older quotes are pruned after each cycle.
	Staleness time.Duration
	DexFeed   domain.ExchangeID
	// EnrichTransfers fetches deposit/withdraw state for admitted alerts.
	EnrichTransfers bool
	TransferTimeout time.Duration
	LockTTL         time.Duration
	RecentSize      int
}

// Deps are the collaborators of an Orchestrator. Recorder, Lock and Metrics
// are optional.
type Deps struct {
	Universe UniverseSource
	Fetcher  Fetcher
	Store    *snapshot.Store
	Filter   *liquidity.Filter
	Calc     *spread.Calculator
	Dedup    *dedup.Deduplicator
	Notifier Notifier
	Recorder Recorder
	Lock     domain.CycleLock
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Orchestrator runs cycles. Only one cycle is in flight at a time.
type Orchestrator struct {
	cfg Config
	Deps
	now    func() time.Time
	recent *recentRing

	cycleMu sync.Mutex
	statsMu sync.RWMutex
	last    domain.CycleStats
}

// New creates an Orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 16
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	if cfg.TransferTimeout <= 0 {
		cfg.TransferTimeout = 5 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2*cfg.Interval + time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Logger = deps.Logger.With(slog.String("component", "engine"))
	return &Orchestrator{cfg: cfg, Deps: deps, now: time.Now, recent: newRecentRing(cfg.RecentSize)}
}

// Run repeats cycles every Interval until ctx is done. An overrunning cycle
// delays the next one instead of overlapping it. Only configuration errors
// stop the loop.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.Logger.Info("engine starting",
		slog.Duration("interval", o.cfg.Interval),
		slog.Int("batch_size", o.cfg.BatchSize),
		slog.Int("max_workers", o.cfg.MaxWorkers),
	)
	for {
		started := o.now()
		stats, err := o.RunCycle(ctx)
		switch {
		case ctx.Err() != nil:
			o.Logger.Info("engine stopped")
			return nil
		case errors.Is(err, domain.ErrConfiguration):
			return err
		case errors.Is(err, domain.ErrLockHeld):
			o.Logger.Info("another process holds the cycle lock, skipping")
		case err != nil:
			o.Logger.Error("cycle failed", slog.String("error", err.Error()))
		default:
			o.logCycle(stats)
		}

		wait := o.cfg.Interval - o.now().Sub(started)
		if wait < 0 {
			o.Logger.Warn("cycle overran interval",
				slog.Duration("interval", o.cfg.Interval),
				slog.Duration("overrun", -wait),
			)
			wait = 0
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			o.Logger.Info("engine stopped")
			return nil
		case <-t.C:
		}
	}
}

// RunCycle executes exactly one cycle.
func (o *Orchestrator) RunCycle(ctx context.Context) (domain.CycleStats, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	stats := domain.CycleStats{
		ID:             uuid.NewString(),
		StartedAt:      o.now(),
		Discarded:      make(map[string]int),
		FailuresByExch: make(map[domain.ExchangeID]int),
	}

	if o.Lock != nil {
		release, err := o.Lock.Acquire(ctx, "cycle", o.cfg.LockTTL)
		if err != nil {
			return stats, err
		}
		defer release()
	}

	u, err := o.Universe.Current(ctx)
	if err != nil {
		return stats, fmt.Errorf("engine: universe: %w", err)
	}
	stats.Tokens = len(u.Tokens)

	workers := semaphore.NewWeighted(int64(o.cfg.MaxWorkers))
	for i, batch := range partition(u.Tokens, o.cfg.BatchSize) {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && o.cfg.BatchPause > 0 {
			t := time.NewTimer(o.cfg.BatchPause)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
			if ctx.Err() != nil {
				break
			}
		}
		stats.Batches++
		o.runBatch(ctx, u, batch, workers, &stats)
	}

	if o.cfg.Staleness > 0 {
		o.Store.Prune(o.now().Add(-o.cfg.Staleness))
	}
	o.Dedup.Sweep()

	stats.Duration = o.now().Sub(stats.StartedAt)
	o.Metrics.Cycle(stats.Duration, stats.Tokens)
	if o.Recorder != nil {
		o.Recorder.RecordCycle(stats)
	}
	o.statsMu.Lock()
	o.last = stats
	o.statsMu.Unlock()
	return stats, ctx.Err()
}

type task struct {
	venue domain.Venue
	token domain.TokenSymbol
}

func (t task) key() domain.QuoteKey {
	return domain.QuoteKey{Exchange: t.venue.Exchange, Token: t.token, Market: t.venue.Market}
}

type result struct {
	task  task
	quote domain.PriceQuote
	err   error
}

// runBatch fetches every quote of the batch, waits for them up to
// BatchTimeout, then evaluates the batch on whatever arrived. Slots whose
// fetch failed, timed out or was skipped are cleared so a previous cycle's
// quote cannot stand in for them.
func (o *Orchestrator) runBatch(ctx context.Context, u *discovery.Universe, batch []domain.TokenSymbol, workers *semaphore.Weighted, stats *domain.CycleStats) {
	tasks, skipped := o.tasks(u, batch)
	stats.Tasks += len(tasks)

	bctx, cancel := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancel()

	results := make(chan result, len(tasks))
	var wg sync.WaitGroup
	for _, t := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := workers.Acquire(bctx, 1); err != nil {
				results <- result{task: t, err: err}
				return
			}
			defer workers.Release(1)

			q, err := o.fetch(bctx, u, t)
			results <- result{task: t, quote: q, err: err}
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-bctx.Done():
		o.Logger.Warn("batch timed out, continuing with partial data",
			slog.Int("tokens", len(batch)),
			slog.Duration("timeout", o.cfg.BatchTimeout),
		)
	}

	var fresh []domain.PriceQuote
	got := make(map[domain.QuoteKey]bool, len(tasks))
	received := 0
drain:
	for received < len(tasks) {
		select {
		case r := <-results:
			received++
			o.tally(r, stats)
			if r.err == nil {
				fresh = append(fresh, r.quote)
				got[r.task.key()] = true
			}
		default:
			break drain
		}
	}
	stats.TimedOut += len(tasks) - received

	missing := skipped
	for _, t := range tasks {
		if !got[t.key()] {
			missing = append(missing, t.key())
		}
	}
	o.Store.Delete(missing...)
	o.Store.Update(fresh...)

	o.evaluate(ctx, batch, stats)
}

// tasks lists the fetches of a batch and the slots of degraded exchanges,
// which are not fetched this cycle.
func (o *Orchestrator) tasks(u *discovery.Universe, batch []domain.TokenSymbol) ([]task, []domain.QuoteKey) {
	var (
		out     []task
		skipped []domain.QuoteKey
	)
	for _, token := range batch {
		for _, v := range u.Listings[token] {
			t := task{venue: v, token: token}
			if o.Fetcher.Degraded(v.Exchange) {
				skipped = append(skipped, t.key())
				continue
			}
			out = append(out, t)
		}
		if o.cfg.DexFeed == "" {
			continue
		}
		if _, ok := u.Pools[token]; !ok {
			continue
		}
		t := task{venue: domain.Venue{Exchange: o.cfg.DexFeed, Market: domain.MarketDEX}, token: token}
		if o.Fetcher.Degraded(o.cfg.DexFeed) {
			skipped = append(skipped, t.key())
			continue
		}
		out = append(out, t)
	}
	return out, skipped
}

func (o *Orchestrator) fetch(ctx context.Context, u *discovery.Universe, t task) (domain.PriceQuote, error) {
	if t.venue.Market != domain.MarketDEX {
		return o.Fetcher.Quote(ctx, t.venue.Exchange, t.token, t.venue.Market)
	}
	pools, err := o.Fetcher.DexPools(ctx, t.venue.Exchange, t.token)
	if err != nil {
		return domain.PriceQuote{}, err
	}
	pool, ok := matchPool(pools, u.Pools[t.token].Contract)
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("engine: %s pool for %s: %w", t.venue.Exchange, t.token, domain.ErrNotListed)
	}
	return domain.PriceQuote{
		Exchange:  t.venue.Exchange,
		Token:     t.token,
		Market:    domain.MarketDEX,
		Last:      pool.Price,
		Volume24h: pool.Volume24h,
		Liquidity: pool.Liquidity,
		Chain:     pool.Chain,
		Contract:  pool.Contract,
		PairURL:   pool.URL,
		Timestamp: o.now(),
	}, nil
}

// matchPool prefers the pool of the contract resolved at discovery so a
// token keeps tracking the same asset between cycles.
func matchPool(pools []domain.DexPool, contract string) (domain.DexPool, bool) {
	if contract != "" {
		for _, p := range pools {
			if addr, ok := discovery.NormalizeContract(p.Contract); ok && strings.EqualFold(addr, contract) && p.Price > 0 {
				p.Contract = addr
				return p, true
			}
		}
	}
	return discovery.BestPool(pools)
}

func (o *Orchestrator) tally(r result, stats *domain.CycleStats) {
	switch {
	case r.err == nil:
		stats.Fetched++
	case errors.Is(r.err, context.DeadlineExceeded) || errors.Is(r.err, context.Canceled):
		stats.TimedOut++
	case errors.Is(r.err, domain.ErrNotListed):
	default:
		stats.Failed++
		stats.FailuresByExch[r.task.venue.Exchange]++
		o.Logger.Warn("fetch failed",
			slog.String("exchange", string(r.task.venue.Exchange)),
			slog.String("market", string(r.task.venue.Market)),
			slog.String("token", string(r.task.token)),
			slog.String("error", r.err.Error()),
		)
	}
}

// evaluate runs filter, spread computation, dedup and notification for one
// batch against a fresh snapshot view.
func (o *Orchestrator) evaluate(ctx context.Context, batch []domain.TokenSymbol, stats *domain.CycleStats) {
	view := o.Store.Read()
	now := o.now()
	fresh := view
	if o.cfg.Staleness > 0 {
		fresh = view.Where(func(q domain.PriceQuote) bool { return now.Sub(q.Timestamp) <= o.cfg.Staleness })
	}
	eligible := o.Filter.Filter(batch, fresh)
	stats.Eligible += len(eligible)
	if len(eligible) == 0 {
		return
	}

	liquid := view.Where(func(q domain.PriceQuote) bool { return eligible.Has(q.Token) && o.Filter.Liquid(q) })
	opps, discards := o.Calc.Compute(liquid, eligible.Sorted())
	for reason, n := range discards.Map() {
		stats.Discarded[reason] += n
		o.Metrics.Discard(reason, n)
	}
	stats.Opportunities += len(opps)

	for _, opp := range opps {
		admitted, err := o.Dedup.Admit(ctx, opp)
		if err != nil {
			o.Logger.Warn("dedup unavailable, suppressing alert", slog.String("error", err.Error()))
		}
		if !admitted {
			stats.Suppressed++
			o.Metrics.Opportunity("suppressed")
			continue
		}

		alert := opp
		if o.cfg.EnrichTransfers {
			alert = o.enrich(ctx, opp)
		}
		if err := o.Notifier.Notify(ctx, alert); err != nil {
			stats.NotifyFailures++
			o.Metrics.Opportunity("notify_failed")
			o.Logger.Error("notification failed",
				slog.String("key", string(opp.DedupKey())),
				slog.String("error", err.Error()),
			)
		} else {
			stats.Notified++
			o.Metrics.Opportunity("notified")
		}
		o.recent.add(alert)
		if o.Recorder != nil {
			o.Recorder.RecordOpportunity(alert, err == nil)
		}
	}
}

// enrich attaches deposit/withdraw state of each CEX leg. Lookup failures
// leave the status unknown.
func (o *Orchestrator) enrich(ctx context.Context, opp domain.SpreadOpportunity) domain.SpreadOpportunity {
	for _, leg := range []*domain.Leg{&opp.Buy, &opp.Sell} {
		if leg.Market == domain.MarketDEX {
			continue
		}
		tctx, cancel := context.WithTimeout(ctx, o.cfg.TransferTimeout)
		st, err := o.Fetcher.TransferStatus(tctx, leg.Exchange, opp.Token)
		cancel()
		if err != nil {
			o.Logger.Debug("transfer status unavailable",
				slog.String("exchange", string(leg.Exchange)),
				slog.String("token", string(opp.Token)),
				slog.String("error", err.Error()),
			)
			continue
		}
		leg.Transfer = st
	}
	return opp
}

// Recent returns up to limit notified opportunities, newest first.
func (o *Orchestrator) Recent(limit int) []domain.SpreadOpportunity {
	return o.recent.list(limit)
}

// LastCycle returns the statistics of the most recent cycle.
func (o *Orchestrator) LastCycle() domain.CycleStats {
	o.statsMu.RLock()
	defer o.statsMu.RUnlock()
	return o.last
}

func (o *Orchestrator) logCycle(s domain.CycleStats) {
	o.Logger.Info("cycle complete",
		slog.String("cycle_id", s.ID),
		slog.Duration("duration", s.Duration),
		slog.Int("tokens", s.Tokens),
		slog.Int("batches", s.Batches),
		slog.Int("fetched", s.Fetched),
		slog.Int("failed", s.Failed),
		slog.Int("timed_out", s.TimedOut),
		slog.Int("eligible", s.Eligible),
		slog.Int("opportunities", s.Opportunities),
		slog.Int("notified", s.Notified),
		slog.Int("suppressed", s.Suppressed),
	)
}

func partition(tokens []domain.TokenSymbol, size int) [][]domain.TokenSymbol {
	var out [][]domain.TokenSymbol
	for start := 0; start < len(tokens); start += size {
		end := min(start+size, len(tokens))
		out = append(out, tokens[start:end])
	}
	return out
}
