package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/dedup"
	"github.com/alanyoungcy/spreadbot/internal/discovery"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/liquidity"
	"github.com/alanyoungcy/spreadbot/internal/snapshot"
	"github.com/alanyoungcy/spreadbot/internal/spread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type staticUniverse struct{ u *discovery.Universe }

func (s staticUniverse) Current(context.Context) (*discovery.Universe, error) { return s.u, nil }

type fakeFetcher struct {
	now    func() time.Time
	prices map[domain.ExchangeID]map[domain.TokenSymbol]float64
	volume float64
	// per-token volume overrides
	volumes  map[domain.TokenSymbol]float64
	failing  map[domain.ExchangeID]error
	delay    time.Duration
	transfer map[domain.ExchangeID]domain.TransferStatus

	mu    sync.Mutex
	calls map[domain.ExchangeID]int
}

func (f *fakeFetcher) Quote(ctx context.Context, ex domain.ExchangeID, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[domain.ExchangeID]int)
	}
	f.calls[ex]++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.PriceQuote{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if err := f.failing[ex]; err != nil {
		return domain.PriceQuote{}, err
	}
	price, ok := f.prices[ex][token]
	if !ok {
		return domain.PriceQuote{}, domain.ErrNotListed
	}
	vol := f.volume
	if v, ok := f.volumes[token]; ok {
		vol = v
	}
	return domain.PriceQuote{Exchange: ex, Token: token, Market: market, Last: price, Volume24h: vol, Timestamp: f.now()}, nil
}

func (f *fakeFetcher) DexPools(context.Context, domain.ExchangeID, domain.TokenSymbol) ([]domain.DexPool, error) {
	return nil, domain.ErrNotListed
}

func (f *fakeFetcher) TransferStatus(_ context.Context, ex domain.ExchangeID, token domain.TokenSymbol) (domain.TransferStatus, error) {
	st, ok := f.transfer[ex]
	if !ok {
		return domain.TransferStatus{}, errors.New("no credentials")
	}
	st.Token = token
	return st, nil
}

func (f *fakeFetcher) Degraded(domain.ExchangeID) bool { return false }

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.SpreadOpportunity
}

func (n *recordingNotifier) Notify(_ context.Context, opp domain.SpreadOpportunity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, opp)
	return nil
}

func (n *recordingNotifier) tokens() []domain.TokenSymbol {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.TokenSymbol
	for _, o := range n.sent {
		out = append(out, o.Token)
	}
	return out
}

type memRecorder struct {
	mu     sync.Mutex
	opps   int
	cycles []domain.CycleStats
}

func (r *memRecorder) RecordOpportunity(domain.SpreadOpportunity, bool) {
	r.mu.Lock()
	r.opps++
	r.mu.Unlock()
}

func (r *memRecorder) RecordCycle(s domain.CycleStats) {
	r.mu.Lock()
	r.cycles = append(r.cycles, s)
	r.mu.Unlock()
}

func spot(exchanges ...domain.ExchangeID) []domain.Venue {
	var out []domain.Venue
	for _, ex := range exchanges {
		out = append(out, domain.Venue{Exchange: ex, Market: domain.MarketSpot})
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	recorder *memRecorder
	now      *time.Time
}

func newHarness(t *testing.T, u *discovery.Universe, f *fakeFetcher, cfg Config) *harness {
	t.Helper()
	now := t0
	clock := func() time.Time { return now }
	f.now = clock
	if f.volume == 0 {
		f.volume = 1_000_000
	}
	n := &recordingNotifier{}
	rec := &memRecorder{}
	if cfg.Interval == 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchTimeout == 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	o := New(cfg, Deps{
		Universe: staticUniverse{u: u},
		Fetcher:  f,
		Store:    snapshot.New(),
		Filter:   liquidity.New(liquidity.Config{MinCEXVolume: 100_000, MinDEXLiquidity: 50_000}),
		Calc:     spread.New(spread.Config{Threshold: 0.02, MaxSpreadPercent: 100, Staleness: time.Minute}, clock),
		Dedup:    dedup.New(dedup.NewMemoryStore(), 5*time.Minute, clock),
		Notifier: n,
		Recorder: rec,
	})
	o.now = clock
	return &harness{orch: o, fetcher: f, notifier: n, recorder: rec, now: &now}
}

func TestCycleNotifiesQualifyingSpread(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")},
	}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
		"okx":   {"ABC": 1.00},
		"bybit": {"ABC": 1.05},
	}}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	opp := h.notifier.sent[0]
	assert.Equal(t, domain.ExchangeID("okx"), opp.Buy.Exchange)
	assert.Equal(t, domain.ExchangeID("bybit"), opp.Sell.Exchange)
	assert.InDelta(t, 5.0, opp.SpreadPercent, 1e-9)
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 1, stats.Notified)
	assert.Equal(t, 1, h.recorder.opps)
	require.Len(t, h.recorder.cycles, 1)
	assert.Equal(t, stats.ID, h.orch.LastCycle().ID)
	assert.Len(t, h.orch.Recent(10), 1)
}

func TestIlliquidTokenExcludedBeforeComputation(t *testing.T) {
	u := &discovery.Universe{
		Tokens: []domain.TokenSymbol{"DUST", "GOOD"},
		Listings: map[domain.TokenSymbol][]domain.Venue{
			"DUST": spot("okx", "bybit"),
			"GOOD": spot("okx", "bybit"),
		},
	}
	f := &fakeFetcher{
		prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
			"okx":   {"DUST": 1.0, "GOOD": 10.0},
			"bybit": {"DUST": 1.5, "GOOD": 10.5},
		},
		volumes: map[domain.TokenSymbol]float64{"DUST": 5_000},
	}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []domain.TokenSymbol{"GOOD"}, h.notifier.tokens())
	assert.Equal(t, 1, stats.Eligible)
	assert.Equal(t, 1, stats.Opportunities)
}

func TestFailingExchangeDoesNotBlockOthers(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit", "gateio")},
	}
	f := &fakeFetcher{
		prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
			"okx":    {"ABC": 1.00},
			"bybit":  {"ABC": 1.10},
			"gateio": {"ABC": 0.50},
		},
		failing: map[domain.ExchangeID]error{
			"gateio": domain.Transient("gateio", "ticker", domain.ErrRateLimited),
		},
	}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	require.Len(t, h.notifier.sent, 1)
	opp := h.notifier.sent[0]
	assert.NotEqual(t, domain.ExchangeID("gateio"), opp.Buy.Exchange)
	assert.NotEqual(t, domain.ExchangeID("gateio"), opp.Sell.Exchange)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.FailuresByExch["gateio"])
	assert.Empty(t, h.orch.Store.Read().Where(func(q domain.PriceQuote) bool { return q.Exchange == "gateio" }).Tokens())
}

func TestFailedFetchClearsPreviousCycleQuote(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "gateio")},
	}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
		"okx":    {"ABC": 1.00},
		"gateio": {"ABC": 1.00},
	}}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Fetched)
	assert.Empty(t, h.notifier.sent)

	*h.now = h.now.Add(30 * time.Second)
	f.prices["okx"]["ABC"] = 1.10
	f.failing = map[domain.ExchangeID]error{
		"gateio": domain.Transient("gateio", "ticker", domain.ErrRateLimited),
	}
	stats, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Zero(t, stats.Opportunities)
	assert.Empty(t, h.notifier.sent, "gateio's earlier quote must not pair with okx")
	qs := h.orch.Store.Read().Quotes("ABC")
	require.Len(t, qs, 1)
	assert.Equal(t, domain.ExchangeID("okx"), qs[0].Exchange)
}

func TestNotListedIsNotAFailure(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit", "gateio")},
	}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
		"okx":   {"ABC": 1.00},
		"bybit": {"ABC": 1.00},
	}}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, 2, stats.Fetched)
	assert.Empty(t, h.notifier.sent)
}

func TestDedupAcrossCycles(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")},
	}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{
		"okx":   {"ABC": 1.00},
		"bybit": {"ABC": 1.05},
	}}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	*h.now = h.now.Add(time.Minute)
	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Suppressed)
	assert.Len(t, h.notifier.sent, 1)

	*h.now = h.now.Add(5 * time.Minute)
	_, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent, 2, "cool-down elapsed")
}

func TestBatchesArePartitioned(t *testing.T) {
	tokens := []domain.TokenSymbol{"A", "B", "C", "D", "E"}
	u := &discovery.Universe{Tokens: tokens, Listings: map[domain.TokenSymbol][]domain.Venue{}}
	prices := map[domain.ExchangeID]map[domain.TokenSymbol]float64{"okx": {}, "bybit": {}}
	for _, tok := range tokens {
		u.Listings[tok] = spot("okx", "bybit")
		prices["okx"][tok] = 1
		prices["bybit"][tok] = 1
	}
	h := newHarness(t, u, &fakeFetcher{prices: prices}, Config{BatchSize: 2})

	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Batches)
	assert.Equal(t, 10, stats.Tasks)
}

func TestBatchTimeoutKeepsPartialData(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")},
	}
	f := &fakeFetcher{
		prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{"okx": {"ABC": 1}, "bybit": {"ABC": 2}},
		delay:  time.Second,
	}
	h := newHarness(t, u, f, Config{BatchSize: 10, BatchTimeout: 20 * time.Millisecond})

	start := time.Now()
	stats, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 2, stats.TimedOut)
	assert.Empty(t, h.notifier.sent)
}

func TestTransferStatusEnrichment(t *testing.T) {
	u := &discovery.Universe{
		Tokens:   []domain.TokenSymbol{"ABC"},
		Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")},
	}
	f := &fakeFetcher{
		prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{"okx": {"ABC": 1}, "bybit": {"ABC": 1.1}},
		transfer: map[domain.ExchangeID]domain.TransferStatus{
			"okx": {Exchange: "okx", Deposit: true, Withdraw: true, Known: true},
		},
	}
	h := newHarness(t, u, f, Config{BatchSize: 10, EnrichTransfers: true})

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, h.notifier.sent, 1)
	opp := h.notifier.sent[0]
	assert.True(t, opp.Buy.Transfer.Known)
	assert.True(t, opp.Buy.Transfer.Withdraw)
	assert.False(t, opp.Sell.Transfer.Known, "lookup failure leaves the status unknown")
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

func TestCycleSkippedWhenLockHeld(t *testing.T) {
	u := &discovery.Universe{Tokens: []domain.TokenSymbol{"ABC"}, Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")}}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{"okx": {"ABC": 1}, "bybit": {"ABC": 2}}}
	h := newHarness(t, u, f, Config{BatchSize: 10})
	h.orch.Lock = heldLock{}

	_, err := h.orch.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Zero(t, f.calls["okx"])
}

func TestCyclesDoNotOverlap(t *testing.T) {
	u := &discovery.Universe{Tokens: []domain.TokenSymbol{"ABC"}, Listings: map[domain.TokenSymbol][]domain.Venue{"ABC": spot("okx", "bybit")}}
	f := &fakeFetcher{prices: map[domain.ExchangeID]map[domain.TokenSymbol]float64{"okx": {"ABC": 1}, "bybit": {"ABC": 1}}, delay: 10 * time.Millisecond}
	h := newHarness(t, u, f, Config{BatchSize: 10})

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.RunCycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 3, f.calls["okx"])
}

func TestRunStopsOnCancel(t *testing.T) {
	u := &discovery.Universe{Tokens: nil, Listings: map[domain.TokenSymbol][]domain.Venue{}}
	h := newHarness(t, u, &fakeFetcher{}, Config{Interval: time.Hour})
	h.orch.now = time.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPartition(t *testing.T) {
	got := partition([]domain.TokenSymbol{"A", "B", "C"}, 2)
	assert.Equal(t, [][]domain.TokenSymbol{{"A", "B"}, {"C"}}, got)
	assert.Empty(t, partition(nil, 2))
}

func TestRecentRingNewestFirst(t *testing.T) {
	r := newRecentRing(2)
	for _, tok := range []domain.TokenSymbol{"A", "B", "C"} {
		r.add(domain.SpreadOpportunity{Token: tok})
	}
	got := r.list(0)
	require.Len(t, got, 2)
	assert.Equal(t, domain.TokenSymbol("C"), got[0].Token)
	assert.Equal(t, domain.TokenSymbol("B"), got[1].Token)
}
