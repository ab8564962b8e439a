package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	pairs    map[domain.Venue][]domain.TokenSymbol
	failing  map[domain.ExchangeID]bool
	pools    map[domain.TokenSymbol][]domain.DexPool
	degraded map[domain.ExchangeID]bool
	listed   int
}

func (f *fakeSource) ListPairs(_ context.Context, ex domain.ExchangeID, m domain.MarketType) ([]domain.TokenSymbol, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if f.failing[ex] {
		return nil, domain.Transient(ex, "list", errors.New("timeout"))
	}
	return f.pairs[domain.Venue{Exchange: ex, Market: m}], nil
}

func (f *fakeSource) DexPools(_ context.Context, _ domain.ExchangeID, t domain.TokenSymbol) ([]domain.DexPool, error) {
	pools, ok := f.pools[t]
	if !ok {
		return nil, fmt.Errorf("search %s: %w", t, domain.ErrNotListed)
	}
	return pools, nil
}

func (f *fakeSource) Degraded(ex domain.ExchangeID) bool { return f.degraded[ex] }

func cexHandle(id domain.ExchangeID, compare bool, markets ...domain.MarketType) domain.ExchangeHandle {
	return domain.ExchangeHandle{ID: id, Kind: domain.KindCEX, Active: true, Compare: compare, Markets: markets}
}

func v(ex domain.ExchangeID, m domain.MarketType) domain.Venue {
	return domain.Venue{Exchange: ex, Market: m}
}

func TestNewRequiresActiveExchange(t *testing.T) {
	inactive := cexHandle("okx", true, domain.MarketSpot)
	inactive.Active = false
	dex := domain.ExchangeHandle{ID: "dexscreener", Kind: domain.KindDEX, Active: true}

	_, err := New([]domain.ExchangeHandle{inactive, dex}, &fakeSource{}, Config{}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	_, err = New(nil, &fakeSource{}, Config{}, nil)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestDiscoverIntersectsComparisonExchanges(t *testing.T) {
	src := &fakeSource{pairs: map[domain.Venue][]domain.TokenSymbol{
		v("okx", domain.MarketSpot):    {"BTC", "ETH", "PEPE"},
		v("okx", domain.MarketFutures): {"BTC", "SOL"},
		v("bybit", domain.MarketSpot):  {"btc", "ETH", "SOL"},
		v("gateio", domain.MarketSpot): {"BTC", "DOGE"},
	}}
	handles := []domain.ExchangeHandle{
		cexHandle("okx", true, domain.MarketSpot, domain.MarketFutures),
		cexHandle("bybit", true, domain.MarketSpot),
		cexHandle("gateio", false, domain.MarketSpot),
	}
	d, err := New(handles, src, Config{}, nil)
	require.NoError(t, err)

	u, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"BTC", "ETH", "SOL"}, u.Tokens)
	assert.Equal(t, []domain.Venue{
		v("bybit", domain.MarketSpot),
		v("gateio", domain.MarketSpot),
		v("okx", domain.MarketFutures),
		v("okx", domain.MarketSpot),
	}, u.Listings["BTC"], "non-comparison exchanges still quote common tokens")
	assert.Equal(t, []domain.Venue{v("bybit", domain.MarketSpot), v("okx", domain.MarketFutures)}, u.Listings["SOL"])
}

func TestDiscoverSkipsUnresponsiveAndDegraded(t *testing.T) {
	src := &fakeSource{
		pairs: map[domain.Venue][]domain.TokenSymbol{
			v("okx", domain.MarketSpot):   {"BTC", "ETH"},
			v("bybit", domain.MarketSpot): {"BTC"},
		},
		failing:  map[domain.ExchangeID]bool{"bybit": true},
		degraded: map[domain.ExchangeID]bool{"gateio": true},
	}
	d, err := New([]domain.ExchangeHandle{
		cexHandle("okx", true, domain.MarketSpot),
		cexHandle("bybit", true, domain.MarketSpot),
		cexHandle("gateio", true, domain.MarketSpot),
	}, src, Config{}, nil)
	require.NoError(t, err)

	u, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"BTC", "ETH"}, u.Tokens)
	assert.Equal(t, []domain.ExchangeID{"okx"}, u.Responded)
	assert.Equal(t, 2, src.listed, "degraded exchange is not queried")
}

func TestDiscoverResolvesAndChecksumsPools(t *testing.T) {
	src := &fakeSource{
		pairs: map[domain.Venue][]domain.TokenSymbol{
			v("okx", domain.MarketSpot):   {"CAKE", "BAD", "NODEX"},
			v("bybit", domain.MarketSpot): {"CAKE", "BAD", "NODEX"},
		},
		pools: map[domain.TokenSymbol][]domain.DexPool{
			"CAKE": {{Token: "CAKE", Price: 2.5, Contract: "0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82", Chain: "bsc"}},
			"BAD":  {{Token: "BAD", Price: 1, Contract: "0x123"}},
		},
	}
	d, err := New([]domain.ExchangeHandle{
		cexHandle("okx", true, domain.MarketSpot),
		cexHandle("bybit", true, domain.MarketSpot),
	}, src, Config{DexFeed: "dexscreener", RequireDex: true}, nil)
	require.NoError(t, err)

	u, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"CAKE"}, u.Tokens)
	assert.Equal(t, "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", u.Pools["CAKE"].Contract)
	assert.NotContains(t, u.Listings, domain.TokenSymbol("NODEX"))
}

func TestIncludeExcludeAndCap(t *testing.T) {
	src := &fakeSource{pairs: map[domain.Venue][]domain.TokenSymbol{
		v("okx", domain.MarketSpot): {"A", "B", "C", "D", "USDC"},
	}}
	d, err := New([]domain.ExchangeHandle{cexHandle("okx", true, domain.MarketSpot)}, src,
		Config{Exclude: []domain.TokenSymbol{"USDC"}, MaxTokens: 3}, nil)
	require.NoError(t, err)
	u, err := d.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"A", "B", "C"}, u.Tokens)
}

func TestCurrentCachesAndKeepsPreviousOnFailure(t *testing.T) {
	src := &fakeSource{pairs: map[domain.Venue][]domain.TokenSymbol{
		v("okx", domain.MarketSpot): {"BTC"},
	}}
	d, err := New([]domain.ExchangeHandle{cexHandle("okx", true, domain.MarketSpot)}, src, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	first, err := d.Current(context.Background())
	require.NoError(t, err)
	_, err = d.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.listed, "cached within the interval")

	now = now.Add(2 * time.Hour)
	src.failing = map[domain.ExchangeID]bool{"okx": true}
	again, err := d.Current(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, 2, src.listed)
}

func TestNormalizeContract(t *testing.T) {
	addr, ok := NormalizeContract("0x0e09fabb73bd3ade0a17ecc321fd13a19e81ce82")
	assert.True(t, ok)
	assert.Equal(t, "0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82", addr)

	_, ok = NormalizeContract("0xzz")
	assert.False(t, ok)

	sol, ok := NormalizeContract("So11111111111111111111111111111111111111112")
	assert.True(t, ok)
	assert.Equal(t, "So11111111111111111111111111111111111111112", sol)

	_, ok = NormalizeContract("  ")
	assert.False(t, ok)
}
