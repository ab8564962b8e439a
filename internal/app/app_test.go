package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/config"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/journal"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeVenues serves a Bybit spot market and a DexScreener search for ETH.
func fakeVenues(t *testing.T, cexPrice, dexPrice string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"ETHUSDT","baseCoin":"ETH","quoteCoin":"USDT","status":"Trading"},
			{"symbol":"USDCUSDT","baseCoin":"USDC","quoteCoin":"USDT","status":"Trading"}
		],"nextPageCursor":""}}`)
	})
	mux.HandleFunc("/v5/market/tickers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"retCode":0,"retMsg":"OK","result":{"list":[
			{"symbol":"ETHUSDT","lastPrice":"`+cexPrice+`","bid1Price":"`+cexPrice+`","ask1Price":"`+cexPrice+`","turnover24h":"5000000"}
		]}}`)
	})
	mux.HandleFunc("/latest/dex/search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"pairs":[{
			"chainId":"ethereum","dexId":"uniswap","url":"https://dexscreener.com/ethereum/0xpair",
			"pairAddress":"0xpair",
			"baseToken":{"address":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"ETH"},
			"priceUsd":"`+dexPrice+`","liquidity":{"usd":2000000},"volume":{"h24":900000}
		}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.Config {
	cfg := config.Defaults()
	cfg.Mode = "once"
	cfg.Server.Enabled = false
	cfg.Notify.Startup = false
	cfg.Engine.MaxRetries = 0
	cfg.Engine.BatchPause = config.Duration{}
	cfg.Engine.BatchTimeout = config.Duration{Duration: 5 * time.Second}
	cfg.Engine.EnrichTransfers = false
	cfg.Exchanges = map[string]config.ExchangeConfig{
		"bybit": {APIKey: "k", APISecret: "s", BaseURL: baseURL, Markets: []string{"spot"}},
	}
	cfg.Dex.BaseURL = baseURL
	return cfg
}

func TestRunFailsWithoutActiveExchange(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "once"

	err := New(&cfg, quietLogger()).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestWireMemoryBackends(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Server.Enabled = true

	deps, cleanup, err := Wire(context.Background(), &cfg, quietLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.OpportunityStore)
	require.NotNil(t, deps.Hub)
	// Without Redis the hub is fed directly by the notifier.
	assert.Equal(t, []string{"ws"}, deps.Notifier.Channels())
	assert.Equal(t, []domain.ExchangeID{"bybit", "dexscreener"}, deps.Registry.Active())
	assert.Empty(t, deps.Checks)
}

func TestOnceModeDetectsSpread(t *testing.T) {
	srv := fakeVenues(t, "100", "103")
	cfg := testConfig(srv.URL)

	var out bytes.Buffer
	a := New(&cfg, quietLogger())
	a.out = &out
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var stats domain.CycleStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 1, stats.Tokens, "USDC is excluded by default")
	assert.Equal(t, 2, stats.Fetched)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 1, stats.Opportunities)
	assert.Equal(t, 1, stats.Notified)
}

func TestOnceModeBelowThreshold(t *testing.T) {
	srv := fakeVenues(t, "100", "101")
	cfg := testConfig(srv.URL)

	var out bytes.Buffer
	a := New(&cfg, quietLogger())
	a.out = &out
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var stats domain.CycleStats
	require.NoError(t, json.Unmarshal(out.Bytes(), &stats))
	assert.Equal(t, 2, stats.Fetched)
	assert.Zero(t, stats.Opportunities)
}

type cycleSink struct {
	mu     sync.Mutex
	cycles []domain.CycleStats
}

func (c *cycleSink) InsertCycle(_ context.Context, stats domain.CycleStats) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycles = append(c.cycles, stats)
	return nil
}

func TestStartJournalStopFlushesQueue(t *testing.T) {
	sink := &cycleSink{}
	deps := &Dependencies{Journal: journal.New(nil, sink, nil, 8, quietLogger())}

	ctx, cancel := context.WithCancel(context.Background())
	stop := startJournal(ctx, deps)
	cancel()
	deps.Journal.RecordCycle(domain.CycleStats{ID: "c1"})
	stop()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.cycles, 1)
	assert.Equal(t, "c1", sink.cycles[0].ID)
}

func TestStartJournalWithoutJournal(t *testing.T) {
	stop := startJournal(context.Background(), &Dependencies{})
	assert.NotPanics(t, stop)
}
