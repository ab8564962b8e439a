package mexc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc, creds crypto.Credentials) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL, srv.URL+"/contract", time.Second, creds)
}

func TestListTradablePairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/exchangeInfo":
			_, _ = w.Write([]byte(`{"symbols":[
				{"symbol":"BTCUSDT","status":"1","baseAsset":"BTC","quoteAsset":"USDT","isSpotTradingAllowed":true},
				{"symbol":"ETHBTC","status":"1","baseAsset":"ETH","quoteAsset":"BTC","isSpotTradingAllowed":true},
				{"symbol":"OLDUSDT","status":"2","baseAsset":"OLD","quoteAsset":"USDT","isSpotTradingAllowed":true}]}`))
		case "/contract/api/v1/contract/detail":
			_, _ = w.Write([]byte(`{"success":true,"code":0,"data":[
				{"symbol":"BTC_USDT","state":0},
				{"symbol":"BTC_USD","state":0},
				{"symbol":"LUNA_USDT","state":4}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}, crypto.Credentials{})

	spot, err := c.ListTradablePairs(context.Background(), domain.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"BTC"}, spot)

	fut, err := c.ListTradablePairs(context.Background(), domain.MarketFutures)
	require.NoError(t, err)
	assert.Equal(t, []domain.TokenSymbol{"BTC"}, fut)
}

func TestGetPrice(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v3/ticker/24hr":
			assert.Equal(t, "PEPEUSDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"symbol":"PEPEUSDT","lastPrice":"0.00001","bidPrice":"0.0000099","askPrice":"0.0000101","quoteVolume":"2500000"}`))
		case "/contract/api/v1/contract/ticker":
			assert.Equal(t, "PEPE_USDT", r.URL.Query().Get("symbol"))
			_, _ = w.Write([]byte(`{"success":true,"code":0,"data":{"symbol":"PEPE_USDT","lastPrice":0.0000102,"bid1":0.0000101,"ask1":0.0000103,"amount24":900000}}`))
		}
	}, crypto.Credentials{})

	spot, err := c.GetPrice(context.Background(), "PEPE", domain.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, 0.00001, spot.Last)
	assert.Equal(t, 2_500_000.0, spot.Volume24h)
	assert.False(t, spot.Timestamp.IsZero())

	fut, err := c.GetPrice(context.Background(), "PEPE", domain.MarketFutures)
	require.NoError(t, err)
	assert.Equal(t, 0.0000102, fut.Last)
	assert.Equal(t, 900_000.0, fut.Volume24h)
	assert.Equal(t, domain.QuoteKey{Exchange: ID, Token: "PEPE", Market: domain.MarketFutures}, fut.Key())
}

func TestGetPriceErrors(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		body      string
		market    domain.MarketType
		notListed bool
		transient bool
		permanent bool
	}{
		{"invalid spot symbol", http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, domain.MarketSpot, true, false, false},
		{"unknown contract", http.StatusOK, `{"success":false,"code":1001,"message":"contract not exist"}`, domain.MarketFutures, true, false, false},
		{"contract rate limit", http.StatusOK, `{"success":false,"code":510,"message":"Requests are too frequent"}`, domain.MarketFutures, false, true, false},
		{"contract unknown code", http.StatusOK, `{"success":false,"code":9999,"message":"busy"}`, domain.MarketFutures, false, true, false},
		{"contract auth", http.StatusOK, `{"success":false,"code":402,"message":"Api key expired"}`, domain.MarketFutures, false, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, crypto.Credentials{})
			_, err := c.GetPrice(context.Background(), "X", tc.market)
			require.Error(t, err)
			assert.Equal(t, tc.notListed, errors.Is(err, domain.ErrNotListed))
			assert.Equal(t, tc.transient, domain.IsTransient(err))
			assert.Equal(t, tc.permanent, domain.IsPermanent(err))
		})
	}
}

func TestGetTransferStatusPrefersBSC(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/capital/config/getall", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.Equal(t, crypto.MEXCRecvWindow, r.URL.Query().Get("recvWindow"))
		_, _ = w.Write([]byte(`[
			{"coin":"ETH","networkList":[{"netWork":"ETH","depositEnable":true,"withdrawEnable":true}]},
			{"coin":"CAKE","networkList":[
				{"network":"ERC20","netWork":"ETH","depositEnable":true,"withdrawEnable":true,"withdrawMax":"100"},
				{"network":"BEP20(BSC)","netWork":"BSC","depositEnable":true,"withdrawEnable":false,"withdrawMax":"5000"}]}]`))
	}, crypto.Credentials{Key: "key", Secret: "secret"})

	st, err := c.GetTransferStatus(context.Background(), "CAKE")
	require.NoError(t, err)
	assert.True(t, st.Known)
	assert.Equal(t, "BSC", st.Chain)
	assert.True(t, st.Deposit)
	assert.False(t, st.Withdraw)
	assert.Equal(t, "5000", st.MaxWithdrawal)
}

func TestGetTransferStatusWithoutCredentials(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL.Path)
	}, crypto.Credentials{})

	st, err := c.GetTransferStatus(context.Background(), "CAKE")
	require.NoError(t, err)
	assert.False(t, st.Known)
}
