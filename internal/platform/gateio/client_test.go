package gateio

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
	return New(srv.URL+"/api/v4", srv.URL+"/fx/api/v4", time.Second, creds)
}

func TestListTradablePairs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v4/spot/currency_pairs":
			_, _ = w.Write([]byte(`[
				{"id":"BTC_USDT","base":"BTC","quote":"USDT","trade_status":"tradable"},
				{"id":"ETH_BTC","base":"ETH","quote":"BTC","trade_status":"tradable"},
				{"id":"OLD_USDT","base":"OLD","quote":"USDT","trade_status":"untradable"}]`))
		case "/fx/api/v4/futures/usdt/contracts":
			_, _ = w.Write([]byte(`[{"name":"BTC_USDT"},{"name":"LUNA_USDT","in_delisting":true}]`))
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

func TestGetPriceFutures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fx/api/v4/futures/usdt/tickers", r.URL.Path)
		assert.Equal(t, "SOL_USDT", r.URL.Query().Get("contract"))
		_, _ = w.Write([]byte(`[{"contract":"SOL_USDT","last":"150.2","volume_24h_quote":"9000000"}]`))
	}, crypto.Credentials{})

	q, err := c.GetPrice(context.Background(), "SOL", domain.MarketFutures)
	require.NoError(t, err)
	assert.Equal(t, 150.2, q.Price())
	assert.Equal(t, 9000000.0, q.Volume24h)
}

func TestGetPriceInvalidPairIsNotListed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"label":"INVALID_CURRENCY_PAIR"}`))
	}, crypto.Credentials{})

	_, err := c.GetPrice(context.Background(), "NOPE", domain.MarketSpot)
	assert.True(t, errors.Is(err, domain.ErrNotListed))
}

func TestGetTransferStatusSignsFullPath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/spot/currencies/CAKE", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("KEY"))
		assert.Len(t, r.Header.Get("SIGN"), 128)
		_, _ = w.Write([]byte(`{"currency":"CAKE","chains":[
			{"name":"ETH","deposit_disabled":false,"withdraw_disabled":false},
			{"name":"BSC","deposit_disabled":true,"withdraw_disabled":false}]}`))
	}, crypto.Credentials{Key: "key", Secret: "secret"})

	st, err := c.GetTransferStatus(context.Background(), "CAKE")
	require.NoError(t, err)
	assert.Equal(t, "BSC", st.Chain)
	assert.False(t, st.Deposit)
	assert.True(t, st.Withdraw)
	assert.True(t, st.Known)
}
