// Package okx is the OKX v5 market-data adapter.
package okx

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/crypto"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/platform/rest"
)

// ID is the exchange identifier.
const ID domain.ExchangeID = "okx"

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://www.okx.com"

// Client implements domain.Adapter for OKX.
type Client struct {
	http  *rest.Client
	creds crypto.Credentials
	now   func() time.Time
}

// New creates an OKX client.
func New(baseURL string, timeout time.Duration, creds crypto.Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: rest.New(ID, strings.TrimRight(baseURL, "/"), timeout), creds: creds, now: time.Now}
}

func (c *Client) ID() domain.ExchangeID { return ID }

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// check maps OKX business codes onto fetch errors. Only authentication codes
// are permanent; unknown codes are retried without degrading the exchange.
func (e envelope[T]) check(op string, token domain.TokenSymbol) error {
	switch e.Code {
	case "0":
		return nil
	case "51000", "51001":
		return rest.NotListed(ID, op, token)
	case "50011", "50061":
		return domain.Transient(ID, op, fmt.Errorf("%w: code %s: %s", domain.ErrRateLimited, e.Code, e.Msg))
	case "50111", "50113", "50114":
		return domain.Permanent(ID, op, fmt.Errorf("%w: code %s: %s", domain.ErrUnauthorized, e.Code, e.Msg))
	}
	// 50001 service unavailable, 50004 request timeout, 50013 busy and the rest.
	return domain.Transient(ID, op, fmt.Errorf("code %s: %s", e.Code, e.Msg))
}

type instrument struct {
	InstID    string `json:"instId"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	State     string `json:"state"`
}

func instType(m domain.MarketType) (string, bool) {
	switch m {
	case domain.MarketSpot:
		return "SPOT", true
	case domain.MarketFutures:
		return "SWAP", true
	}
	return "", false
}

func instID(token domain.TokenSymbol, m domain.MarketType) string {
	if m == domain.MarketFutures {
		return string(token) + "-USDT-SWAP"
	}
	return string(token) + "-USDT"
}

// ListTradablePairs returns the live USDT-quoted bases of a market.
func (c *Client) ListTradablePairs(ctx context.Context, market domain.MarketType) ([]domain.TokenSymbol, error) {
	const op = "instruments"
	it, ok := instType(market)
	if !ok {
		return nil, domain.Permanent(ID, op, fmt.Errorf("unsupported market %q", market))
	}
	var resp envelope[instrument]
	if err := c.http.Get(ctx, op, "/api/v5/public/instruments", url.Values{"instType": {it}}, nil, &resp); err != nil {
		return nil, err
	}
	if err := resp.check(op, ""); err != nil {
		return nil, err
	}
	var out []domain.TokenSymbol
	for _, in := range resp.Data {
		if in.State != "live" {
			continue
		}
		switch market {
		case domain.MarketSpot:
			if in.QuoteCcy == "USDT" {
				out = append(out, domain.NormalizeSymbol(in.BaseCcy))
			}
		case domain.MarketFutures:
			if base, ok := strings.CutSuffix(in.InstID, "-USDT-SWAP"); ok {
				out = append(out, domain.NormalizeSymbol(base))
			}
		}
	}
	return out, nil
}

type ticker struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	BidPx     string `json:"bidPx"`
	AskPx     string `json:"askPx"`
	VolCcy24h string `json:"volCcy24h"`
}

// GetPrice fetches the ticker of token on market. Spot volCcy24h is already
// quoted in USDT; swap volCcy24h is in the base currency and is converted.
func (c *Client) GetPrice(ctx context.Context, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	const op = "ticker"
	if _, ok := instType(market); !ok {
		return domain.PriceQuote{}, rest.NotListed(ID, op, token)
	}
	var resp envelope[ticker]
	q := url.Values{"instId": {instID(token, market)}}
	if err := c.http.Get(ctx, op, "/api/v5/market/ticker", q, nil, &resp); err != nil {
		return domain.PriceQuote{}, err
	}
	if err := resp.check(op, token); err != nil {
		return domain.PriceQuote{}, err
	}
	if len(resp.Data) == 0 {
		return domain.PriceQuote{}, rest.NotListed(ID, op, token)
	}
	t := resp.Data[0]
	quote := domain.PriceQuote{
		Exchange:  ID,
		Token:     token,
		Market:    market,
		Bid:       rest.Float(t.BidPx),
		Ask:       rest.Float(t.AskPx),
		Last:      rest.Float(t.Last),
		Volume24h: rest.Float(t.VolCcy24h),
		Timestamp: c.now(),
	}
	if market == domain.MarketFutures {
		quote.Volume24h *= quote.Price()
	}
	return quote, nil
}

type currency struct {
	Ccy    string `json:"ccy"`
	Chain  string `json:"chain"`
	CanDep bool   `json:"canDep"`
	CanWd  bool   `json:"canWd"`
	MaxWd  string `json:"maxWd"`
}

// GetTransferStatus reads deposit/withdraw flags from the signed currencies
// endpoint, preferring the BSC chain.
func (c *Client) GetTransferStatus(ctx context.Context, token domain.TokenSymbol) (domain.TransferStatus, error) {
	const op = "currencies"
	status := domain.TransferStatus{Exchange: ID, Token: token}
	if c.creds.Empty() {
		return status, nil
	}
	path := "/api/v5/asset/currencies"
	q := url.Values{"ccy": {string(token)}}
	headers := c.creds.OKXHeaders("GET", path+"?"+q.Encode(), "")

	var resp envelope[currency]
	if err := c.http.Get(ctx, op, path, q, headers, &resp); err != nil {
		return status, err
	}
	if err := resp.check(op, token); err != nil {
		return status, err
	}

	var picked *currency
	for i := range resp.Data {
		cur := &resp.Data[i]
		if !strings.EqualFold(cur.Ccy, string(token)) {
			continue
		}
		if picked == nil {
			picked = cur
		}
		if strings.Contains(strings.ToUpper(cur.Chain), "BSC") {
			picked = cur
			break
		}
	}
	if picked == nil {
		return status, nil
	}
	status.Chain = picked.Chain
	status.Deposit = picked.CanDep
	status.Withdraw = picked.CanWd
	status.MaxWithdrawal = picked.MaxWd
	status.Known = true
	return status, nil
}

// Compile-time interface check.
var _ domain.Adapter = (*Client)(nil)
