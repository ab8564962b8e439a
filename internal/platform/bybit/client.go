// Package bybit is the Bybit v5 market-data adapter.
package bybit

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
const ID domain.ExchangeID = "bybit"

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.bybit.com"

// maxPages bounds instrument pagination.
const maxPages = 20

// Client implements domain.Adapter for Bybit.
type Client struct {
	http  *rest.Client
	creds crypto.Credentials
	now   func() time.Time
}

// New creates a Bybit client.
func New(baseURL string, timeout time.Duration, creds crypto.Credentials) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: rest.New(ID, strings.TrimRight(baseURL, "/"), timeout), creds: creds, now: time.Now}
}

func (c *Client) ID() domain.ExchangeID { return ID }

type envelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

// checkCode maps Bybit retCodes onto fetch errors. Only authentication codes
// are permanent; unknown codes are retried without degrading the exchange.
func checkCode(code int, msg, op string, token domain.TokenSymbol) error {
	switch {
	case code == 0:
		return nil
	case code == 10001 && strings.Contains(strings.ToLower(msg), "symbol"):
		return rest.NotListed(ID, op, token)
	case code == 10006 || code == 10018:
		return domain.Transient(ID, op, fmt.Errorf("%w: retCode %d: %s", domain.ErrRateLimited, code, msg))
	case code == 10003 || code == 10004 || code == 10005 || code == 33004:
		return domain.Permanent(ID, op, fmt.Errorf("%w: retCode %d: %s", domain.ErrUnauthorized, code, msg))
	}
	// 10000 server timeout, 10016 service error and anything unlisted.
	return domain.Transient(ID, op, fmt.Errorf("retCode %d: %s", code, msg))
}

func category(m domain.MarketType) (string, bool) {
	switch m {
	case domain.MarketSpot:
		return "spot", true
	case domain.MarketFutures:
		return "linear", true
	}
	return "", false
}

type instruments struct {
	List []struct {
		Symbol    string `json:"symbol"`
		BaseCoin  string `json:"baseCoin"`
		QuoteCoin string `json:"quoteCoin"`
		Status    string `json:"status"`
	} `json:"list"`
	NextPageCursor string `json:"nextPageCursor"`
}

// ListTradablePairs returns trading USDT-quoted bases, following the cursor
// across pages.
func (c *Client) ListTradablePairs(ctx context.Context, market domain.MarketType) ([]domain.TokenSymbol, error) {
	const op = "instruments-info"
	cat, ok := category(market)
	if !ok {
		return nil, domain.Permanent(ID, op, fmt.Errorf("unsupported market %q", market))
	}
	var out []domain.TokenSymbol
	cursor := ""
	for range maxPages {
		q := url.Values{"category": {cat}, "limit": {"1000"}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp envelope[instruments]
		if err := c.http.Get(ctx, op, "/v5/market/instruments-info", q, nil, &resp); err != nil {
			return nil, err
		}
		if err := checkCode(resp.RetCode, resp.RetMsg, op, ""); err != nil {
			return nil, err
		}
		for _, in := range resp.Result.List {
			if in.QuoteCoin == "USDT" && in.Status == "Trading" {
				out = append(out, domain.NormalizeSymbol(in.BaseCoin))
			}
		}
		cursor = resp.Result.NextPageCursor
		if cursor == "" {
			break
		}
	}
	return out, nil
}

type tickers struct {
	List []struct {
		Symbol      string `json:"symbol"`
		LastPrice   string `json:"lastPrice"`
		Bid1Price   string `json:"bid1Price"`
		Ask1Price   string `json:"ask1Price"`
		Turnover24h string `json:"turnover24h"`
	} `json:"list"`
}

// GetPrice fetches the ticker of token. turnover24h is quoted in USDT for
// both spot and linear contracts.
func (c *Client) GetPrice(ctx context.Context, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	const op = "tickers"
	cat, ok := category(market)
	if !ok {
		return domain.PriceQuote{}, rest.NotListed(ID, op, token)
	}
	var resp envelope[tickers]
	q := url.Values{"category": {cat}, "symbol": {string(token) + "USDT"}}
	if err := c.http.Get(ctx, op, "/v5/market/tickers", q, nil, &resp); err != nil {
		return domain.PriceQuote{}, err
	}
	if err := checkCode(resp.RetCode, resp.RetMsg, op, token); err != nil {
		return domain.PriceQuote{}, err
	}
	if len(resp.Result.List) == 0 {
		return domain.PriceQuote{}, rest.NotListed(ID, op, token)
	}
	t := resp.Result.List[0]
	return domain.PriceQuote{
		Exchange:  ID,
		Token:     token,
		Market:    market,
		Bid:       rest.Float(t.Bid1Price),
		Ask:       rest.Float(t.Ask1Price),
		Last:      rest.Float(t.LastPrice),
		Volume24h: rest.Float(t.Turnover24h),
		Timestamp: c.now(),
	}, nil
}

type coinInfo struct {
	Rows []struct {
		Coin         string `json:"coin"`
		RemainAmount string `json:"remainAmount"`
		Chains       []struct {
			Chain         string `json:"chain"`
			ChainType     string `json:"chainType"`
			ChainDeposit  string `json:"chainDeposit"`
			ChainWithdraw string `json:"chainWithdraw"`
		} `json:"chains"`
	} `json:"rows"`
}

// GetTransferStatus queries the signed coin-info endpoint, preferring BSC.
func (c *Client) GetTransferStatus(ctx context.Context, token domain.TokenSymbol) (domain.TransferStatus, error) {
	const op = "coin-info"
	status := domain.TransferStatus{Exchange: ID, Token: token}
	if c.creds.Empty() {
		return status, nil
	}
	q := url.Values{"coin": {string(token)}}
	headers := c.creds.BybitHeaders(q.Encode())

	var resp envelope[coinInfo]
	if err := c.http.Get(ctx, op, "/v5/asset/coin/query-info", q, headers, &resp); err != nil {
		return status, err
	}
	if err := checkCode(resp.RetCode, resp.RetMsg, op, token); err != nil {
		return status, err
	}
	if len(resp.Result.Rows) == 0 || len(resp.Result.Rows[0].Chains) == 0 {
		return status, nil
	}
	row := resp.Result.Rows[0]
	chain := row.Chains[0]
	for _, ch := range row.Chains {
		if strings.EqualFold(ch.Chain, "BSC") || strings.Contains(strings.ToUpper(ch.ChainType), "BSC") {
			chain = ch
			break
		}
	}
	status.Chain = chain.Chain
	status.Deposit = chain.ChainDeposit == "1"
	status.Withdraw = chain.ChainWithdraw == "1"
	status.MaxWithdrawal = row.RemainAmount
	status.Known = true
	return status, nil
}

// Compile-time interface check.
var _ domain.Adapter = (*Client)(nil)
