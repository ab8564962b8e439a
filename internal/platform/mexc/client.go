// Package mexc is the MEXC market-data adapter. Spot uses the v3 API and
// futures the contract API on a separate host.
package mexc

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
const ID domain.ExchangeID = "mexc"

const (
	DefaultSpotURL    = "https://api.mexc.com"
	DefaultFuturesURL = "https://contract.mexc.com"
)

// Client implements domain.Adapter for MEXC.
type Client struct {
	spot    *rest.Client
	futures *rest.Client
	creds   crypto.Credentials
	now     func() time.Time
}

// New creates a MEXC client. Empty URLs select the public hosts.
func New(spotURL, futuresURL string, timeout time.Duration, creds crypto.Credentials) *Client {
	if spotURL == "" {
		spotURL = DefaultSpotURL
	}
	if futuresURL == "" {
		futuresURL = DefaultFuturesURL
	}
	return &Client{
		spot:    rest.New(ID, strings.TrimRight(spotURL, "/"), timeout),
		futures: rest.New(ID, strings.TrimRight(futuresURL, "/"), timeout),
		creds:   creds,
		now:     time.Now,
	}
}

func (c *Client) ID() domain.ExchangeID { return ID }

// contractEnvelope wraps every contract API response.
type contractEnvelope[T any] struct {
	Success bool   `json:"success"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// check maps contract API codes onto fetch errors. Only authentication codes
// are permanent.
func (e contractEnvelope[T]) check(op string, token domain.TokenSymbol) error {
	if e.Success && e.Code == 0 {
		return nil
	}
	switch {
	case e.Code == 1001 || strings.Contains(strings.ToLower(e.Message), "not exist"):
		return rest.NotListed(ID, op, token)
	case e.Code == 510:
		return domain.Transient(ID, op, fmt.Errorf("%w: code %d: %s", domain.ErrRateLimited, e.Code, e.Message))
	case e.Code == 401 || e.Code == 402 || e.Code == 602:
		return domain.Permanent(ID, op, fmt.Errorf("%w: code %d: %s", domain.ErrUnauthorized, e.Code, e.Message))
	}
	return domain.Transient(ID, op, fmt.Errorf("code %d: %s", e.Code, e.Message))
}

type exchangeInfo struct {
	Symbols []struct {
		Symbol               string `json:"symbol"`
		Status               string `json:"status"`
		BaseAsset            string `json:"baseAsset"`
		QuoteAsset           string `json:"quoteAsset"`
		IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
	} `json:"symbols"`
}

type contractDetail struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"baseCoin"`
	QuoteCoin string `json:"quoteCoin"`
	State     int    `json:"state"`
}

// ListTradablePairs returns online USDT-quoted spot bases or USDT perpetual
// bases.
func (c *Client) ListTradablePairs(ctx context.Context, market domain.MarketType) ([]domain.TokenSymbol, error) {
	var out []domain.TokenSymbol
	switch market {
	case domain.MarketSpot:
		var info exchangeInfo
		if err := c.spot.Get(ctx, "exchange_info", "/api/v3/exchangeInfo", nil, nil, &info); err != nil {
			return nil, err
		}
		for _, s := range info.Symbols {
			online := s.Status == "1" || strings.EqualFold(s.Status, "ENABLED")
			if s.QuoteAsset == "USDT" && online && s.IsSpotTradingAllowed {
				out = append(out, domain.NormalizeSymbol(s.BaseAsset))
			}
		}
	case domain.MarketFutures:
		var resp contractEnvelope[[]contractDetail]
		if err := c.futures.Get(ctx, "contract_detail", "/api/v1/contract/detail", nil, nil, &resp); err != nil {
			return nil, err
		}
		if err := resp.check("contract_detail", ""); err != nil {
			return nil, err
		}
		for _, d := range resp.Data {
			base, ok := strings.CutSuffix(d.Symbol, "_USDT")
			if ok && d.State == 0 {
				out = append(out, domain.NormalizeSymbol(base))
			}
		}
	default:
		return nil, domain.Permanent(ID, "list", fmt.Errorf("unsupported market %q", market))
	}
	return out, nil
}

type spotTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	BidPrice    string `json:"bidPrice"`
	AskPrice    string `json:"askPrice"`
	QuoteVolume string `json:"quoteVolume"`
}

type contractTicker struct {
	Symbol    string  `json:"symbol"`
	LastPrice float64 `json:"lastPrice"`
	Bid1      float64 `json:"bid1"`
	Ask1      float64 `json:"ask1"`
	Amount24  float64 `json:"amount24"`
}

// GetPrice fetches the 24h ticker of one pair. Futures volume is the USDT
// turnover reported by the contract API.
func (c *Client) GetPrice(ctx context.Context, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	quote := domain.PriceQuote{Exchange: ID, Token: token, Market: market}

	switch market {
	case domain.MarketSpot:
		var t spotTicker
		q := url.Values{"symbol": {string(token) + "USDT"}}
		if err := c.spot.Get(ctx, "spot_ticker", "/api/v3/ticker/24hr", q, nil, &t); err != nil {
			return quote, err
		}
		if t.Symbol == "" {
			return quote, rest.NotListed(ID, "spot_ticker", token)
		}
		quote.Last = rest.Float(t.LastPrice)
		quote.Bid = rest.Float(t.BidPrice)
		quote.Ask = rest.Float(t.AskPrice)
		quote.Volume24h = rest.Float(t.QuoteVolume)
	case domain.MarketFutures:
		var resp contractEnvelope[contractTicker]
		q := url.Values{"symbol": {string(token) + "_USDT"}}
		if err := c.futures.Get(ctx, "contract_ticker", "/api/v1/contract/ticker", q, nil, &resp); err != nil {
			return quote, err
		}
		if err := resp.check("contract_ticker", token); err != nil {
			return quote, err
		}
		if resp.Data.Symbol == "" {
			return quote, rest.NotListed(ID, "contract_ticker", token)
		}
		quote.Last = resp.Data.LastPrice
		quote.Bid = resp.Data.Bid1
		quote.Ask = resp.Data.Ask1
		quote.Volume24h = resp.Data.Amount24
	default:
		return quote, rest.NotListed(ID, "ticker", token)
	}
	quote.Timestamp = c.now()
	return quote, nil
}

type coinConfig struct {
	Coin     string `json:"coin"`
	Networks []struct {
		Network        string `json:"network"`
		NetWork        string `json:"netWork"`
		DepositEnable  bool   `json:"depositEnable"`
		WithdrawEnable bool   `json:"withdrawEnable"`
		WithdrawMax    string `json:"withdrawMax"`
	} `json:"networkList"`
}

// GetTransferStatus reads the network list of a coin, preferring BSC, then
// the first network that accepts deposits, then the first network.
func (c *Client) GetTransferStatus(ctx context.Context, token domain.TokenSymbol) (domain.TransferStatus, error) {
	const op = "capital_config"
	status := domain.TransferStatus{Exchange: ID, Token: token}
	if c.creds.Empty() {
		return status, nil
	}
	path := "/api/v3/capital/config/getall?" + c.creds.MEXCQuery(nil)

	var coins []coinConfig
	if err := c.spot.Get(ctx, op, path, nil, c.creds.MEXCHeaders(), &coins); err != nil {
		return status, err
	}
	for _, coin := range coins {
		if !strings.EqualFold(coin.Coin, string(token)) || len(coin.Networks) == 0 {
			continue
		}
		pick := -1
		for i, n := range coin.Networks {
			if strings.Contains(strings.ToUpper(n.Network+" "+n.NetWork), "BSC") {
				pick = i
				break
			}
		}
		if pick < 0 {
			pick = 0
			for i, n := range coin.Networks {
				if n.DepositEnable {
					pick = i
					break
				}
			}
		}
		n := coin.Networks[pick]
		status.Chain = n.NetWork
		if status.Chain == "" {
			status.Chain = n.Network
		}
		status.Deposit = n.DepositEnable
		status.Withdraw = n.WithdrawEnable
		status.MaxWithdrawal = n.WithdrawMax
		status.Known = true
		return status, nil
	}
	return status, nil
}

// Compile-time interface check.
var _ domain.Adapter = (*Client)(nil)
