// Package gateio is the Gate.io v4 market-data adapter. Spot and futures are
// served from different hosts.
package gateio

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
const ID domain.ExchangeID = "gateio"

const (
	DefaultSpotURL    = "https://api.gateio.ws/api/v4"
	DefaultFuturesURL = "https://fx-api.gateio.ws/api/v4"
)

// Client implements domain.Adapter for Gate.io.
type Client struct {
	spot    *rest.Client
	futures *rest.Client
	creds   crypto.Credentials
	now     func() time.Time
}

// New creates a Gate.io client. Empty URLs select the public hosts.
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

type currencyPair struct {
	ID          string `json:"id"`
	Base        string `json:"base"`
	Quote       string `json:"quote"`
	TradeStatus string `json:"trade_status"`
}

type contract struct {
	Name        string `json:"name"`
	InDelisting bool   `json:"in_delisting"`
}

// ListTradablePairs returns tradable USDT-quoted spot bases or USDT-settled
// perpetual bases.
func (c *Client) ListTradablePairs(ctx context.Context, market domain.MarketType) ([]domain.TokenSymbol, error) {
	var out []domain.TokenSymbol
	switch market {
	case domain.MarketSpot:
		var pairs []currencyPair
		if err := c.spot.Get(ctx, "currency_pairs", "/spot/currency_pairs", nil, nil, &pairs); err != nil {
			return nil, err
		}
		for _, p := range pairs {
			if p.Quote == "USDT" && p.TradeStatus == "tradable" {
				out = append(out, domain.NormalizeSymbol(p.Base))
			}
		}
	case domain.MarketFutures:
		var contracts []contract
		if err := c.futures.Get(ctx, "contracts", "/futures/usdt/contracts", nil, nil, &contracts); err != nil {
			return nil, err
		}
		for _, ct := range contracts {
			if base, ok := strings.CutSuffix(ct.Name, "_USDT"); ok && !ct.InDelisting {
				out = append(out, domain.NormalizeSymbol(base))
			}
		}
	default:
		return nil, domain.Permanent(ID, "list", fmt.Errorf("unsupported market %q", market))
	}
	return out, nil
}

type spotTicker struct {
	CurrencyPair string `json:"currency_pair"`
	Last         string `json:"last"`
	LowestAsk    string `json:"lowest_ask"`
	HighestBid   string `json:"highest_bid"`
	QuoteVolume  string `json:"quote_volume"`
}

type futuresTicker struct {
	Contract       string `json:"contract"`
	Last           string `json:"last"`
	LowestAsk      string `json:"lowest_ask"`
	HighestBid     string `json:"highest_bid"`
	Volume24hQuote string `json:"volume_24h_quote"`
}

// GetPrice fetches one ticker, filtered server-side by pair.
func (c *Client) GetPrice(ctx context.Context, token domain.TokenSymbol, market domain.MarketType) (domain.PriceQuote, error) {
	pair := string(token) + "_USDT"
	quote := domain.PriceQuote{Exchange: ID, Token: token, Market: market}

	switch market {
	case domain.MarketSpot:
		var ts []spotTicker
		if err := c.spot.Get(ctx, "spot_tickers", "/spot/tickers", url.Values{"currency_pair": {pair}}, nil, &ts); err != nil {
			return quote, err
		}
		if len(ts) == 0 {
			return quote, rest.NotListed(ID, "spot_tickers", token)
		}
		quote.Last = rest.Float(ts[0].Last)
		quote.Bid = rest.Float(ts[0].HighestBid)
		quote.Ask = rest.Float(ts[0].LowestAsk)
		quote.Volume24h = rest.Float(ts[0].QuoteVolume)
	case domain.MarketFutures:
		var ts []futuresTicker
		if err := c.futures.Get(ctx, "futures_tickers", "/futures/usdt/tickers", url.Values{"contract": {pair}}, nil, &ts); err != nil {
			return quote, err
		}
		if len(ts) == 0 {
			return quote, rest.NotListed(ID, "futures_tickers", token)
		}
		quote.Last = rest.Float(ts[0].Last)
		quote.Bid = rest.Float(ts[0].HighestBid)
		quote.Ask = rest.Float(ts[0].LowestAsk)
		quote.Volume24h = rest.Float(ts[0].Volume24hQuote)
	default:
		return quote, rest.NotListed(ID, "tickers", token)
	}
	quote.Timestamp = c.now()
	return quote, nil
}

type currencyInfo struct {
	Currency         string `json:"currency"`
	DepositDisabled  bool   `json:"deposit_disabled"`
	WithdrawDisabled bool   `json:"withdraw_disabled"`
	Chains           []struct {
		Name             string `json:"name"`
		DepositDisabled  bool   `json:"deposit_disabled"`
		WithdrawDisabled bool   `json:"withdraw_disabled"`
	} `json:"chains"`
}

// GetTransferStatus reads the per-chain flags of a currency, preferring BSC.
func (c *Client) GetTransferStatus(ctx context.Context, token domain.TokenSymbol) (domain.TransferStatus, error) {
	const op = "currency"
	status := domain.TransferStatus{Exchange: ID, Token: token}
	if c.creds.Empty() {
		return status, nil
	}
	path := "/spot/currencies/" + url.PathEscape(string(token))
	signPath := path
	if u, err := url.Parse(c.spot.BaseURL() + path); err == nil {
		signPath = u.Path
	}
	headers := c.creds.GateHeaders("GET", signPath, "", "")

	var info currencyInfo
	if err := c.spot.Get(ctx, op, path, nil, headers, &info); err != nil {
		return status, err
	}
	if len(info.Chains) == 0 {
		status.Deposit = !info.DepositDisabled
		status.Withdraw = !info.WithdrawDisabled
		status.Known = info.Currency != ""
		return status, nil
	}
	chain := info.Chains[0]
	for _, ch := range info.Chains {
		if strings.EqualFold(ch.Name, "BSC") {
			chain = ch
			break
		}
	}
	status.Chain = chain.Name
	status.Deposit = !chain.DepositDisabled
	status.Withdraw = !chain.WithdrawDisabled
	status.Known = true
	return status, nil
}

// Compile-time interface check.
var _ domain.Adapter = (*Client)(nil)
