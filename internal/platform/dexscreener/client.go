// Package dexscreener looks up DEX pools through the DexScreener search API.
package dexscreener

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/platform/rest"
)

// ID is the feed identifier.
const ID domain.ExchangeID = "dexscreener"

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.dexscreener.com"

const pairPageURL = "https://dexscreener.com"

// Client implements domain.DexFeed.
type Client struct {
	http *rest.Client
}

// New creates a DexScreener client.
func New(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: rest.New(ID, strings.TrimRight(baseURL, "/"), timeout)}
}

func (c *Client) ID() domain.ExchangeID { return ID }

type searchResponse struct {
	Pairs []pair `json:"pairs"`
}

type pair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	URL         string `json:"url"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUsd  string `json:"priceUsd"`
	Liquidity struct {
		Usd float64 `json:"usd"`
	} `json:"liquidity"`
	Volume struct {
		H24 float64 `json:"h24"`
	} `json:"volume"`
}

// FindPools returns the pools whose base token symbol matches token, deepest
// liquidity first. Pools without a price or contract are skipped.
func (c *Client) FindPools(ctx context.Context, token domain.TokenSymbol) ([]domain.DexPool, error) {
	var resp searchResponse
	if err := c.http.Get(ctx, "search", "/latest/dex/search", url.Values{"q": {string(token)}}, nil, &resp); err != nil {
		return nil, err
	}

	var pools []domain.DexPool
	for _, p := range resp.Pairs {
		if domain.NormalizeSymbol(p.BaseToken.Symbol) != token {
			continue
		}
		price := rest.Float(p.PriceUsd)
		if price <= 0 || p.BaseToken.Address == "" {
			continue
		}
		link := p.URL
		if link == "" {
			link = pairPageURL + "/" + strings.ToLower(p.ChainID) + "/" + p.PairAddress
		}
		pools = append(pools, domain.DexPool{
			Token:       token,
			Price:       price,
			Liquidity:   p.Liquidity.Usd,
			Volume24h:   p.Volume.H24,
			Contract:    p.BaseToken.Address,
			Chain:       strings.ToLower(p.ChainID),
			PairAddress: p.PairAddress,
			URL:         link,
		})
	}
	if len(pools) == 0 {
		return nil, rest.NotListed(ID, "search", token)
	}
	sort.SliceStable(pools, func(i, j int) bool { return pools[i].Liquidity > pools[j].Liquidity })
	return pools, nil
}

// Compile-time interface check.
var _ domain.DexFeed = (*Client)(nil)
