// Package liquidity drops tokens that do not trade enough to be worth an
// alert. It runs on freshly fetched quotes every batch, so a token can enter
// or leave the eligible set between cycles.
package liquidity

import (
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/snapshot"
)

// Config holds the floors, both in USD.
type Config struct {
	MinCEXVolume    float64
	MinDEXLiquidity float64
}

// Filter applies the floors.
type Filter struct {
	cfg Config
}

// New creates a Filter.
func New(cfg Config) *Filter { return &Filter{cfg: cfg} }

// Liquid reports whether one quote clears its floor: 24h volume for CEX
// quotes, pool liquidity for DEX quotes.
func (f *Filter) Liquid(q domain.PriceQuote) bool {
	if q.IsDEX() {
		return q.Liquidity >= f.cfg.MinDEXLiquidity
	}
	return q.Volume24h >= f.cfg.MinCEXVolume
}

// Filter keeps the tokens that have liquid quotes on at least two distinct
// exchanges in view, the minimum for any spread to exist.
func (f *Filter) Filter(tokens []domain.TokenSymbol, view snapshot.View) domain.TokenSet {
	out := make(domain.TokenSet)
	for _, t := range tokens {
		venues := make(map[domain.ExchangeID]struct{})
		for _, q := range view.Quotes(t) {
			if f.Liquid(q) {
				venues[q.Exchange] = struct{}{}
			}
		}
		if len(venues) >= 2 {
			out.Add(t)
		}
	}
	return out
}
