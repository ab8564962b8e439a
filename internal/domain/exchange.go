package domain

import (
	"sort"
	"strings"
	"time"
)

// ExchangeID names a venue, e.g. "okx" or "dexscreener".
type ExchangeID string

// ExchangeKind distinguishes order-book exchanges from pool aggregators.
type ExchangeKind string

const (
	KindCEX ExchangeKind = "cex"
	KindDEX ExchangeKind = "dex"
)

// MarketType is the market a quote was taken from.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
	MarketDEX     MarketType = "dex"
)

// ParseMarketType accepts the config spellings of a market type.
func ParseMarketType(s string) (MarketType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "spot":
		return MarketSpot, true
	case "futures", "perp", "swap", "linear":
		return MarketFutures, true
	case "dex":
		return MarketDEX, true
	}
	return "", false
}

// EndpointClass groups endpoints that share a rate budget.
type EndpointClass string

const (
	ClassMarket  EndpointClass = "market"
	ClassPrivate EndpointClass = "private"
	ClassIP      EndpointClass = "ip"
)

// Limit is a budget of Capacity weight units per Window.
type Limit struct {
	Capacity int
	Window   time.Duration
}

// IsZero reports whether the limit is unset.
func (l Limit) IsZero() bool { return l.Capacity <= 0 || l.Window <= 0 }

// Clamp caps weight at the limit's capacity.
func (l Limit) Clamp(weight int) int {
	if weight > l.Capacity {
		return l.Capacity
	}
	return weight
}

// Budget is one named sliding window.
type Budget struct {
	Key   string
	Limit Limit
}

// RateProfile holds the budgets of one exchange. IP is optional and, when
// set, is enforced on top of the per-class budgets.
type RateProfile struct {
	Market  Limit
	Private Limit
	IP      Limit
}

// ExchangeHandle describes one configured venue. It is built once at startup
// and never mutated.
type ExchangeHandle struct {
	ID             ExchangeID
	Kind           ExchangeKind
	Markets        []MarketType
	Active         bool
	Compare        bool
	MaxConcurrency int
	Profile        RateProfile
}

// Supports reports whether the handle lists the given market type.
func (h ExchangeHandle) Supports(m MarketType) bool {
	for _, mt := range h.Markets {
		if mt == m {
			return true
		}
	}
	return false
}

// TransferStatus is the deposit/withdraw state of a token on an exchange.
type TransferStatus struct {
	Exchange      ExchangeID  `json:"exchange,omitempty"`
	Token         TokenSymbol `json:"token,omitempty"`
	Chain         string      `json:"chain,omitempty"`
	Deposit       bool        `json:"deposit"`
	Withdraw      bool        `json:"withdraw"`
	MaxWithdrawal string      `json:"max_withdrawal,omitempty"`
	Known         bool        `json:"known"`
}

// TokenSymbol is a canonical uppercase ticker.
type TokenSymbol string

// NormalizeSymbol trims and upper-cases a raw ticker.
func NormalizeSymbol(s string) TokenSymbol {
	return TokenSymbol(strings.ToUpper(strings.TrimSpace(s)))
}

// TokenSet is a set of tokens.
type TokenSet map[TokenSymbol]struct{}

// NewTokenSet builds a set from the given tokens.
func NewTokenSet(tokens ...TokenSymbol) TokenSet {
	s := make(TokenSet, len(tokens))
	for _, t := range tokens {
		s[t] = struct{}{}
	}
	return s
}

// Add inserts t.
func (s TokenSet) Add(t TokenSymbol) { s[t] = struct{}{} }

// Has reports membership.
func (s TokenSet) Has(t TokenSymbol) bool {
	_, ok := s[t]
	return ok
}

// Intersect returns the tokens present in both sets.
func (s TokenSet) Intersect(o TokenSet) TokenSet {
	out := make(TokenSet)
	for t := range s {
		if o.Has(t) {
			out.Add(t)
		}
	}
	return out
}

// Sorted returns the members in lexical order.
func (s TokenSet) Sorted() []TokenSymbol {
	out := make([]TokenSymbol, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
