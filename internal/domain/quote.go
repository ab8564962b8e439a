package domain

import "time"

// QuoteKey identifies one snapshot slot.
type QuoteKey struct {
	Exchange ExchangeID
	Token    TokenSymbol
	Market   MarketType
}

// Venue is one side of a comparison: an exchange and a market on it.
type Venue struct {
	Exchange ExchangeID `json:"exchange"`
	Market   MarketType `json:"market"`
}

func (v Venue) String() string { return string(v.Exchange) + ":" + string(v.Market) }

// PriceQuote is the latest market data for one QuoteKey. Volume24h is quoted
// in USD. Liquidity, Chain, Contract and PairURL are only set for DEX quotes.
type PriceQuote struct {
	Exchange  ExchangeID
	Token     TokenSymbol
	Market    MarketType
	Bid       float64
	Ask       float64
	Last      float64
	Volume24h float64
	Liquidity float64
	Chain     string
	Contract  string
	PairURL   string
	Timestamp time.Time
}

// Key returns the snapshot key of the quote.
func (q PriceQuote) Key() QuoteKey {
	return QuoteKey{Exchange: q.Exchange, Token: q.Token, Market: q.Market}
}

// Venue returns the exchange/market side of the quote.
func (q PriceQuote) Venue() Venue {
	return Venue{Exchange: q.Exchange, Market: q.Market}
}

// IsDEX reports whether the quote came from a pool feed.
func (q PriceQuote) IsDEX() bool { return q.Market == MarketDEX }

// Price is the reference price used for spreads: last trade, falling back to
// the bid/ask midpoint. It returns 0 when neither is available.
func (q PriceQuote) Price() float64 {
	if q.Last > 0 {
		return q.Last
	}
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return 0
}

// DexPool is one pool returned by a DEX feed lookup.
type DexPool struct {
	Token       TokenSymbol
	Price       float64
	Liquidity   float64
	Volume24h   float64
	Contract    string
	Chain       string
	PairAddress string
	URL         string
}
