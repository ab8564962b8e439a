// Package spread finds qualifying price gaps between venues quoting the same
// token.
package spread

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/alanyoungcy/spreadbot/internal/snapshot"
)

// DefaultEpsilon replaces a zero low price in the denominator.
const DefaultEpsilon = 1e-12

// DefaultMaxSpreadPercent is the ceiling above which a spread is bad data.
const DefaultMaxSpreadPercent = 100.0

// Config controls what qualifies.
type Config struct {
	// Threshold is the minimum spread as a fraction (0.02 = 2%).
	Threshold float64
	// MaxSpreadPercent discards larger spreads as suspicious.
	MaxSpreadPercent float64
	// Staleness is the maximum quote age. Zero disables the check.
	Staleness time.Duration
	Epsilon   float64
	// SameExchange also pairs quotes of one exchange on different markets.
	SameExchange bool
}

// Discards counts quote pairs dropped as bad data.
type Discards struct {
	Stale       int
	NonPositive int
	Suspicious  int
}

// Total returns the sum of all discard counters.
func (d Discards) Total() int { return d.Stale + d.NonPositive + d.Suspicious }

// Map returns the counters keyed by reason, omitting zeros.
func (d Discards) Map() map[string]int {
	m := make(map[string]int, 3)
	for k, v := range map[string]int{"stale": d.Stale, "non_positive": d.NonPositive, "suspicious": d.Suspicious} {
		if v > 0 {
			m[k] = v
		}
	}
	return m
}

// Add accumulates o into d.
func (d *Discards) Add(o Discards) {
	d.Stale += o.Stale
	d.NonPositive += o.NonPositive
	d.Suspicious += o.Suspicious
}

// Calculator is stateless apart from its clock.
type Calculator struct {
	cfg Config
	now func() time.Time
}

// New creates a Calculator. now defaults to time.Now.
func New(cfg Config, now func() time.Time) *Calculator {
	if cfg.MaxSpreadPercent <= 0 {
		cfg.MaxSpreadPercent = DefaultMaxSpreadPercent
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = DefaultEpsilon
	}
	if now == nil {
		now = time.Now
	}
	return &Calculator{cfg: cfg, now: now}
}

// Percent returns |a-b| / max(min(a,b), eps) * 100.
func Percent(a, b, eps float64) float64 {
	high, low := math.Max(a, b), math.Min(a, b)
	return (high - low) / math.Max(low, eps) * 100
}

// Compute evaluates every unordered pair of quotes on different exchanges for
// each token. A nil tokens slice scans the whole view. The result is sorted by
// token, then spread descending, then dedup key, so identical input yields an
// identical list.
func (c *Calculator) Compute(view snapshot.View, tokens []domain.TokenSymbol) ([]domain.SpreadOpportunity, Discards) {
	if tokens == nil {
		tokens = view.Tokens()
	}
	now := c.now()
	minPercent := c.cfg.Threshold * 100

	var (
		out      []domain.SpreadOpportunity
		discards Discards
	)
	for _, token := range tokens {
		qs := view.Quotes(token)
		for i := 0; i < len(qs); i++ {
			for j := i + 1; j < len(qs); j++ {
				a, b := qs[i], qs[j]
				if a.Exchange == b.Exchange && (!c.cfg.SameExchange || a.Market == b.Market) {
					continue
				}
				if c.stale(a, now) || c.stale(b, now) {
					discards.Stale++
					continue
				}
				pa, pb := a.Price(), b.Price()
				if !(pa > 0) || !(pb > 0) {
					discards.NonPositive++
					continue
				}
				pct := Percent(pa, pb, c.cfg.Epsilon)
				if pct > c.cfg.MaxSpreadPercent {
					discards.Suspicious++
					continue
				}
				if pct < minPercent {
					continue
				}
				out = append(out, build(token, a, b, pct))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		if out[i].SpreadPercent != out[j].SpreadPercent {
			return out[i].SpreadPercent > out[j].SpreadPercent
		}
		return out[i].DedupKey() < out[j].DedupKey()
	})
	return out, discards
}

func (c *Calculator) stale(q domain.PriceQuote, now time.Time) bool {
	if c.cfg.Staleness <= 0 {
		return false
	}
	return q.Timestamp.IsZero() || now.Sub(q.Timestamp) > c.cfg.Staleness
}

func build(token domain.TokenSymbol, a, b domain.PriceQuote, pct float64) domain.SpreadOpportunity {
	low, high := a, b
	if b.Price() < a.Price() {
		low, high = b, a
	}
	discovered := low.Timestamp
	if high.Timestamp.After(discovered) {
		discovered = high.Timestamp
	}
	opp := domain.SpreadOpportunity{
		Token:         token,
		Buy:           leg(low),
		Sell:          leg(high),
		SpreadPercent: pct,
		AbsoluteDiff:  high.Price() - low.Price(),
		DiscoveredAt:  discovered,
	}
	opp.ID = domain.OpportunityID(opp.DedupKey(), discovered)
	return opp
}

func leg(q domain.PriceQuote) domain.Leg {
	return domain.Leg{
		Venue:     q.Venue(),
		Price:     q.Price(),
		Volume24h: q.Volume24h,
		Liquidity: q.Liquidity,
		Chain:     q.Chain,
		Contract:  q.Contract,
		PairURL:   q.PairURL,
		QuotedAt:  q.Timestamp,
	}
}
