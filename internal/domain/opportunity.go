package domain

import (
	"time"

	"github.com/google/uuid"
)

// opportunityNamespace seeds deterministic opportunity IDs.
var opportunityNamespace = uuid.MustParse("0d6f7a52-3c1e-4b8e-9a57-2f1f4e3c9b10")

// Leg is one side of a spread.
type Leg struct {
	Venue
	Price     float64   `json:"price"`
	Volume24h float64   `json:"volume_24h"`
	Liquidity float64   `json:"liquidity,omitempty"`
	Chain     string    `json:"chain,omitempty"`
	Contract  string    `json:"contract,omitempty"`
	PairURL   string    `json:"pair_url,omitempty"`
	QuotedAt  time.Time `json:"quoted_at"`
	// Transfer is filled in after admission, only for alerts.
	Transfer TransferStatus `json:"transfer"`
}

// SpreadOpportunity is a qualifying price gap between two venues for the same
// token. Buy is the cheaper side, Sell the more expensive one.
type SpreadOpportunity struct {
	ID            string      `json:"id"`
	Token         TokenSymbol `json:"token"`
	Buy           Leg         `json:"buy"`
	Sell          Leg         `json:"sell"`
	SpreadPercent float64     `json:"spread_percent"`
	AbsoluteDiff  float64     `json:"absolute_diff"`
	DiscoveredAt  time.Time   `json:"discovered_at"`
}

// DedupKey returns the key used to suppress repeat alerts.
func (o SpreadOpportunity) DedupKey() DedupKey {
	return NewDedupKey(o.Token, o.Buy.Venue, o.Sell.Venue)
}

// OpportunityID derives a stable identifier from the dedup key and the
// discovery time, so recomputing an unchanged snapshot yields the same ID.
func OpportunityID(key DedupKey, discoveredAt time.Time) string {
	name := string(key) + "@" + discoveredAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(opportunityNamespace, []byte(name)).String()
}

// DedupKey is token plus the unordered pair of venues, rendered as
// "TOKEN|a:market|b:market" with the venues sorted.
type DedupKey string

// NewDedupKey builds the canonical key for token and the two venues in any
// order.
func NewDedupKey(token TokenSymbol, a, b Venue) DedupKey {
	as, bs := a.String(), b.String()
	if bs < as {
		as, bs = bs, as
	}
	return DedupKey(string(token) + "|" + as + "|" + bs)
}

// CycleStats summarises one orchestration cycle.
type CycleStats struct {
	ID             string             `json:"id"`
	StartedAt      time.Time          `json:"started_at"`
	Duration       time.Duration      `json:"duration_ns"`
	Tokens         int                `json:"tokens"`
	Batches        int                `json:"batches"`
	Tasks          int                `json:"tasks"`
	Fetched        int                `json:"fetched"`
	Failed         int                `json:"failed"`
	TimedOut       int                `json:"timed_out"`
	Eligible       int                `json:"eligible"`
	Opportunities  int                `json:"opportunities"`
	Notified       int                `json:"notified"`
	Suppressed     int                `json:"suppressed"`
	NotifyFailures int                `json:"notify_failures"`
	Discarded      map[string]int     `json:"discarded,omitempty"`
	FailuresByExch map[ExchangeID]int `json:"failures_by_exchange,omitempty"`
}
