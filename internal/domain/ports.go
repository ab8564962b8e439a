package domain

import (
	"context"
	"time"
)

// Adapter is the market-data surface of a centralized exchange.
type Adapter interface {
	ID() ExchangeID
	ListTradablePairs(ctx context.Context, market MarketType) ([]TokenSymbol, error)
	GetPrice(ctx context.Context, token TokenSymbol, market MarketType) (PriceQuote, error)
	GetTransferStatus(ctx context.Context, token TokenSymbol) (TransferStatus, error)
}

// DexFeed looks up pools for a token on pool aggregators.
type DexFeed interface {
	ID() ExchangeID
	FindPools(ctx context.Context, token TokenSymbol) ([]DexPool, error)
}

// OpportunityStore persists detected opportunities.
type OpportunityStore interface {
	Insert(ctx context.Context, opp SpreadOpportunity, notified bool) error
	ListRecent(ctx context.Context, limit int) ([]SpreadOpportunity, error)
}

// CycleStore persists cycle statistics.
type CycleStore interface {
	InsertCycle(ctx context.Context, stats CycleStats) error
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// SignalBus publishes raw payloads on named channels.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// WindowStore keeps sliding-window rate accounting. Reserve checks every
// budget at once: when weight fits in all of them it is recorded in all of
// them and Reserve returns zero; otherwise nothing is recorded and Reserve
// returns the longest wait among the budgets that are full. Weight is clamped
// to each budget's capacity.
type WindowStore interface {
	Reserve(ctx context.Context, now time.Time, weight int, budgets ...Budget) (time.Duration, error)
}

// DedupStore claims a dedup key for a cool-down period. Claim returns true
// when the key was absent (or expired) and is now held until now+cooldown.
type DedupStore interface {
	Claim(ctx context.Context, key DedupKey, now time.Time, cooldown time.Duration) (bool, error)
}

// CycleLock serialises orchestration cycles across processes.
type CycleLock interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}
