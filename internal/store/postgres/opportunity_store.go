package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates a new OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// legs is the JSONB column holding both full legs, so reads round-trip
// everything the flat columns leave out.
type legs struct {
	Buy  domain.Leg `json:"buy"`
	Sell domain.Leg `json:"sell"`
}

// dexLeg returns whichever leg is on-chain, if any.
func dexLeg(opp domain.SpreadOpportunity) domain.Leg {
	if opp.Buy.Market == domain.MarketDEX {
		return opp.Buy
	}
	if opp.Sell.Market == domain.MarketDEX {
		return opp.Sell
	}
	return domain.Leg{}
}

// Insert stores an opportunity. Re-inserting the same ID is a no-op.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.SpreadOpportunity, notified bool) error {
	const query = `
		INSERT INTO opportunities (
			id, token, dedup_key,
			buy_exchange, buy_market, buy_price, buy_volume_24h, buy_liquidity,
			sell_exchange, sell_market, sell_price, sell_volume_24h, sell_liquidity,
			spread_percent, absolute_diff, chain, contract, pair_url,
			legs, notified, discovered_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21
		)
		ON CONFLICT (id) DO NOTHING`

	raw, err := json.Marshal(legs{Buy: opp.Buy, Sell: opp.Sell})
	if err != nil {
		return fmt.Errorf("postgres: marshal legs %s: %w", opp.ID, err)
	}
	dex := dexLeg(opp)

	_, err = s.pool.Exec(ctx, query,
		opp.ID, string(opp.Token), string(opp.DedupKey()),
		string(opp.Buy.Exchange), string(opp.Buy.Market), opp.Buy.Price, opp.Buy.Volume24h, opp.Buy.Liquidity,
		string(opp.Sell.Exchange), string(opp.Sell.Market), opp.Sell.Price, opp.Sell.Volume24h, opp.Sell.Liquidity,
		opp.SpreadPercent, opp.AbsoluteDiff, dex.Chain, dex.Contract, dex.PairURL,
		raw, notified, opp.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// ListRecent returns the most recent opportunities ordered by discovery time.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.SpreadOpportunity, error) {
	query := `SELECT id::text, token, spread_percent, absolute_diff, legs, discovered_at
		FROM opportunities ORDER BY discovered_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	var opps []domain.SpreadOpportunity
	for rows.Next() {
		var (
			opp   domain.SpreadOpportunity
			token string
			raw   []byte
		)
		if err := rows.Scan(&opp.ID, &token, &opp.SpreadPercent, &opp.AbsoluteDiff, &raw, &opp.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("postgres: scan opportunity: %w", err)
		}
		var l legs
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("postgres: decode legs %s: %w", opp.ID, err)
		}
		opp.Token = domain.TokenSymbol(token)
		opp.Buy, opp.Sell = l.Buy, l.Sell
		opps = append(opps, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities rows: %w", err)
	}
	return opps, nil
}

var _ domain.OpportunityStore = (*OpportunityStore)(nil)
