package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// CycleStore implements domain.CycleStore using PostgreSQL.
type CycleStore struct {
	pool *pgxpool.Pool
}

// NewCycleStore creates a new CycleStore backed by the given connection pool.
func NewCycleStore(pool *pgxpool.Pool) *CycleStore {
	return &CycleStore{pool: pool}
}

// InsertCycle stores the statistics of one cycle.
func (s *CycleStore) InsertCycle(ctx context.Context, st domain.CycleStats) error {
	const query = `
		INSERT INTO cycle_stats (
			id, started_at, duration_ms, tokens, batches, tasks,
			fetched, failed, timed_out, eligible, opportunities,
			notified, suppressed, notify_failures, discarded, failures
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)
		ON CONFLICT (id) DO NOTHING`

	discarded, err := json.Marshal(nonNil(st.Discarded))
	if err != nil {
		return fmt.Errorf("postgres: marshal discards %s: %w", st.ID, err)
	}
	failures, err := json.Marshal(nonNil(st.FailuresByExch))
	if err != nil {
		return fmt.Errorf("postgres: marshal failures %s: %w", st.ID, err)
	}

	_, err = s.pool.Exec(ctx, query,
		st.ID, st.StartedAt, st.Duration.Milliseconds(), st.Tokens, st.Batches, st.Tasks,
		st.Fetched, st.Failed, st.TimedOut, st.Eligible, st.Opportunities,
		st.Notified, st.Suppressed, st.NotifyFailures, discarded, failures,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert cycle %s: %w", st.ID, err)
	}
	return nil
}

func nonNil[K comparable](m map[K]int) map[K]int {
	if m == nil {
		return map[K]int{}
	}
	return m
}

var _ domain.CycleStore = (*CycleStore)(nil)
