package journal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	s3blob "github.com/alanyoungcy/spreadbot/internal/blob/s3"
	"github.com/alanyoungcy/spreadbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memStores struct {
	mu       sync.Mutex
	opps     []domain.SpreadOpportunity
	notified []bool
	cycles   []domain.CycleStats
	reports  []s3blob.CycleReport
	failOpp  bool
}

func (m *memStores) Insert(_ context.Context, opp domain.SpreadOpportunity, notified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOpp {
		return errors.New("db down")
	}
	m.opps = append(m.opps, opp)
	m.notified = append(m.notified, notified)
	return nil
}

func (m *memStores) ListRecent(context.Context, int) ([]domain.SpreadOpportunity, error) {
	return nil, nil
}

func (m *memStores) InsertCycle(_ context.Context, s domain.CycleStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, s)
	return nil
}

func (m *memStores) Archive(_ context.Context, r s3blob.CycleReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *memStores) counts() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.opps), len(m.cycles), len(m.reports)
}

func TestJournalWritesAndArchivesPerCycle(t *testing.T) {
	m := &memStores{}
	j := New(m, m, m, 16, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { _ = j.Run(ctx); close(done) }()

	j.RecordOpportunity(domain.SpreadOpportunity{ID: "a", Token: "ABC"}, true)
	j.RecordOpportunity(domain.SpreadOpportunity{ID: "b", Token: "XYZ"}, false)
	j.RecordCycle(domain.CycleStats{ID: "c1"})

	require.Eventually(t, func() bool {
		o, c, r := m.counts()
		return o == 2 && c == 1 && r == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []bool{true, false}, m.notified)
	require.Len(t, m.reports[0].Opportunities, 2)
	assert.Equal(t, "c1", m.reports[0].Cycle.ID)
}

func TestJournalDropsWhenFull(t *testing.T) {
	m := &memStores{}
	j := New(m, m, nil, 2, testLogger())
	for i := 0; i < 5; i++ {
		j.RecordOpportunity(domain.SpreadOpportunity{ID: "x"}, true)
	}
	assert.Equal(t, int64(3), j.Dropped())
}

func TestJournalFlushesOnShutdown(t *testing.T) {
	m := &memStores{}
	j := New(m, m, nil, 8, testLogger())
	j.RecordOpportunity(domain.SpreadOpportunity{ID: "a"}, true)
	j.RecordCycle(domain.CycleStats{ID: "c1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	o, c, _ := m.counts()
	assert.Equal(t, 1, o)
	assert.Equal(t, 1, c)
}

func TestJournalStoreFailureIsLogged(t *testing.T) {
	m := &memStores{failOpp: true}
	j := New(m, nil, m, 8, testLogger())
	j.RecordOpportunity(domain.SpreadOpportunity{ID: "a"}, true)
	j.RecordCycle(domain.CycleStats{ID: "c1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))

	require.Len(t, m.reports, 1)
	assert.Len(t, m.reports[0].Opportunities, 1, "report still carries the opportunity")
}
