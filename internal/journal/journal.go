// Package journal persists opportunities and cycle statistics behind the
// engine. Records are queued and written by a single goroutine so a slow or
// unavailable database never stalls a cycle; when the queue is full records
// are dropped with a warning.
package journal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	s3blob "github.com/alanyoungcy/spreadbot/internal/blob/s3"
	"github.com/alanyoungcy/spreadbot/internal/domain"
)

const (
	defaultBuffer = 1024
	writeTimeout  = 10 * time.Second
	flushTimeout  = 15 * time.Second
)

// CycleArchiver uploads a cycle report.
type CycleArchiver interface {
	Archive(ctx context.Context, report s3blob.CycleReport) error
}

type record struct {
	opp      *domain.SpreadOpportunity
	notified bool
	cycle    *domain.CycleStats
}

// Journal is the write-behind sink. Any of the three backends may be nil.
type Journal struct {
	opps     domain.OpportunityStore
	cycles   domain.CycleStore
	archiver CycleArchiver
	logger   *slog.Logger

	queue   chan record
	dropped atomic.Int64

	// pending collects the opportunities of the cycle being recorded; it is
	// only touched by the writer goroutine.
	pending []domain.SpreadOpportunity
}

// New creates a Journal with room for buffer queued records.
func New(opps domain.OpportunityStore, cycles domain.CycleStore, archiver CycleArchiver, buffer int, logger *slog.Logger) *Journal {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Journal{
		opps:     opps,
		cycles:   cycles,
		archiver: archiver,
		logger:   logger.With(slog.String("component", "journal")),
		queue:    make(chan record, buffer),
	}
}

// RecordOpportunity queues an opportunity.
func (j *Journal) RecordOpportunity(opp domain.SpreadOpportunity, notified bool) {
	j.enqueue(record{opp: &opp, notified: notified})
}

// RecordCycle queues cycle statistics. The cycle report archived alongside
// carries the opportunities recorded since the previous cycle.
func (j *Journal) RecordCycle(stats domain.CycleStats) {
	j.enqueue(record{cycle: &stats})
}

// Dropped returns how many records were discarded on a full queue.
func (j *Journal) Dropped() int64 { return j.dropped.Load() }

func (j *Journal) enqueue(r record) {
	select {
	case j.queue <- r:
	default:
		n := j.dropped.Add(1)
		j.logger.Warn("journal queue full, dropping record", slog.Int64("dropped_total", n))
	}
}

// Run writes queued records until ctx is done, then flushes what is left
// with a bounded timeout. Writes in flight are not cut short by ctx.
func (j *Journal) Run(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case r := <-j.queue:
			j.write(wctx, r)
		case <-ctx.Done():
			j.flush()
			return nil
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for ctx.Err() == nil {
		select {
		case r := <-j.queue:
			j.write(ctx, r)
		default:
			return
		}
	}
	if n := len(j.queue); n > 0 {
		j.logger.Warn("journal flush timed out", slog.Int("unwritten", n))
	}
}

func (j *Journal) write(ctx context.Context, r record) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	switch {
	case r.opp != nil:
		j.pending = append(j.pending, *r.opp)
		if j.opps == nil {
			return
		}
		if err := j.opps.Insert(ctx, *r.opp, r.notified); err != nil {
			j.logger.Error("persist opportunity failed",
				slog.String("id", r.opp.ID),
				slog.String("error", err.Error()),
			)
		}
	case r.cycle != nil:
		report := s3blob.CycleReport{Cycle: *r.cycle, Opportunities: j.pending}
		j.pending = nil
		if j.cycles != nil {
			if err := j.cycles.InsertCycle(ctx, *r.cycle); err != nil {
				j.logger.Error("persist cycle failed",
					slog.String("cycle_id", r.cycle.ID),
					slog.String("error", err.Error()),
				)
			}
		}
		if j.archiver != nil {
			if err := j.archiver.Archive(ctx, report); err != nil {
				j.logger.Error("archive cycle failed",
					slog.String("cycle_id", r.cycle.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
