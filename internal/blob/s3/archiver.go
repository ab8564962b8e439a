package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// CycleReport is the archived document of one cycle.
type CycleReport struct {
	Cycle         domain.CycleStats          `json:"cycle"`
	Opportunities []domain.SpreadOpportunity `json:"opportunities"`
}

// Archiver writes one JSON report per cycle.
type Archiver struct {
	w      domain.BlobWriter
	prefix string
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(w domain.BlobWriter, prefix string) *Archiver {
	return &Archiver{w: w, prefix: prefix}
}

// Key returns the object key of a cycle report, partitioned by day so that
// lifecycle rules can expire old reports by prefix.
func (a *Archiver) Key(stats domain.CycleStats) string {
	t := stats.StartedAt.UTC()
	return path.Join(a.prefix, "cycles", t.Format("2006/01/02"), t.Format("150405")+"-"+stats.ID+".json")
}

// Archive uploads the report of one cycle.
func (a *Archiver) Archive(ctx context.Context, report CycleReport) error {
	if report.Opportunities == nil {
		report.Opportunities = []domain.SpreadOpportunity{}
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("s3blob: marshal cycle report %s: %w", report.Cycle.ID, err)
	}
	key := a.Key(report.Cycle)
	if err := a.w.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("s3blob: archive cycle %s: %w", report.Cycle.ID, err)
	}
	return nil
}
