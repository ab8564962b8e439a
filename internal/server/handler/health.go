package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// CycleSource reports the most recent cycle.
type CycleSource interface {
	LastCycle() domain.CycleStats
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks    map[string]CheckFunc
	cycles    CycleSource
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewHealthHandler creates a HealthHandler. checks and cycles may be nil.
func NewHealthHandler(mode string, checks map[string]CheckFunc, cycles CycleSource, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		cycles:    cycles,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// HealthCheck reports liveness, dependency checks and the last cycle. A
// failing dependency turns the status to "degraded" with a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status, code := "ok", http.StatusOK
	deps := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("dependency", name),
				slog.String("error", err.Error()),
			)
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"dependencies":   deps,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if h.cycles != nil {
		if last := h.cycles.LastCycle(); last.ID != "" {
			body["last_cycle"] = last
		}
	}
	writeJSON(w, code, body)
}
