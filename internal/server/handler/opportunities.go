package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// RecentSource is the engine's in-memory alert ring.
type RecentSource interface {
	Recent(limit int) []domain.SpreadOpportunity
}

// OpportunityHandler serves recent opportunities.
type OpportunityHandler struct {
	recent RecentSource
	store  domain.OpportunityStore
	logger *slog.Logger
}

// NewOpportunityHandler creates an OpportunityHandler. store may be nil, in
// which case ?source=db is rejected.
func NewOpportunityHandler(recent RecentSource, store domain.OpportunityStore, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{recent: recent, store: store, logger: logger}
}

// ListRecent returns the newest notified opportunities from memory, or from
// the database with ?source=db.
// GET /api/opportunities?limit=N[&source=db]
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)

	if r.URL.Query().Get("source") == "db" {
		if h.store == nil {
			writeError(w, http.StatusNotImplemented, "persistence is not configured")
			return
		}
		opps, err := h.store.ListRecent(r.Context(), limit)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list opportunities failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list opportunities")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"opportunities": nonNil(opps), "count": len(opps)})
		return
	}

	opps := h.recent.Recent(limit)
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": nonNil(opps), "count": len(opps)})
}

func nonNil(opps []domain.SpreadOpportunity) []domain.SpreadOpportunity {
	if opps == nil {
		return []domain.SpreadOpportunity{}
	}
	return opps
}
