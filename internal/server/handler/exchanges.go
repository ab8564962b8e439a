package handler

import (
	"net/http"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

// DegradedSource lists exchanges disabled after a permanent failure.
type DegradedSource interface {
	DegradedSet() map[domain.ExchangeID]string
}

// BudgetSource reports unused rate budget.
type BudgetSource interface {
	Remaining(exchange domain.ExchangeID, class domain.EndpointClass) int
}

// ExchangeHandler serves per-exchange status.
type ExchangeHandler struct {
	handles  []domain.ExchangeHandle
	degraded DegradedSource
	budget   BudgetSource
}

// NewExchangeHandler creates an ExchangeHandler.
func NewExchangeHandler(handles []domain.ExchangeHandle, degraded DegradedSource, budget BudgetSource) *ExchangeHandler {
	return &ExchangeHandler{handles: handles, degraded: degraded, budget: budget}
}

type limitView struct {
	Capacity  int    `json:"capacity"`
	Window    string `json:"window"`
	Remaining int    `json:"remaining"`
}

type exchangeView struct {
	ID             domain.ExchangeID     `json:"id"`
	Kind           domain.ExchangeKind   `json:"kind"`
	Markets        []domain.MarketType   `json:"markets"`
	Active         bool                  `json:"active"`
	Compare        bool                  `json:"compare"`
	Degraded       bool                  `json:"degraded"`
	DegradedReason string                `json:"degraded_reason,omitempty"`
	Budgets        map[string]*limitView `json:"budgets"`
}

// List reports every configured exchange with its budgets and headroom.
// Remaining is -1 when the limiter backend cannot report usage.
// GET /api/exchanges
func (h *ExchangeHandler) List(w http.ResponseWriter, r *http.Request) {
	var degraded map[domain.ExchangeID]string
	if h.degraded != nil {
		degraded = h.degraded.DegradedSet()
	}

	out := make([]exchangeView, 0, len(h.handles))
	for _, hd := range h.handles {
		reason, isDegraded := degraded[hd.ID]
		v := exchangeView{
			ID:             hd.ID,
			Kind:           hd.Kind,
			Markets:        hd.Markets,
			Active:         hd.Active,
			Compare:        hd.Compare,
			Degraded:       isDegraded,
			DegradedReason: reason,
			Budgets:        map[string]*limitView{},
		}
		for class, lim := range map[domain.EndpointClass]domain.Limit{
			domain.ClassMarket:  hd.Profile.Market,
			domain.ClassPrivate: hd.Profile.Private,
			domain.ClassIP:      hd.Profile.IP,
		} {
			if lim.IsZero() {
				continue
			}
			lv := &limitView{Capacity: lim.Capacity, Window: lim.Window.String(), Remaining: -1}
			if h.budget != nil {
				lv.Remaining = h.budget.Remaining(hd.ID, class)
			}
			v.Budgets[string(class)] = lv
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": out})
}
