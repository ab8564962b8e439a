package handler

import (
	"net/http"
	"time"
)

// StatusHandler serves build and runtime metadata.
type StatusHandler struct {
	Mode      string
	Channels  []string
	StartedAt time.Time
	cycles    CycleSource
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, channels []string, cycles CycleSource) *StatusHandler {
	return &StatusHandler{Mode: mode, Channels: channels, StartedAt: time.Now().UTC(), cycles: cycles}
}

// GetStatus responds with the mode, notification channels and last cycle.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"mode":       h.Mode,
		"channels":   h.Channels,
		"started_at": h.StartedAt.Format(time.RFC3339),
	}
	if h.cycles != nil {
		body["last_cycle"] = h.cycles.LastCycle()
	}
	writeJSON(w, http.StatusOK, body)
}
