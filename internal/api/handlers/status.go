package handlers

import (
	"net/http"
	"strconv"

	"skylark/internal/core/engine"
	"skylark/internal/core/status"
)

// StatusHandler reports stored cursors and recent fetch jobs
type StatusHandler struct {
	engine *engine.Engine
}

func NewStatusHandler(e *engine.Engine) *StatusHandler {
	return &StatusHandler{engine: e}
}

// HandleStatus handles GET /api/status
// GET /api/status?provider=bluesky&source=search:golang&limit_jobs=5
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := status.Request{
		Provider: q.Get("provider"),
		Source:   q.Get("source"),
	}
	if limitStr := q.Get("limit_jobs"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			req.LimitJobs = limit
		}
	}

	snapshot, err := h.engine.Status(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}
