package handlers

import (
	"encoding/json"
	"net/http"

	"skylark/internal/core/collect"
	"skylark/internal/core/engine"
	"skylark/internal/providers"
)

// CollectHandler triggers ingestion runs
type CollectHandler struct {
	engine *engine.Engine
}

func NewCollectHandler(e *engine.Engine) *CollectHandler {
	return &CollectHandler{engine: e}
}

type collectRequest struct {
	Provider  string `json:"provider"`
	Source    string `json:"source"`
	Q         string `json:"q"`
	Since     string `json:"since"`
	Until     string `json:"until"`
	PageLimit int    `json:"page_limit"`
	Limit     *int   `json:"limit"`
	Auth      struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	} `json:"auth"`
}

// HandleCollect handles POST /api/collect
// Runs one ingestion pass and returns the job report
func (h *CollectHandler) HandleCollect(w http.ResponseWriter, r *http.Request) {
	// Reports are small; requests are too
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req collectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	report, err := h.engine.Collect(r.Context(), collect.Request{
		Provider:  req.Provider,
		Source:    req.Source,
		Q:         req.Q,
		Since:     req.Since,
		Until:     req.Until,
		PageLimit: req.PageLimit,
		Limit:     req.Limit,
		Options: providers.Options{
			Auth: providers.AuthOptions{
				Identifier: req.Auth.Identifier,
				Password:   req.Auth.Password,
			},
		},
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
