package handlers

import (
	"net/http"

	"skylark/internal/core/engine"
)

// ProvidersHandler lists registered providers
type ProvidersHandler struct {
	engine *engine.Engine
}

func NewProvidersHandler(e *engine.Engine) *ProvidersHandler {
	return &ProvidersHandler{engine: e}
}

// HandleList handles GET /api/providers
func (h *ProvidersHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"providers": h.engine.Registry().Available(),
	})
}
