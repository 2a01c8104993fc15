package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"skylark/internal/api/handlers"
	"skylark/internal/core/engine"
)

// Register mounts the ingestion and query API on the router
func Register(r chi.Router, e *engine.Engine) {
	collectHandler := handlers.NewCollectHandler(e)
	queryHandler := handlers.NewQueryHandler(e)
	statusHandler := handlers.NewStatusHandler(e)
	providersHandler := handlers.NewProvidersHandler(e)

	// POST /api/collect - run one ingestion pass for a provider scope
	r.Post("/api/collect", collectHandler.HandleCollect)

	// GET /api/posts - keyset-paginated reads over stored posts
	r.Get("/api/posts", queryHandler.HandleQuery)

	// GET /api/status - stored cursors plus recent fetch jobs
	r.Get("/api/status", statusHandler.HandleStatus)

	// GET /api/providers - registered provider names
	r.Get("/api/providers", providersHandler.HandleList)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}
