package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"skylark/internal/core/engine"
	"skylark/internal/core/posts"
)

// QueryHandler serves keyset-paginated reads over stored posts
type QueryHandler struct {
	engine *engine.Engine
}

func NewQueryHandler(e *engine.Engine) *QueryHandler {
	return &QueryHandler{engine: e}
}

// HandleQuery handles GET /api/posts
// GET /api/posts?provider=bluesky&contains=golang&limit=25&after_key=...
func (h *QueryHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req := parseQueryRequest(r)

	page, err := h.engine.Query(r.Context(), "posts", req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func parseQueryRequest(r *http.Request) posts.QueryRequest {
	q := r.URL.Query()
	req := posts.QueryRequest{
		Provider: q.Get("provider"),
		Since:    q.Get("since"),
		Until:    q.Get("until"),
		Author:   q.Get("author"),
		Contains: q.Get("contains"),
		AfterKey: q.Get("after_key"),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = limit
		}
	}

	// project is a comma-separated field list
	if project := q.Get("project"); project != "" {
		for _, field := range strings.Split(project, ",") {
			if field = strings.TrimSpace(field); field != "" {
				req.Project = append(req.Project, field)
			}
		}
	}

	return req
}
