package posts

import (
	"context"
	"fmt"

	"skylark/internal/keyset"
	"skylark/internal/timeutil"
)

const defaultQueryLimit = 50

// defaultProjection is the field set returned when the caller does not
// request one.
var defaultProjection = []string{"id", "provider", "external_id", "author_id", "created_at", "text"}

// recognizedFields are the projectable columns. Requested fields outside
// this set are dropped silently.
var recognizedFields = map[string]bool{
	"id":          true,
	"provider":    true,
	"external_id": true,
	"author_id":   true,
	"created_at":  true,
	"text":        true,
	"lang":        true,
}

// QueryRequest carries caller-facing query parameters. Since and Until
// accept RFC 3339 / ISO 8601 strings; AfterKey is an opaque token from a
// previous page.
type QueryRequest struct {
	Provider string
	Since    string
	Until    string
	Author   string
	Contains string
	Limit    int
	AfterKey string
	Project  []string
}

// Page is the query result envelope. NextAfterKey is nil on the last page.
type Page struct {
	Items        []map[string]any `json:"items"`
	NextAfterKey *string          `json:"next_after_key"`
	Count        int              `json:"count"`
}

// Service provides keyset-paginated reads over the canonical post table.
type Service struct {
	store Store
}

// NewService creates a query service over an opened store.
func NewService(store Store) *Service {
	if store == nil {
		panic("posts: store cannot be nil")
	}
	return &Service{store: store}
}

// Query runs one page of the filtered scan and projects rows to documents.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*Page, error) {
	filter, err := buildFilter(req)
	if err != nil {
		return nil, err
	}

	rows, nextKey, err := s.store.QueryPosts(ctx, filter)
	if err != nil {
		return nil, err
	}

	fields := buildProjection(req.Project)
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, projectRow(row, fields))
	}

	var nextToken *string
	if nextKey != nil {
		token := keyset.Encode(*nextKey)
		nextToken = &token
	}
	return &Page{Items: items, NextAfterKey: nextToken, Count: len(items)}, nil
}

func buildFilter(req QueryRequest) (QueryFilter, error) {
	filter := QueryFilter{
		Provider: req.Provider,
		Author:   req.Author,
		Contains: req.Contains,
		Limit:    req.Limit,
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultQueryLimit
	}

	since, err := timeutil.ParseUTC(req.Since)
	if err != nil {
		return QueryFilter{}, fmt.Errorf("since: %w", err)
	}
	if !since.IsZero() {
		filter.Since = &since
	}

	until, err := timeutil.ParseUTC(req.Until)
	if err != nil {
		return QueryFilter{}, fmt.Errorf("until: %w", err)
	}
	if !until.IsZero() {
		filter.Until = &until
	}

	if req.AfterKey != "" {
		key, err := keyset.Decode(req.AfterKey)
		if err != nil {
			return QueryFilter{}, err
		}
		filter.After = &key
	}
	return filter, nil
}

// buildProjection intersects the requested fields with the recognized set,
// keeping request order. An empty request selects the default projection.
func buildProjection(requested []string) []string {
	if len(requested) == 0 {
		return defaultProjection
	}
	fields := make([]string, 0, len(requested))
	for _, field := range requested {
		if recognizedFields[field] {
			fields = append(fields, field)
		}
	}
	return fields
}

func projectRow(row PostRow, fields []string) map[string]any {
	item := make(map[string]any, len(fields))
	for _, field := range fields {
		switch field {
		case "id":
			item["id"] = row.ID
		case "provider":
			item["provider"] = row.Provider
		case "external_id":
			item["external_id"] = row.ExternalID
		case "author_id":
			item["author_id"] = row.AuthorID
		case "created_at":
			item["created_at"] = timeutil.FormatRFC3339Z(row.CreatedAt)
		case "text":
			item["text"] = row.Text
		case "lang":
			item["lang"] = row.Lang
		}
	}
	return item
}
