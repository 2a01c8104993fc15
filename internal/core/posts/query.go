package posts

import (
	"time"

	"skylark/internal/keyset"
)

// QueryFilter narrows a keyset scan over posts. Zero values mean no filter.
// Author is matched as a handle when it starts with "@", otherwise as an
// external ID (and, for all-digit values, also as a local row id).
type QueryFilter struct {
	Provider string
	Since    *time.Time
	Until    *time.Time
	Author   string
	Contains string
	Limit    int
	After    *keyset.Key
}

// PostRow is the read-side row shape returned by keyset scans.
type PostRow struct {
	ID         int64     `json:"id"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id"`
	AuthorID   int64     `json:"author_id"`
	CreatedAt  time.Time `json:"created_at"`
	Text       string    `json:"text"`
	Lang       string    `json:"lang"`
}
