// Package posts holds the canonical persisted model of the ingestion
// pipeline and the storage contract it runs against. Posts are append-only:
// a (provider, external_id) pair is inserted once and re-ingests count as
// conflicts rather than updates.
package posts

import "time"

// Document is a free-form JSON payload persisted as a single column.
type Document = map[string]any

// Fetch job statuses.
const (
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// Provider identifies a social network known to the store, with the
// capabilities its adapter declared at last use.
type Provider struct {
	Name         string
	Version      string
	Capabilities Document
}

// Source is one collection scope within a provider, unique by
// (provider, descriptor). Descriptors look like "@alice.bsky.social" or
// "search:golang".
type Source struct {
	ID         int64
	Provider   string
	Descriptor string
	Label      string
}

// Author is a canonical account, unique by (provider, external_id). Author
// rows are written once; later sightings never overwrite earlier attributes.
type Author struct {
	ID          int64
	Provider    string
	ExternalID  string
	Handle      string
	DisplayName string
	Metadata    Document
}

// Post is the core persisted entity, unique by (provider, external_id).
type Post struct {
	ID          int64
	Provider    string
	ExternalID  string
	AuthorID    int64
	Text        string
	Lang        string
	CreatedAt   time.Time
	CollectedAt time.Time
	Metrics     Document
	Entities    Document
}

// Media is one attachment reference owned by a post.
type Media struct {
	ID       int64
	PostID   int64
	Kind     string
	URL      string
	Metadata Document
}

// Cursor records ingestion continuity per (provider, source).
type Cursor struct {
	ID        int64
	Provider  string
	SourceID  int64
	Position  Document
	UpdatedAt time.Time
}

// FetchJob audits one collection run from start to terminal status.
type FetchJob struct {
	ID         int64
	Provider   string
	SourceID   int64
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Stats      Document
}

// CursorState is the status view of one cursor row.
type CursorState struct {
	Provider  string    `json:"provider"`
	Source    string    `json:"source"`
	Cursor    *string   `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobState is the status view of one fetch job row.
type JobState struct {
	ID         int64      `json:"id"`
	Provider   string     `json:"provider"`
	Source     string     `json:"source"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
	Status     string     `json:"status"`
	Stats      Document   `json:"stats"`
}
