package posts

import (
	"context"
	"time"

	"skylark/internal/keyset"
)

// PostInsert pairs a post row with its author's external ID, resolved to a
// row reference during persistence, plus any media descriptors.
type PostInsert struct {
	Post             Post
	AuthorExternalID string
	Media            []Media
}

// PageInsert is one provider page staged for atomic persistence. Items must
// already be filtered to the collection window; Authors carries each item
// author exactly once.
type PageInsert struct {
	Provider string
	Authors  []Author
	Posts    []PostInsert
}

// PageResult reports the outcome of persisting one page.
type PageResult struct {
	Inserted  int
	Conflicts int
}

// CursorUpdate stages a cursor upsert applied atomically with job
// finalization.
type CursorUpdate struct {
	Provider string
	SourceID int64
	Position Document
}

// Store is the persistence contract of the collection pipeline. All methods
// are safe for concurrent use; write methods commit atomically.
type Store interface {
	// UpsertProvider creates the provider row or refreshes its version and
	// capabilities.
	UpsertProvider(ctx context.Context, p Provider) error

	// UpsertSource creates the (provider, descriptor) scope when missing and
	// returns the stored row.
	UpsertSource(ctx context.Context, s Source) (*Source, error)

	// InsertPosts persists one page atomically. Authors are inserted
	// ignore-on-conflict and keep their first-write attributes; posts whose
	// (provider, external_id) already exists count as conflicts.
	InsertPosts(ctx context.Context, page PageInsert) (*PageResult, error)

	// StartJob opens a running fetch job and returns it.
	StartJob(ctx context.Context, provider string, sourceID int64, startedAt time.Time) (*FetchJob, error)

	// FinishJob finalizes a job's status, finish time, and stats. When
	// cursor is non-nil its position is upserted in the same transaction.
	FinishJob(ctx context.Context, jobID int64, status string, finishedAt time.Time, stats Document, cursor *CursorUpdate) error

	// QueryPosts runs a filtered scan in (created_at DESC, id DESC) order,
	// probing one row past filter.Limit. The returned key is non-nil only
	// when another page exists.
	QueryPosts(ctx context.Context, filter QueryFilter) ([]PostRow, *keyset.Key, error)

	// ListCursorStates returns cursor rows matching the optional provider
	// and source descriptor filters, sorted by (provider, source).
	ListCursorStates(ctx context.Context, provider, source string) ([]CursorState, error)

	// ListJobStates returns the most recent jobs matching the optional
	// filters, newest first.
	ListJobStates(ctx context.Context, provider, source string, limit int) ([]JobState, error)

	// Close releases the underlying database handle.
	Close() error
}
