// Package status reports stored cursor positions and recent fetch jobs.
package status

import (
	"context"

	"skylark/internal/core/posts"
)

const defaultJobLimit = 10

// Request narrows the snapshot to a provider or source scope. Zero values
// mean no filtering.
type Request struct {
	Provider  string
	Source    string
	LimitJobs int
}

// Snapshot is the observable ingestion state: one entry per stored cursor
// scope plus the most recent fetch jobs.
type Snapshot struct {
	Cursors []posts.CursorState `json:"cursors"`
	Jobs    []posts.JobState    `json:"jobs"`
}

type Service struct {
	store posts.Store
}

func NewService(store posts.Store) *Service {
	if store == nil {
		panic("status: store is required")
	}
	return &Service{store: store}
}

// Snapshot returns cursor states ordered by (provider, source) and jobs
// ordered newest first, both restricted by the request filters.
func (s *Service) Snapshot(ctx context.Context, req Request) (*Snapshot, error) {
	limit := req.LimitJobs
	if limit <= 0 {
		limit = defaultJobLimit
	}

	cursors, err := s.store.ListCursorStates(ctx, req.Provider, req.Source)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobStates(ctx, req.Provider, req.Source, limit)
	if err != nil {
		return nil, err
	}

	if cursors == nil {
		cursors = []posts.CursorState{}
	}
	if jobs == nil {
		jobs = []posts.JobState{}
	}
	return &Snapshot{Cursors: cursors, Jobs: jobs}, nil
}
