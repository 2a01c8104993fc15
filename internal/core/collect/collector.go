// Package collect implements the collection orchestrator. A run drives one
// configured provider through its opaque cursor chain, applies the requested
// time window locally, persists every page in its own transaction, and
// records the whole run as a fetch job.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"skylark/internal/core/posts"
	"skylark/internal/providers"
	"skylark/internal/timeutil"
)

// ErrInvalidArgument is returned when a collection request violates its
// contract before any provider traffic happens.
var ErrInvalidArgument = errors.New("invalid argument")

const (
	defaultPageLimit = 100
	maxPageLimit     = 100
)

// Request parametrizes one collection run. Exactly one of Source or Q must
// be set. A nil Limit collects until the provider is exhausted; a zero Limit
// performs no provider calls.
type Request struct {
	Provider  string
	Source    string
	Q         string
	Since     string
	Until     string
	PageLimit int
	Limit     *int
	Options   providers.Options
}

// Report summarizes a finished collection run.
type Report struct {
	JobID        int64     `json:"job_id"`
	Provider     string    `json:"provider"`
	Source       string    `json:"source"`
	Inserted     int       `json:"inserted"`
	Conflicts    int       `json:"conflicts"`
	Pages        int       `json:"pages"`
	ReachedUntil bool      `json:"reached_until"`
	LastCursor   *string   `json:"last_cursor"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Warnings     []string  `json:"warnings"`
}

// Collector orchestrates providers against the canonical store.
type Collector struct {
	store    posts.Store
	registry *providers.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithLogger sets the run logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Collector) { c.logger = logger }
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector. A nil registry selects the process-wide default.
func New(store posts.Store, registry *providers.Registry, opts ...Option) *Collector {
	if store == nil {
		panic("collect: store cannot be nil")
	}
	if registry == nil {
		registry = providers.Default()
	}
	c := &Collector{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect runs one collection: resolve the provider, configure a session,
// page through results, and finalize the fetch job. On a paging failure the
// job is marked failed and the original error is returned unchanged; pages
// committed before the failure are retained. Each run starts from a nil
// cursor rather than the persisted one, relying on conflict dedup to skip
// overlap.
func (c *Collector) Collect(ctx context.Context, req Request) (*Report, error) {
	params, err := validate(req)
	if err != nil {
		return nil, err
	}

	provider, err := c.registry.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	session, err := provider.Configure(ctx, req.Options)
	if err != nil {
		return nil, err
	}
	for _, warning := range session.Warnings {
		c.logger.Warn("provider session warning", "provider", session.Provider, "warning", warning)
	}

	if err := c.store.UpsertProvider(ctx, posts.Provider{
		Name:         session.Provider,
		Version:      provider.Version(),
		Capabilities: session.Capabilities,
	}); err != nil {
		return nil, err
	}
	source, err := c.store.UpsertSource(ctx, posts.Source{
		Provider:   session.Provider,
		Descriptor: params.descriptor,
	})
	if err != nil {
		return nil, err
	}

	startedAt := c.now().UTC()
	job, err := c.store.StartJob(ctx, session.Provider, source.ID, startedAt)
	if err != nil {
		return nil, err
	}

	run, runErr := c.run(ctx, provider, session, params)

	finishedAt := c.now().UTC()
	stats := posts.Document{
		"inserted":  run.inserted,
		"conflicts": run.conflicts,
		"pages":     nil,
	}

	if runErr != nil {
		jobsTotal.WithLabelValues(session.Provider, posts.JobFailed).Inc()
		// The job must be finalized even when the run was canceled.
		finishCtx := context.WithoutCancel(ctx)
		if finishErr := c.store.FinishJob(finishCtx, job.ID, posts.JobFailed, finishedAt, stats, nil); finishErr != nil {
			c.logger.Warn("failed to finalize failed job", "job_id", job.ID, "error", finishErr.Error())
		}
		c.logger.Warn("collection failed",
			"provider", session.Provider,
			"source", params.descriptor,
			"pages", run.pages,
			"error", runErr.Error(),
		)
		return nil, runErr
	}

	var cursorUpdate *posts.CursorUpdate
	if run.lastCursor != nil {
		cursorUpdate = &posts.CursorUpdate{
			Provider: session.Provider,
			SourceID: source.ID,
			Position: posts.Document{"cursor": *run.lastCursor},
		}
	}
	if err := c.store.FinishJob(ctx, job.ID, posts.JobSucceeded, finishedAt, stats, cursorUpdate); err != nil {
		return nil, err
	}
	jobsTotal.WithLabelValues(session.Provider, posts.JobSucceeded).Inc()

	c.logger.Info("collection finished",
		"provider", session.Provider,
		"source", params.descriptor,
		"pages", run.pages,
		"inserted", run.inserted,
		"conflicts", run.conflicts,
		"reached_until", run.reachedUntil,
	)

	return &Report{
		JobID:        job.ID,
		Provider:     session.Provider,
		Source:       params.descriptor,
		Inserted:     run.inserted,
		Conflicts:    run.conflicts,
		Pages:        run.pages,
		ReachedUntil: run.reachedUntil,
		LastCursor:   run.lastCursor,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
		Warnings:     session.Warnings,
	}, nil
}

type runParams struct {
	descriptor string
	q          string
	source     string
	pageLimit  int
	limit      *int
	since      time.Time
	until      time.Time
}

func validate(req Request) (*runParams, error) {
	if strings.TrimSpace(req.Provider) == "" {
		return nil, fmt.Errorf("%w: provider is required", ErrInvalidArgument)
	}

	hasSource := req.Source != ""
	hasQ := req.Q != ""
	if hasSource == hasQ {
		return nil, fmt.Errorf("%w: exactly one of source or q must be provided", ErrInvalidArgument)
	}

	pageLimit := req.PageLimit
	if pageLimit == 0 {
		pageLimit = defaultPageLimit
	}
	if pageLimit > maxPageLimit {
		pageLimit = maxPageLimit
	}
	if pageLimit < 1 {
		pageLimit = 1
	}

	since, err := timeutil.ParseUTC(req.Since)
	if err != nil {
		return nil, fmt.Errorf("%w: since: %w", ErrInvalidArgument, err)
	}
	until, err := timeutil.ParseUTC(req.Until)
	if err != nil {
		return nil, fmt.Errorf("%w: until: %w", ErrInvalidArgument, err)
	}

	descriptor := req.Source
	if hasQ {
		descriptor = "search:" + req.Q
	}

	return &runParams{
		descriptor: descriptor,
		q:          req.Q,
		source:     req.Source,
		pageLimit:  pageLimit,
		limit:      req.Limit,
		since:      since,
		until:      until,
	}, nil
}

type runState struct {
	inserted     int
	conflicts    int
	pages        int
	reachedUntil bool
	lastCursor   *string
}

// run executes the paging loop. It returns partial state alongside any
// error so the caller can record what was committed before the failure.
func (c *Collector) run(ctx context.Context, provider providers.Provider, session *providers.Session, params *runParams) (*runState, error) {
	state := &runState{}

	bounded := params.limit != nil
	remaining := 0
	if bounded {
		remaining = *params.limit
		if remaining <= 0 {
			return state, nil
		}
	}

	pageSize := params.pageLimit
	if max := session.Defaults.PageLimitMax; max > 0 && pageSize > max {
		pageSize = max
	}

	filters := providers.Filters{}
	if params.q != "" {
		filters.Q = params.q
	} else {
		filters.Author = &providers.AuthorFilter{Handle: params.source}
	}
	if !params.since.IsZero() {
		since := params.since
		filters.Since = &since
	}
	if !params.until.IsZero() {
		until := params.until
		filters.Until = &until
	}

	var cursor *string
	for {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("collection canceled: %w", err)
		}

		requestLimit := pageSize
		if bounded && remaining < requestLimit {
			requestLimit = remaining
		}

		batch, err := provider.FetchSince(ctx, cursor, requestLimit, filters)
		if err != nil {
			return state, err
		}
		state.pages++
		pagesTotal.WithLabelValues(session.Provider).Inc()

		page, skipped, minCreated := buildPage(session.Provider, batch.Items, params)
		result, err := c.store.InsertPosts(ctx, page)
		if err != nil {
			return state, err
		}
		state.inserted += result.Inserted
		state.conflicts += result.Conflicts
		insertedTotal.WithLabelValues(session.Provider).Add(float64(result.Inserted))
		conflictsTotal.WithLabelValues(session.Provider).Add(float64(result.Conflicts))

		if batch.NextCursor != nil && *batch.NextCursor != "" {
			cursor = batch.NextCursor
			state.lastCursor = batch.NextCursor
		} else {
			cursor = nil
		}

		if !params.since.IsZero() && !minCreated.IsZero() && minCreated.Before(params.since) {
			state.reachedUntil = true
		}
		if batch.ReachedUntil {
			state.reachedUntil = true
		}

		if bounded {
			remaining -= len(batch.Items)
			if remaining < 0 {
				remaining = 0
			}
		}

		c.logger.Debug("collected page",
			"provider", session.Provider,
			"source", params.descriptor,
			"items", len(batch.Items),
			"inserted", result.Inserted,
			"conflicts", result.Conflicts,
			"window_skipped", skipped,
		)

		if cursor == nil || len(batch.Items) == 0 || state.reachedUntil || (bounded && remaining == 0) {
			break
		}
	}
	return state, nil
}

// buildPage filters batch items to the requested window and stages them for
// persistence. It also reports how many items the window skipped and the
// minimum created_at across the raw batch, which drives backfill
// termination.
func buildPage(providerName string, items []providers.Post, params *runParams) (posts.PageInsert, int, time.Time) {
	page := posts.PageInsert{Provider: providerName}
	var minCreated time.Time
	skipped := 0
	seenAuthors := make(map[string]bool, len(items))

	for _, item := range items {
		if minCreated.IsZero() || item.CreatedAt.Before(minCreated) {
			minCreated = item.CreatedAt
		}
		if !params.since.IsZero() && item.CreatedAt.Before(params.since) {
			skipped++
			continue
		}
		if !params.until.IsZero() && item.CreatedAt.After(params.until) {
			skipped++
			continue
		}

		if !seenAuthors[item.Author.ExternalID] {
			seenAuthors[item.Author.ExternalID] = true
			page.Authors = append(page.Authors, posts.Author{
				Provider:    providerName,
				ExternalID:  item.Author.ExternalID,
				Handle:      item.Author.Handle,
				DisplayName: item.Author.DisplayName,
				Metadata:    authorMetadata(item.Author),
			})
		}

		page.Posts = append(page.Posts, posts.PostInsert{
			Post: posts.Post{
				Provider:    providerName,
				ExternalID:  item.ExternalID,
				Text:        item.Text,
				Lang:        item.Lang,
				CreatedAt:   item.CreatedAt,
				CollectedAt: item.CollectedAt,
				Metrics:     metricsDocument(item.Metrics),
				Entities:    entitiesDocument(item.Entities),
			},
			AuthorExternalID: item.Author.ExternalID,
			Media:            mediaRows(item.Entities.Media),
		})
	}
	return page, skipped, minCreated
}
