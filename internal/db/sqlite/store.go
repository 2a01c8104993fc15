package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"skylark/internal/core/posts"
	"skylark/internal/keyset"
)

// storedTimeLayout is fixed-width microsecond UTC so that lexicographic
// order of stored values matches chronological order in SQL comparisons.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(storedTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored timestamp %q: %w", s, err)
	}
	return t, nil
}

func marshalDoc(doc posts.Document) (string, error) {
	if doc == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(raw), nil
}

func unmarshalDoc(raw string) (posts.Document, error) {
	if raw == "" {
		return posts.Document{}, nil
	}
	var doc posts.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	return doc, nil
}

func authorCacheKey(provider, externalID string) string {
	return provider + "\x00" + externalID
}

// UpsertProvider creates the provider row or refreshes its version and
// capabilities.
func (s *Store) UpsertProvider(ctx context.Context, p posts.Provider) error {
	capabilities, err := marshalDoc(p.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO providers (name, version, capabilities)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			version = excluded.version,
			capabilities = excluded.capabilities`,
		p.Name, p.Version, capabilities)
	if err != nil {
		return fmt.Errorf("upserting provider %s: %w", p.Name, err)
	}
	return nil
}

// UpsertSource creates the (provider, descriptor) scope when missing and
// returns the stored row.
func (s *Store) UpsertSource(ctx context.Context, src posts.Source) (*posts.Source, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (provider, descriptor, label)
		VALUES (?, ?, ?)
		ON CONFLICT (provider, descriptor) DO NOTHING`,
		src.Provider, src.Descriptor, src.Label)
	if err != nil {
		return nil, fmt.Errorf("inserting source %s/%s: %w", src.Provider, src.Descriptor, err)
	}

	stored := &posts.Source{}
	err = s.db.QueryRowContext(ctx, `
		SELECT id, provider, descriptor, label
		FROM sources
		WHERE provider = ? AND descriptor = ?`,
		src.Provider, src.Descriptor).
		Scan(&stored.ID, &stored.Provider, &stored.Descriptor, &stored.Label)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s/%s: %w", src.Provider, src.Descriptor, posts.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading source %s/%s: %w", src.Provider, src.Descriptor, err)
	}
	return stored, nil
}

// InsertPosts persists one provider page atomically. Authors are inserted
// ignore-on-conflict so existing rows keep their first-write attributes.
// Posts already present count as conflicts, whether they were present before
// the page (precomputed set) or raced in during it (insert returning no id).
func (s *Store) InsertPosts(ctx context.Context, page posts.PageInsert) (*posts.PageResult, error) {
	result := &posts.PageResult{}
	if len(page.Posts) == 0 && len(page.Authors) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning ingest transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back ingest transaction", "error", rbErr.Error())
		}
	}()

	authorIDs, newAuthors, err := s.ensureAuthors(ctx, tx, page.Provider, page.Authors)
	if err != nil {
		return nil, err
	}

	existing, err := existingExternalIDs(ctx, tx, page.Provider, page.Posts)
	if err != nil {
		return nil, err
	}

	insertPost, err := tx.PrepareContext(ctx, `
		INSERT INTO posts (provider, external_id, author_id, text, lang, created_at, collected_at, metrics, entities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_id) DO NOTHING
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("preparing post insert: %w", err)
	}
	defer func() { _ = insertPost.Close() }()

	for _, item := range page.Posts {
		if existing[item.Post.ExternalID] {
			result.Conflicts++
			continue
		}

		authorID, ok := authorIDs[item.AuthorExternalID]
		if !ok {
			return nil, fmt.Errorf("post %s references unstaged author %s", item.Post.ExternalID, item.AuthorExternalID)
		}
		metrics, err := marshalDoc(item.Post.Metrics)
		if err != nil {
			return nil, err
		}
		entities, err := marshalDoc(item.Post.Entities)
		if err != nil {
			return nil, err
		}

		var postID int64
		err = insertPost.QueryRowContext(ctx,
			page.Provider,
			item.Post.ExternalID,
			authorID,
			item.Post.Text,
			item.Post.Lang,
			formatTime(item.Post.CreatedAt),
			formatTime(item.Post.CollectedAt),
			metrics,
			entities,
		).Scan(&postID)
		if errors.Is(err, sql.ErrNoRows) {
			// The row appeared after the existence check, within this page
			// or from a concurrent writer.
			result.Conflicts++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("inserting post %s: %w", item.Post.ExternalID, err)
		}

		if err := insertMedia(ctx, tx, postID, item.Media); err != nil {
			return nil, err
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing ingest transaction: %w", err)
	}

	// Cache author ids only once their rows are durable.
	for externalID, id := range newAuthors {
		s.authorIDs.Add(authorCacheKey(page.Provider, externalID), id)
	}
	return result, nil
}

// ensureAuthors inserts missing authors ignore-on-conflict and returns the
// id mapping by external ID, plus the subset resolved inside this
// transaction (cacheable only after commit).
func (s *Store) ensureAuthors(ctx context.Context, tx *sql.Tx, provider string, authors []posts.Author) (map[string]int64, map[string]int64, error) {
	ids := make(map[string]int64, len(authors))
	missing := make([]posts.Author, 0, len(authors))
	for _, author := range authors {
		if id, ok := s.authorIDs.Get(authorCacheKey(provider, author.ExternalID)); ok {
			ids[author.ExternalID] = id
			continue
		}
		missing = append(missing, author)
	}
	if len(missing) == 0 {
		return ids, nil, nil
	}

	insert, err := tx.PrepareContext(ctx, `
		INSERT INTO authors (provider, external_id, handle, display_name, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, external_id) DO NOTHING`)
	if err != nil {
		return nil, nil, fmt.Errorf("preparing author insert: %w", err)
	}
	defer func() { _ = insert.Close() }()

	for _, author := range missing {
		metadata, err := marshalDoc(author.Metadata)
		if err != nil {
			return nil, nil, err
		}
		if _, err := insert.ExecContext(ctx, provider, author.ExternalID, author.Handle, author.DisplayName, metadata); err != nil {
			return nil, nil, fmt.Errorf("inserting author %s: %w", author.ExternalID, err)
		}
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(missing)), ",")
	args := make([]any, 0, len(missing)+1)
	args = append(args, provider)
	for _, author := range missing {
		args = append(args, author.ExternalID)
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT external_id, id FROM authors WHERE provider = ? AND external_id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving author ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	resolved := make(map[string]int64, len(missing))
	for rows.Next() {
		var externalID string
		var id int64
		if err := rows.Scan(&externalID, &id); err != nil {
			return nil, nil, fmt.Errorf("scanning author id: %w", err)
		}
		ids[externalID] = id
		resolved[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating author ids: %w", err)
	}
	return ids, resolved, nil
}

// existingExternalIDs returns the page's external ids that are already
// stored for provider.
func existingExternalIDs(ctx context.Context, tx *sql.Tx, provider string, items []posts.PostInsert) (map[string]bool, error) {
	existing := make(map[string]bool)
	if len(items) == 0 {
		return existing, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(items)), ",")
	args := make([]any, 0, len(items)+1)
	args = append(args, provider)
	for _, item := range items {
		args = append(args, item.Post.ExternalID)
	}

	rows, err := tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT external_id FROM posts WHERE provider = ? AND external_id IN (%s)`, placeholders),
		args...)
	if err != nil {
		return nil, fmt.Errorf("checking existing posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var externalID string
		if err := rows.Scan(&externalID); err != nil {
			return nil, fmt.Errorf("scanning existing post id: %w", err)
		}
		existing[externalID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating existing posts: %w", err)
	}
	return existing, nil
}

func insertMedia(ctx context.Context, tx *sql.Tx, postID int64, media []posts.Media) error {
	for _, m := range media {
		metadata, err := marshalDoc(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO media (post_id, kind, url, metadata)
			VALUES (?, ?, ?, ?)`,
			postID, m.Kind, m.URL, metadata); err != nil {
			return fmt.Errorf("inserting media for post %d: %w", postID, err)
		}
	}
	return nil
}

// StartJob opens a running fetch job.
func (s *Store) StartJob(ctx context.Context, provider string, sourceID int64, startedAt time.Time) (*posts.FetchJob, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO fetch_jobs (provider, source_id, started_at, status, stats)
		VALUES (?, ?, ?, ?, '{}')
		RETURNING id`,
		provider, sourceID, formatTime(startedAt), posts.JobRunning).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("starting fetch job: %w", err)
	}
	return &posts.FetchJob{
		ID:        id,
		Provider:  provider,
		SourceID:  sourceID,
		StartedAt: startedAt.UTC(),
		Status:    posts.JobRunning,
		Stats:     posts.Document{},
	}, nil
}

// FinishJob finalizes a job and, when cursor is non-nil, upserts the cursor
// position in the same transaction.
func (s *Store) FinishJob(ctx context.Context, jobID int64, status string, finishedAt time.Time, stats posts.Document, cursor *posts.CursorUpdate) error {
	encodedStats, err := marshalDoc(stats)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning finalize transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back finalize transaction", "error", rbErr.Error())
		}
	}()

	finished := formatTime(finishedAt)
	res, err := tx.ExecContext(ctx, `
		UPDATE fetch_jobs
		SET status = ?, finished_at = ?, stats = ?
		WHERE id = ?`,
		status, finished, encodedStats, jobID)
	if err != nil {
		return fmt.Errorf("finishing job %d: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking job update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("job %d: %w", jobID, posts.ErrNotFound)
	}

	if cursor != nil {
		position, err := marshalDoc(cursor.Position)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cursors (provider, source_id, position, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (provider, source_id) DO UPDATE SET
				position = excluded.position,
				updated_at = excluded.updated_at`,
			cursor.Provider, cursor.SourceID, position, finished); err != nil {
			return fmt.Errorf("saving cursor for source %d: %w", cursor.SourceID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing finalize transaction: %w", err)
	}
	return nil
}

// QueryPosts scans posts in (created_at DESC, id DESC) order with a limit+1
// probe. The author join is added only when an author filter is present.
func (s *Store) QueryPosts(ctx context.Context, filter posts.QueryFilter) ([]posts.PostRow, *keyset.Key, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		conditions []string
		args       []any
		join       string
	)
	if filter.Provider != "" {
		conditions = append(conditions, "p.provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Since != nil {
		conditions = append(conditions, "p.created_at >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		conditions = append(conditions, "p.created_at <= ?")
		args = append(args, formatTime(*filter.Until))
	}
	if filter.Author != "" {
		join = "JOIN authors a ON a.id = p.author_id"
		switch {
		case strings.HasPrefix(filter.Author, "@"):
			conditions = append(conditions, "a.handle = ?")
			args = append(args, filter.Author)
		case isAllDigits(filter.Author):
			id, _ := strconv.ParseInt(filter.Author, 10, 64)
			conditions = append(conditions, "(a.external_id = ? OR a.id = ?)")
			args = append(args, filter.Author, id)
		default:
			conditions = append(conditions, "a.external_id = ?")
			args = append(args, filter.Author)
		}
	}
	if filter.Contains != "" {
		conditions = append(conditions, "instr(lower(p.text), lower(?)) > 0")
		args = append(args, filter.Contains)
	}
	if filter.After != nil {
		after := formatTime(filter.After.CreatedAt)
		conditions = append(conditions, "(p.created_at < ? OR (p.created_at = ? AND p.id < ?))")
		args = append(args, after, after, filter.After.ID)
	}

	query := `SELECT p.id, p.provider, p.external_id, p.author_id, p.created_at, p.text, p.lang FROM posts p`
	if join != "" {
		query += " " + join
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY p.created_at DESC, p.id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("querying posts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close post rows", "error", closeErr.Error())
		}
	}()

	scanned := make([]posts.PostRow, 0, limit+1)
	for rows.Next() {
		var row posts.PostRow
		var createdAt string
		if err := rows.Scan(&row.ID, &row.Provider, &row.ExternalID, &row.AuthorID, &createdAt, &row.Text, &row.Lang); err != nil {
			return nil, nil, fmt.Errorf("scanning post row: %w", err)
		}
		row.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, nil, err
		}
		scanned = append(scanned, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating post rows: %w", err)
	}

	var nextKey *keyset.Key
	if len(scanned) > limit {
		scanned = scanned[:limit]
		last := scanned[len(scanned)-1]
		nextKey = &keyset.Key{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return scanned, nextKey, nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ListCursorStates returns the cursor snapshot sorted by provider then
// source descriptor. Non-empty filters are exact matches.
func (s *Store) ListCursorStates(ctx context.Context, provider, source string) ([]posts.CursorState, error) {
	query := `
		SELECT c.provider, src.descriptor, c.position, c.updated_at
		FROM cursors c
		JOIN sources src ON src.id = c.source_id`
	var conditions []string
	var args []any
	if provider != "" {
		conditions = append(conditions, "c.provider = ?")
		args = append(args, provider)
	}
	if source != "" {
		conditions = append(conditions, "src.descriptor = ?")
		args = append(args, source)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY c.provider, src.descriptor"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cursors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := []posts.CursorState{}
	for rows.Next() {
		var state posts.CursorState
		var position, updatedAt string
		if err := rows.Scan(&state.Provider, &state.Source, &position, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning cursor row: %w", err)
		}
		doc, err := unmarshalDoc(position)
		if err != nil {
			return nil, err
		}
		if raw, ok := doc["cursor"]; ok && raw != nil {
			if value, ok := raw.(string); ok {
				state.Cursor = &value
			}
		}
		state.UpdatedAt, err = parseTime(updatedAt)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursor rows: %w", err)
	}
	return states, nil
}

// ListJobStates returns the most recent jobs, newest first.
func (s *Store) ListJobStates(ctx context.Context, provider, source string, limit int) ([]posts.JobState, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT j.id, j.provider, src.descriptor, j.started_at, j.finished_at, j.status, j.stats
		FROM fetch_jobs j
		JOIN sources src ON src.id = j.source_id`
	var conditions []string
	var args []any
	if provider != "" {
		conditions = append(conditions, "j.provider = ?")
		args = append(args, provider)
	}
	if source != "" {
		conditions = append(conditions, "src.descriptor = ?")
		args = append(args, source)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY j.started_at DESC, j.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying fetch jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	states := []posts.JobState{}
	for rows.Next() {
		var state posts.JobState
		var startedAt, stats string
		var finishedAt sql.NullString
		if err := rows.Scan(&state.ID, &state.Provider, &state.Source, &startedAt, &finishedAt, &state.Status, &stats); err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		state.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, err
		}
		if finishedAt.Valid {
			finished, err := parseTime(finishedAt.String)
			if err != nil {
				return nil, err
			}
			state.FinishedAt = &finished
		}
		state.Stats, err = unmarshalDoc(stats)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return states, nil
}
