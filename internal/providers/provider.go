// Package providers defines the contract between the collection pipeline and
// social network adapters: session configuration, capability declaration,
// and batched fetch of normalized posts behind opaque cursors.
package providers

import (
	"context"
	"net/http"
	"time"
)

// Auth states a session can declare.
const (
	AuthStateAnonymous     = "anonymous"
	AuthStateAuthenticated = "authenticated"
)

// Capability keys shared across providers. Values are provider-declared and
// describe what the adapter actually honors, not what the upstream API could
// theoretically do.
const (
	CapSupportsCursor       = "supports_cursor"
	CapSupportsSearchQ      = "supports_search_q"
	CapSupportsAuthorFilter = "supports_author_filter"
	CapSupportsLangFilter   = "supports_lang_filter"
	CapSupportsTimeBounds   = "supports_time_bounds"
	CapSupportsMedia        = "supports_media"
	CapMaxPageLimit         = "max_page_limit"
	CapDateGranularity      = "date_granularity"
)

// Provider adapts one social network to uniform batched collection.
// Implementations are single-use: Configure once, then drive FetchSince from
// one goroutine for the duration of a run.
type Provider interface {
	// Name returns the lower-case logical provider name.
	Name() string

	// Version returns the adapter version string.
	Version() string

	// Configure initializes a session, authenticating when credentials are
	// available. It returns session metadata including capabilities and any
	// non-fatal warnings.
	Configure(ctx context.Context, opts Options) (*Session, error)

	// FetchSince retrieves one normalized batch after the given opaque
	// cursor. A nil cursor starts from the newest content. limit is a hint
	// clamped to the provider's supported page size.
	FetchSince(ctx context.Context, cursor *string, limit int, filters Filters) (*Batch, error)
}

// Factory produces a fresh, unconfigured provider instance.
type Factory func() Provider

// AuthOptions carries credential material for providers that support login.
type AuthOptions struct {
	Identifier string
	Password   string
}

// HTTPOptions carries transport overrides. Client, when set, replaces the
// default transport entirely; tests use it to inject fakes.
type HTTPOptions struct {
	BaseURL     string
	AuthBaseURL string
	UserAgent   string
	Timeout     time.Duration
	Headers     map[string]string
	Client      *http.Client
}

// Options configures a provider session.
type Options struct {
	Auth  AuthOptions
	HTTP  HTTPOptions
	Hints map[string]any
}

// Defaults declares operational defaults for a configured session.
type Defaults struct {
	PageLimitMax int
}

// Session describes a configured provider: who it is, how it authenticated,
// and what it can do.
type Session struct {
	Provider        string
	AuthState       string
	Capabilities    map[string]any
	RateLimitPolicy map[string]any
	Defaults        Defaults
	Warnings        []string
}

// AuthorFilter selects an author by handle or stable external ID. When both
// are set the external ID wins.
type AuthorFilter struct {
	Handle     string
	ExternalID string
}

// Filters narrows a fetch. Providers never fail on unsupported filters; they
// list them in Batch.IgnoredFilters instead.
type Filters struct {
	Q      string
	Author *AuthorFilter
	Since  *time.Time
	Until  *time.Time
	Lang   string
	Domain string
	Tags   []string
}

// Author is the canonical author shape emitted by providers.
type Author struct {
	ExternalID  string
	Handle      string
	DisplayName string
	AvatarURL   string
	Metadata    map[string]any
}

// Media describes one attachment reference. Binary content is never fetched.
type Media struct {
	Kind         string
	URL          string
	MimeType     string
	ThumbnailURL string
	AltText      string
	Width        int64
	Height       int64
	DurationMS   int64
	Metadata     map[string]any
}

// Metrics carries optional engagement counters. Absent counters stay nil and
// are omitted from persistence; present counters are never negative.
type Metrics struct {
	LikeCount     *int64
	ReplyCount    *int64
	RepostCount   *int64
	QuoteCount    *int64
	ViewCount     *int64
	BookmarkCount *int64
	Score         *float64
	Extra         map[string]any
}

// Entities groups references extracted from the post payload.
type Entities struct {
	Hashtags []string
	Mentions []map[string]any
	Links    []map[string]any
	Media    []Media
}

// Post is the canonical normalized post emitted by providers.
type Post struct {
	Provider    string
	ExternalID  string
	CreatedAt   time.Time
	CollectedAt time.Time
	Author      Author
	Text        string
	Lang        string
	Metrics     Metrics
	Entities    Entities
	Visibility  string
	InReplyTo   map[string]any
	RepostOf    map[string]any
	QuoteOf     map[string]any
	Source      string
	Raw         map[string]any
}

// Batch is one page of normalized posts plus paging state and bookkeeping.
type Batch struct {
	Items          []Post
	NextCursor     *string
	ReachedUntil   bool
	IgnoredFilters []string
	Stats          map[string]any
	RateLimit      map[string]any
	Warnings       []string
}
