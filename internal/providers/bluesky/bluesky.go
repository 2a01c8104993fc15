// Package bluesky adapts Bluesky's public XRPC surface to the provider
// contract: searchPosts for query scopes, getAuthorFeed for author scopes,
// and com.atproto.server.createSession for optional app-password login.
//
// Importing the package registers the provider under the name "bluesky".
package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"

	"skylark/internal/providers"
)

const (
	providerName    = "bluesky"
	providerVersion = "0.1.0"
	maxPageLimit    = 100
)

func init() {
	providers.Default().MustRegister(providerName, func() providers.Provider { return New() })
}

// Provider collects posts from Bluesky. Instances are single-use: Configure
// once, then drive FetchSince from one goroutine.
type Provider struct {
	client  *client
	session *providers.Session
	now     func() time.Time
}

var _ providers.Provider = (*Provider)(nil)

// New returns an unconfigured Bluesky provider.
func New() *Provider {
	return &Provider{now: time.Now}
}

// Name returns "bluesky".
func (p *Provider) Name() string { return providerName }

// Version returns the adapter version.
func (p *Provider) Version() string { return providerVersion }

// Configure resolves credentials (explicit options first, then
// BSKY_IDENTIFIER with BSKY_APP_PASSWORD or BSKY_PASSWORD) and attempts
// login when both parts are present. A login rejected with 401 fails the
// whole configuration; any other login failure is demoted to a session
// warning and the provider stays anonymous.
func (p *Provider) Configure(ctx context.Context, opts providers.Options) (*providers.Session, error) {
	p.client = newClient(opts.HTTP)

	warnings := []string{}
	authState := providers.AuthStateAnonymous

	identifier, password := resolveCredentials(opts.Auth)
	if identifier != "" && password != "" {
		_, err := p.client.createSession(ctx, identifier, password)
		switch {
		case err == nil:
			authState = providers.AuthStateAuthenticated
		case providers.IsInvalidQuery(err):
			return nil, err
		default:
			warnings = append(warnings, "authentication_failed: "+err.Error())
		}
	}

	p.session = &providers.Session{
		Provider:  providerName,
		AuthState: authState,
		Capabilities: map[string]any{
			providers.CapSupportsCursor:       true,
			providers.CapSupportsSearchQ:      true,
			providers.CapSupportsAuthorFilter: true,
			providers.CapSupportsLangFilter:   false,
			providers.CapSupportsTimeBounds:   "none",
			providers.CapSupportsMedia:        false,
			providers.CapMaxPageLimit:         maxPageLimit,
			providers.CapDateGranularity:      "second",
		},
		Defaults: providers.Defaults{PageLimitMax: maxPageLimit},
		Warnings: warnings,
	}
	return p.session, nil
}

// FetchSince retrieves one page. Exactly one of filters.Q or filters.Author
// selects the endpoint; temporal and language filters are reported as
// ignored because neither endpoint honors them server-side.
func (p *Provider) FetchSince(ctx context.Context, cursor *string, limit int, filters providers.Filters) (*providers.Batch, error) {
	if p.client == nil {
		return nil, &providers.InvalidQueryError{Message: "provider is not configured"}
	}
	limit = clampLimit(limit)

	var (
		views  []postView
		next   *string
		header http.Header
		source string
	)
	switch {
	case filters.Q != "":
		source = filters.Q
		out, h, err := p.client.searchPosts(ctx, filters.Q, limit, cursor)
		if err != nil {
			return nil, err
		}
		views, next, header = out.Posts, out.Cursor, h

	case filters.Author != nil:
		actor, label, err := resolveActor(filters.Author)
		if err != nil {
			return nil, err
		}
		source = label
		out, h, err := p.client.getAuthorFeed(ctx, actor, limit, cursor)
		if err != nil {
			return nil, err
		}
		views = make([]postView, 0, len(out.Feed))
		for _, item := range out.Feed {
			views = append(views, item.Post)
		}
		next, header = out.Cursor, h

	default:
		return nil, &providers.InvalidQueryError{Message: "either a search query or an author filter is required"}
	}

	collectedAt := p.now().UTC()
	items := make([]providers.Post, 0, len(views))
	for _, view := range views {
		post, err := normalizePost(view, source, collectedAt)
		if err != nil {
			return nil, err
		}
		items = append(items, post)
	}

	return &providers.Batch{
		Items:          items,
		NextCursor:     next,
		IgnoredFilters: ignoredFilters(filters),
		Stats:          map[string]any{"count": len(items)},
		RateLimit:      rateLimitSnapshot(header),
	}, nil
}

// resolveActor picks the XRPC actor parameter and the source annotation. A
// DID wins wherever it appears and labels items as itself; a handle goes on
// the wire without its leading @ and labels items in the "@handle" form.
func resolveActor(author *providers.AuthorFilter) (actor, label string, err error) {
	if author.ExternalID != "" {
		did, err := syntax.ParseDID(author.ExternalID)
		if err != nil {
			return "", "", &providers.InvalidQueryError{Message: fmt.Sprintf("author external ID %q is not a DID: %v", author.ExternalID, err)}
		}
		return did.String(), did.String(), nil
	}

	handle := strings.TrimPrefix(strings.TrimSpace(author.Handle), "@")
	if handle == "" {
		return "", "", &providers.InvalidQueryError{Message: "author filter requires a handle or external ID"}
	}
	// The actor parameter takes any AT identifier, so a DID arriving in the
	// handle slot passes through unchanged.
	if did, err := syntax.ParseDID(handle); err == nil {
		return did.String(), did.String(), nil
	}
	parsed, err := syntax.ParseHandle(handle)
	if err != nil {
		return "", "", &providers.InvalidQueryError{Message: fmt.Sprintf("invalid author handle %q: %v", author.Handle, err)}
	}
	return parsed.String(), canonicalHandle(parsed.String()), nil
}

// ignoredFilters lists requested filters these endpoints cannot honor; the
// collection pipeline enforces time bounds locally instead.
func ignoredFilters(f providers.Filters) []string {
	ignored := []string{}
	if f.Since != nil {
		ignored = append(ignored, "since_utc")
	}
	if f.Until != nil {
		ignored = append(ignored, "until_utc")
	}
	if f.Lang != "" {
		ignored = append(ignored, "lang")
	}
	if f.Domain != "" {
		ignored = append(ignored, "domain")
	}
	if len(f.Tags) > 0 {
		ignored = append(ignored, "tags")
	}
	return ignored
}

func clampLimit(limit int) int {
	if limit > maxPageLimit {
		return maxPageLimit
	}
	if limit < 1 {
		return 1
	}
	return limit
}

func resolveCredentials(auth providers.AuthOptions) (string, string) {
	identifier := auth.Identifier
	if identifier == "" {
		identifier = os.Getenv("BSKY_IDENTIFIER")
	}
	password := auth.Password
	if password == "" {
		password = os.Getenv("BSKY_APP_PASSWORD")
	}
	if password == "" {
		password = os.Getenv("BSKY_PASSWORD")
	}
	return identifier, password
}
