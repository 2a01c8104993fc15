package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"skylark/internal/providers"
)

const (
	anonymousBaseURL     = "https://public.api.bsky.app"
	authenticatedBaseURL = "https://api.bsky.app"
	sessionBaseURL       = "https://bsky.social"

	searchPostsPath   = "/xrpc/app.bsky.feed.searchPosts"
	getAuthorFeedPath = "/xrpc/app.bsky.feed.getAuthorFeed"
	createSessionPath = "/xrpc/com.atproto.server.createSession"

	defaultTimeout  = 10 * time.Second
	defaultAgent    = "skylark/" + providerVersion
	maxErrorBodyLen = 2048
)

// client is a minimal XRPC HTTP client for the three endpoints this provider
// consumes. It is not safe for concurrent use.
type client struct {
	baseURL        string
	baseOverridden bool
	authBaseURL    string
	userAgent      string
	headers        map[string]string
	httpClient     *http.Client
	accessJwt      string
}

func newClient(opts providers.HTTPOptions) *client {
	httpClient := opts.Client
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	base := opts.BaseURL
	overridden := base != ""
	if base == "" {
		base = anonymousBaseURL
	}
	authBase := opts.AuthBaseURL
	if authBase == "" {
		authBase = sessionBaseURL
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultAgent
	}

	return &client{
		baseURL:        strings.TrimRight(base, "/"),
		baseOverridden: overridden,
		authBaseURL:    strings.TrimRight(authBase, "/"),
		userAgent:      userAgent,
		headers:        opts.Headers,
		httpClient:     httpClient,
	}
}

func (c *client) applyHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
}

// createSession logs in with an app password. On success the client holds
// the bearer token and, unless the caller pinned a base URL, switches to the
// authenticated API host. A 401 is a hard failure; other failures return
// plain errors the caller may demote to warnings.
func (c *client) createSession(ctx context.Context, identifier, password string) (*createSessionResponse, error) {
	payload, err := json.Marshal(createSessionRequest{Identifier: identifier, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encoding session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authBaseURL+createSessionPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.applyHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("createSession: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &providers.InvalidQueryError{Message: "Invalid credentials; use an app password"}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("createSession: HTTP %d: %s", resp.StatusCode, readErrorDetail(resp.Body))
	}

	var session createSessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decoding session response: %w", err)
	}
	if session.AccessJwt == "" {
		return nil, fmt.Errorf("createSession: response carried no access token")
	}

	c.accessJwt = session.AccessJwt
	if !c.baseOverridden {
		c.baseURL = authenticatedBaseURL
	}
	return &session, nil
}

func (c *client) searchPosts(ctx context.Context, q string, limit int, cursor *string) (*searchPostsResponse, http.Header, error) {
	params := url.Values{}
	params.Set("q", q)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != nil && *cursor != "" {
		params.Set("cursor", *cursor)
	}

	var out searchPostsResponse
	header, err := c.getJSON(ctx, searchPostsPath, params, "searchPosts", &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, header, nil
}

func (c *client) getAuthorFeed(ctx context.Context, actor string, limit int, cursor *string) (*authorFeedResponse, http.Header, error) {
	params := url.Values{}
	params.Set("actor", actor)
	params.Set("limit", strconv.Itoa(limit))
	if cursor != nil && *cursor != "" {
		params.Set("cursor", *cursor)
	}

	var out authorFeedResponse
	header, err := c.getJSON(ctx, getAuthorFeedPath, params, "getAuthorFeed", &out)
	if err != nil {
		return nil, nil, err
	}
	return &out, header, nil
}

func (c *client) getJSON(ctx context.Context, path string, params url.Values, op string, out any) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", op, err)
	}
	c.applyHeaders(req)
	if c.accessJwt != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &providers.NetworkError{Message: fmt.Sprintf("%s: %v", op, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", op, err)
	}
	return resp.Header, nil
}

// statusError maps a non-200 fetch response onto the provider error
// taxonomy: 429 to rate limiting, 5xx to transient network failures,
// 401/403 to auth errors, and remaining 4xx to invalid queries. An
// anonymous 403 from searchPosts gets a targeted hint instead, since the
// fix is configuration rather than retry.
func (c *client) statusError(resp *http.Response, op string) error {
	detail := readErrorDetail(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		rateErr := &providers.RateLimitedError{
			Message:   fmt.Sprintf("%s: HTTP 429: %s", op, detail),
			RequestID: resp.Header.Get("X-Request-Id"),
		}
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				rateErr.RetryAfterS = &secs
			}
		}
		if v := resp.Header.Get("RateLimit-Reset"); v != "" {
			if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
				resetAt := time.Unix(epoch, 0).UTC()
				rateErr.ResetAt = &resetAt
			}
		}
		return rateErr

	case resp.StatusCode >= 500:
		return &providers.NetworkError{Message: fmt.Sprintf("%s: HTTP %d: %s", op, resp.StatusCode, detail)}

	case resp.StatusCode == http.StatusForbidden && op == "searchPosts" && c.accessJwt == "":
		return &providers.InvalidQueryError{
			Message: "searchPosts was refused for anonymous access; configure BSKY_IDENTIFIER and an app password",
		}

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &providers.AuthError{Message: fmt.Sprintf("%s: HTTP %d: %s", op, resp.StatusCode, detail)}

	default:
		return &providers.InvalidQueryError{Message: fmt.Sprintf("%s: HTTP %d: %s", op, resp.StatusCode, detail)}
	}
}

// readErrorDetail extracts the XRPC error message from a failed response,
// falling back to the raw (truncated) body.
func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBodyLen))
	if err != nil || len(raw) == 0 {
		return "no response body"
	}
	var xrpcErr xrpcErrorBody
	if json.Unmarshal(raw, &xrpcErr) == nil && xrpcErr.Message != "" {
		if xrpcErr.Error != "" {
			return xrpcErr.Error + ": " + xrpcErr.Message
		}
		return xrpcErr.Message
	}
	return strings.TrimSpace(string(raw))
}

// rateLimitSnapshot lifts the standard rate limit headers into a document,
// or nil when none are present.
func rateLimitSnapshot(header http.Header) map[string]any {
	if header == nil {
		return nil
	}
	snapshot := map[string]any{}
	for key, name := range map[string]string{
		"limit":     "RateLimit-Limit",
		"remaining": "RateLimit-Remaining",
		"reset":     "RateLimit-Reset",
	} {
		if v := header.Get(name); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				snapshot[key] = n
			} else {
				snapshot[key] = v
			}
		}
	}
	if v := header.Get("RateLimit-Policy"); v != "" {
		snapshot["policy"] = v
	}
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot
}
