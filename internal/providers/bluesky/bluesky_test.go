package bluesky

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"skylark/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func clearCredentialEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BSKY_IDENTIFIER", "")
	t.Setenv("BSKY_APP_PASSWORD", "")
	t.Setenv("BSKY_PASSWORD", "")
}

func testOptions(rt roundTripFunc) providers.Options {
	return providers.Options{
		HTTP: providers.HTTPOptions{Client: &http.Client{Transport: rt}},
	}
}

const samplePostBody = `{
	"uri": "at://did:plc:abc/app.bsky.feed.post/3k1",
	"cid": "bafyrei1",
	"author": {"did": "did:plc:abc", "handle": "alice.bsky.social", "displayName": "Alice"},
	"record": {"text": "hello go", "createdAt": "2025-05-01T12:00:00Z", "langs": ["en"]},
	"likeCount": 3,
	"replyCount": 0,
	"repostCount": 1,
	"indexedAt": "2025-05-01T12:00:05Z"
}`

func TestConfigureAnonymous(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request during anonymous configure: %s", req.URL)
		return jsonResponse(http.StatusInternalServerError, `{}`), nil
	})

	p := New()
	session, err := p.Configure(context.Background(), testOptions(rt))
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if session.Provider != "bluesky" {
		t.Errorf("Provider = %q, want bluesky", session.Provider)
	}
	if session.AuthState != providers.AuthStateAnonymous {
		t.Errorf("AuthState = %q, want anonymous", session.AuthState)
	}
	if len(session.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", session.Warnings)
	}
	if session.Defaults.PageLimitMax != 100 {
		t.Errorf("PageLimitMax = %d, want 100", session.Defaults.PageLimitMax)
	}
	if got := session.Capabilities[providers.CapSupportsLangFilter]; got != false {
		t.Errorf("supports_lang_filter = %v, want false", got)
	}
}

func TestConfigureAuthenticated(t *testing.T) {
	clearCredentialEnv(t)

	var sawLogin, sawSearch bool
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		switch {
		case strings.HasSuffix(req.URL.Path, "com.atproto.server.createSession"):
			sawLogin = true
			if req.URL.Host != "bsky.social" {
				t.Errorf("login host = %q, want bsky.social", req.URL.Host)
			}
			return jsonResponse(http.StatusOK, `{"accessJwt":"jwt-token","did":"did:plc:abc","handle":"alice.bsky.social"}`), nil

		case strings.HasSuffix(req.URL.Path, "app.bsky.feed.searchPosts"):
			sawSearch = true
			if req.URL.Host != "api.bsky.app" {
				t.Errorf("authenticated fetch host = %q, want api.bsky.app", req.URL.Host)
			}
			if got := req.Header.Get("Authorization"); got != "Bearer jwt-token" {
				t.Errorf("Authorization = %q, want bearer token", got)
			}
			return jsonResponse(http.StatusOK, `{"posts":[]}`), nil
		}
		return jsonResponse(http.StatusNotFound, `{}`), nil
	})

	opts := testOptions(rt)
	opts.Auth = providers.AuthOptions{Identifier: "alice.bsky.social", Password: "app-pass"}

	p := New()
	session, err := p.Configure(context.Background(), opts)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if session.AuthState != providers.AuthStateAuthenticated {
		t.Errorf("AuthState = %q, want authenticated", session.AuthState)
	}
	if !sawLogin {
		t.Fatal("createSession was never called")
	}

	if _, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Q: "golang"}); err != nil {
		t.Fatalf("FetchSince failed: %v", err)
	}
	if !sawSearch {
		t.Fatal("searchPosts was never called")
	}
}

func TestConfigureCredentialsFromEnv(t *testing.T) {
	clearCredentialEnv(t)
	t.Setenv("BSKY_IDENTIFIER", "alice.bsky.social")
	t.Setenv("BSKY_PASSWORD", "fallback-pass")

	var gotBody string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		raw, _ := io.ReadAll(req.Body)
		gotBody = string(raw)
		return jsonResponse(http.StatusOK, `{"accessJwt":"jwt","did":"did:plc:abc","handle":"alice.bsky.social"}`), nil
	})

	p := New()
	session, err := p.Configure(context.Background(), testOptions(rt))
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if session.AuthState != providers.AuthStateAuthenticated {
		t.Errorf("AuthState = %q, want authenticated", session.AuthState)
	}
	if !strings.Contains(gotBody, `"identifier":"alice.bsky.social"`) || !strings.Contains(gotBody, `"password":"fallback-pass"`) {
		t.Errorf("login body = %s, credentials not taken from environment", gotBody)
	}
}

func TestConfigureRejectedCredentials(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(_ *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`), nil
	})

	opts := testOptions(rt)
	opts.Auth = providers.AuthOptions{Identifier: "alice.bsky.social", Password: "main-password"}

	_, err := New().Configure(context.Background(), opts)
	if err == nil {
		t.Fatal("Configure should fail on rejected credentials")
	}
	if !providers.IsInvalidQuery(err) {
		t.Errorf("error = %v, want InvalidQueryError", err)
	}
	if !strings.Contains(err.Error(), "app password") {
		t.Errorf("error = %q, should advise using an app password", err)
	}
}

func TestConfigureLoginOutageDegradesToAnonymous(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if strings.HasSuffix(req.URL.Path, "com.atproto.server.createSession") {
			return jsonResponse(http.StatusBadGateway, `{"error":"Upstream","message":"pds unreachable"}`), nil
		}
		if req.URL.Host != "public.api.bsky.app" {
			t.Errorf("anonymous fetch host = %q, want public.api.bsky.app", req.URL.Host)
		}
		return jsonResponse(http.StatusOK, `{"posts":[]}`), nil
	})

	opts := testOptions(rt)
	opts.Auth = providers.AuthOptions{Identifier: "alice.bsky.social", Password: "app-pass"}

	p := New()
	session, err := p.Configure(context.Background(), opts)
	if err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if session.AuthState != providers.AuthStateAnonymous {
		t.Errorf("AuthState = %q, want anonymous", session.AuthState)
	}
	if len(session.Warnings) != 1 || !strings.HasPrefix(session.Warnings[0], "authentication_failed:") {
		t.Errorf("Warnings = %v, want one authentication_failed warning", session.Warnings)
	}

	// Fetch must still work anonymously.
	if _, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Q: "golang"}); err != nil {
		t.Fatalf("anonymous FetchSince failed: %v", err)
	}
}

func TestFetchSinceSearch(t *testing.T) {
	clearCredentialEnv(t)

	var gotQuery map[string]string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if !strings.HasSuffix(req.URL.Path, "app.bsky.feed.searchPosts") {
			t.Errorf("unexpected path %s", req.URL.Path)
		}
		gotQuery = map[string]string{
			"q":      req.URL.Query().Get("q"),
			"limit":  req.URL.Query().Get("limit"),
			"cursor": req.URL.Query().Get("cursor"),
		}
		body := fmt.Sprintf(`{"posts":[%s],"cursor":"page-2"}`, samplePostBody)
		return jsonResponse(http.StatusOK, body), nil
	})

	p := New()
	if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	cursor := "page-1"
	batch, err := p.FetchSince(context.Background(), &cursor, 25, providers.Filters{Q: "golang"})
	if err != nil {
		t.Fatalf("FetchSince failed: %v", err)
	}

	if gotQuery["q"] != "golang" || gotQuery["limit"] != "25" || gotQuery["cursor"] != "page-1" {
		t.Errorf("request params = %v", gotQuery)
	}
	if len(batch.Items) != 1 {
		t.Fatalf("len(Items) = %d, want 1", len(batch.Items))
	}
	if batch.NextCursor == nil || *batch.NextCursor != "page-2" {
		t.Errorf("NextCursor = %v, want page-2", batch.NextCursor)
	}
	if batch.ReachedUntil {
		t.Error("ReachedUntil = true, want false")
	}

	item := batch.Items[0]
	if item.Provider != "bluesky" {
		t.Errorf("Provider = %q", item.Provider)
	}
	if item.ExternalID != "at://did:plc:abc/app.bsky.feed.post/3k1" {
		t.Errorf("ExternalID = %q", item.ExternalID)
	}
	if !item.CreatedAt.Equal(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", item.CreatedAt)
	}
	if item.Author.Handle != "@alice.bsky.social" {
		t.Errorf("Author.Handle = %q, want @alice.bsky.social", item.Author.Handle)
	}
	if item.Author.ExternalID != "did:plc:abc" {
		t.Errorf("Author.ExternalID = %q", item.Author.ExternalID)
	}
	if item.Lang != "en" {
		t.Errorf("Lang = %q, want en", item.Lang)
	}
	if item.Source != "golang" {
		t.Errorf("Source = %q, want golang", item.Source)
	}
	if item.Metrics.LikeCount == nil || *item.Metrics.LikeCount != 3 {
		t.Errorf("LikeCount = %v, want 3", item.Metrics.LikeCount)
	}
	if item.Metrics.QuoteCount != nil {
		t.Errorf("QuoteCount = %v, want nil for absent counter", item.Metrics.QuoteCount)
	}
}

func TestFetchSinceAuthorFeed(t *testing.T) {
	clearCredentialEnv(t)

	tests := []struct {
		name       string
		author     providers.AuthorFilter
		wantActor  string
		wantSource string
	}{
		{
			name:       "handle with at sign",
			author:     providers.AuthorFilter{Handle: "@alice.bsky.social"},
			wantActor:  "alice.bsky.social",
			wantSource: "@alice.bsky.social",
		},
		{
			name:       "bare handle",
			author:     providers.AuthorFilter{Handle: "alice.bsky.social"},
			wantActor:  "alice.bsky.social",
			wantSource: "@alice.bsky.social",
		},
		{
			name:       "external id wins",
			author:     providers.AuthorFilter{Handle: "@alice.bsky.social", ExternalID: "did:plc:abc123"},
			wantActor:  "did:plc:abc123",
			wantSource: "did:plc:abc123",
		},
		{
			name:       "did in handle slot",
			author:     providers.AuthorFilter{Handle: "did:plc:abc123"},
			wantActor:  "did:plc:abc123",
			wantSource: "did:plc:abc123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor string
			rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
				if !strings.HasSuffix(req.URL.Path, "app.bsky.feed.getAuthorFeed") {
					t.Errorf("unexpected path %s", req.URL.Path)
				}
				gotActor = req.URL.Query().Get("actor")
				body := fmt.Sprintf(`{"feed":[{"post":%s}]}`, samplePostBody)
				return jsonResponse(http.StatusOK, body), nil
			})

			p := New()
			if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
				t.Fatalf("Configure failed: %v", err)
			}

			batch, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Author: &tt.author})
			if err != nil {
				t.Fatalf("FetchSince failed: %v", err)
			}
			if gotActor != tt.wantActor {
				t.Errorf("actor = %q, want %q", gotActor, tt.wantActor)
			}
			if len(batch.Items) != 1 {
				t.Fatalf("len(Items) = %d, want 1", len(batch.Items))
			}
			if batch.Items[0].Source != tt.wantSource {
				t.Errorf("Source = %q, want %q", batch.Items[0].Source, tt.wantSource)
			}
			if batch.NextCursor != nil {
				t.Errorf("NextCursor = %v, want nil when response has no cursor", *batch.NextCursor)
			}
		})
	}
}

func TestFetchSinceRequiresScope(t *testing.T) {
	clearCredentialEnv(t)

	p := New()
	if _, err := p.Configure(context.Background(), testOptions(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	_, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{})
	if !providers.IsInvalidQuery(err) {
		t.Errorf("error = %v, want InvalidQueryError", err)
	}
}

func TestFetchSinceClampsLimit(t *testing.T) {
	clearCredentialEnv(t)

	tests := []struct {
		limit int
		want  string
	}{
		{limit: 500, want: "100"},
		{limit: 0, want: "1"},
		{limit: -3, want: "1"},
		{limit: 42, want: "42"},
	}

	for _, tt := range tests {
		var gotLimit string
		rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
			gotLimit = req.URL.Query().Get("limit")
			return jsonResponse(http.StatusOK, `{"posts":[]}`), nil
		})

		p := New()
		if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
			t.Fatalf("Configure failed: %v", err)
		}
		if _, err := p.FetchSince(context.Background(), nil, tt.limit, providers.Filters{Q: "go"}); err != nil {
			t.Fatalf("FetchSince failed: %v", err)
		}
		if gotLimit != tt.want {
			t.Errorf("limit %d sent as %q, want %q", tt.limit, gotLimit, tt.want)
		}
	}
}

func TestFetchSinceReportsIgnoredFilters(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"posts":[]}`), nil
	})

	p := New()
	if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	since := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	batch, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{
		Q:      "go",
		Since:  &since,
		Until:  &until,
		Lang:   "en",
		Domain: "example.com",
		Tags:   []string{"golang"},
	})
	if err != nil {
		t.Fatalf("FetchSince failed: %v", err)
	}

	want := []string{"since_utc", "until_utc", "lang", "domain", "tags"}
	if len(batch.IgnoredFilters) != len(want) {
		t.Fatalf("IgnoredFilters = %v, want %v", batch.IgnoredFilters, want)
	}
	for i, name := range want {
		if batch.IgnoredFilters[i] != name {
			t.Errorf("IgnoredFilters[%d] = %q, want %q", i, batch.IgnoredFilters[i], name)
		}
	}
}

func TestFetchSinceErrorMapping(t *testing.T) {
	clearCredentialEnv(t)

	tests := []struct {
		name   string
		status int
		header http.Header
		check  func(t *testing.T, err error)
	}{
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			check: func(t *testing.T, err error) {
				if !providers.IsInvalidQuery(err) {
					t.Errorf("error = %v, want InvalidQueryError", err)
				}
			},
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			check: func(t *testing.T, err error) {
				if !providers.IsAuth(err) {
					t.Errorf("error = %v, want AuthError", err)
				}
			},
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			header: http.Header{"Retry-After": []string{"30"}},
			check: func(t *testing.T, err error) {
				var rateErr *providers.RateLimitedError
				if !errors.As(err, &rateErr) {
					t.Fatalf("error = %v, want RateLimitedError", err)
				}
				if rateErr.RetryAfterS == nil || *rateErr.RetryAfterS != 30 {
					t.Errorf("RetryAfterS = %v, want 30", rateErr.RetryAfterS)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			check: func(t *testing.T, err error) {
				if !providers.IsNetwork(err) {
					t.Errorf("error = %v, want NetworkError", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
				resp := jsonResponse(tt.status, `{"error":"Oops","message":"something"}`)
				for key, values := range tt.header {
					resp.Header[key] = values
				}
				return resp, nil
			})

			p := New()
			if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
				t.Fatalf("Configure failed: %v", err)
			}
			_, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Q: "go"})
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
		})
	}
}

func TestFetchSinceAnonymousSearchForbidden(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusForbidden, `{"error":"Forbidden","message":"auth required"}`), nil
	})

	p := New()
	if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	_, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Q: "go"})
	if !providers.IsInvalidQuery(err) {
		t.Fatalf("error = %v, want InvalidQueryError advising authentication", err)
	}
	if !strings.Contains(err.Error(), "app password") {
		t.Errorf("error = %q, should mention app password configuration", err)
	}
}

func TestFetchSinceTransportFailure(t *testing.T) {
	clearCredentialEnv(t)

	rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	p := New()
	if _, err := p.Configure(context.Background(), testOptions(rt)); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}

	_, err := p.FetchSince(context.Background(), nil, 10, providers.Filters{Q: "go"})
	if !providers.IsNetwork(err) {
		t.Errorf("error = %v, want NetworkError", err)
	}
}

func TestNormalizePostClampsNegativeCounts(t *testing.T) {
	negative := int64(-5)
	view := postView{
		URI:       "at://did:plc:abc/app.bsky.feed.post/1",
		Author:    actorView{Did: "did:plc:abc", Handle: "alice.bsky.social"},
		Record:    postRecord{Text: "x", CreatedAt: "2025-05-01T12:00:00Z"},
		LikeCount: &negative,
	}

	post, err := normalizePost(view, "golang", time.Now().UTC())
	if err != nil {
		t.Fatalf("normalizePost failed: %v", err)
	}
	if post.Metrics.LikeCount == nil || *post.Metrics.LikeCount != 0 {
		t.Errorf("LikeCount = %v, want 0", post.Metrics.LikeCount)
	}
	if post.Metrics.ReplyCount != nil {
		t.Errorf("ReplyCount = %v, want nil", post.Metrics.ReplyCount)
	}
}

func TestNormalizePostRejectsBadTimestamp(t *testing.T) {
	view := postView{
		URI:    "at://did:plc:abc/app.bsky.feed.post/1",
		Author: actorView{Did: "did:plc:abc", Handle: "alice.bsky.social"},
		Record: postRecord{Text: "x", CreatedAt: "not-a-time"},
	}

	if _, err := normalizePost(view, "golang", time.Now().UTC()); err == nil {
		t.Fatal("expected error for malformed createdAt")
	}
}

func TestProviderRegisteredByDefault(t *testing.T) {
	if !providers.Default().Has("bluesky") {
		t.Fatal("bluesky is not registered in the default registry")
	}
	p, err := providers.Default().Resolve("bluesky")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if p.Name() != "bluesky" {
		t.Errorf("Name = %q", p.Name())
	}
}
