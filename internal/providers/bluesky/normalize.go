package bluesky

import (
	"fmt"
	"strings"
	"time"

	"skylark/internal/providers"
	"skylark/internal/timeutil"
)

// normalizePost maps one Bluesky post view into the canonical shape. source
// labels the collection scope the post was fetched under.
func normalizePost(view postView, source string, collectedAt time.Time) (providers.Post, error) {
	createdAt, err := timeutil.ParseUTC(view.Record.CreatedAt)
	if err != nil {
		return providers.Post{}, fmt.Errorf("post %s: %w", view.URI, err)
	}
	if createdAt.IsZero() {
		// Records without createdAt fall back to the AppView index time.
		createdAt, err = timeutil.ParseUTC(view.IndexedAt)
		if err != nil {
			return providers.Post{}, fmt.Errorf("post %s: %w", view.URI, err)
		}
	}

	post := providers.Post{
		Provider:    providerName,
		ExternalID:  view.URI,
		CreatedAt:   createdAt,
		CollectedAt: collectedAt,
		Author: providers.Author{
			ExternalID:  view.Author.Did,
			Handle:      canonicalHandle(view.Author.Handle),
			DisplayName: view.Author.DisplayName,
			AvatarURL:   view.Author.Avatar,
		},
		Text: view.Record.Text,
		Metrics: providers.Metrics{
			LikeCount:   coerceCount(view.LikeCount),
			ReplyCount:  coerceCount(view.ReplyCount),
			RepostCount: coerceCount(view.RepostCount),
			QuoteCount:  coerceCount(view.QuoteCount),
		},
		Entities: providers.Entities{
			Hashtags: []string{},
			Mentions: []map[string]any{},
			Links:    []map[string]any{},
			Media:    []providers.Media{},
		},
		Source: source,
	}
	if len(view.Record.Langs) > 0 {
		post.Lang = view.Record.Langs[0]
	}
	return post, nil
}

// canonicalHandle renders a handle in the "@name" form used across the
// pipeline.
func canonicalHandle(handle string) string {
	if handle == "" {
		return ""
	}
	if strings.HasPrefix(handle, "@") {
		return handle
	}
	return "@" + handle
}

// coerceCount clamps counters to non-negative, keeping absent ones absent.
func coerceCount(v *int64) *int64 {
	if v == nil {
		return nil
	}
	n := *v
	if n < 0 {
		n = 0
	}
	return &n
}
