package collect

import (
	"skylark/internal/core/posts"
	"skylark/internal/providers"
)

// metricsDocument flattens canonical metrics into the persisted document,
// omitting absent counters.
func metricsDocument(m providers.Metrics) posts.Document {
	doc := posts.Document{}
	setCount := func(key string, v *int64) {
		if v != nil {
			doc[key] = *v
		}
	}
	setCount("like_count", m.LikeCount)
	setCount("reply_count", m.ReplyCount)
	setCount("repost_count", m.RepostCount)
	setCount("quote_count", m.QuoteCount)
	setCount("view_count", m.ViewCount)
	setCount("bookmark_count", m.BookmarkCount)
	if m.Score != nil {
		doc["score"] = *m.Score
	}
	for key, value := range m.Extra {
		doc[key] = value
	}
	return doc
}

// entitiesDocument renders entity groups with every key present, so readers
// can index into the document without nil checks.
func entitiesDocument(e providers.Entities) posts.Document {
	hashtags := e.Hashtags
	if hashtags == nil {
		hashtags = []string{}
	}
	mentions := e.Mentions
	if mentions == nil {
		mentions = []map[string]any{}
	}
	links := e.Links
	if links == nil {
		links = []map[string]any{}
	}
	media := make([]posts.Document, 0, len(e.Media))
	for _, m := range e.Media {
		media = append(media, mediaDocument(m))
	}
	return posts.Document{
		"hashtags": hashtags,
		"mentions": mentions,
		"links":    links,
		"media":    media,
	}
}

func mediaDocument(m providers.Media) posts.Document {
	doc := posts.Document{
		"kind": m.Kind,
		"url":  m.URL,
	}
	if m.MimeType != "" {
		doc["mime_type"] = m.MimeType
	}
	if m.ThumbnailURL != "" {
		doc["thumbnail_url"] = m.ThumbnailURL
	}
	if m.AltText != "" {
		doc["alt_text"] = m.AltText
	}
	if m.Width > 0 {
		doc["width"] = m.Width
	}
	if m.Height > 0 {
		doc["height"] = m.Height
	}
	if m.DurationMS > 0 {
		doc["duration_ms"] = m.DurationMS
	}
	for key, value := range m.Metadata {
		doc[key] = value
	}
	return doc
}

func mediaRows(media []providers.Media) []posts.Media {
	if len(media) == 0 {
		return nil
	}
	rows := make([]posts.Media, 0, len(media))
	for _, m := range media {
		rows = append(rows, posts.Media{
			Kind:     m.Kind,
			URL:      m.URL,
			Metadata: m.Metadata,
		})
	}
	return rows
}

func authorMetadata(a providers.Author) posts.Document {
	doc := posts.Document{}
	if a.AvatarURL != "" {
		doc["avatar_url"] = a.AvatarURL
	}
	for key, value := range a.Metadata {
		doc[key] = value
	}
	return doc
}
