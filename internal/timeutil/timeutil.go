// Package timeutil normalizes provider timestamps to UTC and renders the
// canonical RFC 3339 form used across the ingestion pipeline.
package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when a timestamp string cannot be parsed.
var ErrInvalidTimestamp = errors.New("invalid timestamp")

// parseLayouts are tried in order. Layouts without a zone treat the input as
// naive and therefore UTC.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseUTC parses an RFC 3339 / ISO 8601 timestamp into a UTC time. Naive
// inputs are assumed UTC; zoned inputs are converted. Empty (or all-space)
// input returns the zero time with no error.
func ParseUTC(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range parseLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// FormatRFC3339Z renders t as second-precision RFC 3339 with the Z suffix.
// Times in other zones are converted to UTC first.
func FormatRFC3339Z(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}
