// Package keyset implements the opaque pagination token used by post
// queries. A token encodes the (created_at, id) position of the last row of
// a page; the next page resumes strictly after it in (created_at DESC,
// id DESC) order.
package keyset

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxTokenLength bounds tokens before any decoding work happens.
const maxTokenLength = 512

// ErrInvalidToken is returned when an after-key token cannot be decoded.
var ErrInvalidToken = errors.New("invalid after-key token")

// Key is a keyset position. CreatedAt is always UTC.
type Key struct {
	CreatedAt time.Time
	ID        int64
}

// Encode renders k as a URL-safe token. Callers must treat the result as
// opaque; the layout may change between versions.
func Encode(k Key) string {
	payload := k.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + strconv.FormatInt(k.ID, 10)
	return base64.URLEncoding.EncodeToString([]byte(payload))
}

// Decode parses a token produced by Encode.
func Decode(token string) (Key, error) {
	if token == "" {
		return Key{}, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}
	if len(token) > maxTokenLength {
		return Key{}, fmt.Errorf("%w: token exceeds %d bytes", ErrInvalidToken, maxTokenLength)
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	tsPart, idPart, ok := strings.Cut(string(raw), "|")
	if !ok {
		return Key{}, fmt.Errorf("%w: malformed payload", ErrInvalidToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, tsPart)
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidToken, err)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Key{}, fmt.Errorf("%w: bad id: %v", ErrInvalidToken, err)
	}
	return Key{CreatedAt: createdAt.UTC(), ID: id}, nil
}
