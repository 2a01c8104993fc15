package providers

import (
	"errors"
	"fmt"
	"time"
)

// Registry errors.
var (
	ErrNotRegistered     = errors.New("provider not registered")
	ErrAlreadyRegistered = errors.New("provider already registered")
	ErrInvalidFactory    = errors.New("factory does not produce a provider")
)

// InvalidQueryError reports semantically invalid or unsupported input: bad
// query syntax, unresolvable actors, or operations the current auth state
// cannot perform. Retrying without changing the request will not help.
type InvalidQueryError struct {
	Message string
}

func (e *InvalidQueryError) Error() string {
	return "invalid query: " + e.Message
}

// AuthError reports an authentication or authorization failure outside the
// login flow.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return "auth error: " + e.Message
}

// RateLimitedError reports provider throttling. RetryAfterS and ResetAt are
// populated from response headers when the provider exposes them.
type RateLimitedError struct {
	Message     string
	RetryAfterS *int
	ResetAt     *time.Time
	RequestID   string
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfterS != nil {
		return fmt.Sprintf("rate limited: %s (retry after %ds)", e.Message, *e.RetryAfterS)
	}
	return "rate limited: " + e.Message
}

// NetworkError reports transient transport failures and 5xx responses. The
// request may succeed if retried later.
type NetworkError struct {
	Message     string
	RetryAfterS *int
}

func (e *NetworkError) Error() string {
	return "temporary network error: " + e.Message
}

// UnavailableError reports provider maintenance or an extended outage.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string {
	return "provider unavailable: " + e.Message
}

// IsInvalidQuery reports whether err is an InvalidQueryError.
func IsInvalidQuery(err error) bool {
	var target *InvalidQueryError
	return errors.As(err, &target)
}

// IsAuth reports whether err is an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsRateLimited reports whether err is a RateLimitedError.
func IsRateLimited(err error) bool {
	var target *RateLimitedError
	return errors.As(err, &target)
}

// IsNetwork reports whether err is a NetworkError.
func IsNetwork(err error) bool {
	var target *NetworkError
	return errors.As(err, &target)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var target *UnavailableError
	return errors.As(err, &target)
}
