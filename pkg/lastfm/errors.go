package lastfm

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a Last.fm API error.
//
// Last.fm reports these in the response body as an error/message pair,
// usually with HTTP 200.
type Error struct {
	Code    int    // Last.fm error code
	Message string // Error message from Last.fm
}

// Error returns the error message.
func (e *Error) Error() string {
	return fmt.Sprintf("Last.fm API Error: %s (code %d)", e.Message, e.Code)
}

// Is checks if the target error is a Last.fm error with the same code.
//
// This allows errors.Is() to work with *Error types.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Temporary returns true if Last.fm reported the service as temporarily
// unavailable.
//
// The following Last.fm error codes are considered temporary:
//   - 11: Service Offline - temporarily unavailable
//   - 16: Service Temporarily Unavailable
//   - 29: Rate Limit Exceeded
func (e *Error) Temporary() bool {
	switch e.Code {
	case ErrCodeServiceOffline, ErrCodeTempUnavailable, ErrCodeRateLimitExceeded:
		return true
	default:
		return false
	}
}

// HTTPError is returned when the API answers with a status code >= 400.
type HTTPError struct {
	StatusCode int
	Message    string // API error message from the body, if any
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("Network/API Error (Status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("Network/API Error (Status %d)", e.StatusCode)
}

// Common Last.fm error codes.
const (
	ErrCodeInvalidService       = 2
	ErrCodeInvalidMethod        = 3
	ErrCodeAuthenticationFailed = 4
	ErrCodeInvalidFormat        = 5
	ErrCodeInvalidParameters    = 6
	ErrCodeInvalidResourceSpec  = 7
	ErrCodeOperationFailed      = 8
	ErrCodeInvalidSessionKey    = 9
	ErrCodeInvalidAPIKey        = 10
	ErrCodeServiceOffline       = 11
	ErrCodeSubscribersOnly      = 12
	ErrCodeInvalidSignature     = 13
	ErrCodeUnauthorizedToken    = 14
	ErrCodeExpiredToken         = 15
	ErrCodeTempUnavailable      = 16
	ErrCodeRateLimitExceeded    = 29
)

// Predefined errors for common cases.
var (
	// ErrInvalidConfig is returned when client configuration is invalid.
	ErrInvalidConfig = errors.New("lastfm: invalid configuration")

	// ErrInvalidParams is returned when request parameters are invalid.
	ErrInvalidParams = errors.New("lastfm: invalid parameters")

	// ErrMalformedResponse wraps failures to decode or validate a response.
	ErrMalformedResponse = errors.New("lastfm: malformed response")
)

// StatusCode returns the HTTP status carried by err, or 0 when the failure
// did not come from an HTTP error status.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err is an HTTP 500 Internal Server Error, the
// only failure class worth retrying for recent-tracks paging.
func IsTransient(err error) bool {
	return StatusCode(err) == http.StatusInternalServerError
}
