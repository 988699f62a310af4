package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// statusError is returned for non-2xx provider responses. Every status is
// retried: 429 and 5xx are transient by nature, other 4xx are retried
// conservatively because the provider uses them for throttling too.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	switch {
	case e.status == http.StatusTooManyRequests:
		return fmt.Sprintf("rate limited (HTTP %d)", e.status)
	case e.status >= 500:
		return fmt.Sprintf("provider error (HTTP %d): %s", e.status, e.body)
	default:
		return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
	}
}

// StatusCode extracts the HTTP status from a gateway error, or 0.
func StatusCode(err error) int {
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}

// IsRateLimited reports whether err came from an HTTP 429.
func IsRateLimited(err error) bool {
	return StatusCode(err) == http.StatusTooManyRequests
}
