package marketapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var ErrMalformedResponse = errors.New("malformed api response")

// StatusError is a non-2xx API response.
type StatusError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Body)
}

// RateLimited reports a 429.
func (e *StatusError) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// Retryable reports statuses worth another attempt: 408, 429 and 5xx.
func (e *StatusError) Retryable() bool {
	return e.Status == http.StatusRequestTimeout || e.RateLimited() || e.Status >= 500
}

// IsRateLimited reports whether err carries a 429 response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.RateLimited()
}

// IsRetryable classifies err. Status errors decide for themselves, cancellation
// never retries, and anything else (timeouts, resets, truncated bodies) is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var se *StatusError
	if errors.As(err, &se) {
		return se.RetryAfter
	}
	return 0
}
