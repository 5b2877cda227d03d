package llm

import (
	"fmt"
	"time"
)

// RateLimitError is returned when the provider rejects a request because the
// model's quota is exhausted (HTTP 429). RetryAfter is zero when the provider
// did not say how long to wait.
type RateLimitError struct {
	Model      string
	RetryAfter time.Duration
	RateLimit  RateLimit
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited on %s (retry after %s): %s", e.Model, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("rate limited on %s: %s", e.Model, e.Body)
}

// APIError captures any other non-2xx provider response.
type APIError struct {
	StatusCode int
	Model      string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d) on %s: %s", e.StatusCode, e.Model, e.Body)
}
