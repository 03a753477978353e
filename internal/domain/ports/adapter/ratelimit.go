package adapter

import (
	"fmt"
	"time"
)

// RateLimitedError reports an HTTP 429 from an external API. RetryAfter is
// zero when the provider did not send a Retry-After header.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}
