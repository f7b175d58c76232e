package providers

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/ironclaw/ironclaw/internal/backoff"
)

// TransportRetry is the retry loop every wire adapter runs around its own
// HTTP call, orthogonal to the outer Retry decorator. On each attempt i
// (0 <= i <= MaxRetries) the caller issues the request; network errors and
// statuses in {429,500,502,503,504} sleep for 1s*2^i + jitter(+-25%) and try
// again. All other non-success statuses are surfaced immediately.
type TransportRetry struct {
	MaxRetries int
}

// DefaultTransportRetry returns the transport-level retry budget used by the
// wire adapters.
func DefaultTransportRetry() TransportRetry {
	return TransportRetry{MaxRetries: 3}
}

// Do runs fn (which performs one HTTP attempt and returns the response
// status it observed, or -1 for a network error) until it succeeds, a
// non-retryable status is returned, MaxRetries is exhausted, or ctx is
// cancelled.
func (r TransportRetry) Do(ctx context.Context, fn func(attempt int) (status int, err error)) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		status, err := fn(attempt)
		if err == nil && (status == 0 || status < 400) {
			return nil
		}
		lastErr = err
		// A network error (status -1, or 0 when no HTTP status was seen) or a
		// status in IsRetryStatus is retried; any other status is surfaced.
		retryable := (err != nil && status <= 0) || IsRetryStatus(status)
		if !retryable || attempt == r.MaxRetries {
			if err != nil {
				return err
			}
			return &ProviderError{Kind: classifyStatusCode(status), Status: status}
		}
		if sleepErr := backoff.SleepSymmetric(ctx, time.Second, 2, 0.25, attempt, rand.Float64()); sleepErr != nil { // #nosec G404 -- jitter, not security-sensitive
			return sleepErr
		}
	}
	return lastErr
}

// RetryAfterFromHeader parses a Retry-After header (seconds form) into a
// duration, defaulting to zero when absent or malformed.
func RetryAfterFromHeader(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int
	if _, err := parseInt(v, &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func parseInt(s string, out *int) (int, error) {
	n := 0
	neg := false
	for i, c := range s {
		if i == 0 && c == '-' {
			neg = true
			continue
		}
		if c < '0' || c > '9' {
			return 0, errNotInt
		}
		n = n*10 + int(c-'0')
	}
	if neg {
		n = -n
	}
	*out = n
	return n, nil
}

var errNotInt = &parseError{"not an integer"}

type parseError struct{ s string }

func (e *parseError) Error() string { return e.s }
