package davfs

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

// Methods safe to retry against a WebDAV endpoint. Every operation used
// here is idempotent, including PUT, whose payload is replayed whole.
var retryMethods = map[string]bool{
	"COPY":     true,
	"DELETE":   true,
	"GET":      true,
	"HEAD":     true,
	"MKCOL":    true,
	"MOVE":     true,
	"OPTIONS":  true,
	"PROPFIND": true,
	"PUT":      true,
}

var retryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// RetryPolicy decides whether a failed request is retried and how long
// to wait before the next attempt.
type RetryPolicy struct {
	MaxAttempts int
	factor      float64
}

// NewRetryPolicy draws the backoff factor once from [backoffMin,
// backoffMax] seconds; subsequent delays double it per attempt.
func NewRetryPolicy(maxAttempts int, backoffMin, backoffMax float64) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	factor := backoffMin
	if backoffMax > backoffMin {
		factor += rand.Float64() * (backoffMax - backoffMin)
	}
	return RetryPolicy{MaxAttempts: maxAttempts, factor: factor}
}

// Retryable reports whether another attempt should be made for the given
// method after a transport error or a response with the given status.
func (p RetryPolicy) Retryable(method string, status int, err error) bool {
	if !retryMethods[method] {
		return false
	}
	if err != nil {
		return true
	}
	return retryStatuses[status]
}

// Delay returns the wait before attempt n (1-based). A Retry-After
// header on the previous response takes precedence over the computed
// backoff.
func (p RetryPolicy) Delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if d, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return d
		}
	}
	return time.Duration(p.factor * math.Pow(2, float64(attempt-1)) * float64(time.Second))
}

// retryAfter parses a Retry-After value, either delay seconds or an HTTP
// date.
func retryAfter(value string) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
