package classify

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryAfter extracts a server-provided wait hint from the response attached
// to a recognized error type. The boolean is false when the failure carries
// no usable hint.
func RetryAfter(err error) (time.Duration, bool) {
	h, ok := Headers(err)
	if !ok {
		return 0, false
	}
	return RetryAfterHeaders(h, time.Now)
}

// RetryAfterHeaders reads a wait hint out of response headers, in order of
// preference: Retry-After (delta-seconds or HTTP-date), retry-after-ms,
// then the x-ratelimit-reset-requests / -tokens durations some providers
// send alongside a rejection.
func RetryAfterHeaders(h http.Header, now func() time.Time) (time.Duration, bool) {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
		if at, err := http.ParseTime(v); err == nil {
			d := at.Sub(now())
			if d < 0 {
				d = 0
			}
			return d, true
		}
	}

	if v := strings.TrimSpace(h.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond, true
		}
	}

	for _, key := range []string{"x-ratelimit-reset-requests", "x-ratelimit-reset-tokens"} {
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d, true
			}
		}
	}

	return 0, false
}
