// Package httpthrottle adapts a throttling algorithm to the standard
// http.RoundTripper chain, so any http.Client can be rate limited by
// swapping its Transport.
package httpthrottle

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/vinayprograms/throttlekit/classify"
	"github.com/vinayprograms/throttlekit/throttle"
)

// drainLimit caps how much of a doomed response body is read before close,
// to keep the connection reusable.
const drainLimit = 64 << 10

// EstimateFunc maps a request to its token estimate.
type EstimateFunc func(r *http.Request) int

// defaultEstimate guesses from the request body length, same rule of thumb
// as the estimate package.
func defaultEstimate(r *http.Request) int {
	if r.ContentLength > 0 {
		return int(r.ContentLength / 4)
	}
	return 0
}

type roundTripper struct {
	alg      throttle.Algorithm
	next     http.RoundTripper
	front    *rate.Limiter
	estimate EstimateFunc
	log      zerolog.Logger
}

// Option configures the round tripper.
type Option func(*roundTripper)

// WithTransport sets the underlying transport. Defaults to
// http.DefaultTransport.
func WithTransport(next http.RoundTripper) Option {
	return func(t *roundTripper) { t.next = next }
}

// WithRPSLimit adds a requests-per-second front limiter ahead of the
// token-based algorithm.
func WithRPSLimit(rps, burst int) Option {
	return func(t *roundTripper) { t.front = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithEstimate replaces the per-request token estimator.
func WithEstimate(fn EstimateFunc) Option {
	return func(t *roundTripper) { t.estimate = fn }
}

// WithLogger attaches a logger for wait and retry events.
func WithLogger(log zerolog.Logger) Option {
	return func(t *roundTripper) { t.log = log }
}

// NewRoundTripper returns an http.RoundTripper that consults alg before
// each request and retries rate-limited responses per the algorithm's
// decisions. Requests with a body are only retried when GetBody is set
// (true for all requests built by http.NewRequest from replayable readers).
func NewRoundTripper(alg throttle.Algorithm, opts ...Option) (http.RoundTripper, error) {
	if alg == nil {
		return nil, fmt.Errorf("%w: algorithm must not be nil", throttle.ErrInvalidConfig)
	}
	t := &roundTripper{
		alg:      alg,
		next:     http.DefaultTransport,
		estimate: defaultEstimate,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *roundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()

	if t.front != nil {
		if err := t.front.Wait(ctx); err != nil {
			return nil, err
		}
	}

	estimated := t.estimate(r)
	delay, err := t.alg.ShouldThrottle(estimated)
	if err != nil {
		return nil, err
	}
	if delay > 0 {
		t.log.Debug().Dur("delay", delay).Str("url", r.URL.String()).Msg("throttled before request")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}

	for {
		resp, rtErr := t.next.RoundTrip(r)
		if rtErr == nil && resp.StatusCode < 400 {
			t.alg.OnSuccess(estimated)
			return resp, nil
		}

		cause := rtErr
		if cause == nil {
			cause = &classify.HTTPError{StatusCode: resp.StatusCode, Response: resp}
		}

		delay, retry, fatal := t.alg.OnFailure(cause, estimated)
		if fatal != nil {
			discard(resp)
			return nil, fatal
		}
		if !retry {
			// Not our condition to handle: surface the transport error or
			// the response unchanged.
			return resp, rtErr
		}

		rewound, ok := rewind(r)
		if !ok {
			return resp, rtErr
		}
		r = rewound
		discard(resp)

		t.log.Debug().Dur("delay", delay).Str("url", r.URL.String()).Msg("retrying after rate limit")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// rewind prepares the request for another attempt. Bodyless requests pass
// through; bodied requests need GetBody.
func rewind(r *http.Request) (*http.Request, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return r, true
	}
	if r.GetBody == nil {
		return nil, false
	}
	body, err := r.GetBody()
	if err != nil {
		return nil, false
	}
	clone := r.Clone(r.Context())
	clone.Body = body
	return clone, true
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	io.CopyN(io.Discard, resp.Body, drainLimit)
	resp.Body.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
