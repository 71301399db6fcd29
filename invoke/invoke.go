// Package invoke runs a user function under a throttling algorithm. It owns
// everything the algorithms deliberately do not: estimating the request
// cost, sleeping out computed delays, re-invoking the call on retry, and
// surfacing the original error when the algorithm declines to retry.
//
// Sleeping is context-aware, so the same loop serves blocking callers and
// cooperatively cancelled ones. A call cancelled mid-sleep aborts without
// reporting the attempt to the algorithm.
package invoke

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vinayprograms/throttlekit/throttle"
)

// Call performs one attempt. tokensUsed is the attempt's true token cost
// when the provider reports it, or zero when unknown.
type Call[T any] func(ctx context.Context) (result T, tokensUsed int, err error)

type options struct {
	estimatedTokens int
	estimator       func() int
	logger          zerolog.Logger
	sleep           func(ctx context.Context, d time.Duration) error
}

// Option configures a single Do invocation or a Wrap closure.
type Option func(*options)

// WithEstimatedTokens supplies an explicit token estimate for the request.
func WithEstimatedTokens(n int) Option {
	return func(o *options) { o.estimatedTokens = n }
}

// WithEstimator supplies an estimator consulted when no explicit estimate
// is given.
func WithEstimator(fn func() int) Option {
	return func(o *options) { o.estimator = fn }
}

// WithLogger attaches a logger for wait and retry events. Logging is off by
// default.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.logger = log }
}

// WithSleep replaces the wait implementation, for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

// sleepCtx waits out d or returns the context's error, whichever first.
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

// Do runs call under alg: pre-flight check, optional wait, the attempt
// itself, then success or failure bookkeeping. Rate-limit rejections are
// retried for as long as the algorithm returns a delay; any other failure,
// or an exhausted retry budget, propagates the call's error unchanged.
func Do[T any](ctx context.Context, alg throttle.Algorithm, call Call[T], opts ...Option) (T, error) {
	var zero T

	cfg := options{
		logger: zerolog.Nop(),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	log := cfg.logger.With().Str("call_id", uuid.NewString()).Logger()

	estimated := cfg.estimatedTokens
	if estimated <= 0 && cfg.estimator != nil {
		estimated = cfg.estimator()
	}

	delay, err := alg.ShouldThrottle(estimated)
	if err != nil {
		return zero, err
	}
	if delay > 0 {
		log.Debug().Dur("delay", delay).Int("estimated_tokens", estimated).Msg("throttled before request")
		if err := cfg.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	for attempt := 1; ; attempt++ {
		result, used, callErr := call(ctx)
		if callErr == nil {
			if used <= 0 {
				used = estimated
			}
			alg.OnSuccess(used)
			return result, nil
		}

		delay, retry, fatal := alg.OnFailure(callErr, estimated)
		if fatal != nil {
			return zero, fatal
		}
		if !retry {
			return zero, callErr
		}

		log.Debug().Dur("delay", delay).Int("attempt", attempt).Err(callErr).Msg("retrying after rate limit")
		if err := cfg.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Wrap binds one algorithm instance to one function, the usual deployment:
// every invocation of the returned closure shares the same counters.
func Wrap[T any](alg throttle.Algorithm, call Call[T], opts ...Option) func(ctx context.Context) (T, error) {
	return func(ctx context.Context) (T, error) {
		return Do(ctx, alg, call, opts...)
	}
}
