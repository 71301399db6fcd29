package throttle

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/vinayprograms/throttlekit/classify"
)

// ErrInvalidConfig is wrapped by every construction-time validation failure.
// A constructed algorithm is always internally consistent; configuration is
// never re-checked after New.
var ErrInvalidConfig = errors.New("invalid configuration")

// RateLimitExceededError reports a computed delay that exceeds the configured
// maximum wait. It is fatal: the call should be abandoned rather than slept.
type RateLimitExceededError struct {
	Requested time.Duration
	MaxWait   time.Duration
}

func (e *RateLimitExceededError) Error() string {
	return fmt.Sprintf("rate limit delay (%s) exceeds maximum wait time (%s)",
		e.Requested.Round(time.Millisecond), e.MaxWait)
}

// Algorithm is the lifecycle every throttling variant implements.
//
// ShouldThrottle is the pre-flight check: a positive delay means the caller
// should wait that long before issuing the request. It mutates no retry or
// bucket state beyond the usage window's lazy cleanup.
//
// OnSuccess must be called exactly once per successful attempt with the true
// token count when known (the caller falls back to its estimate otherwise).
//
// OnFailure decides whether to retry a failed attempt. retry is false when
// the error is not a rate-limit condition or a retry budget is exhausted; in
// both cases the caller must propagate the original error. A non-nil error
// from either method is a *RateLimitExceededError.
type Algorithm interface {
	ShouldThrottle(estimatedTokens int) (time.Duration, error)
	OnSuccess(tokensUsed int)
	OnFailure(err error, estimatedTokens int) (delay time.Duration, retry bool, fatal error)
}

// Defaults applied when the corresponding option is not given.
const (
	DefaultTPMLimit     = 90000
	DefaultSafetyMargin = 0.9
	DefaultMaxWait      = 5 * time.Minute

	DefaultMaxRetries        = 3
	DefaultBaseDelay         = time.Second
	DefaultMaxDelay          = 60 * time.Second
	DefaultBackoffMultiplier = 2.0

	DefaultBurstSize        = 1000
	DefaultRefillRate       = 1500.0 // tokens per second
	DefaultFallbackEstimate = 500

	DefaultRPMLimit = 60

	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

// jitterFraction bounds the multiplicative perturbation applied to delays.
const jitterFraction = 0.25

// settings is the full configuration surface across all variants. Each
// constructor validates only the fields it uses.
type settings struct {
	tpmLimit     int
	safetyMargin float64
	maxWait      time.Duration
	jitter       bool

	isRateLimit func(error) bool
	retryAfter  func(error) (time.Duration, bool)

	// Retry
	maxRetries        int
	baseDelay         time.Duration
	maxDelay          time.Duration
	backoffMultiplier float64

	// TokenBucket
	burstSize        int
	refillRate       float64
	estimator        func() int
	fallbackEstimate int

	// SlidingWindow
	rpmLimit int
	window   time.Duration

	// CircuitBreaker
	failureThreshold int
	openDuration     time.Duration
}

func defaultSettings() settings {
	return settings{
		tpmLimit:     DefaultTPMLimit,
		safetyMargin: DefaultSafetyMargin,
		maxWait:      DefaultMaxWait,
		jitter:       true,

		isRateLimit: classify.IsRateLimit,
		retryAfter:  classify.RetryAfter,

		maxRetries:        DefaultMaxRetries,
		baseDelay:         DefaultBaseDelay,
		maxDelay:          DefaultMaxDelay,
		backoffMultiplier: DefaultBackoffMultiplier,

		burstSize:        DefaultBurstSize,
		refillRate:       DefaultRefillRate,
		fallbackEstimate: DefaultFallbackEstimate,

		rpmLimit: DefaultRPMLimit,
		window:   time.Minute,

		failureThreshold: DefaultFailureThreshold,
		openDuration:     DefaultOpenDuration,
	}
}

// validateShared checks the bounds common to every variant.
func (s *settings) validateShared() error {
	if s.tpmLimit <= 0 {
		return fmt.Errorf("%w: tpm limit must be positive, got %d", ErrInvalidConfig, s.tpmLimit)
	}
	if s.safetyMargin < 0 || s.safetyMargin > 1 {
		return fmt.Errorf("%w: safety margin must be between 0 and 1, got %g", ErrInvalidConfig, s.safetyMargin)
	}
	if s.maxWait <= 0 {
		return fmt.Errorf("%w: max wait must be positive, got %s", ErrInvalidConfig, s.maxWait)
	}
	if s.isRateLimit == nil {
		return fmt.Errorf("%w: rate limit classifier must not be nil", ErrInvalidConfig)
	}
	if s.retryAfter == nil {
		return fmt.Errorf("%w: retry-after extractor must not be nil", ErrInvalidConfig)
	}
	return nil
}

// Option configures an algorithm at construction time.
type Option func(*settings)

// WithTPMLimit sets the provider's tokens-per-minute limit.
func WithTPMLimit(n int) Option {
	return func(s *settings) { s.tpmLimit = n }
}

// WithSafetyMargin sets the fraction of the TPM limit actually permitted,
// leaving headroom against estimation error. Must be in [0, 1].
func WithSafetyMargin(f float64) Option {
	return func(s *settings) { s.safetyMargin = f }
}

// WithMaxWait sets the ceiling on any single computed delay. A delay that
// would exceed it surfaces as a *RateLimitExceededError instead of a wait.
func WithMaxWait(d time.Duration) Option {
	return func(s *settings) { s.maxWait = d }
}

// WithoutJitter disables the random perturbation of retry delays. Jitter is
// on by default to desynchronize callers retrying in lockstep.
func WithoutJitter() Option {
	return func(s *settings) { s.jitter = false }
}

// WithRateLimitClassifier replaces the predicate deciding whether an error
// is a rate-limit rejection. Defaults to classify.IsRateLimit.
func WithRateLimitClassifier(fn func(error) bool) Option {
	return func(s *settings) { s.isRateLimit = fn }
}

// WithRetryAfter replaces the extractor for server-provided wait hints.
// Defaults to classify.RetryAfter.
func WithRetryAfter(fn func(error) (time.Duration, bool)) Option {
	return func(s *settings) { s.retryAfter = fn }
}

// WithMaxRetries bounds consecutive retries for the Retry variant. Zero
// disables retries entirely.
func WithMaxRetries(n int) Option {
	return func(s *settings) { s.maxRetries = n }
}

// WithBaseDelay sets the first backoff delay for the Retry variant.
func WithBaseDelay(d time.Duration) Option {
	return func(s *settings) { s.baseDelay = d }
}

// WithMaxDelay caps the exponential backoff for the Retry variant.
func WithMaxDelay(d time.Duration) Option {
	return func(s *settings) { s.maxDelay = d }
}

// WithBackoffMultiplier sets the exponential growth factor for the Retry
// variant.
func WithBackoffMultiplier(f float64) Option {
	return func(s *settings) { s.backoffMultiplier = f }
}

// WithBurstSize sets the bucket capacity for the TokenBucket variant.
func WithBurstSize(n int) Option {
	return func(s *settings) { s.burstSize = n }
}

// WithRefillRate sets the bucket refill rate, in tokens per second, for the
// TokenBucket variant.
func WithRefillRate(perSecond float64) Option {
	return func(s *settings) { s.refillRate = perSecond }
}

// WithTokenEstimator supplies the estimator consulted when a caller passes
// no explicit token estimate. If the estimator panics or returns a
// non-positive count, the fallback estimate is used instead.
func WithTokenEstimator(fn func() int) Option {
	return func(s *settings) { s.estimator = fn }
}

// WithFallbackEstimate sets the fixed estimate used when no explicit
// estimate and no usable estimator result is available.
func WithFallbackEstimate(n int) Option {
	return func(s *settings) { s.fallbackEstimate = n }
}

// WithRPMLimit sets the request budget per rolling window for the
// SlidingWindow variant.
func WithRPMLimit(n int) Option {
	return func(s *settings) { s.rpmLimit = n }
}

// WithWindow sets the rolling window length for the SlidingWindow variant.
func WithWindow(d time.Duration) Option {
	return func(s *settings) { s.window = d }
}

// WithFailureThreshold sets how many consecutive rate-limit failures open
// the CircuitBreaker variant.
func WithFailureThreshold(n int) Option {
	return func(s *settings) { s.failureThreshold = n }
}

// WithOpenDuration sets how long the CircuitBreaker variant stays open
// before probing again.
func WithOpenDuration(d time.Duration) Option {
	return func(s *settings) { s.openDuration = d }
}

// base carries the state and helpers shared by every variant. Exported
// lifecycle methods on variants hold mu for their full duration; everything
// below assumes the caller already does.
type base struct {
	mu      sync.Mutex
	cfg     settings
	usage   *usageWindow
	rng     *rand.Rand
	nowFunc func() time.Time
}

func newBase(cfg settings) base {
	now := time.Now
	return base{
		cfg:     cfg,
		usage:   newUsageWindow(now),
		rng:     rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		nowFunc: now,
	}
}

// setClock rebinds the time source, for tests.
func (b *base) setClock(now func() time.Time) {
	b.nowFunc = now
	b.usage.now = now
}

// effectiveLimit is the permitted tokens per minute after the safety margin.
func (b *base) effectiveLimit() int {
	return int(float64(b.cfg.tpmLimit) * b.cfg.safetyMargin)
}

// checkTPMLimit is the shared per-minute admission gate. It returns the
// delay until the next minute boundary when recorded usage plus the estimate
// would exceed the effective limit.
func (b *base) checkTPMLimit(estimatedTokens int) (time.Duration, bool) {
	if b.usage.currentUsage()+estimatedTokens > b.effectiveLimit() {
		return b.untilNextMinute(), true
	}
	return 0, false
}

// untilNextMinute reports the time remaining to the next minute boundary.
// Exactly on a boundary it reports a full minute.
func (b *base) untilNextMinute() time.Duration {
	now := b.nowFunc()
	return now.Truncate(time.Minute).Add(time.Minute).Sub(now)
}

// addJitter perturbs a delay by a multiplicative factor in
// [1-jitterFraction, 1+jitterFraction]. The result is never negative.
func (b *base) addJitter(d time.Duration) time.Duration {
	if !b.cfg.jitter || d <= 0 {
		return d
	}
	factor := 1 + (b.rng.Float64()*2-1)*jitterFraction
	jittered := time.Duration(float64(d) * factor)
	if jittered < 0 {
		jittered = 0
	}
	return jittered
}

// enforceMaxWait is the circuit-breaker of last resort against unbounded
// sleeping. Delays up to and including the configured maximum pass through
// unchanged; anything greater fails the call.
func (b *base) enforceMaxWait(d time.Duration) (time.Duration, error) {
	if d > b.cfg.maxWait {
		return 0, &RateLimitExceededError{Requested: d, MaxWait: b.cfg.maxWait}
	}
	return d, nil
}
