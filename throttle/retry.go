package throttle

import (
	"fmt"
	"math"
	"time"
)

// Retry waits out the per-minute token gate before each call and answers
// rate-limit rejections with exponential backoff, honoring server-provided
// retry hints when the failure carries one.
type Retry struct {
	base
	retryCount int
}

// NewRetry constructs the exponential-backoff variant.
func NewRetry(opts ...Option) (*Retry, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validateShared(); err != nil {
		return nil, err
	}
	if cfg.maxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must be non-negative, got %d", ErrInvalidConfig, cfg.maxRetries)
	}
	if cfg.baseDelay <= 0 {
		return nil, fmt.Errorf("%w: base delay must be positive, got %s", ErrInvalidConfig, cfg.baseDelay)
	}
	if cfg.maxDelay <= 0 {
		return nil, fmt.Errorf("%w: max delay must be positive, got %s", ErrInvalidConfig, cfg.maxDelay)
	}
	if cfg.backoffMultiplier <= 0 {
		return nil, fmt.Errorf("%w: backoff multiplier must be positive, got %g", ErrInvalidConfig, cfg.backoffMultiplier)
	}
	return &Retry{base: newBase(cfg)}, nil
}

// ShouldThrottle applies only the per-minute token gate; retry state plays
// no role before the call.
func (r *Retry) ShouldThrottle(estimatedTokens int) (time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, gated := r.checkTPMLimit(estimatedTokens); gated {
		return r.enforceMaxWait(d)
	}
	return 0, nil
}

// OnSuccess resets the failure streak and records actual usage.
func (r *Retry) OnSuccess(tokensUsed int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.retryCount = 0
	if tokensUsed > 0 {
		r.usage.record(tokensUsed)
	}
}

// OnFailure returns the backoff delay before the next attempt, or retry
// false when the error is not a rate-limit rejection or the retry budget is
// spent. A server-provided hint overrides the computed backoff.
func (r *Retry) OnFailure(err error, estimatedTokens int) (time.Duration, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.cfg.isRateLimit(err) {
		return 0, false, nil
	}
	if r.retryCount >= r.cfg.maxRetries {
		return 0, false, nil
	}
	r.retryCount++

	delay, ok := r.cfg.retryAfter(err)
	if !ok {
		delay = r.backoff(r.retryCount)
	}

	delay, fatal := r.enforceMaxWait(r.addJitter(delay))
	if fatal != nil {
		return 0, false, fatal
	}
	return delay, true, nil
}

// backoff computes baseDelay * multiplier^(attempt-1), capped at maxDelay.
func (r *Retry) backoff(attempt int) time.Duration {
	d := time.Duration(float64(r.cfg.baseDelay) * math.Pow(r.cfg.backoffMultiplier, float64(attempt-1)))
	if d > r.cfg.maxDelay || d <= 0 {
		d = r.cfg.maxDelay
	}
	return d
}

// ResetRetryCount clears the failure streak without recording a success.
func (r *Retry) ResetRetryCount() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retryCount = 0
}

var _ Algorithm = (*Retry)(nil)
