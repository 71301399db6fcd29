package throttle

import (
	"fmt"
	"time"
)

// minFailureDelay floors the retry delay after a rejection when the bucket
// would otherwise report zero wait, so a server actively rejecting is never
// hammered in a zero-delay loop.
const minFailureDelay = time.Second

// TokenBucket rations a continuously refilling token budget. The bucket has
// no timer; it is lazily caught up from elapsed time before every read or
// consumption. The per-minute token gate is checked first and its delay
// takes precedence over the bucket's.
type TokenBucket struct {
	base
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket constructs the admission-control variant.
func NewTokenBucket(opts ...Option) (*TokenBucket, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validateShared(); err != nil {
		return nil, err
	}
	if cfg.burstSize <= 0 {
		return nil, fmt.Errorf("%w: burst size must be positive, got %d", ErrInvalidConfig, cfg.burstSize)
	}
	if cfg.refillRate <= 0 {
		return nil, fmt.Errorf("%w: refill rate must be positive, got %g", ErrInvalidConfig, cfg.refillRate)
	}
	if cfg.fallbackEstimate <= 0 {
		return nil, fmt.Errorf("%w: fallback estimate must be positive, got %d", ErrInvalidConfig, cfg.fallbackEstimate)
	}

	b := &TokenBucket{base: newBase(cfg)}
	b.tokens = float64(cfg.burstSize)
	b.lastRefill = b.nowFunc()
	return b, nil
}

// refill catches the bucket up to now: elapsed seconds times the refill
// rate, capped at the burst size. Always applied before any read.
func (b *TokenBucket) refill() {
	now := b.nowFunc()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.cfg.refillRate
	if full := float64(b.cfg.burstSize); b.tokens > full {
		b.tokens = full
	}
	b.lastRefill = now
}

// consume takes n tokens if available. On shortfall the bucket is left
// untouched.
func (b *TokenBucket) consume(n float64) bool {
	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// waitTime reports exactly how long until n tokens will have accrued.
func (b *TokenBucket) waitTime(n float64) time.Duration {
	b.refill()
	if b.tokens >= n {
		return 0
	}
	seconds := (n - b.tokens) / b.cfg.refillRate
	return time.Duration(seconds * float64(time.Second))
}

// estimate resolves the token cost of the upcoming request: the explicit
// estimate when positive, else the configured estimator, else the fixed
// fallback. A panicking or non-positive estimator also yields the fallback.
func (b *TokenBucket) estimate(estimatedTokens int) (n int) {
	if estimatedTokens > 0 {
		return estimatedTokens
	}
	n = b.cfg.fallbackEstimate
	if b.cfg.estimator == nil {
		return n
	}
	defer func() {
		if recover() != nil {
			n = b.cfg.fallbackEstimate
		}
	}()
	if est := b.cfg.estimator(); est > 0 {
		n = est
	}
	return n
}

// ShouldThrottle checks the per-minute gate, then attempts to consume the
// estimated tokens from the bucket. On shortfall it returns the exact
// accrual time, jittered and checked against the maximum wait.
func (b *TokenBucket) ShouldThrottle(estimatedTokens int) (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, gated := b.checkTPMLimit(estimatedTokens); gated {
		return b.enforceMaxWait(d)
	}

	need := float64(b.estimate(estimatedTokens))
	if b.consume(need) {
		return 0, nil
	}
	return b.enforceMaxWait(b.addJitter(b.waitTime(need)))
}

// OnSuccess records actual usage in the minute window. The trailing refill
// is a catch-up pass only; consumption already happened in ShouldThrottle.
func (b *TokenBucket) OnSuccess(tokensUsed int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if tokensUsed > 0 {
		b.usage.record(tokensUsed)
	}
	b.refill()
}

// OnFailure retries every rate-limit rejection: after the server-provided
// hint when present, otherwise after the bucket's accrual time, floored at
// minFailureDelay.
func (b *TokenBucket) OnFailure(err error, estimatedTokens int) (time.Duration, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.cfg.isRateLimit(err) {
		return 0, false, nil
	}

	delay, ok := b.cfg.retryAfter(err)
	if !ok {
		delay = b.waitTime(float64(b.estimate(estimatedTokens)))
		if delay == 0 {
			delay = minFailureDelay
		}
	}

	delay, fatal := b.enforceMaxWait(b.addJitter(delay))
	if fatal != nil {
		return 0, false, fatal
	}
	return delay, true, nil
}

// TokensAvailable reports the bucket level after catching up refill.
func (b *TokenBucket) TokensAvailable() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	return b.tokens
}

// Reset refills the bucket to full capacity immediately.
func (b *TokenBucket) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokens = float64(b.cfg.burstSize)
	b.lastRefill = b.nowFunc()
}

var _ Algorithm = (*TokenBucket)(nil)
