package throttle

import (
	"fmt"
	"time"
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// CircuitBreaker stops issuing calls after a streak of rate-limit failures.
// While open, every pre-flight check reports the remaining cooldown. Once
// the cooldown elapses a single probe call is let through: success closes
// the circuit, another rejection reopens it.
type CircuitBreaker struct {
	base
	state    circuitState
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker constructs the failure-streak variant.
func NewCircuitBreaker(opts ...Option) (*CircuitBreaker, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validateShared(); err != nil {
		return nil, err
	}
	if cfg.failureThreshold <= 0 {
		return nil, fmt.Errorf("%w: failure threshold must be positive, got %d", ErrInvalidConfig, cfg.failureThreshold)
	}
	if cfg.openDuration <= 0 {
		return nil, fmt.Errorf("%w: open duration must be positive, got %s", ErrInvalidConfig, cfg.openDuration)
	}
	return &CircuitBreaker{base: newBase(cfg)}, nil
}

// remainingCooldown reports how long until the open circuit admits a probe.
func (c *CircuitBreaker) remainingCooldown() time.Duration {
	d := c.openedAt.Add(c.cfg.openDuration).Sub(c.nowFunc())
	if d < 0 {
		d = 0
	}
	return d
}

// ShouldThrottle checks the token gate first, then the breaker state.
func (c *CircuitBreaker) ShouldThrottle(estimatedTokens int) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, gated := c.checkTPMLimit(estimatedTokens); gated {
		return c.enforceMaxWait(d)
	}

	switch c.state {
	case circuitOpen:
		if d := c.remainingCooldown(); d > 0 {
			return c.enforceMaxWait(d)
		}
		c.state = circuitHalfOpen
		c.probing = false
		fallthrough
	case circuitHalfOpen:
		if c.probing {
			// A probe is already in flight; hold further calls back for
			// a full cooldown cycle.
			return c.enforceMaxWait(c.cfg.openDuration)
		}
		c.probing = true
		return 0, nil
	default:
		return 0, nil
	}
}

// OnSuccess closes the circuit, clears the streak, and records usage.
func (c *CircuitBreaker) OnSuccess(tokensUsed int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = circuitClosed
	c.failures = 0
	c.probing = false
	if tokensUsed > 0 {
		c.usage.record(tokensUsed)
	}
}

// OnFailure counts the rejection toward the streak, opening (or reopening)
// the circuit when the threshold is reached, and returns the cooldown as the
// retry delay.
func (c *CircuitBreaker) OnFailure(err error, estimatedTokens int) (time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.probing = false
	if !c.cfg.isRateLimit(err) {
		return 0, false, nil
	}

	c.failures++
	if c.state == circuitHalfOpen || c.failures >= c.cfg.failureThreshold {
		c.state = circuitOpen
		c.openedAt = c.nowFunc()
	}

	delay, ok := c.cfg.retryAfter(err)
	if !ok {
		if c.state == circuitOpen {
			delay = c.remainingCooldown()
		}
		if delay < minFailureDelay {
			delay = minFailureDelay
		}
	}

	delay, fatal := c.enforceMaxWait(c.addJitter(delay))
	if fatal != nil {
		return 0, false, fatal
	}
	return delay, true, nil
}

var _ Algorithm = (*CircuitBreaker)(nil)
