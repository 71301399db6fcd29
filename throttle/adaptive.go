package throttle

import "time"

// Adaptive tuning constants: each recognized rejection cuts the working
// limit to reduceFactor of its current value, each success restores
// recoverStep of the nominal limit, and the working limit never falls below
// minLimitFraction of nominal.
const (
	reduceFactor     = 0.75
	recoverStep      = 0.05
	minLimitFraction = 0.10
)

// Adaptive behaves like the shared token gate but with a working limit that
// backs off when the provider pushes back and creeps back up on success.
// The nominal ceiling is the margin-scaled TPM limit; the working limit
// moves within [minLimitFraction*nominal, nominal].
type Adaptive struct {
	base
	limit int // current working limit, tokens per minute
}

// NewAdaptive constructs the self-tuning variant.
func NewAdaptive(opts ...Option) (*Adaptive, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validateShared(); err != nil {
		return nil, err
	}
	a := &Adaptive{base: newBase(cfg)}
	a.limit = a.effectiveLimit()
	return a, nil
}

// nominal is the upper bound the working limit recovers toward.
func (a *Adaptive) nominal() int { return a.effectiveLimit() }

func (a *Adaptive) floor() int {
	f := int(float64(a.nominal()) * minLimitFraction)
	if f < 1 {
		f = 1
	}
	return f
}

// ShouldThrottle gates on the working limit instead of the nominal one.
func (a *Adaptive) ShouldThrottle(estimatedTokens int) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.usage.currentUsage()+estimatedTokens > a.limit {
		return a.enforceMaxWait(a.untilNextMinute())
	}
	return 0, nil
}

// OnSuccess records usage and recovers part of the working limit.
func (a *Adaptive) OnSuccess(tokensUsed int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tokensUsed > 0 {
		a.usage.record(tokensUsed)
	}
	a.limit += int(float64(a.nominal()) * recoverStep)
	if n := a.nominal(); a.limit > n {
		a.limit = n
	}
}

// OnFailure cuts the working limit and retries after the server hint or the
// next minute boundary.
func (a *Adaptive) OnFailure(err error, estimatedTokens int) (time.Duration, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cfg.isRateLimit(err) {
		return 0, false, nil
	}

	a.limit = int(float64(a.limit) * reduceFactor)
	if f := a.floor(); a.limit < f {
		a.limit = f
	}

	delay, ok := a.cfg.retryAfter(err)
	if !ok {
		delay = a.untilNextMinute()
	}

	delay, fatal := a.enforceMaxWait(a.addJitter(delay))
	if fatal != nil {
		return 0, false, fatal
	}
	return delay, true, nil
}

// Limit reports the current working limit, for observability.
func (a *Adaptive) Limit() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.limit
}

var _ Algorithm = (*Adaptive)(nil)
