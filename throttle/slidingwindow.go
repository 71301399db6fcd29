package throttle

import (
	"fmt"
	"time"
)

// SlidingWindow caps completed requests per rolling window on top of the
// per-minute token gate. Request timestamps are recorded on success, so the
// pre-flight check stays free of side effects.
type SlidingWindow struct {
	base
	stamps []time.Time
}

// NewSlidingWindow constructs the request-rate variant.
func NewSlidingWindow(opts ...Option) (*SlidingWindow, error) {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validateShared(); err != nil {
		return nil, err
	}
	if cfg.rpmLimit <= 0 {
		return nil, fmt.Errorf("%w: request limit must be positive, got %d", ErrInvalidConfig, cfg.rpmLimit)
	}
	if cfg.window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, cfg.window)
	}
	return &SlidingWindow{base: newBase(cfg)}, nil
}

// prune drops timestamps that have left the window.
func (s *SlidingWindow) prune() {
	cutoff := s.nowFunc().Add(-s.cfg.window)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}

// ShouldThrottle checks the token gate, then the request budget. When the
// window is full, the delay runs until the oldest request ages out.
func (s *SlidingWindow) ShouldThrottle(estimatedTokens int) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, gated := s.checkTPMLimit(estimatedTokens); gated {
		return s.enforceMaxWait(d)
	}

	s.prune()
	if len(s.stamps) < s.cfg.rpmLimit {
		return 0, nil
	}
	delay := s.stamps[0].Add(s.cfg.window).Sub(s.nowFunc())
	if delay < 0 {
		delay = 0
	}
	return s.enforceMaxWait(s.addJitter(delay))
}

// OnSuccess records the request in the window and its token usage.
func (s *SlidingWindow) OnSuccess(tokensUsed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stamps = append(s.stamps, s.nowFunc())
	if tokensUsed > 0 {
		s.usage.record(tokensUsed)
	}
}

// OnFailure retries rate-limit rejections after the server hint, or once the
// oldest request leaves the window, with a one second floor.
func (s *SlidingWindow) OnFailure(err error, estimatedTokens int) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.isRateLimit(err) {
		return 0, false, nil
	}

	delay, ok := s.cfg.retryAfter(err)
	if !ok {
		s.prune()
		if len(s.stamps) > 0 {
			delay = s.stamps[0].Add(s.cfg.window).Sub(s.nowFunc())
		}
		if delay < minFailureDelay {
			delay = minFailureDelay
		}
	}

	delay, fatal := s.enforceMaxWait(s.addJitter(delay))
	if fatal != nil {
		return 0, false, fatal
	}
	return delay, true, nil
}

var _ Algorithm = (*SlidingWindow)(nil)
