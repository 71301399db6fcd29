package throttle

import (
	"errors"
	"testing"
	"time"
)

// errRateLimited reads like a provider rejection so the default classifier
// recognizes it without carrying a typed response.
var errRateLimited = errors.New("429 too many requests")

func TestOptions_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		opts []Option
	}{
		{"zero tpm limit", []Option{WithTPMLimit(0)}},
		{"negative tpm limit", []Option{WithTPMLimit(-1)}},
		{"margin below range", []Option{WithSafetyMargin(-0.1)}},
		{"margin above range", []Option{WithSafetyMargin(1.1)}},
		{"non-positive max wait", []Option{WithMaxWait(0)}},
		{"nil classifier", []Option{WithRateLimitClassifier(nil)}},
		{"negative max retries", []Option{WithMaxRetries(-1)}},
		{"non-positive base delay", []Option{WithBaseDelay(0)}},
		{"non-positive max delay", []Option{WithMaxDelay(-time.Second)}},
		{"non-positive multiplier", []Option{WithBackoffMultiplier(0)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRetry(tc.opts...); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestOptions_BoundaryValuesAccepted(t *testing.T) {
	// Margins of exactly 0 and 1 are legal, as is a retry budget of zero.
	for _, margin := range []float64{0, 1} {
		if _, err := NewRetry(WithSafetyMargin(margin)); err != nil {
			t.Errorf("margin %g: unexpected error %v", margin, err)
		}
	}
	if _, err := NewRetry(WithMaxRetries(0)); err != nil {
		t.Errorf("zero max retries: unexpected error %v", err)
	}
}

func TestEnforceMaxWait_Boundary(t *testing.T) {
	r, err := NewRetry(WithMaxWait(60 * time.Second))
	if err != nil {
		t.Fatal(err)
	}

	// Exactly at the ceiling passes through unchanged.
	if d, err := r.enforceMaxWait(60 * time.Second); err != nil || d != 60*time.Second {
		t.Errorf("expected 60s accepted, got %v, %v", d, err)
	}

	// Strictly greater fails with the typed condition.
	_, err = r.enforceMaxWait(60*time.Second + time.Nanosecond)
	var exceeded *RateLimitExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if exceeded.MaxWait != 60*time.Second {
		t.Errorf("expected max wait 60s in error, got %v", exceeded.MaxWait)
	}
	if exceeded.Requested <= 60*time.Second {
		t.Errorf("expected requested > 60s in error, got %v", exceeded.Requested)
	}
}

func TestAddJitter_StaysNearInput(t *testing.T) {
	r, err := NewRetry()
	if err != nil {
		t.Fatal(err)
	}

	in := 100 * time.Millisecond
	lo := time.Duration(float64(in) * (1 - jitterFraction))
	hi := time.Duration(float64(in) * (1 + jitterFraction))
	for i := 0; i < 1000; i++ {
		out := r.addJitter(in)
		if out < lo || out > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", out, lo, hi)
		}
	}
}

func TestAddJitter_Disabled(t *testing.T) {
	r, err := NewRetry(WithoutJitter())
	if err != nil {
		t.Fatal(err)
	}
	if out := r.addJitter(time.Second); out != time.Second {
		t.Errorf("expected delay unchanged, got %v", out)
	}
}

func TestEffectiveLimit_Floors(t *testing.T) {
	r, err := NewRetry(WithTPMLimit(99), WithSafetyMargin(0.5))
	if err != nil {
		t.Fatal(err)
	}
	if got := r.effectiveLimit(); got != 49 {
		t.Errorf("expected effective limit 49, got %d", got)
	}
}

func TestCheckTPMLimit_GateAndDelay(t *testing.T) {
	clock := newFakeClock() // :10 into the minute
	r, err := NewRetry(WithTPMLimit(1000), WithSafetyMargin(0.9), WithoutJitter())
	if err != nil {
		t.Fatal(err)
	}
	r.setClock(clock.now)

	// Below the effective limit of 900 nothing is gated.
	r.OnSuccess(899)
	if d, err := r.ShouldThrottle(1); err != nil || d != 0 {
		t.Errorf("expected no throttle at limit, got %v, %v", d, err)
	}

	// One token over gates until the next minute boundary.
	d, err := r.ShouldThrottle(2)
	if err != nil {
		t.Fatal(err)
	}
	if d != 50*time.Second {
		t.Errorf("expected 50s to minute boundary, got %v", d)
	}
}
