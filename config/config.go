// Package config builds throttling algorithms from TOML, selecting a
// variant by name the way service configuration usually does:
//
//	algorithm      = "token_bucket"
//	tpm_limit      = 90000
//	safety_margin  = 0.9
//	max_wait_minutes = 5.0
//	jitter         = true
//
//	[token_bucket]
//	burst_size  = 1000
//	refill_rate = 1500.0
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vinayprograms/throttlekit/throttle"
)

// File is the TOML schema. Pointer fields distinguish "absent" from a
// deliberate zero, since several zero values are legal settings.
type File struct {
	Algorithm      string   `toml:"algorithm"`
	TPMLimit       int      `toml:"tpm_limit"`
	SafetyMargin   *float64 `toml:"safety_margin"`
	MaxWaitMinutes float64  `toml:"max_wait_minutes"`
	Jitter         *bool    `toml:"jitter"`

	Retry struct {
		MaxRetries        *int    `toml:"max_retries"`
		BaseDelay         float64 `toml:"base_delay"`
		MaxDelay          float64 `toml:"max_delay"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
	} `toml:"retry"`

	TokenBucket struct {
		BurstSize  int     `toml:"burst_size"`
		RefillRate float64 `toml:"refill_rate"`
	} `toml:"token_bucket"`

	SlidingWindow struct {
		RPMLimit      int     `toml:"rpm_limit"`
		WindowSeconds float64 `toml:"window_seconds"`
	} `toml:"sliding_window"`

	CircuitBreaker struct {
		FailureThreshold    int     `toml:"failure_threshold"`
		OpenDurationSeconds float64 `toml:"open_duration_seconds"`
	} `toml:"circuit_breaker"`
}

// LoadFile reads a TOML file and constructs the algorithm it describes.
func LoadFile(path string) (throttle.Algorithm, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(string(content))
}

// Parse constructs the algorithm described by TOML content. An unknown
// algorithm name fails with throttle.ErrInvalidConfig.
func Parse(content string) (throttle.Algorithm, error) {
	var f File
	if _, err := toml.Decode(content, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return Build(f)
}

// Build constructs the algorithm described by an already-decoded File.
func Build(f File) (throttle.Algorithm, error) {
	opts := f.options()

	switch f.Algorithm {
	case "", "retry":
		return throttle.NewRetry(opts...)
	case "token_bucket":
		return throttle.NewTokenBucket(opts...)
	case "sliding_window":
		return throttle.NewSlidingWindow(opts...)
	case "adaptive":
		return throttle.NewAdaptive(opts...)
	case "circuit_breaker":
		return throttle.NewCircuitBreaker(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", throttle.ErrInvalidConfig, f.Algorithm)
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}

func (f File) options() []throttle.Option {
	var opts []throttle.Option

	if f.TPMLimit != 0 {
		opts = append(opts, throttle.WithTPMLimit(f.TPMLimit))
	}
	if f.SafetyMargin != nil {
		opts = append(opts, throttle.WithSafetyMargin(*f.SafetyMargin))
	}
	if f.MaxWaitMinutes != 0 {
		opts = append(opts, throttle.WithMaxWait(time.Duration(f.MaxWaitMinutes*float64(time.Minute))))
	}
	if f.Jitter != nil && !*f.Jitter {
		opts = append(opts, throttle.WithoutJitter())
	}

	if f.Retry.MaxRetries != nil {
		opts = append(opts, throttle.WithMaxRetries(*f.Retry.MaxRetries))
	}
	if f.Retry.BaseDelay != 0 {
		opts = append(opts, throttle.WithBaseDelay(seconds(f.Retry.BaseDelay)))
	}
	if f.Retry.MaxDelay != 0 {
		opts = append(opts, throttle.WithMaxDelay(seconds(f.Retry.MaxDelay)))
	}
	if f.Retry.BackoffMultiplier != 0 {
		opts = append(opts, throttle.WithBackoffMultiplier(f.Retry.BackoffMultiplier))
	}

	if f.TokenBucket.BurstSize != 0 {
		opts = append(opts, throttle.WithBurstSize(f.TokenBucket.BurstSize))
	}
	if f.TokenBucket.RefillRate != 0 {
		opts = append(opts, throttle.WithRefillRate(f.TokenBucket.RefillRate))
	}

	if f.SlidingWindow.RPMLimit != 0 {
		opts = append(opts, throttle.WithRPMLimit(f.SlidingWindow.RPMLimit))
	}
	if f.SlidingWindow.WindowSeconds != 0 {
		opts = append(opts, throttle.WithWindow(seconds(f.SlidingWindow.WindowSeconds)))
	}

	if f.CircuitBreaker.FailureThreshold != 0 {
		opts = append(opts, throttle.WithFailureThreshold(f.CircuitBreaker.FailureThreshold))
	}
	if f.CircuitBreaker.OpenDurationSeconds != 0 {
		opts = append(opts, throttle.WithOpenDuration(seconds(f.CircuitBreaker.OpenDurationSeconds)))
	}

	return opts
}
