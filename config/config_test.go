package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/vinayprograms/throttlekit/throttle"
)

func TestParse_DefaultsToRetry(t *testing.T) {
	alg, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := alg.(*throttle.Retry); !ok {
		t.Errorf("expected *throttle.Retry, got %T", alg)
	}
}

func TestParse_SelectsVariant(t *testing.T) {
	cases := []struct {
		algorithm string
		wantType  string
	}{
		{"retry", "*throttle.Retry"},
		{"token_bucket", "*throttle.TokenBucket"},
		{"sliding_window", "*throttle.SlidingWindow"},
		{"adaptive", "*throttle.Adaptive"},
		{"circuit_breaker", "*throttle.CircuitBreaker"},
	}
	for _, tc := range cases {
		t.Run(tc.algorithm, func(t *testing.T) {
			alg, err := Parse(`algorithm = "` + tc.algorithm + `"`)
			if err != nil {
				t.Fatal(err)
			}
			var ok bool
			switch tc.algorithm {
			case "retry":
				_, ok = alg.(*throttle.Retry)
			case "token_bucket":
				_, ok = alg.(*throttle.TokenBucket)
			case "sliding_window":
				_, ok = alg.(*throttle.SlidingWindow)
			case "adaptive":
				_, ok = alg.(*throttle.Adaptive)
			case "circuit_breaker":
				_, ok = alg.(*throttle.CircuitBreaker)
			}
			if !ok {
				t.Errorf("expected %s, got %T", tc.wantType, alg)
			}
		})
	}
}

func TestParse_UnknownAlgorithm(t *testing.T) {
	_, err := Parse(`algorithm = "leaky_cauldron"`)
	if !errors.Is(err, throttle.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestParse_InvalidValuesFailConstruction(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"negative tpm", `tpm_limit = -1`},
		{"margin out of range", `safety_margin = 1.5`},
		{"negative retries", "algorithm = \"retry\"\n[retry]\nmax_retries = -1"},
		{"zero burst", "algorithm = \"token_bucket\"\n[token_bucket]\nburst_size = -5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse(tc.content); !errors.Is(err, throttle.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestParse_MalformedTOML(t *testing.T) {
	if _, err := Parse(`algorithm = `); err == nil {
		t.Error("expected parse error")
	}
}

func TestParse_ZeroValuesAreDeliberate(t *testing.T) {
	// jitter = false and safety_margin = 0 must survive the trip.
	content := "algorithm = \"retry\"\nsafety_margin = 0.0\njitter = false"
	if _, err := Parse(content); err != nil {
		t.Errorf("expected zero margin accepted, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "throttle.toml")
	content := "algorithm = \"token_bucket\"\ntpm_limit = 60000\n\n[token_bucket]\nburst_size = 200\nrefill_rate = 100.0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	alg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := alg.(*throttle.TokenBucket); !ok {
		t.Errorf("expected *throttle.TokenBucket, got %T", alg)
	}

	if _, err := LoadFile(filepath.Join(dir, "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}
