package estimate

import (
	"strings"
	"testing"
)

func TestText(t *testing.T) {
	if got := Text(strings.Repeat("a", 400)); got != 100 {
		t.Errorf("expected 100 tokens for 400 chars, got %d", got)
	}
	if got := Text("hi", "there"); got != 1 {
		t.Errorf("expected 1 token for 7 chars, got %d", got)
	}
	if got := Text(); got != 1 {
		t.Errorf("expected minimum of 1 for empty input, got %d", got)
	}
}

func TestGuard(t *testing.T) {
	t.Run("passes through sane results", func(t *testing.T) {
		fn := Guard(Text, 50)
		if got := fn(strings.Repeat("a", 400)); got != 100 {
			t.Errorf("expected 100, got %d", got)
		}
	})

	t.Run("recovers panics", func(t *testing.T) {
		fn := Guard(func(...string) int { panic("tokenizer exploded") }, 50)
		if got := fn("anything"); got != 50 {
			t.Errorf("expected fallback 50, got %d", got)
		}
	})

	t.Run("replaces nonsense results", func(t *testing.T) {
		fn := Guard(func(...string) int { return -3 }, 50)
		if got := fn("anything"); got != 50 {
			t.Errorf("expected fallback 50, got %d", got)
		}
	})

	t.Run("nil estimator", func(t *testing.T) {
		fn := Guard(nil, 50)
		if got := fn("anything"); got != 50 {
			t.Errorf("expected fallback 50, got %d", got)
		}
	})

	t.Run("non-positive fallback defaults", func(t *testing.T) {
		fn := Guard(nil, 0)
		if got := fn("anything"); got != DefaultFallback {
			t.Errorf("expected DefaultFallback, got %d", got)
		}
	})
}
