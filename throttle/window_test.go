package throttle

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	// Mid-minute so next-boundary math is visible.
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 26, 10, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func TestUsageWindow_RecordAndQuery(t *testing.T) {
	clock := newFakeClock()
	w := newUsageWindow(clock.now)

	w.record(500)
	w.record(250)

	if got := w.currentUsage(); got != 750 {
		t.Errorf("expected usage 750, got %d", got)
	}

	// A new minute starts with an empty bucket.
	clock.advance(time.Minute)
	if got := w.currentUsage(); got != 0 {
		t.Errorf("expected usage 0 in new minute, got %d", got)
	}
}

func TestUsageWindow_Idempotence(t *testing.T) {
	clock := newFakeClock()
	w := newUsageWindow(clock.now)

	w.record(100)
	first := w.currentUsage()
	second := w.currentUsage()
	if first != second {
		t.Errorf("back-to-back reads differ: %d vs %d", first, second)
	}
}

func TestUsageWindow_LazyCleanup(t *testing.T) {
	clock := newFakeClock()
	w := newUsageWindow(clock.now)

	w.record(100)

	// Within the cleanup interval nothing is purged even when stale.
	clock.advance(20 * time.Second)
	w.currentUsage()
	if len(w.buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(w.buckets))
	}

	// Three minutes later the old bucket is past the cutoff, and enough
	// wall-clock time has passed for cleanup to run.
	clock.advance(3 * time.Minute)
	w.currentUsage()
	if len(w.buckets) != 0 {
		t.Errorf("expected stale bucket purged, got %d buckets", len(w.buckets))
	}
}

func TestUsageWindow_CleanupKeepsRecentMinutes(t *testing.T) {
	clock := newFakeClock()
	w := newUsageWindow(clock.now)

	w.record(100)
	clock.advance(time.Minute)
	w.record(200)

	// The previous minute survives cleanup.
	w.cleanup()
	if got := w.buckets[minuteOf(clock.now().Add(-time.Minute))]; got != 100 {
		t.Errorf("expected previous minute kept with 100 tokens, got %d", got)
	}
}
