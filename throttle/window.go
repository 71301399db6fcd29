package throttle

import "time"

// cleanupInterval bounds how often stale minute buckets are purged.
const cleanupInterval = 30 * time.Second

// usageWindow accounts tokens consumed per wall-clock minute. Only the
// current and previous minute are ever consulted; older buckets are purged
// lazily so no background task is needed. Callers serialize access.
type usageWindow struct {
	buckets     map[int64]int
	lastCleanup time.Time
	now         func() time.Time
}

func newUsageWindow(now func() time.Time) *usageWindow {
	return &usageWindow{
		buckets:     make(map[int64]int),
		lastCleanup: now(),
		now:         now,
	}
}

// minuteOf maps a wall-clock time to its minute bucket key.
func minuteOf(t time.Time) int64 {
	return t.Unix() / 60
}

// record adds tokens to the current minute's bucket. No upper bound is
// enforced here: overshoot is allowed and accounted retroactively.
func (w *usageWindow) record(tokens int) {
	w.buckets[minuteOf(w.now())] += tokens
}

// currentUsage reports the tokens recorded in the current minute, purging
// stale buckets first.
func (w *usageWindow) currentUsage() int {
	w.cleanup()
	return w.buckets[minuteOf(w.now())]
}

// cleanup drops buckets older than two minutes, at most once per
// cleanupInterval of wall-clock time.
func (w *usageWindow) cleanup() {
	now := w.now()
	if now.Sub(w.lastCleanup) < cleanupInterval {
		return
	}

	cutoff := minuteOf(now) - 2
	for minute := range w.buckets {
		if minute < cutoff {
			delete(w.buckets, minute)
		}
	}
	w.lastCleanup = now
}
