// Package throttle provides admission-control algorithms for outbound API
// calls against providers with per-minute token budgets.
//
// Every algorithm implements the same three-step lifecycle:
//
//	alg, err := throttle.NewTokenBucket(throttle.WithTPMLimit(90000))
//
//	// Before the call: ask whether to wait.
//	delay, err := alg.ShouldThrottle(estimatedTokens)
//
//	// After a successful call: record what was actually spent.
//	alg.OnSuccess(tokensUsed)
//
//	// After a failed call: ask whether to retry, and after how long.
//	delay, retry, err := alg.OnFailure(callErr, estimatedTokens)
//
// Algorithms never sleep. They only compute delays; the caller (typically
// the invoke or httpthrottle package) owns the wait, which keeps the same
// state machine usable from blocking and context-suspending call sites.
//
// # Variants
//
//   - Retry: exponential backoff on rate-limit rejections, honoring
//     server-provided retry hints.
//   - TokenBucket: continuously refilling token budget consulted before
//     each call.
//   - SlidingWindow: caps requests per rolling window.
//   - Adaptive: shrinks the effective token budget after rejections and
//     recovers it on success.
//   - CircuitBreaker: stops calling entirely after a failure streak.
//
// All variants share a per-minute token usage gate: when recorded usage plus
// the upcoming estimate would exceed the configured tokens-per-minute limit
// (scaled by the safety margin), the delay until the next minute boundary is
// returned before any variant-specific logic runs.
//
// Each algorithm instance owns its counters and serializes lifecycle calls
// with an internal mutex, so one instance may be shared across goroutines.
package throttle
