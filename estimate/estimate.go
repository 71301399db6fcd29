// Package estimate provides rough token-count heuristics for request
// payloads. These feed throttling decisions, not billing, so being in the
// right ballpark is enough; actual usage reported by the provider corrects
// the accounting after each call.
package estimate

// Func estimates the token cost of a request assembled from text parts.
type Func func(parts ...string) int

// charsPerToken is the usual rule of thumb for English text under the
// tokenizers the major providers use.
const charsPerToken = 4

// DefaultFallback is the estimate used when nothing better is available.
const DefaultFallback = 500

// Text estimates tokens for the given text parts. Never returns less
// than 1.
func Text(parts ...string) int {
	chars := 0
	for _, p := range parts {
		chars += len(p)
	}
	n := chars / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// Guard wraps an estimator so a panic or nonsense result degrades to the
// fallback estimate instead of failing the call. A fallback of zero or less
// means DefaultFallback.
func Guard(fn Func, fallback int) Func {
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	return func(parts ...string) (n int) {
		defer func() {
			if recover() != nil {
				n = fallback
			}
		}()
		if fn == nil {
			return fallback
		}
		n = fn(parts...)
		if n <= 0 {
			n = fallback
		}
		return n
	}
}
