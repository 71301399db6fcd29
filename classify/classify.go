// Package classify decides what kind of failure an outbound API call
// produced and extracts server-provided wait hints. It understands the
// typed errors of the Anthropic, OpenAI and Google API clients, and falls
// back to message-substring matching for everything else.
package classify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/api/googleapi"
)

// HTTPError wraps a non-success HTTP response as an error so throttling
// algorithms can classify it and read its headers. The response body is the
// caller's to close.
type HTTPError struct {
	StatusCode int
	Response   *http.Response
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("request failed: %s", http.StatusText(e.StatusCode))
}

// StatusCode extracts an HTTP status code from any recognized error type.
func StatusCode(err error) (int, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode, true
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) {
		return ae.StatusCode, true
	}
	var oe *openai.Error
	if errors.As(err, &oe) {
		return oe.StatusCode, true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code, true
	}
	return 0, false
}

// Headers extracts response headers from any recognized error type.
func Headers(err error) (http.Header, bool) {
	var he *HTTPError
	if errors.As(err, &he) && he.Response != nil {
		return he.Response.Header, true
	}
	var ae *anthropic.Error
	if errors.As(err, &ae) && ae.Response != nil {
		return ae.Response.Header, true
	}
	var oe *openai.Error
	if errors.As(err, &oe) && oe.Response != nil {
		return oe.Response.Header, true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) && ge.Header != nil {
		return ge.Header, true
	}
	return nil, false
}

// IsRateLimit reports whether the error is a rate-limit rejection: a typed
// 429, or a message that reads like one. Anthropic's 529 "overloaded"
// responses are treated the same way.
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := StatusCode(err); ok && code == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "capacity")
}

// IsServerError reports whether the error is a transient 5xx failure.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := StatusCode(err); ok {
		return code >= 500 && code < 600
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") ||
		strings.Contains(msg, "temporarily unavailable")
}

// IsBilling reports whether the error is a billing, payment or quota
// failure. These are fatal: waiting will not make credits appear.
func IsBilling(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := StatusCode(err); ok && code == http.StatusPaymentRequired {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "billing") ||
		strings.Contains(msg, "payment") ||
		strings.Contains(msg, "credits") ||
		strings.Contains(msg, "quota exceeded") ||
		strings.Contains(msg, "insufficient") ||
		strings.Contains(msg, "402")
}
