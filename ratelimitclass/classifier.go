// Package ratelimitclass implements the Rate-Limit Classifier (§4.6):
// inspects 429 response headers and the current observed in-flight count to
// decide whether a 429 is concurrency-shaped, RPM-shaped, or unknown.
//
// Grounded directly on the original's src/services/rate_limit/detector.py:
// the same three-tier provider-name dispatch (Anthropic header prefix,
// OpenAI header prefix, generic fallback) and the same thresholds, per
// SUPPLEMENTED FEATURES #4 in SPEC_FULL.md.
package ratelimitclass

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the classified limit type.
type Kind string

const (
	KindConcurrency Kind = "concurrency"
	KindRPM         Kind = "rpm"
	KindDaily       Kind = "daily"
	KindMonthly     Kind = "monthly"
	KindUnknown     Kind = "unknown"
)

// Info is the classifier's output.
type Info struct {
	Kind        Kind
	RetryAfterS *int
	Limit       *int
	Remaining   *int
	ResetAt     *time.Time
}

// Classify inspects headers from a 429 response and returns the classified
// Info. provider is matched case-insensitively against "anthropic"/"claude"
// and "openai" to pick the header dialect; anything else uses the generic
// parser.
func Classify(headers http.Header, provider string, currentInFlight *int) Info {
	lower := strings.ToLower(provider)
	switch {
	case strings.Contains(lower, "anthropic") || strings.Contains(lower, "claude"):
		return classifyPrefixed(headers, currentInFlight, "anthropic-ratelimit-requests-limit", "anthropic-ratelimit-requests-remaining", "anthropic-ratelimit-requests-reset")
	case strings.Contains(lower, "openai"):
		return classifyPrefixed(headers, currentInFlight, "x-ratelimit-limit-requests", "x-ratelimit-remaining-requests", "x-ratelimit-reset-requests")
	default:
		return classifyPrefixed(headers, currentInFlight, "x-ratelimit-limit", "x-ratelimit-remaining", "x-ratelimit-reset")
	}
}

func classifyPrefixed(headers http.Header, currentInFlight *int, limitHdr, remainingHdr, resetHdr string) Info {
	retryAfter := parseRetryAfter(headers)
	limit := parseInt(headerGet(headers, limitHdr))
	remaining := parseInt(headerGet(headers, remainingHdr))
	reset := parseResetAt(headerGet(headers, resetHdr))

	if remaining != nil && *remaining == 0 {
		return Info{Kind: KindRPM, RetryAfterS: retryAfter, Limit: limit, Remaining: remaining, ResetAt: reset}
	}

	likelyConcurrent := currentInFlight != nil && *currentInFlight >= 2 &&
		(remaining == nil || *remaining > 0) &&
		(retryAfter == nil || *retryAfter <= 30)

	if likelyConcurrent {
		return Info{Kind: KindConcurrency, RetryAfterS: retryAfter}
	}

	return Info{Kind: KindUnknown, RetryAfterS: retryAfter}
}

func headerGet(h http.Header, key string) string {
	return h.Get(key)
}

func parseInt(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseResetAt(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}

// parseRetryAfter parses a Retry-After header as either integer seconds or
// an HTTP-date, per §4.6.
func parseRetryAfter(headers http.Header) *int {
	raw := headers.Get("retry-after")
	if raw == "" {
		return nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return &n
	}
	if t, err := http.ParseTime(raw); err == nil {
		secs := int(time.Until(t).Seconds())
		if secs < 0 {
			secs = 0
		}
		return &secs
	}
	return nil
}
