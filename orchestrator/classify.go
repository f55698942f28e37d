// Classification of dispatch errors into a loop action, grounded directly on
// the original's src/services/orchestration/error_classifier.py: the same
// CLIENT_ERROR_PATTERNS substring list, the same CONTINUE/BREAK/RAISE
// three-way split, and the same has_retry_left-demotes-CONTINUE-to-BREAK
// rule, re-expressed as a Go enum instead of a Python exception hierarchy.
package orchestrator

import (
	"strings"

	"github.com/ferro-labs/llm-gateway-core/errs"
	"github.com/ferro-labs/llm-gateway-core/ratelimitclass"
)

// Action is what the fallback loop does after one failed attempt.
type Action int

const (
	// ActionContinue tries the next candidate (or the next retry of this
	// one), recording a health failure and invalidating affinity first.
	ActionContinue Action = iota
	// ActionBreak stops retrying this candidate and moves to the next one.
	// A concurrency-limit miss breaks without a health penalty; a CONTINUE
	// demoted to BREAK keeps its health failure and affinity invalidation.
	ActionBreak
	// ActionRaise aborts the whole loop and surfaces err to the caller
	// immediately (a client-caused error that no other candidate could fix).
	ActionRaise
)

// clientErrorPatterns are matched case-insensitively against the truncated
// upstream error text to recognize a 400 that repeating (even against a
// different provider) will not fix.
var clientErrorPatterns = []string{
	"could not process image",
	"image too large",
	"invalid image",
	"unsupported image",
	"invalid_request_error",
	"content_policy_violation",
	"invalid_api_key",
	"context_length_exceeded",
	"max_tokens",
	"invalid_prompt",
	"content too long",
	"message is too long",
	"prompt is too long",
	"image exceeds",
	"pdf too large",
	"file too large",
}

// isClientErrorText reports whether text names one of the known
// un-retriable client-request patterns.
func isClientErrorText(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range clientErrorPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// decision is the classifier's verdict for one failed attempt.
type decision struct {
	action            Action
	invalidateAffinity bool
	countsAsHealthFail bool
	rateLimitKind      ratelimitclass.Kind // only meaningful when the error was a 429
	isRateLimit        bool
}

// classify implements the §4.11 error→action table. hasRetryLeft is
// retry < maxRetriesHere-1, computed by the caller per candidate; when the
// table says CONTINUE but no retry is left on this candidate, classify
// demotes the action to BREAK itself so callers never have to remember the
// rule twice.
func classify(err error, rlInfo ratelimitclass.Info, hasRetryLeft bool) decision {
	kind := errs.KindOf(err)

	switch kind {
	case errs.KindConcurrencyLimitReached:
		return decision{action: ActionBreak}

	case errs.KindUpstreamAuth:
		return demote(decision{action: ActionContinue, invalidateAffinity: true, countsAsHealthFail: true}, hasRetryLeft)

	case errs.KindRateLimited:
		d := decision{action: ActionContinue, countsAsHealthFail: true, isRateLimit: true, rateLimitKind: rlInfo.Kind}
		if rlInfo.Kind == ratelimitclass.KindConcurrency || rlInfo.Kind == ratelimitclass.KindUnknown {
			d.invalidateAffinity = true
		}
		return demote(d, hasRetryLeft)

	case errs.KindClientRequestError:
		return decision{action: ActionRaise}

	case errs.KindUpstreamUnavailable, errs.KindEmbeddedError:
		return demote(decision{action: ActionContinue, invalidateAffinity: true, countsAsHealthFail: true}, hasRetryLeft)

	default:
		// Programmer error / unclassified condition: no other candidate can
		// fix it either, so surface it immediately.
		return decision{action: ActionRaise}
	}
}

// demote turns CONTINUE into BREAK when the candidate has no retry budget
// left, per §4.11's has_retry_left rule. Side effects (affinity
// invalidation, health accounting) still apply either way.
func demote(d decision, hasRetryLeft bool) decision {
	if d.action == ActionContinue && !hasRetryLeft {
		d.action = ActionBreak
	}
	return d
}
