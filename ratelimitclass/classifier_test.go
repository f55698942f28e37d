package ratelimitclass

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func intPtr(n int) *int { return &n }

func TestClassifyAnthropicRPM(t *testing.T) {
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "0")
	info := Classify(h, "anthropic", intPtr(4))
	assert.Equal(t, KindRPM, info.Kind)
}

func TestClassifyAnthropicConcurrency(t *testing.T) {
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "5")
	h.Set("retry-after", "2")
	info := Classify(h, "anthropic", intPtr(2))
	assert.Equal(t, KindConcurrency, info.Kind)
	assert.Equal(t, 2, *info.RetryAfterS)
}

func TestClassifyAnthropicUnknownWhenNoInFlight(t *testing.T) {
	h := http.Header{}
	h.Set("anthropic-ratelimit-requests-remaining", "5")
	info := Classify(h, "anthropic", nil)
	assert.Equal(t, KindUnknown, info.Kind)
}

func TestClassifyOpenAIRPM(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining-requests", "0")
	info := Classify(h, "openai", intPtr(3))
	assert.Equal(t, KindRPM, info.Kind)
}

func TestClassifyGenericConcurrency(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining", "10")
	h.Set("retry-after", "5")
	info := Classify(h, "some-vendor", intPtr(2))
	assert.Equal(t, KindConcurrency, info.Kind)
}

func TestClassifyRetryAfterLongSuppressesConcurrency(t *testing.T) {
	h := http.Header{}
	h.Set("x-ratelimit-remaining", "10")
	h.Set("retry-after", "60")
	info := Classify(h, "some-vendor", intPtr(5))
	assert.Equal(t, KindUnknown, info.Kind)
}
