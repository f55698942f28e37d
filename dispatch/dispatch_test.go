package dispatch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/concurrency"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func testCandidate(endpoint catalog.Endpoint, cred catalog.Credential) candidates.Candidate {
	return candidates.Candidate{
		Provider:          catalog.Provider{ID: "p1", Name: "acme", Active: true},
		Endpoint:          endpoint,
		Credential:        cred,
		ProviderModelName: "gpt-4o-mini-2024",
	}
}

func TestDoSameFormatForwardsBodyRewritesModelAndAuth(t *testing.T) {
	var gotAuth, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ep := catalog.Endpoint{ID: "e1", BaseURL: srv.URL, Format: catalog.FormatOpenAIChat, Timeout: 5 * time.Second}
	cred := catalog.Credential{ID: "c1", EndpointID: "e1", Secret: "sk-test-secret"}
	cand := testCandidate(ep, cred)

	d := New(concurrency.New(concurrency.Config{Backend: concurrency.BackendMemory}), convert.NewRegistry(), nil)

	res, err := d.Do(context.Background(), Request{
		Candidate:        cand,
		Body:             []byte(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}]}`),
		Header:           http.Header{"Authorization": []string{"Bearer client-token"}},
		ClientFormat:     catalog.FormatOpenAIChat,
		ReservationRatio: 0,
	})
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "Bearer sk-test-secret", gotAuth)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Contains(t, gotBody, `"model":"gpt-4o-mini-2024"`)
	assert.NotContains(t, gotBody, "client-token")
}

func TestDoCrossFormatConvertsRequestBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","content":[{"type":"text","text":"hi"}],"model":"x","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	ep := catalog.Endpoint{ID: "e1", BaseURL: srv.URL, Format: catalog.FormatAnthropic, Timeout: 5 * time.Second}
	cred := catalog.Credential{ID: "c1", EndpointID: "e1", Secret: "secret-key"}
	cand := testCandidate(ep, cred)
	cand.ProviderModelName = "claude-3-haiku"

	d := New(concurrency.New(concurrency.Config{Backend: concurrency.BackendMemory}), convert.NewRegistry(), nil)

	res, err := d.Do(context.Background(), Request{
		Candidate:    cand,
		Body:         []byte(`{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hi"}],"max_tokens":100}`),
		Header:       http.Header{},
		ClientFormat: catalog.FormatOpenAIChat,
	})
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Contains(t, gotBody, `"model":"claude-3-haiku"`)
	assert.Contains(t, gotBody, `"role":"user"`)
}

func TestDoRefusesWhenNoConcurrencySlot(t *testing.T) {
	ep := catalog.Endpoint{ID: "e1", BaseURL: "http://unused.invalid", Format: catalog.FormatOpenAIChat}
	cred := catalog.Credential{ID: "c1", EndpointID: "e1", Secret: "s", MaxConcurrent: intPtr(1)}
	cand := testCandidate(ep, cred)

	mgr := concurrency.New(concurrency.Config{Backend: concurrency.BackendMemory})
	ok, err := mgr.TryAcquire(context.Background(), "e1", nil, "c1", 1, false, 0)
	require.NoError(t, err)
	require.True(t, ok)

	d := New(mgr, convert.NewRegistry(), nil)
	_, err = d.Do(context.Background(), Request{
		Candidate:    cand,
		Body:         []byte(`{}`),
		Header:       http.Header{},
		ClientFormat: catalog.FormatOpenAIChat,
	})
	require.Error(t, err)
	assert.Equal(t, errs.KindConcurrencyLimitReached, errs.KindOf(err))
}

func TestBuildURLInterpolatesGeminiActionAndModel(t *testing.T) {
	ep := catalog.Endpoint{BaseURL: "https://generativelanguage.googleapis.com", Format: catalog.FormatGemini}
	u, err := buildURL(ep, true, "gemini-1.5-flash", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:streamGenerateContent", u)
}

func TestBuildURLDropsSensitiveQueryParams(t *testing.T) {
	ep := catalog.Endpoint{BaseURL: "https://api.example.com", Format: catalog.FormatOpenAIChat}
	u, err := buildURL(ep, false, "m", map[string]string{"key": "leak-me", "foo": "bar"})
	require.NoError(t, err)
	assert.NotContains(t, u, "leak-me")
	assert.Contains(t, u, "foo=bar")
}

func TestBuildHeadersStripsHopByHopAndSetsVendorAuth(t *testing.T) {
	ep := catalog.Endpoint{Format: catalog.FormatAnthropic, Headers: map[string]string{"anthropic-version": "2023-06-01"}}
	cred := catalog.Credential{Secret: "sk-abc"}
	client := http.Header{"Authorization": []string{"Bearer client-token"}, "Host": []string{"evil.example"}, "X-Custom": []string{"keep"}}

	h := buildHeaders(client, ep, cred)
	assert.Equal(t, "sk-abc", h.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", h.Get("anthropic-version"))
	assert.Equal(t, "keep", h.Get("X-Custom"))
	assert.Empty(t, h.Get("Authorization"))
	assert.Empty(t, h.Get("Host"))
}
