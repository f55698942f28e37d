package orchestrator

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferro-labs/llm-gateway-core/adaptive"
	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/concurrency"
	"github.com/ferro-labs/llm-gateway-core/convert"
	"github.com/ferro-labs/llm-gateway-core/dispatch"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/resolver"
	"github.com/ferro-labs/llm-gateway-core/stream"
)

type fakeUsage struct {
	mu      sync.Mutex
	records []UsageRecord
}

func (f *fakeUsage) Record(_ context.Context, rec UsageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeUsage) all() []UsageRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UsageRecord(nil), f.records...)
}

type fakeRecords struct {
	mu                                   sync.Mutex
	available, pending, success, failed, skipped int
}

func (f *fakeRecords) MarkAvailable(candidates.RecordID, candidates.Candidate, map[string]bool) {
	f.mu.Lock()
	f.available++
	f.mu.Unlock()
}
func (f *fakeRecords) MarkPending(candidates.RecordID) {
	f.mu.Lock()
	f.pending++
	f.mu.Unlock()
}
func (f *fakeRecords) MarkSkipped(candidates.RecordID, candidates.Candidate, string) {
	f.mu.Lock()
	f.skipped++
	f.mu.Unlock()
}
func (f *fakeRecords) MarkStreaming(candidates.RecordID) {}
func (f *fakeRecords) MarkSuccess(candidates.RecordID, int, time.Duration, int) {
	f.mu.Lock()
	f.success++
	f.mu.Unlock()
}
func (f *fakeRecords) MarkFailed(candidates.RecordID, int, time.Duration, int, string, string) {
	f.mu.Lock()
	f.failed++
	f.mu.Unlock()
}

// providerSpec is one (provider, endpoint, credential) triple backed by a
// test HTTP server, all mapped to the same GlobalModel.
type providerSpec struct {
	id              string
	priority        int
	baseURL         string
	secret          string
	cacheTTLMinutes int
}

// buildOrchestrator wires a full Orchestrator stack (catalog, resolver,
// health, affinity, adaptive, concurrency, dispatch) over the given
// providers, all serving one GlobalModel "gpt-4o-mini".
func buildOrchestrator(t *testing.T, specs []providerSpec) (*Orchestrator, *fakeUsage, *fakeRecords, *health.Monitor, *affinity.Store) {
	t.Helper()

	var providers []catalog.Provider
	var endpoints []catalog.Endpoint
	var creds []catalog.Credential
	var models []catalog.Model
	for _, s := range specs {
		providers = append(providers, catalog.Provider{ID: s.id, Name: s.id, Priority: s.priority, Active: true})
		endpoints = append(endpoints, catalog.Endpoint{
			ID: "e-" + s.id, ProviderID: s.id, BaseURL: s.baseURL,
			Format: catalog.FormatOpenAIChat, Timeout: 5 * time.Second, MaxRetries: 1,
		})
		creds = append(creds, catalog.Credential{ID: "c-" + s.id, EndpointID: "e-" + s.id, Secret: s.secret, Active: true, CacheTTLMinutes: s.cacheTTLMinutes})
		models = append(models, catalog.Model{
			ID: "m-" + s.id, ProviderID: s.id, GlobalModelID: "g1", ProviderName: "gpt-4o-mini-2024", Active: true,
		})
	}

	store := catalog.NewStore()
	store.Load(providers, endpoints, creds, []catalog.GlobalModel{{ID: "g1", Name: "gpt-4o-mini", Active: true}}, nil, models)

	modelResolver := resolver.New(store, 0, 0)
	healthMon := health.NewMonitor(5, 30*time.Second)
	affinityStore := affinity.New(0)
	converters := convert.NewRegistry()
	candResolver := candidates.New(store, modelResolver, healthMon, affinityStore, func(a, b catalog.APIFormat) bool {
		return converters.Lookup(a, b) != nil
	})
	mgr := concurrency.New(concurrency.Config{Backend: concurrency.BackendMemory})
	d := dispatch.New(mgr, converters, nil)
	tuner := adaptive.New(store, adaptive.DefaultDefaults())

	usage := &fakeUsage{}
	records := &fakeRecords{}

	orch := &Orchestrator{
		Resolver:    candResolver,
		Dispatcher:  d,
		Health:      healthMon,
		Affinity:    affinityStore,
		Adaptive:    tuner,
		Concurrency: mgr,
		Records:     records,
		Usage:       usage,
		Converters:  converters,
	}
	return orch, usage, records, healthMon, affinityStore
}

func baseRequest() Request {
	return Request{
		Request: candidates.Request{
			ClientFormat: catalog.FormatOpenAIChat,
			ModelName:    "gpt-4o-mini",
			CallerID:     "caller-1",
			PriorityMode: candidates.PriorityModeProvider,
		},
		Body:   []byte(`{"model":"gpt-4o-mini","messages":[]}`),
		Header: http.Header{},
	}
}

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunFallsThroughOnUpstreamAuthFailure(t *testing.T) {
	badSrv := jsonServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	var goodCalls int
	goodSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		goodCalls++
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(goodSrv.Close)

	orch, usage, _, healthMon, _ := buildOrchestrator(t, []providerSpec{
		{id: "p-bad", priority: 0, baseURL: badSrv.URL, secret: "bad-secret"},
		{id: "p-good", priority: 1, baseURL: goodSrv.URL, secret: "good-secret"},
	})

	res, err := orch.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "p-good", res.Candidate.Provider.ID)
	assert.Equal(t, 1, goodCalls)

	// one 401 is below the default failure threshold, so the circuit is
	// still closed, but the failure must have been counted at all (tested
	// indirectly: 5 consecutive 401s would open it, see below).
	assert.Equal(t, health.StateClosed, healthMon.State("c-p-bad"))

	records := usage.all()
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)
	assert.Equal(t, "p-good", records[0].Provider)
}

func TestRunOpensCircuitAfterRepeatedUpstreamAuthFailures(t *testing.T) {
	badSrv := jsonServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	orch, _, _, healthMon, _ := buildOrchestrator(t, []providerSpec{
		{id: "p-bad", priority: 0, baseURL: badSrv.URL, secret: "bad-secret"},
	})

	for i := 0; i < 5; i++ {
		_, err := orch.Run(context.Background(), baseRequest())
		require.Error(t, err)
	}
	assert.Equal(t, health.StateOpen, healthMon.State("c-p-bad"))
}

func TestRunRaisesOnClientRequestErrorWithoutHealthPenalty(t *testing.T) {
	srv := jsonServer(t, http.StatusBadRequest, `{"error":{"message":"context_length_exceeded: too many tokens"}}`)
	orch, usage, _, healthMon, _ := buildOrchestrator(t, []providerSpec{
		{id: "p1", priority: 0, baseURL: srv.URL, secret: "s"},
	})

	_, err := orch.Run(context.Background(), baseRequest())
	require.Error(t, err)

	assert.Equal(t, health.StateClosed, healthMon.State("c-p1"))

	records := usage.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "client_request_error", records[0].ErrorKind)
}

func TestRunAllCandidatesFailedEmbedsLastUpstreamReason(t *testing.T) {
	srv1 := jsonServer(t, http.StatusInternalServerError, `{"error":{"message":"primary down"}}`)
	srv2 := jsonServer(t, http.StatusInternalServerError, `{"error":{"message":"secondary down"}}`)

	orch, usage, _, _, _ := buildOrchestrator(t, []providerSpec{
		{id: "p1", priority: 0, baseURL: srv1.URL, secret: "s1"},
		{id: "p2", priority: 1, baseURL: srv2.URL, secret: "s2"},
	})

	_, err := orch.Run(context.Background(), baseRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secondary down")

	records := usage.all()
	require.Len(t, records, 1)
	assert.False(t, records[0].Success)
	assert.Equal(t, "unknown", records[0].Provider)
}

func TestRunSetsCacheAffinityOnSuccess(t *testing.T) {
	srv := jsonServer(t, http.StatusOK, `{"ok":true}`)
	orch, _, _, _, affinityStore := buildOrchestrator(t, []providerSpec{
		{id: "p1", priority: 0, baseURL: srv.URL, secret: "s", cacheTTLMinutes: 30},
	})

	res, err := orch.Run(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "p1", res.Candidate.Provider.ID)

	target, ok := affinityStore.Get(affinity.Key{CallerID: "caller-1", ClientFormat: string(catalog.FormatOpenAIChat), CanonicalModelID: res.CanonicalModelID})
	require.True(t, ok)
	assert.Equal(t, "e-p1", target.EndpointID)
	assert.Equal(t, "c-p1", target.CredentialID)
}

func TestRunInvalidatesCacheAffinityOnUpstreamFailure(t *testing.T) {
	srv := jsonServer(t, http.StatusUnauthorized, `{"error":{"message":"bad key"}}`)
	orch, _, _, _, affinityStore := buildOrchestrator(t, []providerSpec{
		{id: "p1", priority: 0, baseURL: srv.URL, secret: "s", cacheTTLMinutes: 30},
	})

	key := affinity.Key{CallerID: "caller-1", ClientFormat: string(catalog.FormatOpenAIChat), CanonicalModelID: "g1"}
	target := affinity.Target{EndpointID: "e-p1", CredentialID: "c-p1"}
	affinityStore.Set(key, target, 30*time.Minute)

	_, err := orch.Run(context.Background(), baseRequest())
	require.Error(t, err)

	_, ok := affinityStore.Get(key)
	assert.False(t, ok)
}

// TestRunStreamsAndConvertsCrossProtocol exercises the Stream Processor on
// the real request path (§8 Scenario 5): the upstream speaks Gemini's
// JSON-array streaming dialect, the client asked for OpenAI Chat
// Completions, so every forwarded chunk must come out the other side in
// OpenAI's "choices[].delta" shape, and the final usage (including
// thoughtsTokenCount billed as output) must reach the usage ledger.
func TestRunStreamsAndConvertsCrossProtocol(t *testing.T) {
	geminiStream := `[` +
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"hel"}]}}]},` +
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"lo"}]}}]},` +
		`{"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":2,"thoughtsTokenCount":3,"totalTokenCount":10}}` +
		`]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(geminiStream))
	}))
	t.Cleanup(srv.Close)

	var providers []catalog.Provider
	var endpoints []catalog.Endpoint
	var creds []catalog.Credential
	providers = append(providers, catalog.Provider{ID: "p-gem", Name: "p-gem", Priority: 0, Active: true})
	endpoints = append(endpoints, catalog.Endpoint{
		ID: "e-p-gem", ProviderID: "p-gem", BaseURL: srv.URL,
		Format: catalog.FormatGemini, Timeout: 5 * time.Second, MaxRetries: 1,
	})
	creds = append(creds, catalog.Credential{ID: "c-p-gem", EndpointID: "e-p-gem", Secret: "s", Active: true})
	models := []catalog.Model{{ID: "m-p-gem", ProviderID: "p-gem", GlobalModelID: "g1", ProviderName: "gemini-1.5", Active: true}}

	store := catalog.NewStore()
	store.Load(providers, endpoints, creds, []catalog.GlobalModel{{ID: "g1", Name: "gpt-4o-mini", Active: true}}, nil, models)

	modelResolver := resolver.New(store, 0, 0)
	healthMon := health.NewMonitor(5, 30*time.Second)
	affinityStore := affinity.New(0)
	converters := convert.NewRegistry()
	candResolver := candidates.New(store, modelResolver, healthMon, affinityStore, func(a, b catalog.APIFormat) bool {
		return converters.Lookup(a, b) != nil
	})
	mgr := concurrency.New(concurrency.Config{Backend: concurrency.BackendMemory})
	d := dispatch.New(mgr, converters, nil)
	tuner := adaptive.New(store, adaptive.DefaultDefaults())
	usage := &fakeUsage{}
	records := &fakeRecords{}

	orch := &Orchestrator{
		Resolver:    candResolver,
		Dispatcher:  d,
		Health:      healthMon,
		Affinity:    affinityStore,
		Adaptive:    tuner,
		Concurrency: mgr,
		Records:     records,
		Usage:       usage,
		Converters:  converters,
		Stream:      stream.New(stream.DefaultDefaults()),
	}

	req := baseRequest()
	req.Stream = true

	res, err := orch.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "p-gem", res.Candidate.Provider.ID)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.NoError(t, res.Body.Close())

	out := string(body)
	assert.Contains(t, out, `"delta"`)
	assert.Contains(t, out, "hel")
	assert.Contains(t, out, "lo")
	assert.NotContains(t, out, "candidates", "Gemini-shaped frames must not leak through to an OpenAI client")

	records2 := usage.all()
	require.Len(t, records2, 1)
	assert.True(t, records2[0].Success)
	assert.Equal(t, "5", records2[0].Extra["input_tokens"])
	assert.Equal(t, "5", records2[0].Extra["output_tokens"]) // 2 candidatesTokenCount + 3 thoughtsTokenCount
}
