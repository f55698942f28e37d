package candidates

import (
	"testing"
	"time"

	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/resolver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildStore() *catalog.Store {
	s := catalog.NewStore()
	s.Load(
		[]catalog.Provider{
			{ID: "p1", Name: "acme", Priority: 1, Active: true},
			{ID: "p2", Name: "other", Priority: 2, Active: true},
		},
		[]catalog.Endpoint{
			{ID: "e1", ProviderID: "p1", Format: catalog.FormatOpenAIChat, Active: true, MaxRetries: 3},
			{ID: "e2", ProviderID: "p2", Format: catalog.FormatOpenAIChat, Active: true, MaxRetries: 2},
		},
		[]catalog.Credential{
			{ID: "c1", EndpointID: "e1", InternalPrio: 1, Active: true},
			{ID: "c2", EndpointID: "e2", InternalPrio: 1, Active: true},
		},
		[]catalog.GlobalModel{{ID: "g1", Name: "gpt-4o-mini", Active: true}},
		nil,
		[]catalog.Model{
			{ID: "m1", ProviderID: "p1", GlobalModelID: "g1", ProviderName: "gpt-4o-mini-2024", Active: true},
			{ID: "m2", ProviderID: "p2", GlobalModelID: "g1", ProviderName: "gpt-4o-mini-v2", Active: true},
		},
	)
	return s
}

func newTestResolver(store *catalog.Store) *Resolver {
	mr := resolver.New(store, time.Minute, 100)
	hm := health.NewMonitor(5, time.Minute)
	af := affinity.New(100)
	return New(store, mr, hm, af, nil)
}

func TestResolveOrdersByProviderPriority(t *testing.T) {
	store := buildStore()
	r := newTestResolver(store)

	res, err := r.Resolve(Request{ClientFormat: catalog.FormatOpenAIChat, ModelName: "gpt-4o-mini", CallerID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "c1", res.Candidates[0].Credential.ID)
	assert.Equal(t, "c2", res.Candidates[1].Credential.ID)
	assert.Equal(t, "g1", res.CanonicalModelID)
}

func TestResolveSkipsOpenCircuit(t *testing.T) {
	store := buildStore()
	mr := resolver.New(store, time.Minute, 100)
	hm := health.NewMonitor(1, time.Minute)
	hm.RecordFailure("c1")
	af := affinity.New(100)
	r := New(store, mr, hm, af, nil)

	res, err := r.Resolve(Request{ClientFormat: catalog.FormatOpenAIChat, ModelName: "gpt-4o-mini"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	var c1 Candidate
	for _, c := range res.Candidates {
		if c.Credential.ID == "c1" {
			c1 = c
		}
	}
	assert.True(t, c1.IsSkipped)
	assert.Equal(t, "unhealthy", c1.SkipReason)
}

func TestResolveCacheAffinityWinsOverPriority(t *testing.T) {
	store := buildStore()
	mr := resolver.New(store, time.Minute, 100)
	hm := health.NewMonitor(5, time.Minute)
	af := affinity.New(100)
	af.Set(affinity.Key{CallerID: "u1", ClientFormat: string(catalog.FormatOpenAIChat), CanonicalModelID: "g1"}, affinity.Target{EndpointID: "e2", CredentialID: "c2"}, time.Minute)
	r := New(store, mr, hm, af, nil)

	res, err := r.Resolve(Request{ClientFormat: catalog.FormatOpenAIChat, ModelName: "gpt-4o-mini", CallerID: "u1"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, "c2", res.Candidates[0].Credential.ID)
	assert.True(t, res.Candidates[0].IsCached)
}

func TestResolveFiltersByAllowList(t *testing.T) {
	store := buildStore()
	r := newTestResolver(store)

	res, err := r.Resolve(Request{ClientFormat: catalog.FormatOpenAIChat, ModelName: "gpt-4o-mini", AllowedProviderIDs: []string{"p2"}})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "c2", res.Candidates[0].Credential.ID)
}

func TestResolveNoStreamSkipsNonSSEEndpoint(t *testing.T) {
	store := buildStore()
	r := newTestResolver(store)

	res, err := r.Resolve(Request{ClientFormat: catalog.FormatOpenAIChat, ModelName: "gpt-4o-mini", Stream: true})
	require.NoError(t, err)
	for _, c := range res.Candidates {
		assert.True(t, c.IsSkipped)
		assert.Equal(t, "no-stream", c.SkipReason)
	}
}

func TestPreAllocateAndCountTotalAttempts(t *testing.T) {
	cands := []Candidate{
		{IsSkipped: true, SkipReason: "unhealthy"},
		{IsCached: true, Endpoint: catalog.Endpoint{MaxRetries: 3}},
		{Endpoint: catalog.Endpoint{MaxRetries: 5}}, // not cached, so only 1 attempt
	}

	records := PreAllocate(cands)
	assert.Len(t, records, 1+3+1)
	assert.Equal(t, 3+1, CountTotalAttempts(cands))
}
