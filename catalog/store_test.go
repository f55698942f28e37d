package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadAndLookup(t *testing.T) {
	s := NewStore()
	s.Load(
		[]Provider{{ID: "p1", Name: "acme", Priority: 1, Active: true}},
		[]Endpoint{{ID: "e1", ProviderID: "p1", Format: FormatOpenAIChat, Active: true}},
		[]Credential{{ID: "c1", EndpointID: "e1", Active: true}},
		[]GlobalModel{{ID: "g1", Name: "gpt-4o-mini", Active: true}},
		nil,
		[]Model{{ID: "m1", ProviderID: "p1", GlobalModelID: "g1", ProviderName: "gpt-4o-mini-2024", Active: true}},
	)

	p, ok := s.Provider("p1")
	require.True(t, ok)
	assert.Equal(t, "acme", p.Name)

	eps := s.EndpointsByProvider("p1")
	require.Len(t, eps, 1)
	assert.Equal(t, "e1", eps[0].ID)

	creds := s.CredentialsByEndpoint("e1")
	require.Len(t, creds, 1)

	model, ok := s.ModelByProviderAndGlobal("p1", "g1")
	require.True(t, ok)
	assert.Equal(t, "gpt-4o-mini-2024", model.ProviderName)
}

func TestUpdateCredentialStateSerializesConcurrentWriters(t *testing.T) {
	s := NewStore()
	s.Load(nil, nil, []Credential{{ID: "c1", Active: true, Adaptive: AdaptiveState{LearnedMaxConcurrent: 10}}}, nil, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateCredentialState("c1", func(st AdaptiveState) AdaptiveState {
				st.ConsecutiveConc429++
				return st
			})
		}()
	}
	wg.Wait()

	cred, ok := s.Credential("c1")
	require.True(t, ok)
	assert.Equal(t, 50, cred.Adaptive.ConsecutiveConc429)
}

func TestUpdateCredentialStateUnknownID(t *testing.T) {
	s := NewStore()
	_, ok := s.UpdateCredentialState("missing", func(st AdaptiveState) AdaptiveState { return st })
	assert.False(t, ok)
}
