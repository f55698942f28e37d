package affinity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGetRoundTrip(t *testing.T) {
	s := New(10)
	k := Key{CallerID: "u1", ClientFormat: "openai_chat", CanonicalModelID: "g1"}
	tgt := Target{EndpointID: "e1", CredentialID: "c1"}

	s.Set(k, tgt, time.Minute)
	got, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, tgt, got)
}

func TestZeroTTLSkipsStore(t *testing.T) {
	s := New(10)
	k := Key{CallerID: "u1", ClientFormat: "openai_chat", CanonicalModelID: "g1"}
	s.Set(k, Target{EndpointID: "e1", CredentialID: "c1"}, 0)

	_, ok := s.Get(k)
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	s := New(10)
	k := Key{CallerID: "u1", ClientFormat: "openai_chat", CanonicalModelID: "g1"}
	s.Set(k, Target{EndpointID: "e1", CredentialID: "c1"}, 10*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	_, ok := s.Get(k)
	assert.False(t, ok)
}

func TestInvalidateOnlyMatchingTarget(t *testing.T) {
	s := New(10)
	k := Key{CallerID: "u1", ClientFormat: "openai_chat", CanonicalModelID: "g1"}
	tgtA := Target{EndpointID: "e1", CredentialID: "c1"}
	tgtB := Target{EndpointID: "e2", CredentialID: "c2"}

	s.Set(k, tgtA, time.Minute)
	s.Invalidate(k, tgtB) // different target, must not disturb the entry

	got, ok := s.Get(k)
	require.True(t, ok)
	assert.Equal(t, tgtA, got)

	s.Invalidate(k, tgtA)
	_, ok = s.Get(k)
	assert.False(t, ok)
}

func TestCapacityEviction(t *testing.T) {
	s := New(2)
	k1 := Key{CallerID: "u1", CanonicalModelID: "g1"}
	k2 := Key{CallerID: "u2", CanonicalModelID: "g1"}
	k3 := Key{CallerID: "u3", CanonicalModelID: "g1"}

	s.Set(k1, Target{CredentialID: "c1"}, time.Minute)
	s.Set(k2, Target{CredentialID: "c2"}, time.Minute)
	s.Set(k3, Target{CredentialID: "c3"}, time.Minute) // evicts k1 (LRU)

	_, ok := s.Get(k1)
	assert.False(t, ok)
	_, ok = s.Get(k2)
	assert.True(t, ok)
	_, ok = s.Get(k3)
	assert.True(t, ok)
}
