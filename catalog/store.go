package catalog

import (
	"sync"
)

// Store is the in-memory id→record index for every catalog entity kind,
// rebuilt from the persistent store (owned externally, per §1 Non-goals —
// the core only reads these tables and writes adaptive fields).
//
// Store itself is a constructor-injected value, not a global singleton, per
// the §9 design note on re-expressing get_cache_invalidation_service-style
// globals as dependency-injected values.
type Store struct {
	mu sync.RWMutex

	providers    map[string]Provider
	endpoints    map[string]Endpoint
	credentials  map[string]Credential
	globalModels map[string]GlobalModel
	mappings     map[string]ModelMapping
	models       map[string]Model

	// credLocks stripes per-credential serialization for AdaptiveState
	// mutation, per §9's single-update-primitive note.
	credLocks sync.Map // credentialID -> *sync.Mutex
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		providers:    make(map[string]Provider),
		endpoints:    make(map[string]Endpoint),
		credentials:  make(map[string]Credential),
		globalModels: make(map[string]GlobalModel),
		mappings:     make(map[string]ModelMapping),
		models:       make(map[string]Model),
	}
}

// Load replaces the store's contents wholesale — the admin surface calls
// this after a catalog refresh.
func (s *Store) Load(providers []Provider, endpoints []Endpoint, credentials []Credential, globalModels []GlobalModel, mappings []ModelMapping, models []Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = indexBy(providers, func(p Provider) string { return p.ID })
	s.endpoints = indexBy(endpoints, func(e Endpoint) string { return e.ID })
	s.credentials = indexBy(credentials, func(c Credential) string { return c.ID })
	s.globalModels = indexBy(globalModels, func(g GlobalModel) string { return g.ID })
	s.mappings = indexBy(mappings, func(m ModelMapping) string { return m.ID })
	s.models = indexBy(models, func(m Model) string { return m.ID })
}

func indexBy[T any](items []T, key func(T) string) map[string]T {
	out := make(map[string]T, len(items))
	for _, it := range items {
		out[key(it)] = it
	}
	return out
}

// Provider looks up a Provider by id.
func (s *Store) Provider(id string) (Provider, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[id]
	return p, ok
}

// Endpoint looks up an Endpoint by id.
func (s *Store) Endpoint(id string) (Endpoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.endpoints[id]
	return e, ok
}

// Credential looks up a Credential by id.
func (s *Store) Credential(id string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[id]
	return c, ok
}

// GlobalModel looks up a GlobalModel by id.
func (s *Store) GlobalModel(id string) (GlobalModel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.globalModels[id]
	return g, ok
}

// AllGlobalModels returns a snapshot slice of every GlobalModel, for
// similar-models lookups.
func (s *Store) AllGlobalModels() []GlobalModel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GlobalModel, 0, len(s.globalModels))
	for _, g := range s.globalModels {
		out = append(out, g)
	}
	return out
}

// EndpointsByProvider returns every Endpoint owned by the given Provider.
func (s *Store) EndpointsByProvider(providerID string) []Endpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Endpoint
	for _, e := range s.endpoints {
		if e.ProviderID == providerID {
			out = append(out, e)
		}
	}
	return out
}

// CredentialsByEndpoint returns every Credential belonging to the given
// Endpoint.
func (s *Store) CredentialsByEndpoint(endpointID string) []Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Credential
	for _, c := range s.credentials {
		if c.EndpointID == endpointID {
			out = append(out, c)
		}
	}
	return out
}

// AllProviders returns a snapshot slice of every Provider.
func (s *Store) AllProviders() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Provider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

// MappingsBySource returns every active ModelMapping whose SourceName
// matches, across both kinds and scopes; the resolver selects among them
// per its resolution order.
func (s *Store) MappingsBySource(sourceName string) []ModelMapping {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ModelMapping
	for _, m := range s.mappings {
		if m.SourceName == sourceName {
			out = append(out, m)
		}
	}
	return out
}

// ModelByProviderAndGlobal finds the provider-specific Model row
// implementing globalModelID at providerID, if any.
func (s *Store) ModelByProviderAndGlobal(providerID, globalModelID string) (Model, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.models {
		if m.ProviderID == providerID && m.GlobalModelID == globalModelID && m.Active {
			return m, true
		}
	}
	return Model{}, false
}

// credLock returns the striped mutex for a credential id, creating it on
// first use.
func (s *Store) credLock(credentialID string) *sync.Mutex {
	v, _ := s.credLocks.LoadOrStore(credentialID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// UpdateCredentialState serializes fn over the named credential's adaptive
// state and persists the result, implementing §9's single update primitive.
// fn receives a copy of the current state and returns the new state.
func (s *Store) UpdateCredentialState(credentialID string, fn func(AdaptiveState) AdaptiveState) (AdaptiveState, bool) {
	lock := s.credLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	cred, ok := s.credentials[credentialID]
	if !ok {
		s.mu.Unlock()
		return AdaptiveState{}, false
	}
	s.mu.Unlock()

	next := fn(cred.Adaptive)

	s.mu.Lock()
	cred = s.credentials[credentialID]
	cred.Adaptive = next
	s.credentials[credentialID] = cred
	s.mu.Unlock()

	return next, true
}

// Store has no handler for the GlobalModelChanged(name) admin→core signal
// (§6); it is handled by resolver.Resolver.InvalidateGlobalModel, which
// lives in resolver to avoid an import cycle.
