// Package resolver implements the Model Resolver (§4.1): client-supplied
// model string → (canonical GlobalModel, provider-specific name when a
// Provider is fixed), with a TTL-cached resolution path, event-driven
// invalidation, and a similar-models lookup for friendly error messages.
//
// Grounded on internal/cache/memory.go for the TTL-cache
// shape (generalized here from *providers.Response to a resolved Result)
// and on mazori-ai/modelgate's use of agnivade/levenshtein for similarity
// scoring; singleflight collapsing is a Go-idiomatic addition documented as
// SUPPLEMENTED FEATURES #6 in SPEC_FULL.md.
package resolver

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/errs"
)

// Result is the outcome of a resolution.
type Result struct {
	GlobalModelID      string
	ProviderModelName  string // "" when no Provider scope was given
}

// cacheKey is (provider_scope|"global", source_name) per §4.1.
type cacheKey struct {
	scope  string
	source string
}

const globalScope = "global"

// Resolver resolves model names per the order in §4.1.
type Resolver struct {
	store *catalog.Store
	cache *lru.LRU[cacheKey, Result]
	group singleflight.Group
}

// New creates a Resolver backed by store, with a TTL-cached resolution path
// (default 300s per §4.1).
func New(store *catalog.Store, ttl time.Duration, maxEntries int) *Resolver {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Resolver{
		store: store,
		cache: lru.NewLRU[cacheKey, Result](maxEntries, nil, ttl),
	}
}

// Resolve resolves sourceName, optionally scoped to providerID ("" = no
// provider scope yet — used at the candidate-enumeration stage before a
// specific provider has been chosen; candidates.Resolver calls Resolve once
// per request with no provider scope).
func (r *Resolver) Resolve(sourceName, providerID string) (Result, error) {
	scope := providerID
	if scope == "" {
		scope = globalScope
	}
	key := cacheKey{scope: scope, source: sourceName}

	if v, ok := r.cache.Get(key); ok {
		return v, nil
	}

	groupKey := fmt.Sprintf("%s\x00%s", scope, sourceName)
	v, err, _ := r.group.Do(groupKey, func() (interface{}, error) {
		res, err := r.resolveUncached(sourceName, providerID)
		if err != nil {
			return Result{}, err
		}
		r.cache.Add(key, res)
		return res, nil
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (r *Resolver) resolveUncached(sourceName, providerID string) (Result, error) {
	mappings := r.store.MappingsBySource(sourceName)

	// 1. Active mapping-kind rule scoped to this provider.
	// 2. Active mapping-kind rule with null scope (global).
	if providerID != "" {
		if m, ok := findMapping(mappings, catalog.MappingMapping, providerID); ok {
			return r.finish(m.TargetModelID, providerID)
		}
	}
	if m, ok := findMapping(mappings, catalog.MappingMapping, ""); ok {
		return r.finish(m.TargetModelID, providerID)
	}

	// 3. Active alias-kind rule scoped to this provider.
	// 4. Active alias-kind rule with null scope.
	if providerID != "" {
		if m, ok := findMapping(mappings, catalog.MappingAlias, providerID); ok {
			return r.finish(m.TargetModelID, providerID)
		}
	}
	if m, ok := findMapping(mappings, catalog.MappingAlias, ""); ok {
		return r.finish(m.TargetModelID, providerID)
	}

	// 5. Direct match on GlobalModel.canonical_name.
	for _, g := range r.store.AllGlobalModels() {
		if g.Active && g.Name == sourceName {
			return r.finish(g.ID, providerID)
		}
	}

	// 6. Not found.
	return Result{}, errs.New(errs.KindModelUnsupported, fmt.Sprintf("model %q is not supported", sourceName))
}

func (r *Resolver) finish(globalModelID, providerID string) (Result, error) {
	res := Result{GlobalModelID: globalModelID}
	if providerID != "" {
		if model, ok := r.store.ModelByProviderAndGlobal(providerID, globalModelID); ok {
			res.ProviderModelName = model.ProviderName
		}
	}
	return res, nil
}

func findMapping(mappings []catalog.ModelMapping, kind catalog.MappingKind, providerScope string) (catalog.ModelMapping, bool) {
	for _, m := range mappings {
		if m.Active && m.Kind == kind && m.ProviderScope == providerScope {
			return m, true
		}
	}
	return catalog.ModelMapping{}, false
}

// InvalidateGlobalModel handles the GlobalModelChanged(name) admin signal
// (§6): clears every cache entry whose source name equals name, across all
// scopes.
func (r *Resolver) InvalidateGlobalModel(name string) {
	r.evictWhere(func(k cacheKey) bool { return k.source == name })
}

// InvalidateModelMapping handles ModelMappingChanged(source_model,
// provider_id?) (§6).
func (r *Resolver) InvalidateModelMapping(sourceModel, providerID string) {
	if providerID == "" {
		r.evictWhere(func(k cacheKey) bool { return k.source == sourceModel })
		return
	}
	r.evictWhere(func(k cacheKey) bool { return k.source == sourceModel && k.scope == providerID })
}

// InvalidateModel handles ModelChanged(provider_id, global_model_id) (§6):
// clears provider-scoped entries for that provider.
func (r *Resolver) InvalidateModel(providerID, globalModelID string) {
	r.evictWhere(func(k cacheKey) bool { return k.scope == providerID })
}

func (r *Resolver) evictWhere(match func(cacheKey) bool) {
	for _, k := range r.cache.Keys() {
		if match(k) {
			r.cache.Remove(k)
		}
	}
}

// SimilarModels returns up to topK GlobalModel names ranked by a
// substring-weighted Levenshtein similarity score to name, for friendly
// "did you mean" error messages.
func (r *Resolver) SimilarModels(name string, topK int) []string {
	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	lowerName := strings.ToLower(name)
	for _, g := range r.store.AllGlobalModels() {
		if !g.Active {
			continue
		}
		candidates = append(candidates, scored{name: g.Name, score: similarity(lowerName, strings.ToLower(g.Name))})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]string, 0, topK)
	for i := 0; i < topK; i++ {
		out = append(out, candidates[i].name)
	}
	return out
}

// similarity combines a substring-containment bonus with normalized
// Levenshtein distance, matching the "substring-weighted string-similarity
// score" language in §4.1.
func similarity(a, b string) float64 {
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	base := 1 - float64(dist)/float64(maxLen)
	if strings.Contains(b, a) || strings.Contains(a, b) {
		base += 0.25
	}
	return base
}
