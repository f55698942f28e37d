// Package candidates implements the Candidate Resolver (§4.2): enumerates
// (Provider, Endpoint, Credential) triples for a request, computes
// per-credential skip reasons, and sorts cache-affine-first then by
// priority.
//
// Grounded on internal/strategies for the
// target-iteration/sort idiom, and on
// src/services/orchestration/candidate_resolver.py for batch record
// pre-allocation and CountTotalAttempts (SUPPLEMENTED FEATURES #1-2 in
// SPEC_FULL.md).
package candidates

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ferro-labs/llm-gateway-core/affinity"
	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/errs"
	"github.com/ferro-labs/llm-gateway-core/health"
	"github.com/ferro-labs/llm-gateway-core/resolver"
)

// PriorityMode is the provider-vs-credential primary sort key toggle (§4.2
// step 6, §9 Open Question 2 — cache-affinity always wins regardless of
// mode).
type PriorityMode string

const (
	PriorityModeProvider   PriorityMode = "provider"
	PriorityModeCredential PriorityMode = "credential"
)

// Candidate is one (Provider, Endpoint, Credential) triple, plus the flags
// computed by the resolution algorithm.
type Candidate struct {
	Provider   catalog.Provider
	Endpoint   catalog.Endpoint
	Credential catalog.Credential

	ProviderModelName string // the name to send upstream, e.g. "gpt-4o-mini-2024"

	IsCached   bool
	IsSkipped  bool
	SkipReason string
}

// Request is the resolver's input (§4.2).
type Request struct {
	ClientFormat             catalog.APIFormat
	ModelName                string
	CallerID                 string
	Stream                   bool
	RequiredCapabilities     map[string]bool // capability -> must-be-present(true)/must-be-absent(false)
	AllowedProviderIDs       []string        // caller allow-list; nil = no restriction
	PriorityMode             PriorityMode
}

// Result is the resolver's output.
type Result struct {
	Candidates       []Candidate
	CanonicalModelID string
}

// ConverterAvailable reports whether a Protocol Converter is registered
// from source to target (or they're equal, needing no conversion). Injected
// so this package does not import convert directly (convert depends on
// nothing from candidates, but keeping the dependency one-directional keeps
// the package graph a DAG per §9's no-cyclic-graph note).
type ConverterAvailable func(source, target catalog.APIFormat) bool

// Resolver implements §4.2.
type Resolver struct {
	store      *catalog.Store
	resolver   *resolver.Resolver
	health     *health.Monitor
	affinity   *affinity.Store
	converters ConverterAvailable

	// providerBatchSize bounds per-batch provider enumeration (§4.2: "never
	// exceeds an upper enumeration bound, default 20 providers per batch").
	providerBatchSize int
}

// New constructs a candidates.Resolver.
func New(store *catalog.Store, modelResolver *resolver.Resolver, healthMonitor *health.Monitor, affinityStore *affinity.Store, converters ConverterAvailable) *Resolver {
	return &Resolver{
		store:             store,
		resolver:          modelResolver,
		health:            healthMonitor,
		affinity:          affinityStore,
		converters:        converters,
		providerBatchSize: 20,
	}
}

// Resolve implements the full §4.2 algorithm.
func (r *Resolver) Resolve(req Request) (Result, error) {
	// 1. Resolve M to a canonical GlobalModel id G.
	res, err := r.resolver.Resolve(req.ModelName, "")
	if err != nil {
		return Result{}, err
	}
	globalModelID := res.GlobalModelID

	allowed := toSet(req.AllowedProviderIDs)

	var out []Candidate
	providers := r.store.AllProviders()
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID < providers[j].ID })

	for batchStart := 0; batchStart < len(providers); batchStart += r.providerBatchSize {
		end := batchStart + r.providerBatchSize
		if end > len(providers) {
			end = len(providers)
		}
		for _, p := range providers[batchStart:end] {
			if !p.Active {
				continue
			}
			if allowed != nil && !allowed[p.ID] {
				continue
			}

			for _, e := range r.store.EndpointsByProvider(p.ID) {
				if !e.Active {
					continue
				}
				if !r.formatAcceptable(e.Format, req.ClientFormat) {
					continue
				}
				model, ok := r.store.ModelByProviderAndGlobal(p.ID, globalModelID)
				if !ok {
					continue
				}

				for _, c := range r.store.CredentialsByEndpoint(e.ID) {
					if !c.Active {
						continue
					}
					cand := Candidate{Provider: p, Endpoint: e, Credential: c, ProviderModelName: model.ProviderName}
					cand.IsSkipped, cand.SkipReason = r.computeSkip(c, e, req)
					out = append(out, cand)
				}
			}
		}
	}

	if len(out) == 0 {
		return Result{}, errs.New(errs.KindModelUnsupported, "no provider supports the requested model for this request shape")
	}

	r.applyAffinity(out, req.CallerID, req.ClientFormat, globalModelID)
	sortCandidates(out, req.PriorityMode)

	return Result{Candidates: out, CanonicalModelID: globalModelID}, nil
}

func (r *Resolver) formatAcceptable(endpointFormat, clientFormat catalog.APIFormat) bool {
	if endpointFormat == clientFormat {
		return true
	}
	if r.converters == nil {
		return false
	}
	return r.converters(endpointFormat, clientFormat)
}

func (r *Resolver) computeSkip(c catalog.Credential, e catalog.Endpoint, req Request) (bool, string) {
	if r.health.IsOpen(c.ID) {
		return true, "unhealthy"
	}
	for cap, required := range req.RequiredCapabilities {
		has := c.Capabilities[cap]
		if required && !has {
			return true, "capability-missing:" + cap
		}
		if !required && has {
			return true, "capability-missing:" + cap
		}
	}
	if req.Stream && !e.SupportsSSE {
		return true, "no-stream"
	}
	return false, ""
}

func (r *Resolver) applyAffinity(cands []Candidate, callerID string, format catalog.APIFormat, globalModelID string) {
	if r.affinity == nil {
		return
	}
	key := affinity.Key{CallerID: callerID, ClientFormat: string(format), CanonicalModelID: globalModelID}
	target, ok := r.affinity.Get(key)
	if !ok {
		return
	}
	for i := range cands {
		if cands[i].IsSkipped {
			continue
		}
		if cands[i].Endpoint.ID == target.EndpointID && cands[i].Credential.ID == target.CredentialID {
			cands[i].IsCached = true
			return
		}
	}
}

func sortCandidates(cands []Candidate, mode PriorityMode) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.IsCached != b.IsCached {
			return a.IsCached // cache-affine always first
		}
		if mode == PriorityModeCredential {
			if a.Credential.InternalPrio != b.Credential.InternalPrio {
				return a.Credential.InternalPrio < b.Credential.InternalPrio
			}
			if a.Provider.Priority != b.Provider.Priority {
				return a.Provider.Priority < b.Provider.Priority
			}
		} else {
			if a.Provider.Priority != b.Provider.Priority {
				return a.Provider.Priority < b.Provider.Priority
			}
			if a.Credential.InternalPrio != b.Credential.InternalPrio {
				return a.Credential.InternalPrio < b.Credential.InternalPrio
			}
		}
		return a.Credential.ID < b.Credential.ID // stable tiebreak by id
	})
}

func toSet(ids []string) map[string]bool {
	if ids == nil {
		return nil
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// RecordID is an opaque Candidate Record id.
type RecordID string

// PreAllocate returns, for every non-skipped candidate, one RecordID per
// retry slot (endpoint.MaxRetries when cache-affine, else 1), and exactly
// one RecordID for each skipped candidate — a single-shot batch allocation,
// per SUPPLEMENTED FEATURES #1 (original's create_candidate_records).
func PreAllocate(cands []Candidate) map[[2]int]RecordID {
	out := make(map[[2]int]RecordID)
	for i, c := range cands {
		if c.IsSkipped {
			out[[2]int{i, 0}] = RecordID(uuid.NewString())
			continue
		}
		maxRetries := 1
		if c.IsCached {
			maxRetries = c.Endpoint.MaxRetries
			if maxRetries <= 0 {
				maxRetries = 1
			}
		}
		for retry := 0; retry < maxRetries; retry++ {
			out[[2]int{i, retry}] = RecordID(uuid.NewString())
		}
	}
	return out
}

// CountTotalAttempts computes the upper bound on dispatch attempts for a
// candidate list, per SUPPLEMENTED FEATURES #2 (original's
// count_total_attempts) and §8 property 9 (fallback termination bound).
func CountTotalAttempts(cands []Candidate) int {
	total := 0
	for _, c := range cands {
		if c.IsSkipped {
			continue
		}
		maxRetries := 1
		if c.IsCached {
			maxRetries = c.Endpoint.MaxRetries
			if maxRetries <= 0 {
				maxRetries = 1
			}
		}
		total += maxRetries
	}
	return total
}
