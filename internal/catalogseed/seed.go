// Package catalogseed reads the flat JSON bootstrap file gatewayd and
// gwctl use to stand up a catalog.Store without a real admin-owned
// database: one array per catalog entity kind (§3), mirroring the tables
// the core only ever reads (§1 Non-goals — admin CRUD lives elsewhere).
package catalogseed

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ferro-labs/llm-gateway-core/catalog"
)

// Seed is the on-disk shape of a catalog seed file.
type Seed struct {
	Providers    []Provider    `json:"providers"`
	Endpoints    []Endpoint    `json:"endpoints"`
	Credentials  []Credential  `json:"credentials"`
	GlobalModels []GlobalModel `json:"global_models"`
	Mappings     []Mapping     `json:"mappings"`
	Models       []Model       `json:"models"`
}

type Provider struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Priority int    `json:"priority"`
	Active   bool   `json:"active"`
}

type Endpoint struct {
	ID            string            `json:"id"`
	ProviderID    string            `json:"provider_id"`
	BaseURL       string            `json:"base_url"`
	Format        catalog.APIFormat `json:"format"`
	CustomPath    string            `json:"custom_path,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	TimeoutMS     int               `json:"timeout_ms"`
	MaxRetries    int               `json:"max_retries"`
	MaxConcurrent *int              `json:"max_concurrent,omitempty"`
	SupportsSSE   bool              `json:"supports_sse"`
	Active        bool              `json:"active"`
	Transport     catalog.Transport `json:"transport,omitempty"`
	AWSRegion     string            `json:"aws_region,omitempty"`
}

type Credential struct {
	ID              string          `json:"id"`
	EndpointID      string          `json:"endpoint_id"`
	Secret          string          `json:"secret"`
	InternalPrio    int             `json:"internal_prio"`
	MaxConcurrent   *int            `json:"max_concurrent,omitempty"`
	CacheTTLMinutes int             `json:"cache_ttl_minutes"`
	Capabilities    map[string]bool `json:"capabilities,omitempty"`
	Active          bool            `json:"active"`
}

type GlobalModel struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	DisplayName  string          `json:"display_name,omitempty"`
	Capabilities map[string]bool `json:"capabilities,omitempty"`
	Active       bool            `json:"active"`
}

type Mapping struct {
	ID            string              `json:"id"`
	SourceName    string              `json:"source_name"`
	TargetModelID string              `json:"target_model_id"`
	ProviderScope string              `json:"provider_scope,omitempty"`
	Kind          catalog.MappingKind `json:"kind"`
	Active        bool                `json:"active"`
}

type Model struct {
	ID            string `json:"id"`
	ProviderID    string `json:"provider_id"`
	GlobalModelID string `json:"global_model_id"`
	ProviderName  string `json:"provider_name"`
	Active        bool   `json:"active"`
}

// ReadFile reads and parses a Seed from path.
func ReadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing catalog seed: %w", err)
	}
	return &seed, nil
}

// LoadInto parses the seed at path and loads it wholesale into store.
func LoadInto(store *catalog.Store, path string) error {
	seed, err := ReadFile(path)
	if err != nil {
		return err
	}
	seed.LoadInto(store)
	return nil
}

// LoadInto converts and loads an already-parsed Seed into store.
func (seed *Seed) LoadInto(store *catalog.Store) {
	providers := make([]catalog.Provider, len(seed.Providers))
	for i, p := range seed.Providers {
		providers[i] = catalog.Provider{ID: p.ID, Name: p.Name, Priority: p.Priority, Active: p.Active}
	}

	endpoints := make([]catalog.Endpoint, len(seed.Endpoints))
	for i, e := range seed.Endpoints {
		endpoints[i] = catalog.Endpoint{
			ID: e.ID, ProviderID: e.ProviderID, BaseURL: e.BaseURL, Format: e.Format,
			CustomPath: e.CustomPath, Headers: e.Headers,
			Timeout:       time.Duration(e.TimeoutMS) * time.Millisecond,
			MaxRetries:    e.MaxRetries, MaxConcurrent: e.MaxConcurrent,
			SupportsSSE: e.SupportsSSE, Active: e.Active,
			Transport: e.Transport, AWSRegion: e.AWSRegion,
		}
	}

	credentials := make([]catalog.Credential, len(seed.Credentials))
	for i, c := range seed.Credentials {
		credentials[i] = catalog.Credential{
			ID: c.ID, EndpointID: c.EndpointID, Secret: c.Secret, InternalPrio: c.InternalPrio,
			MaxConcurrent: c.MaxConcurrent, CacheTTLMinutes: c.CacheTTLMinutes,
			Capabilities: c.Capabilities, Active: c.Active,
		}
	}

	globalModels := make([]catalog.GlobalModel, len(seed.GlobalModels))
	for i, g := range seed.GlobalModels {
		globalModels[i] = catalog.GlobalModel{ID: g.ID, Name: g.Name, DisplayName: g.DisplayName, Capabilities: g.Capabilities, Active: g.Active}
	}

	mappings := make([]catalog.ModelMapping, len(seed.Mappings))
	for i, m := range seed.Mappings {
		mappings[i] = catalog.ModelMapping{
			ID: m.ID, SourceName: m.SourceName, TargetModelID: m.TargetModelID,
			ProviderScope: m.ProviderScope, Kind: m.Kind, Active: m.Active,
		}
	}

	models := make([]catalog.Model, len(seed.Models))
	for i, m := range seed.Models {
		models[i] = catalog.Model{ID: m.ID, ProviderID: m.ProviderID, GlobalModelID: m.GlobalModelID, ProviderName: m.ProviderName, Active: m.Active}
	}

	store.Load(providers, endpoints, credentials, globalModels, mappings, models)
}

// Lint checks referential integrity across the seed's entity arrays without
// ever constructing a catalog.Store, returning every problem found rather
// than stopping at the first (the operator-facing catalog-lint idiom).
func (seed *Seed) Lint() []string {
	var problems []string

	providerIDs := map[string]bool{}
	for _, p := range seed.Providers {
		if p.ID == "" {
			problems = append(problems, "provider with empty id")
			continue
		}
		if providerIDs[p.ID] {
			problems = append(problems, fmt.Sprintf("duplicate provider id %q", p.ID))
		}
		providerIDs[p.ID] = true
	}

	endpointIDs := map[string]bool{}
	for _, e := range seed.Endpoints {
		if e.ID == "" {
			problems = append(problems, "endpoint with empty id")
			continue
		}
		if endpointIDs[e.ID] {
			problems = append(problems, fmt.Sprintf("duplicate endpoint id %q", e.ID))
		}
		endpointIDs[e.ID] = true
		if !providerIDs[e.ProviderID] {
			problems = append(problems, fmt.Sprintf("endpoint %q references unknown provider_id %q", e.ID, e.ProviderID))
		}
		if e.BaseURL == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q has no base_url", e.ID))
		}
		switch e.Format {
		case catalog.FormatAnthropic, catalog.FormatAnthropicCLI, catalog.FormatOpenAIChat, catalog.FormatOpenAIResp, catalog.FormatGemini:
		default:
			problems = append(problems, fmt.Sprintf("endpoint %q has unrecognized format %q", e.ID, e.Format))
		}
		if e.Transport == catalog.TransportBedrock && e.AWSRegion == "" {
			problems = append(problems, fmt.Sprintf("endpoint %q uses bedrock transport but has no aws_region", e.ID))
		}
	}

	credentialIDs := map[string]bool{}
	for _, c := range seed.Credentials {
		if c.ID == "" {
			problems = append(problems, "credential with empty id")
			continue
		}
		if credentialIDs[c.ID] {
			problems = append(problems, fmt.Sprintf("duplicate credential id %q", c.ID))
		}
		credentialIDs[c.ID] = true
		if !endpointIDs[c.EndpointID] {
			problems = append(problems, fmt.Sprintf("credential %q references unknown endpoint_id %q", c.ID, c.EndpointID))
		}
		if c.Secret == "" {
			problems = append(problems, fmt.Sprintf("credential %q has an empty secret", c.ID))
		}
	}

	globalModelIDs := map[string]bool{}
	for _, g := range seed.GlobalModels {
		if g.ID == "" {
			problems = append(problems, "global model with empty id")
			continue
		}
		if globalModelIDs[g.ID] {
			problems = append(problems, fmt.Sprintf("duplicate global model id %q", g.ID))
		}
		globalModelIDs[g.ID] = true
	}

	for _, m := range seed.Mappings {
		if !globalModelIDs[m.TargetModelID] {
			problems = append(problems, fmt.Sprintf("mapping %q references unknown target_model_id %q", m.ID, m.TargetModelID))
		}
		if m.ProviderScope != "" && !providerIDs[m.ProviderScope] {
			problems = append(problems, fmt.Sprintf("mapping %q scopes to unknown provider_scope %q", m.ID, m.ProviderScope))
		}
		switch m.Kind {
		case catalog.MappingAlias, catalog.MappingMapping:
		default:
			problems = append(problems, fmt.Sprintf("mapping %q has unrecognized kind %q", m.ID, m.Kind))
		}
	}

	for _, m := range seed.Models {
		if !providerIDs[m.ProviderID] {
			problems = append(problems, fmt.Sprintf("model %q references unknown provider_id %q", m.ID, m.ProviderID))
		}
		if !globalModelIDs[m.GlobalModelID] {
			problems = append(problems, fmt.Sprintf("model %q references unknown global_model_id %q", m.ID, m.GlobalModelID))
		}
		if m.ProviderName == "" {
			problems = append(problems, fmt.Sprintf("model %q has no provider_name to send upstream", m.ID))
		}
	}

	return problems
}
