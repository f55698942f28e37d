// Package catalog holds the read-mostly entities of §3: Provider, Endpoint,
// Credential, GlobalModel, ModelMapping and Model, expressed as value
// records keyed by opaque id rather than a mutable cyclic object graph (the
// ORM relationships of the source are re-expressed here as id fields plus a
// small in-memory index per entity kind, per the design note in §9).
//
// The core never mutates these records except for the adaptive fields on
// Credential, which are written through Store.UpdateCredentialState under
// per-credential serialization.
package catalog

import "time"

// APIFormat names a wire dialect an Endpoint speaks, or a client speaks.
type APIFormat string

const (
	FormatAnthropic    APIFormat = "anthropic"
	FormatAnthropicCLI APIFormat = "anthropic_cli"
	FormatOpenAIChat   APIFormat = "openai_chat"
	FormatOpenAIResp   APIFormat = "openai_responses"
	FormatGemini       APIFormat = "gemini"
)

// MappingKind distinguishes a pure rename from a redirect.
type MappingKind string

const (
	MappingAlias   MappingKind = "alias"
	MappingMapping MappingKind = "mapping"
)

// Provider is an upstream vendor account. Smaller Priority is preferred.
type Provider struct {
	ID       string
	Name     string
	Priority int
	Active   bool
}

// Transport selects how the Dispatcher physically sends a request to an
// Endpoint. Almost everything is plain HTTP; Bedrock-fronted endpoints sign
// with SigV4 via the AWS SDK instead of a static auth header.
type Transport string

const (
	TransportHTTP    Transport = ""
	TransportBedrock Transport = "bedrock"
)

// Endpoint is one base URL belonging to a Provider speaking one upstream
// API format.
type Endpoint struct {
	ID            string
	ProviderID    string
	BaseURL       string
	Format        APIFormat
	CustomPath    string // may contain {model}, {action}
	Headers       map[string]string
	Timeout       time.Duration
	MaxRetries    int  // per-credential retry budget when cache-affine
	MaxConcurrent *int // nil = unlimited
	SupportsSSE   bool
	Active        bool

	Transport Transport
	// AWSRegion is read only when Transport == TransportBedrock.
	AWSRegion string
}

// Credential is an API key for one Endpoint.
type Credential struct {
	ID              string
	EndpointID      string
	Secret          string // plaintext once decrypted by the external store
	InternalPrio    int
	MaxConcurrent   *int // nil = adaptive mode
	CacheTTLMinutes int  // 0 = upstream has no prompt cache
	Capabilities    map[string]bool
	Active          bool

	Adaptive AdaptiveState
}

// AdaptiveState is the subset of Credential fields the core itself writes.
// It lives behind a single update primitive (Store.UpdateCredentialState) that serializes
// mutation over the record, per §9's "single update primitive" note.
type AdaptiveState struct {
	LearnedMaxConcurrent int
	UtilizationSamples   []UtilizationSample
	LastRateLimitAt      time.Time
	LastRateLimitKind    string
	ConsecutiveConc429   int
	AdjustmentHistory    []Adjustment
}

// UtilizationSample is one {timestamp, utilization} point in the sliding
// window the Adaptive Tuner maintains.
type UtilizationSample struct {
	At          time.Time
	Utilization float64
}

// Adjustment is one entry in the bounded adjustment-history ring.
type Adjustment struct {
	At     time.Time
	Reason string
	From   int
	To     int
}

// GlobalModel is the canonical catalog entry for a model.
type GlobalModel struct {
	ID           string
	Name         string
	DisplayName  string
	Capabilities map[string]bool
	Active       bool
}

// ModelMapping is a rewrite rule: source name (what clients request) to a
// target GlobalModel, optionally scoped to one Provider.
type ModelMapping struct {
	ID             string
	SourceName     string
	TargetModelID  string
	ProviderScope  string // "" = global
	Kind           MappingKind
	Active         bool
}

// Model links a Provider to a GlobalModel with a provider-specific model
// name.
type Model struct {
	ID            string
	ProviderID    string
	GlobalModelID string
	ProviderName  string // the name sent upstream, e.g. "gpt-4o-mini-2024"
	Active        bool
}
