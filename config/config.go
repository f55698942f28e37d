// Package config holds the process-wide knobs of §6's "Configuration
// knobs" table: priority mode, Adaptive Tuner defaults, Concurrency Manager
// backend selection, blacklist fail policy, slot TTL, stream prefetch line
// count, data-timeout thresholds, and HTTP timeouts.
//
// Split into config.go (the struct) / config_load.go (the loader).
package config

import "time"

// PriorityMode selects whether candidate ordering within a model tier
// breaks ties on Provider.Priority or Credential.InternalPrio first (§4.2).
type PriorityMode string

const (
	PriorityModeProvider   PriorityMode = "provider"
	PriorityModeCredential PriorityMode = "credential"
)

// FailPolicy is the fail-open/fail-closed choice for a degraded dependency
// (§5's "fail-closed vs fail-open being a configured policy" note).
type FailPolicy string

const (
	FailOpen   FailPolicy = "open"
	FailClosed FailPolicy = "closed"
)

// Config is the top-level process configuration, loadable from YAML or
// JSON via LoadConfig.
type Config struct {
	// PriorityMode governs Candidate Resolver ordering (§4.2).
	PriorityMode PriorityMode `json:"priority_mode" yaml:"priority_mode"`

	// ConcurrencyBackend selects the Concurrency Manager's slot-counting
	// backend (§4.4).
	ConcurrencyBackend string        `json:"concurrency_backend" yaml:"concurrency_backend"`
	RedisAddr          string        `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	SlotTTL            time.Duration `json:"slot_ttl" yaml:"slot_ttl"`
	ReservationRatio   float64       `json:"reservation_ratio" yaml:"reservation_ratio"`
	DegradeRatio       float64       `json:"degrade_ratio" yaml:"degrade_ratio"`

	// BlacklistFailPolicy (default fail-closed) is parsed and validated by
	// LoadConfig, but no component reads it: the Health Monitor keeps its
	// state in memory and has no backing store that could be unreachable.
	BlacklistFailPolicy FailPolicy `json:"blacklist_fail_policy" yaml:"blacklist_fail_policy"`

	Adaptive AdaptiveConfig `json:"adaptive" yaml:"adaptive"`
	Health   HealthConfig   `json:"health" yaml:"health"`

	// StreamPrefetchLines is loaded and defaulted, but no component reads
	// it: the Stream Processor always buffers up to five frames before
	// forwarding the first one (§4.9).
	StreamPrefetchLines int `json:"stream_prefetch_lines" yaml:"stream_prefetch_lines"`
	// DataTimeout is the Stream Processor's stall threshold (§4.9): a stream
	// is ended once EmptyChunkThreshold frames in a row carried no usable
	// data and DataTimeout has passed since the last usable frame. Silence
	// with no frames at all is not timed out by it.
	DataTimeout time.Duration `json:"data_timeout" yaml:"data_timeout"`

	// HTTPTimeout becomes the Timeout of the Request Dispatcher's
	// http.Client (cmd/gatewayd): it bounds every HTTP attempt, including
	// reading the response body, in addition to any Endpoint.Timeout.
	// Bedrock attempts do not use it (§4.8).
	HTTPTimeout time.Duration `json:"http_timeout" yaml:"http_timeout"`

	// ModelResolverCacheTTL and ModelResolverCacheSize configure the Model
	// Resolver's TTL cache (§4.1).
	ModelResolverCacheTTL  time.Duration `json:"model_resolver_cache_ttl" yaml:"model_resolver_cache_ttl"`
	ModelResolverCacheSize int           `json:"model_resolver_cache_size" yaml:"model_resolver_cache_size"`

	// AffinityCacheCapacity bounds the Cache-Affinity Store's LRU (§4.7).
	AffinityCacheCapacity int `json:"affinity_cache_capacity" yaml:"affinity_cache_capacity"`

	// UsageDSN and CandidateRecordDSN select the SQL backend for the Usage
	// Recorder and Candidate Record Store reference implementations
	// (empty means sqlite with the package default filename).
	UsageDSN           string `json:"usage_dsn,omitempty" yaml:"usage_dsn,omitempty"`
	CandidateRecordDSN string `json:"candidate_record_dsn,omitempty" yaml:"candidate_record_dsn,omitempty"`
	SQLDialect         string `json:"sql_dialect" yaml:"sql_dialect"` // "sqlite" | "postgres"
}

// AdaptiveConfig mirrors adaptive.Defaults with (de)serializable field
// names; cmd/gatewayd copies it field by field into an adaptive.Defaults
// value.
type AdaptiveConfig struct {
	InitialLimit       int     `json:"initial_limit" yaml:"initial_limit"`
	MinLimit           int     `json:"min_limit" yaml:"min_limit"`
	MaxLimit           int     `json:"max_limit" yaml:"max_limit"`
	IncreaseStep       int     `json:"increase_step" yaml:"increase_step"`
	DecreaseMultiplier float64 `json:"decrease_multiplier" yaml:"decrease_multiplier"`

	WindowSize            int           `json:"window_size" yaml:"window_size"`
	WindowDuration        time.Duration `json:"window_duration" yaml:"window_duration"`
	UtilizationThreshold  float64       `json:"utilization_threshold" yaml:"utilization_threshold"`
	HighUtilizationRatio  float64       `json:"high_utilization_ratio" yaml:"high_utilization_ratio"`
	MinSamplesForDecision int           `json:"min_samples_for_decision" yaml:"min_samples_for_decision"`

	ProbeInterval    time.Duration `json:"probe_interval" yaml:"probe_interval"`
	ProbeMinRequests int           `json:"probe_min_requests" yaml:"probe_min_requests"`

	CooldownAfter429  time.Duration `json:"cooldown_after_429" yaml:"cooldown_after_429"`
	MaxHistoryRecords int           `json:"max_history_records" yaml:"max_history_records"`
}

// HealthConfig configures the Health Monitor's circuit breaker (§4.3).
type HealthConfig struct {
	FailureThreshold int           `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout" yaml:"open_timeout"`
}

// Default returns the stated defaults for every knob, suitable as a
// starting point before applying a loaded file or environment overrides.
func Default() Config {
	return Config{
		PriorityMode:        PriorityModeProvider,
		ConcurrencyBackend:  "auto",
		SlotTTL:             5 * time.Minute,
		ReservationRatio:    0.2,
		DegradeRatio:        0.5,
		BlacklistFailPolicy: FailClosed,
		Adaptive: AdaptiveConfig{
			InitialLimit:          10,
			MinLimit:              1,
			MaxLimit:              1000,
			IncreaseStep:          1,
			DecreaseMultiplier:    0.7,
			WindowSize:            20,
			WindowDuration:        10 * time.Minute,
			UtilizationThreshold:  0.7,
			HighUtilizationRatio:  0.6,
			MinSamplesForDecision: 20,
			ProbeInterval:         30 * time.Minute,
			ProbeMinRequests:      100,
			CooldownAfter429:      60 * time.Second,
			MaxHistoryRecords:     20,
		},
		Health: HealthConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		StreamPrefetchLines:    1,
		DataTimeout:            60 * time.Second,
		HTTPTimeout:            30 * time.Second,
		ModelResolverCacheTTL:  300 * time.Second,
		ModelResolverCacheSize: 4096,
		AffinityCacheCapacity:  10000,
		SQLDialect:             "sqlite",
	}
}
