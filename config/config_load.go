package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadConfig reads and parses a config file from the given path, starting
// from Default() so a file only needs to set the knobs it wants to change.
// Supported formats: JSON (.json), YAML (.yaml, .yml).
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file extension %q: use .json, .yaml, or .yml", ext)
	}

	return &cfg, nil
}

// ApplyEnv overlays process environment variables onto cfg, the env-var
// auto-wiring convention container deployments of this gateway have always
// used. Only the knobs operators commonly need to flip without a config
// file are bound.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("FERROGW_PRIORITY_MODE"); v != "" {
		cfg.PriorityMode = PriorityMode(v)
	}
	if v := os.Getenv("FERROGW_CONCURRENCY_BACKEND"); v != "" {
		cfg.ConcurrencyBackend = v
	}
	if v := os.Getenv("FERROGW_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FERROGW_BLACKLIST_FAIL_POLICY"); v != "" {
		cfg.BlacklistFailPolicy = FailPolicy(v)
	}
	if v := os.Getenv("FERROGW_RESERVATION_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.ReservationRatio = f
		}
	}
	if v := os.Getenv("FERROGW_SQL_DIALECT"); v != "" {
		cfg.SQLDialect = v
	}
	if v := os.Getenv("FERROGW_USAGE_DSN"); v != "" {
		cfg.UsageDSN = v
	}
	if v := os.Getenv("FERROGW_CANDIDATE_RECORD_DSN"); v != "" {
		cfg.CandidateRecordDSN = v
	}
}

// Validate fails fast on knob combinations that can't produce a working
// gateway.
func Validate(cfg Config) error {
	switch cfg.PriorityMode {
	case PriorityModeProvider, PriorityModeCredential:
	default:
		return fmt.Errorf("unknown priority_mode: %q", cfg.PriorityMode)
	}

	switch cfg.ConcurrencyBackend {
	case "auto", "redis", "memory":
	default:
		return fmt.Errorf("unknown concurrency_backend: %q", cfg.ConcurrencyBackend)
	}
	if cfg.ConcurrencyBackend == "redis" && cfg.RedisAddr == "" {
		return fmt.Errorf("concurrency_backend=redis requires redis_addr")
	}

	switch cfg.BlacklistFailPolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("unknown blacklist_fail_policy: %q", cfg.BlacklistFailPolicy)
	}

	switch cfg.SQLDialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown sql_dialect: %q", cfg.SQLDialect)
	}

	if cfg.Adaptive.MinLimit <= 0 || cfg.Adaptive.MaxLimit < cfg.Adaptive.MinLimit {
		return fmt.Errorf("adaptive.min_limit/max_limit are invalid: min=%d max=%d", cfg.Adaptive.MinLimit, cfg.Adaptive.MaxLimit)
	}
	if cfg.ReservationRatio < 0 || cfg.ReservationRatio >= 1 {
		return fmt.Errorf("reservation_ratio must be in [0, 1): got %v", cfg.ReservationRatio)
	}

	return nil
}
