// Package adaptive implements the Adaptive Tuner (§4.5): a sliding-window
// AIMD controller that learns a Credential's true concurrency ceiling from
// success/429 feedback. Only Credentials with MaxConcurrent == nil (the
// "adaptive mode" per §3) are managed by a Tuner.
//
// Grounded directly on the original's
// src/services/rate_limit/adaptive_concurrency.py — the window-based and
// probe-based increase conditions and the 0.7x concurrency-429 decrease are
// carried over verbatim (SUPPLEMENTED FEATURES #5 in SPEC_FULL.md).
package adaptive

import (
	"sync"
	"time"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/ratelimitclass"
)

// Defaults mirrors the original's ConcurrencyDefaults constants.
type Defaults struct {
	InitialLimit      int
	MinLimit          int
	MaxLimit          int
	IncreaseStep      int
	DecreaseMultiplier float64

	WindowSize          int
	WindowDuration      time.Duration
	UtilizationThreshold float64
	HighUtilizationRatio float64
	MinSamplesForDecision int

	ProbeInterval     time.Duration
	ProbeMinRequests  int

	CooldownAfter429 time.Duration

	MaxHistoryRecords int
}

// DefaultDefaults returns the stated default constants.
func DefaultDefaults() Defaults {
	return Defaults{
		InitialLimit:           10,
		MinLimit:               1,
		MaxLimit:               1000,
		IncreaseStep:           1,
		DecreaseMultiplier:     0.7,
		WindowSize:             20,
		WindowDuration:         10 * time.Minute,
		UtilizationThreshold:   0.7,
		HighUtilizationRatio:   0.6,
		MinSamplesForDecision:  20,
		ProbeInterval:          30 * time.Minute,
		ProbeMinRequests:       100,
		CooldownAfter429:       60 * time.Second,
		MaxHistoryRecords:      20,
	}
}

// Tuner adapts learned_max_concurrent for each Credential it is called
// with, serialized per credential via the catalog.Store's update primitive.
type Tuner struct {
	defaults Defaults
	store    *catalog.Store

	mu               sync.Mutex
	lastProbeAt      map[string]time.Time
}

// New creates a Tuner backed by store, using d as the tunable defaults.
func New(store *catalog.Store, d Defaults) *Tuner {
	return &Tuner{defaults: d, store: store, lastProbeAt: make(map[string]time.Time)}
}

// HandleSuccess appends a utilization sample for credentialID and possibly
// raises learned_max_concurrent, returning the (possibly unchanged) current
// value. currentInFlight must reflect the in-flight count observed at
// completion time, including this request.
func (t *Tuner) HandleSuccess(credentialID string, currentInFlight int) int {
	now := time.Now()
	var result int
	t.store.UpdateCredentialState(credentialID, func(st catalog.AdaptiveState) catalog.AdaptiveState {
		limit := st.LearnedMaxConcurrent
		if limit <= 0 {
			limit = t.defaults.InitialLimit
		}
		utilization := 0.0
		if limit > 0 {
			utilization = float64(currentInFlight) / float64(limit)
		}

		samples := appendSample(st.UtilizationSamples, now, utilization, t.defaults)

		reason := t.checkIncreaseConditions(credentialID, st, samples, now)
		if reason != "" && limit < t.defaults.MaxLimit {
			newLimit := limit + t.defaults.IncreaseStep
			if newLimit > t.defaults.MaxLimit {
				newLimit = t.defaults.MaxLimit
			}
			st.AdjustmentHistory = appendHistory(st.AdjustmentHistory, catalog.Adjustment{
				At: now, Reason: reason, From: limit, To: newLimit,
			}, t.defaults.MaxHistoryRecords)
			st.LearnedMaxConcurrent = newLimit
			st.UtilizationSamples = nil
			if reason == "probe_increase" {
				t.mu.Lock()
				t.lastProbeAt[credentialID] = now
				t.mu.Unlock()
			}
			result = newLimit
			return st
		}

		st.LearnedMaxConcurrent = limit
		st.UtilizationSamples = samples
		result = limit
		return st
	})
	return result
}

// Handle429 applies the decrease/no-op/safety-shrink rule based on the
// classified rate-limit kind, per §4.5.
func (t *Tuner) Handle429(credentialID string, kind ratelimitclass.Kind, currentInFlight *int) int {
	now := time.Now()
	var result int
	t.store.UpdateCredentialState(credentialID, func(st catalog.AdaptiveState) catalog.AdaptiveState {
		limit := st.LearnedMaxConcurrent
		if limit <= 0 {
			limit = t.defaults.InitialLimit
		}

		st.LastRateLimitAt = now
		st.LastRateLimitKind = string(kind)
		st.UtilizationSamples = nil

		switch kind {
		case ratelimitclass.KindConcurrency:
			st.ConsecutiveConc429++
			var newLimit int
			if currentInFlight != nil && *currentInFlight > 0 {
				newLimit = maxInt(int(float64(*currentInFlight)*t.defaults.DecreaseMultiplier), t.defaults.MinLimit)
			} else {
				newLimit = maxInt(int(float64(limit)*t.defaults.DecreaseMultiplier), t.defaults.MinLimit)
			}
			st.AdjustmentHistory = appendHistory(st.AdjustmentHistory, catalog.Adjustment{
				At: now, Reason: "concurrent_429", From: limit, To: newLimit,
			}, t.defaults.MaxHistoryRecords)
			st.LearnedMaxConcurrent = newLimit
			result = newLimit
		case ratelimitclass.KindRPM:
			// RPM limits are not concurrency-shaped; leave the ceiling alone.
			result = limit
		default:
			newLimit := maxInt(int(float64(limit)*0.9), t.defaults.MinLimit)
			st.AdjustmentHistory = appendHistory(st.AdjustmentHistory, catalog.Adjustment{
				At: now, Reason: "unknown_429", From: limit, To: newLimit,
			}, t.defaults.MaxHistoryRecords)
			st.LearnedMaxConcurrent = newLimit
			result = newLimit
		}
		return st
	})
	return result
}

func appendSample(samples []catalog.UtilizationSample, now time.Time, utilization float64, d Defaults) []catalog.UtilizationSample {
	samples = append(samples, catalog.UtilizationSample{At: now, Utilization: utilization})
	cutoff := now.Add(-d.WindowDuration)
	filtered := samples[:0]
	for _, s := range samples {
		if s.At.After(cutoff) {
			filtered = append(filtered, s)
		}
	}
	samples = filtered
	if len(samples) > d.WindowSize {
		samples = samples[len(samples)-d.WindowSize:]
	}
	return samples
}

func appendHistory(history []catalog.Adjustment, entry catalog.Adjustment, max int) []catalog.Adjustment {
	history = append(history, entry)
	if len(history) > max {
		history = history[len(history)-max:]
	}
	return history
}

func (t *Tuner) checkIncreaseConditions(credentialID string, st catalog.AdaptiveState, samples []catalog.UtilizationSample, now time.Time) string {
	if t.isInCooldown(st, now) {
		return ""
	}

	if len(samples) >= t.defaults.MinSamplesForDecision {
		highCount := 0
		for _, s := range samples {
			if s.Utilization >= t.defaults.UtilizationThreshold {
				highCount++
			}
		}
		if float64(highCount)/float64(len(samples)) >= t.defaults.HighUtilizationRatio {
			return "high_utilization"
		}
	}

	if t.shouldProbeIncrease(credentialID, st, samples, now) {
		return "probe_increase"
	}

	return ""
}

func (t *Tuner) shouldProbeIncrease(credentialID string, st catalog.AdaptiveState, samples []catalog.UtilizationSample, now time.Time) bool {
	if !st.LastRateLimitAt.IsZero() && now.Sub(st.LastRateLimitAt) < t.defaults.ProbeInterval {
		return false
	}

	t.mu.Lock()
	lastProbe, ok := t.lastProbeAt[credentialID]
	t.mu.Unlock()
	if ok && now.Sub(lastProbe) < t.defaults.ProbeInterval {
		return false
	}

	if len(samples) < t.defaults.ProbeMinRequests {
		return false
	}

	var sum float64
	for _, s := range samples {
		sum += s.Utilization
	}
	avg := sum / float64(len(samples))
	return avg >= 0.3
}

func (t *Tuner) isInCooldown(st catalog.AdaptiveState, now time.Time) bool {
	if st.LastRateLimitAt.IsZero() {
		return false
	}
	return now.Sub(st.LastRateLimitAt) < t.defaults.CooldownAfter429
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
