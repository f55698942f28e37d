package adaptive

import (
	"testing"
	"time"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/ratelimitclass"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(learned int) *catalog.Store {
	s := catalog.NewStore()
	s.Load(nil, nil, []catalog.Credential{
		{ID: "c1", Active: true, Adaptive: catalog.AdaptiveState{LearnedMaxConcurrent: learned}},
	}, nil, nil, nil)
	return s
}

func TestHandle429ConcurrencyDecreasesToObservedTimesMultiplier(t *testing.T) {
	s := newTestStore(10)
	tuner := New(s, DefaultDefaults())

	inFlight := 8
	newLimit := tuner.Handle429("c1", ratelimitclass.KindConcurrency, &inFlight)

	assert.Equal(t, 5, newLimit) // floor(8*0.7) = 5

	cred, _ := s.Credential("c1")
	assert.Equal(t, 1, cred.Adaptive.ConsecutiveConc429)
	assert.Empty(t, cred.Adaptive.UtilizationSamples)
}

func TestHandle429RPMLeavesLimitUnchanged(t *testing.T) {
	s := newTestStore(10)
	tuner := New(s, DefaultDefaults())

	newLimit := tuner.Handle429("c1", ratelimitclass.KindRPM, nil)
	assert.Equal(t, 10, newLimit)
}

func TestHandle429UnknownShrinksBySafetyFactor(t *testing.T) {
	s := newTestStore(10)
	tuner := New(s, DefaultDefaults())

	newLimit := tuner.Handle429("c1", ratelimitclass.KindUnknown, nil)
	assert.Equal(t, 9, newLimit) // floor(10*0.9) = 9
}

func TestHandle429RespectsLowerBound(t *testing.T) {
	s := newTestStore(2)
	tuner := New(s, DefaultDefaults())

	inFlight := 1
	newLimit := tuner.Handle429("c1", ratelimitclass.KindConcurrency, &inFlight)
	assert.Equal(t, 1, newLimit) // floor(1*0.7)=0, clamped to MinLimit=1
}

func TestHandleSuccessIncreasesOnHighUtilizationWindow(t *testing.T) {
	s := newTestStore(10)
	d := DefaultDefaults()
	d.MinSamplesForDecision = 3
	d.WindowSize = 5
	tuner := New(s, d)

	tuner.HandleSuccess("c1", 8) // util 0.8
	tuner.HandleSuccess("c1", 8)
	last := tuner.HandleSuccess("c1", 8)

	assert.Equal(t, 11, last)

	cred, _ := s.Credential("c1")
	require.NotEmpty(t, cred.Adaptive.AdjustmentHistory)
	assert.Equal(t, "high_utilization", cred.Adaptive.AdjustmentHistory[len(cred.Adaptive.AdjustmentHistory)-1].Reason)
	assert.Empty(t, cred.Adaptive.UtilizationSamples)
}

func TestHandleSuccessStaysInCooldownAfter429(t *testing.T) {
	s := catalog.NewStore()
	s.Load(nil, nil, []catalog.Credential{
		{ID: "c1", Active: true, Adaptive: catalog.AdaptiveState{
			LearnedMaxConcurrent: 10,
			LastRateLimitAt:      time.Now(),
		}},
	}, nil, nil, nil)
	d := DefaultDefaults()
	d.MinSamplesForDecision = 1
	tuner := New(s, d)

	limit := tuner.HandleSuccess("c1", 9)
	assert.Equal(t, 10, limit, "should not increase during the post-429 cooldown")
}
