package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonitorOpensAfterThreshold(t *testing.T) {
	m := NewMonitor(3, 50*time.Millisecond)
	assert.False(t, m.IsOpen("c1"))

	m.RecordFailure("c1")
	m.RecordFailure("c1")
	assert.False(t, m.IsOpen("c1"))

	m.RecordFailure("c1")
	assert.True(t, m.IsOpen("c1"))
	assert.Equal(t, StateOpen, m.State("c1"))
}

func TestMonitorHalfOpenAdmitsOneProbe(t *testing.T) {
	m := NewMonitor(1, 10*time.Millisecond)
	m.RecordFailure("c1")
	assert.True(t, m.IsOpen("c1"))

	time.Sleep(20 * time.Millisecond)

	assert.False(t, m.IsOpen("c1"), "first probe after cooldown must be admitted")
	assert.True(t, m.IsOpen("c1"), "a second concurrent caller must see it as still open")
}

func TestMonitorSuccessClosesFromHalfOpen(t *testing.T) {
	m := NewMonitor(1, 10*time.Millisecond)
	m.RecordFailure("c1")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.IsOpen("c1"))

	m.RecordSuccess("c1", 5*time.Millisecond)
	assert.Equal(t, StateClosed, m.State("c1"))
	assert.False(t, m.IsOpen("c1"))
}

func TestMonitorFailureInHalfOpenReopens(t *testing.T) {
	m := NewMonitor(1, 10*time.Millisecond)
	m.RecordFailure("c1")
	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.IsOpen("c1"))

	m.RecordFailure("c1")
	assert.Equal(t, StateOpen, m.State("c1"))
}

func TestMonitorIndependentPerCredential(t *testing.T) {
	m := NewMonitor(1, time.Second)
	m.RecordFailure("c1")
	assert.True(t, m.IsOpen("c1"))
	assert.False(t, m.IsOpen("c2"))
}
