package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/synebula/cc-switch/internal/domain"
)

func testConfig() domain.CircuitBreakerConfig {
	return domain.CircuitBreakerConfig{
		FailureThreshold:        3,
		OpenDuration:            20 * time.Millisecond,
		HalfOpenProbeCount:      2,
		SuccessThresholdToClose: 2,
	}
}

func TestBreaker_ClosedAdmitsUntilThreshold(t *testing.T) {
	b := New(testConfig())

	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"))
	assert.Equal(t, domain.CircuitClosed, b.RecordFailure(domain.AppClaude, "p1"))
	assert.Equal(t, domain.CircuitClosed, b.RecordFailure(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"), "still closed below threshold")

	assert.Equal(t, domain.CircuitOpen, b.RecordFailure(domain.AppClaude, "p1"))
	assert.False(t, b.CanDispatch(domain.AppClaude, "p1"), "open rejects immediately")
}

func TestBreaker_SuccessResetsConsecutiveFailures(t *testing.T) {
	b := New(testConfig())

	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	assert.Equal(t, domain.CircuitClosed, b.RecordSuccess(domain.AppClaude, "p1"))

	assert.Equal(t, domain.CircuitClosed, b.RecordFailure(domain.AppClaude, "p1"))
	assert.Equal(t, domain.CircuitClosed, b.RecordFailure(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"), "counter was reset by the intervening success")
}

func TestBreaker_OpenTransitionsToHalfOpenAfterDuration(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)

	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	assert.Equal(t, domain.CircuitOpen, b.State(domain.AppClaude, "p1"))
	assert.False(t, b.CanDispatch(domain.AppClaude, "p1"))

	time.Sleep(cfg.OpenDuration + 5*time.Millisecond)

	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"), "first probe after open_duration_ms admits")
	assert.Equal(t, domain.CircuitHalfOpen, b.State(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"), "second of two configured probes admits")
	assert.False(t, b.CanDispatch(domain.AppClaude, "p1"), "probe budget exhausted, further requests rejected")
}

func TestBreaker_HalfOpenFailureReopensImmediately(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	time.Sleep(cfg.OpenDuration + 5*time.Millisecond)
	require := assert.New(t)
	require.True(b.CanDispatch(domain.AppClaude, "p1"))
	require.Equal(domain.CircuitHalfOpen, b.State(domain.AppClaude, "p1"))

	require.Equal(domain.CircuitOpen, b.RecordFailure(domain.AppClaude, "p1"))
	require.False(b.CanDispatch(domain.AppClaude, "p1"))
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cfg := testConfig()
	b := New(cfg)
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	time.Sleep(cfg.OpenDuration + 5*time.Millisecond)
	b.CanDispatch(domain.AppClaude, "p1")

	assert.Equal(t, domain.CircuitHalfOpen, b.RecordSuccess(domain.AppClaude, "p1"))
	assert.Equal(t, domain.CircuitClosed, b.RecordSuccess(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"))

	b.RecordFailure(domain.AppClaude, "p1")
	assert.Equal(t, domain.CircuitClosed, b.State(domain.AppClaude, "p1"), "closing reset consecutive_failures")
}

func TestBreaker_ManualResetForcesClosed(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	require := assert.New(t)
	require.Equal(domain.CircuitOpen, b.State(domain.AppClaude, "p1"))

	b.Reset(domain.AppClaude, "p1")
	require.Equal(domain.CircuitClosed, b.State(domain.AppClaude, "p1"))
	require.True(b.CanDispatch(domain.AppClaude, "p1"))
}

func TestBreaker_KeysAreIndependentPerAppAndProvider(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")
	b.RecordFailure(domain.AppClaude, "p1")

	assert.True(t, b.CanDispatch(domain.AppCodex, "p1"), "different app is unaffected")
	assert.True(t, b.CanDispatch(domain.AppClaude, "p2"), "different provider is unaffected")
}

func TestBreaker_SeedHealthyLeavesClosed(t *testing.T) {
	b := New(testConfig())
	b.Seed(domain.AppClaude, "p1", true)
	assert.Equal(t, domain.CircuitClosed, b.State(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"))
}

func TestBreaker_SeedUnhealthyOpensWithImmediateProbeEligibility(t *testing.T) {
	b := New(testConfig())
	b.Seed(domain.AppClaude, "p1", false)
	assert.Equal(t, domain.CircuitOpen, b.State(domain.AppClaude, "p1"))
	assert.True(t, b.CanDispatch(domain.AppClaude, "p1"), "seeded Open's window is already elapsed, so the first check probes")
	assert.Equal(t, domain.CircuitHalfOpen, b.State(domain.AppClaude, "p1"))
}

func TestBreaker_RemoveDropsState(t *testing.T) {
	b := New(testConfig())
	b.RecordFailure(domain.AppClaude, "p1")
	b.Remove(domain.AppClaude, "p1")
	assert.Equal(t, domain.CircuitClosed, b.State(domain.AppClaude, "p1"))
}
