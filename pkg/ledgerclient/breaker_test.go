package ledgerclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Hour)
	assert.Equal(t, "CLOSED", cb.State())

	cb.Failure()
	cb.Failure()
	assert.True(t, cb.Allow())

	cb.Failure()
	assert.Equal(t, "OPEN", cb.State())
	assert.False(t, cb.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.Failure()
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow(), "cool-down elapsed, probe allowed")
	assert.Equal(t, "HALF_OPEN", cb.State())

	cb.Success()
	assert.Equal(t, "CLOSED", cb.State())
	assert.True(t, cb.Allow())
}

func TestBreakerReopensOnProbeFailure(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.Failure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.Failure()
	assert.Equal(t, "OPEN", cb.State())
	assert.False(t, cb.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Hour)
	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()
	assert.Equal(t, "CLOSED", cb.State())
}
