package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-ai-engine/internal/security"
)

func newTestBreakers(cfg BreakerConfig) (*BreakerSet, *fakeClock) {
	clock := newFakeClock()
	return NewBreakerSet(cfg, nil, nil, clock.Now), clock
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	set, _ := newTestBreakers(BreakerConfig{FailureThreshold: 3, OpenCooldown: 30 * time.Second})

	require.NoError(t, set.Allow("org-1", CategoryAI))
	set.RecordFailure("org-1", CategoryAI)
	set.RecordFailure("org-1", CategoryAI)
	require.NoError(t, set.Allow("org-1", CategoryAI), "below threshold still allows")

	set.RecordFailure("org-1", CategoryAI)
	assert.Equal(t, CircuitOpen, set.State("org-1", CategoryAI))
	assert.ErrorIs(t, set.Allow("org-1", CategoryAI), ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	set, _ := newTestBreakers(BreakerConfig{FailureThreshold: 3, OpenCooldown: 30 * time.Second})

	set.RecordFailure("org-1", CategoryBooking)
	set.RecordFailure("org-1", CategoryBooking)
	set.RecordSuccess("org-1", CategoryBooking)
	set.RecordFailure("org-1", CategoryBooking)
	set.RecordFailure("org-1", CategoryBooking)

	assert.Equal(t, CircuitClosed, set.State("org-1", CategoryBooking))
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	set, clock := newTestBreakers(BreakerConfig{FailureThreshold: 1, OpenCooldown: 30 * time.Second})

	set.RecordFailure("org-1", CategoryAI)
	require.ErrorIs(t, set.Allow("org-1", CategoryAI), ErrCircuitOpen)

	clock.Advance(31 * time.Second)

	// Exactly one probe passes; competitors are still denied.
	require.NoError(t, set.Allow("org-1", CategoryAI))
	assert.Equal(t, CircuitHalfOpen, set.State("org-1", CategoryAI))
	assert.ErrorIs(t, set.Allow("org-1", CategoryAI), ErrCircuitOpen)

	set.RecordSuccess("org-1", CategoryAI)
	assert.Equal(t, CircuitClosed, set.State("org-1", CategoryAI))
	assert.NoError(t, set.Allow("org-1", CategoryAI))
}

func TestBreakerFailedProbeReopensAndResetsCooldown(t *testing.T) {
	set, clock := newTestBreakers(BreakerConfig{FailureThreshold: 1, OpenCooldown: 30 * time.Second})

	set.RecordFailure("org-1", CategoryAI)
	clock.Advance(31 * time.Second)
	require.NoError(t, set.Allow("org-1", CategoryAI))

	set.RecordFailure("org-1", CategoryAI)
	assert.Equal(t, CircuitOpen, set.State("org-1", CategoryAI))

	// Cooldown restarted at the probe failure, so a short wait is not enough.
	clock.Advance(10 * time.Second)
	assert.ErrorIs(t, set.Allow("org-1", CategoryAI), ErrCircuitOpen)

	clock.Advance(21 * time.Second)
	assert.NoError(t, set.Allow("org-1", CategoryAI))
}

func TestBreakerKeysAreScopedPerTenantAndCategory(t *testing.T) {
	set, _ := newTestBreakers(BreakerConfig{FailureThreshold: 1, OpenCooldown: time.Minute})

	set.RecordFailure("org-1", CategoryAI)
	assert.ErrorIs(t, set.Allow("org-1", CategoryAI), ErrCircuitOpen)
	assert.NoError(t, set.Allow("org-1", CategoryBooking))
	assert.NoError(t, set.Allow("org-2", CategoryAI))
}

func TestBreakerOpeningEmitsSecurityEvent(t *testing.T) {
	ring := security.NewRingSink(8)
	clock := newFakeClock()
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, OpenCooldown: time.Minute}, ring, nil, clock.Now)

	set.RecordFailure("org-1", CategoryBooking)

	events := ring.Snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, security.KindCircuitOpened, events[0].Kind)
	assert.Equal(t, CategoryBooking, events[0].Detail)
}

func TestBreakerSnapshot(t *testing.T) {
	set, _ := newTestBreakers(BreakerConfig{FailureThreshold: 1, OpenCooldown: time.Minute})
	set.RecordFailure("org-1", CategoryAI)
	set.RecordFailure("org-2", CategoryBooking)
	set.RecordSuccess("org-2", CategoryBooking)

	snap := set.Snapshot()
	assert.Equal(t, CircuitOpen, snap["org-1|ai"])
	assert.Equal(t, CircuitClosed, snap["org-2|booking"])
}
