package admission

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/clinic-ai-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// CircuitState is the breaker position for one (tenant, category) pair.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// Downstream categories tracked by the breaker set.
const (
	CategoryAI      = "ai"
	CategoryBooking = "booking"
)

// BreakerConfig tunes the per-category circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the count of consecutive failures that opens the circuit.
	FailureThreshold int
	// OpenCooldown is how long the circuit stays open before one half-open probe.
	OpenCooldown time.Duration
}

// DefaultBreakerConfig mirrors the production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, OpenCooldown: 30 * time.Second}
}

type breaker struct {
	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// BreakerSet tracks one circuit per (tenant, downstream category). Failures
// from the AI capability and booking backends feed RecordFailure; Allow is
// consulted before each downstream call.
type BreakerSet struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	breakers map[string]*breaker

	sink    security.Sink
	logger  *logging.Logger
	metrics *metrics.EngineMetrics
	now     func() time.Time
}

// NewBreakerSet constructs a breaker set. now defaults to time.Now.
func NewBreakerSet(cfg BreakerConfig, sink security.Sink, logger *logging.Logger, now func() time.Time) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenCooldown <= 0 {
		cfg.OpenCooldown = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[string]*breaker),
		sink:     sink,
		logger:   logger,
		now:      now,
	}
}

func breakerKey(tenantID, category string) string {
	return tenantID + "|" + category
}

// Allow reports whether a call in the category may proceed. When the circuit
// is open past its cooldown, exactly one caller is admitted as the half-open
// probe; everyone else keeps getting ErrCircuitOpen until the probe resolves.
func (b *BreakerSet) Allow(tenantID, category string) error {
	key := breakerKey(tenantID, category)

	b.mu.Lock()
	defer b.mu.Unlock()

	br, ok := b.breakers[key]
	if !ok {
		return nil
	}

	switch br.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.now().Sub(br.openedAt) < b.cfg.OpenCooldown {
			return ErrCircuitOpen
		}
		br.state = CircuitHalfOpen
		br.probeInFlight = true
		return nil
	case CircuitHalfOpen:
		if br.probeInFlight {
			return ErrCircuitOpen
		}
		br.probeInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the circuit and resets failure accounting.
func (b *BreakerSet) RecordSuccess(tenantID, category string) {
	key := breakerKey(tenantID, category)

	b.mu.Lock()
	defer b.mu.Unlock()

	br, ok := b.breakers[key]
	if !ok {
		return
	}
	br.state = CircuitClosed
	br.consecutiveFailures = 0
	br.probeInFlight = false
}

// RecordFailure counts a downstream failure; crossing the threshold (or a
// failed half-open probe) opens the circuit and restarts the cooldown.
func (b *BreakerSet) RecordFailure(tenantID, category string) {
	key := breakerKey(tenantID, category)

	b.mu.Lock()
	br, ok := b.breakers[key]
	if !ok {
		br = &breaker{state: CircuitClosed}
		b.breakers[key] = br
	}
	br.consecutiveFailures++
	br.probeInFlight = false

	opened := false
	if br.state == CircuitHalfOpen || (br.state == CircuitClosed && br.consecutiveFailures >= b.cfg.FailureThreshold) {
		br.state = CircuitOpen
		br.openedAt = b.now()
		opened = true
	}
	b.mu.Unlock()

	if opened {
		b.logger.Warn("circuit opened", "tenant_id", tenantID, "category", category)
		b.metrics.ObserveCircuitOpen(category)
		if b.sink != nil {
			b.sink.Emit(context.Background(), security.Event{
				TenantID:  tenantID,
				Kind:      security.KindCircuitOpened,
				Severity:  security.SeverityWarning,
				Detail:    category,
				Timestamp: b.now().UTC(),
			})
		}
	}
}

// State returns the circuit position for the key, defaulting to closed.
func (b *BreakerSet) State(tenantID, category string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if br, ok := b.breakers[breakerKey(tenantID, category)]; ok {
		return br.state
	}
	return CircuitClosed
}

// Snapshot returns every tracked circuit keyed "tenant|category", for the
// admin dashboard.
func (b *BreakerSet) Snapshot() map[string]CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]CircuitState, len(b.breakers))
	for key, br := range b.breakers {
		out[key] = br.state
	}
	return out
}
