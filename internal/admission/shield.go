package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wolfman30/clinic-ai-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// Reason explains why the shield denied a request.
type Reason string

const (
	ReasonRateLimited Reason = "rate_limited"
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonBlocked     Reason = "blocked"
)

// Sentinel errors for callers that prefer error flow over Decision inspection.
var (
	ErrRateLimited = errors.New("admission: rate limited")
	ErrCircuitOpen = errors.New("admission: circuit open")
	ErrBlocked     = errors.New("admission: blocked")
)

// Decision is the outcome of an admission evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Err maps a denial to its sentinel error, or nil when allowed.
func (d Decision) Err() error {
	if d.Allow {
		return nil
	}
	switch d.Reason {
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonCircuitOpen:
		return ErrCircuitOpen
	case ReasonBlocked:
		return ErrBlocked
	default:
		return fmt.Errorf("admission: denied (%s)", d.Reason)
	}
}

// Request carries everything the shield needs to gate one inbound message.
type Request struct {
	TenantID       string
	ClientIdentity string
	Channel        string
	PayloadSize    int
}

// Config tunes the fixed-window counter and the anomaly side-channel.
type Config struct {
	// Window is the fixed counting window length.
	Window time.Duration
	// MaxRequests is the per-key ceiling within one window.
	MaxRequests int
	// MaxPayloadBytes flags oversized payloads; 0 disables the check.
	MaxPayloadBytes int
	// DenyRateThreshold blocks a client outright once it accumulates this
	// many denials within the current window; 0 disables the check.
	DenyRateThreshold int
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Window:            time.Minute,
		MaxRequests:       20,
		MaxPayloadBytes:   8 * 1024,
		DenyRateThreshold: 10,
	}
}

type record struct {
	windowStart time.Time
	count       int
	denials     int
	blocked     bool
}

// Shield gates inbound traffic per (tenant, client identity) before any
// expensive work happens. All state mutation for a key runs under one lock,
// so concurrent evaluations never double-count or race past the ceiling.
type Shield struct {
	mu      sync.Mutex
	cfg     Config
	records map[string]*record

	breakers *BreakerSet
	sink     security.Sink
	metrics  *metrics.EngineMetrics
	logger   *logging.Logger
	now      func() time.Time
}

// ShieldOption configures optional collaborators.
type ShieldOption func(*Shield)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ShieldOption {
	return func(s *Shield) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.EngineMetrics) ShieldOption {
	return func(s *Shield) { s.metrics = m }
}

// NewShield constructs the admission shield. The breaker set shares the
// shield's clock and security sink.
func NewShield(cfg Config, breakerCfg BreakerConfig, sink security.Sink, logger *logging.Logger, opts ...ShieldOption) *Shield {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = 20
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Shield{
		cfg:     cfg,
		records: make(map[string]*record),
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.breakers = NewBreakerSet(breakerCfg, sink, s.logger, s.now)
	s.breakers.metrics = s.metrics
	return s
}

func shieldKey(tenantID, clientIdentity string) string {
	return tenantID + "|" + clientIdentity
}

// Evaluate applies the fixed-window counter and the anomaly side-channel.
// It is non-blocking and must stay cheap: it runs before any AI or booking
// work and is the only thing standing between the engine and a flood.
func (s *Shield) Evaluate(ctx context.Context, req Request) Decision {
	decision := s.evaluate(ctx, req)
	if s.metrics != nil {
		if decision.Allow {
			s.metrics.ObserveAdmission("allow", "")
		} else {
			s.metrics.ObserveAdmission("deny", string(decision.Reason))
		}
	}
	return decision
}

func (s *Shield) evaluate(ctx context.Context, req Request) Decision {
	if s.cfg.MaxPayloadBytes > 0 && req.PayloadSize > s.cfg.MaxPayloadBytes {
		s.emit(ctx, req, security.KindOversizedPayload, security.SeverityWarning,
			fmt.Sprintf("payload %d bytes exceeds limit %d", req.PayloadSize, s.cfg.MaxPayloadBytes))
		return Decision{Allow: false, Reason: ReasonBlocked}
	}

	now := s.now()
	key := shieldKey(req.TenantID, req.ClientIdentity)

	s.mu.Lock()
	rec, ok := s.records[key]
	if !ok || now.Sub(rec.windowStart) >= s.cfg.Window {
		rec = &record{windowStart: now}
		s.records[key] = rec
	}

	if rec.blocked {
		s.mu.Unlock()
		return Decision{Allow: false, Reason: ReasonBlocked}
	}

	rec.count++
	if rec.count > s.cfg.MaxRequests {
		rec.denials++
		crossed := s.cfg.DenyRateThreshold > 0 && rec.denials >= s.cfg.DenyRateThreshold && !rec.blocked
		if crossed {
			rec.blocked = true
		}
		s.mu.Unlock()

		if crossed {
			s.emit(ctx, req, security.KindDenyRateExceeded, security.SeverityCritical,
				fmt.Sprintf("%d denials within window", s.cfg.DenyRateThreshold))
			return Decision{Allow: false, Reason: ReasonBlocked}
		}
		return Decision{Allow: false, Reason: ReasonRateLimited}
	}
	s.mu.Unlock()

	return Decision{Allow: true}
}

// Breakers exposes the circuit breaker set shared with downstream callers.
func (s *Shield) Breakers() *BreakerSet { return s.breakers }

func (s *Shield) emit(ctx context.Context, req Request, kind string, sev security.Severity, detail string) {
	if s.sink == nil {
		return
	}
	s.sink.Emit(ctx, security.Event{
		TenantID:       req.TenantID,
		ClientIdentity: req.ClientIdentity,
		Kind:           kind,
		Severity:       sev,
		Detail:         detail,
		Timestamp:      s.now().UTC(),
	})
}

// Sweep evicts records whose window ended before the cutoff. Callers run it
// periodically to bound memory; it is safe to skip entirely in short-lived
// processes.
func (s *Shield) Sweep() {
	cutoff := s.now().Add(-2 * s.cfg.Window)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.records {
		if rec.windowStart.Before(cutoff) && !rec.blocked {
			delete(s.records, key)
		}
	}
}
