package security

import (
	"context"
	"sync"
	"time"

	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// Severity grades a security event for the external dashboard.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event kinds produced by the admission shield and orchestrator.
const (
	KindOversizedPayload = "oversized_payload"
	KindDenyRateExceeded = "deny_rate_exceeded"
	KindCircuitOpened    = "circuit_opened"
	KindGuardrailBlocked = "guardrail_blocked"
)

// Event is an append-only record consumed by the threat dashboard. The
// engine only produces events; it never reads them back on the hot path.
type Event struct {
	TenantID       string    `json:"tenant_id"`
	ClientIdentity string    `json:"client_identity"`
	Kind           string    `json:"kind"`
	Severity       Severity  `json:"severity"`
	Detail         string    `json:"detail,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Sink receives security events. Implementations must tolerate emission from
// concurrent goroutines and must never block admission decisions.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a slog-backed sink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

// Emit logs the event at a level matching its severity.
func (s *LogSink) Emit(_ context.Context, ev Event) {
	args := []any{
		"tenant_id", ev.TenantID,
		"client_identity", ev.ClientIdentity,
		"kind", ev.Kind,
		"severity", string(ev.Severity),
		"detail", ev.Detail,
	}
	switch ev.Severity {
	case SeverityCritical:
		s.logger.Error("security event", args...)
	case SeverityWarning:
		s.logger.Warn("security event", args...)
	default:
		s.logger.Info("security event", args...)
	}
}

// RingSink keeps the most recent events in memory for the admin summary
// endpoint. Oldest entries are evicted once capacity is reached.
type RingSink struct {
	mu     sync.Mutex
	events []Event
	next   int
	filled bool
}

// NewRingSink creates a ring buffer sink with the given capacity.
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingSink{events: make([]Event, capacity)}
}

// Emit appends the event, evicting the oldest when full.
func (s *RingSink) Emit(_ context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = ev
	s.next++
	if s.next == len(s.events) {
		s.next = 0
		s.filled = true
	}
}

// Snapshot returns events oldest-first.
func (s *RingSink) Snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.filled {
		out := make([]Event, s.next)
		copy(out, s.events[:s.next])
		return out
	}
	out := make([]Event, 0, len(s.events))
	out = append(out, s.events[s.next:]...)
	out = append(out, s.events[:s.next]...)
	return out
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Emit forwards the event to every sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}
