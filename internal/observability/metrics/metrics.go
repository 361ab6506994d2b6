package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes counters/histograms for the admission-and-booking engine.
type EngineMetrics struct {
	admissionTotal  *prometheus.CounterVec
	turnsTotal      *prometheus.CounterVec
	turnLatency     *prometheus.HistogramVec
	toolCallsTotal  *prometheus.CounterVec
	bookingsTotal   *prometheus.CounterVec
	guardrailTotal  *prometheus.CounterVec
	funnelRejects   prometheus.Counter
	loopExhausted   prometheus.Counter
	circuitOpenings *prometheus.CounterVec
}

// NewEngineMetrics registers the engine metric set on reg (or the default
// registerer when reg is nil).
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		admissionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission shield decisions by outcome",
		}, []string{"decision", "reason"}),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "orchestrator",
			Name:      "turns_total",
			Help:      "Processed conversation turns by outcome",
		}, []string{"channel", "outcome"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "orchestrator",
			Name:      "turn_latency_seconds",
			Help:      "End-to-end latency of a conversation turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"channel"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "orchestrator",
			Name:      "tool_calls_total",
			Help:      "Tool invocations made by the reasoning loop",
		}, []string{"tool", "status"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by backend and result",
		}, []string{"backend", "result"}),
		guardrailTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "guardrail",
			Name:      "triggers_total",
			Help:      "Guardrail rule triggers on outbound replies",
		}, []string{"rule"}),
		funnelRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "funnel",
			Name:      "illegal_transitions_total",
			Help:      "Funnel events rejected as illegal transitions",
		}),
		loopExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "orchestrator",
			Name:      "reasoning_loop_exhausted_total",
			Help:      "Turns that hit the reasoning iteration cap",
		}),
		circuitOpenings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "admission",
			Name:      "circuit_openings_total",
			Help:      "Circuit breaker transitions into the open state",
		}, []string{"category"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.admissionTotal, m.turnsTotal, m.turnLatency, m.toolCallsTotal,
		m.bookingsTotal, m.guardrailTotal, m.funnelRejects, m.loopExhausted,
		m.circuitOpenings,
	)
	return m
}

func (m *EngineMetrics) ObserveAdmission(decision, reason string) {
	if m == nil {
		return
	}
	m.admissionTotal.WithLabelValues(decision, reason).Inc()
}

func (m *EngineMetrics) ObserveTurn(channel, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(channel, outcome).Inc()
	m.turnLatency.WithLabelValues(channel).Observe(seconds)
}

func (m *EngineMetrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

func (m *EngineMetrics) ObserveBooking(backend, result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(backend, result).Inc()
}

func (m *EngineMetrics) ObserveGuardrail(rule string) {
	if m == nil {
		return
	}
	m.guardrailTotal.WithLabelValues(rule).Inc()
}

func (m *EngineMetrics) ObserveIllegalTransition() {
	if m == nil {
		return
	}
	m.funnelRejects.Inc()
}

func (m *EngineMetrics) ObserveLoopExhausted() {
	if m == nil {
		return
	}
	m.loopExhausted.Inc()
}

func (m *EngineMetrics) ObserveCircuitOpen(category string) {
	if m == nil {
		return
	}
	m.circuitOpenings.WithLabelValues(category).Inc()
}
