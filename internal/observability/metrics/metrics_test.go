package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineMetricsRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)
	require.NotNil(t, m)

	m.ObserveAdmission("deny", "rate_limited")
	m.ObserveTurn("sms", "ok", 0.25)
	m.ObserveToolCall("reserve_slot", "conflict")
	m.ObserveBooking("fonet", "success")
	m.ObserveGuardrail("medical_diagnosis")
	m.ObserveIllegalTransition()
	m.ObserveLoopExhausted()
	m.ObserveCircuitOpen("ai")

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilReceiverIsSafe(t *testing.T) {
	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.ObserveAdmission("allow", "")
		m.ObserveTurn("sms", "ok", 0.1)
		m.ObserveToolCall("kb", "ok")
		m.ObserveBooking("tiga", "conflict")
		m.ObserveGuardrail("price_commitment")
		m.ObserveIllegalTransition()
		m.ObserveLoopExhausted()
		m.ObserveCircuitOpen("booking")
	})
}
