package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-ai-engine/internal/admission"
	"github.com/wolfman30/clinic-ai-engine/internal/ai"
	"github.com/wolfman30/clinic-ai-engine/internal/booking"
	"github.com/wolfman30/clinic-ai-engine/internal/leads"
	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

// Tool names exposed to the model.
const (
	toolSearchKnowledge = "search_knowledge"
	toolGetAvailability = "get_availability"
	toolReserveAndBook  = "reserve_and_book"
)

func toolSchema() []ai.Tool {
	return []ai.Tool{
		{
			Name:        toolSearchKnowledge,
			Description: "Search the clinic's knowledge base for treatment, pricing, and policy information.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string", "description": "What to look up."},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolGetAvailability,
			Description: "List open appointment slots. Optionally filter by resource type and time window (RFC 3339).",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"resource_type": map[string]any{"type": "string"},
					"from":          map[string]any{"type": "string"},
					"to":            map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        toolReserveAndBook,
			Description: "Reserve and confirm an appointment slot for the patient. Only call after the patient explicitly picked a slot.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"slot_id":       map[string]any{"type": "string"},
					"patient_name":  map[string]any{"type": "string"},
					"patient_phone": map[string]any{"type": "string"},
					"patient_email": map[string]any{"type": "string"},
				},
				"required": []string{"slot_id", "patient_name", "patient_phone"},
			},
		},
	}
}

// toolOutcome accumulates what the turn's tool calls achieved, feeding funnel
// event derivation after the loop.
type toolOutcome struct {
	queriedAvailability bool
	booked              bool
	appointmentID       string
}

// dispatchTool executes one model-requested tool call and returns the result
// text fed back into the next reasoning iteration. Errors come back as
// (result, true) so the model can react; the engine never aborts a turn on a
// tool failure.
func (e *Engine) dispatchTool(ctx context.Context, tenant tenancy.Tenant, lead *leads.Lead, call ai.ToolCall, outcome *toolOutcome) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout)
	defer cancel()

	switch call.Name {
	case toolSearchKnowledge:
		return e.runSearchKnowledge(ctx, tenant, call.Arguments)
	case toolGetAvailability:
		return e.runGetAvailability(ctx, tenant, call.Arguments, outcome)
	case toolReserveAndBook:
		return e.runReserveAndBook(ctx, tenant, lead, call.Arguments, outcome)
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), true
	}
}

func (e *Engine) runSearchKnowledge(ctx context.Context, tenant tenancy.Tenant, args json.RawMessage) (string, bool) {
	var in struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "invalid arguments: " + err.Error(), true
	}

	snippets, err := e.retriever.Retrieve(ctx, tenant.ID, in.Query, 3)
	if err != nil {
		e.metrics.ObserveToolCall(toolSearchKnowledge, "error")
		return "knowledge lookup failed: " + err.Error(), true
	}
	e.metrics.ObserveToolCall(toolSearchKnowledge, "ok")
	return strings.Join(snippets, "\n"), false
}

func (e *Engine) runGetAvailability(ctx context.Context, tenant tenancy.Tenant, args json.RawMessage, outcome *toolOutcome) (string, bool) {
	var in struct {
		ResourceType string `json:"resource_type"`
		From         string `json:"from"`
		To           string `json:"to"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "invalid arguments: " + err.Error(), true
	}

	req := booking.AvailabilityRequest{TenantID: tenant.ID, ResourceType: in.ResourceType}
	if t, err := time.Parse(time.RFC3339, in.From); err == nil {
		req.From = t
	}
	if t, err := time.Parse(time.RFC3339, in.To); err == nil {
		req.To = t
	}

	text, err := e.availabilityText(ctx, tenant, req)
	if err != nil {
		e.metrics.ObserveToolCall(toolGetAvailability, "error")
		return "availability lookup failed, try again shortly", true
	}
	outcome.queriedAvailability = true
	e.metrics.ObserveToolCall(toolGetAvailability, "ok")
	return text, false
}

// availabilityText queries the tenant's backend under circuit-breaker
// accounting and renders the slots for the model.
func (e *Engine) availabilityText(ctx context.Context, tenant tenancy.Tenant, req booking.AvailabilityRequest) (string, error) {
	adapter, err := e.registry.Resolve(tenant.BookingBackendID)
	if err != nil {
		return "", err
	}
	if err := e.breakers.Allow(tenant.ID, admission.CategoryBooking); err != nil {
		return "", err
	}

	slots, err := adapter.GetAvailability(ctx, req)
	if err != nil {
		e.breakers.RecordFailure(tenant.ID, admission.CategoryBooking)
		return "", err
	}
	e.breakers.RecordSuccess(tenant.ID, admission.CategoryBooking)

	if len(slots) == 0 {
		return "no open slots in the requested window", nil
	}
	var b strings.Builder
	b.WriteString("open slots:\n")
	for _, s := range slots {
		fmt.Fprintf(&b, "- slot_id=%s resource=%s starts=%s\n", s.SlotID, s.ResourceID, s.StartTime.Format(time.RFC3339))
	}
	return b.String(), nil
}

func (e *Engine) runReserveAndBook(ctx context.Context, tenant tenancy.Tenant, lead *leads.Lead, args json.RawMessage, outcome *toolOutcome) (string, bool) {
	var in struct {
		SlotID       string `json:"slot_id"`
		PatientName  string `json:"patient_name"`
		PatientPhone string `json:"patient_phone"`
		PatientEmail string `json:"patient_email"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return "invalid arguments: " + err.Error(), true
	}

	adapter, err := e.registry.Resolve(tenant.BookingBackendID)
	if err != nil {
		e.metrics.ObserveToolCall(toolReserveAndBook, "error")
		return "booking backend is not configured", true
	}
	if err := e.breakers.Allow(tenant.ID, admission.CategoryBooking); err != nil {
		e.metrics.ObserveToolCall(toolReserveAndBook, "circuit_open")
		return "booking is temporarily unavailable, try again shortly", true
	}

	res, err := adapter.ReserveAndBook(ctx, booking.BookRequest{
		TenantID: tenant.ID,
		SlotID:   in.SlotID,
		Patient: booking.PatientInfo{
			FullName: in.PatientName,
			Phone:    in.PatientPhone,
			Email:    in.PatientEmail,
		},
		IdempotencyKey: bookingIdempotencyKey(lead, in.SlotID),
	})
	switch {
	case err == nil:
		e.breakers.RecordSuccess(tenant.ID, admission.CategoryBooking)
		e.metrics.ObserveToolCall(toolReserveAndBook, "ok")
		e.metrics.ObserveBooking(tenant.BookingBackendID, "confirmed")
		outcome.booked = true
		outcome.appointmentID = res.AppointmentID
		return fmt.Sprintf("booked: appointment_id=%s", res.AppointmentID), false

	case errors.Is(err, booking.ErrSlotConflict):
		// Someone else won the slot. Feed one availability re-query back to
		// the model instead of retrying the same slot blindly.
		e.metrics.ObserveToolCall(toolReserveAndBook, "conflict")
		e.metrics.ObserveBooking(tenant.BookingBackendID, "conflict")
		text, qerr := e.availabilityText(ctx, tenant, booking.AvailabilityRequest{TenantID: tenant.ID})
		if qerr != nil {
			return "slot was just taken and availability could not be refreshed", true
		}
		return "slot was just taken by someone else; offer an alternative.\n" + text, true

	default:
		e.breakers.RecordFailure(tenant.ID, admission.CategoryBooking)
		e.metrics.ObserveToolCall(toolReserveAndBook, "error")
		e.metrics.ObserveBooking(tenant.BookingBackendID, "failed")
		return "booking failed, the clinic will confirm the appointment shortly", true
	}
}

// bookingIdempotencyKey makes a retried booking of the same slot for the same
// lead replay instead of double-booking.
func bookingIdempotencyKey(lead *leads.Lead, slotID string) string {
	return lead.ID.String() + ":" + slotID
}
