// Package booking provides a uniform adapter interface over the heterogeneous
// clinic scheduling backends (fonet, tiga, the native scheduler) and owns the
// at-most-one-winner booking protocol that sits on top of them.
package booking

import (
	"context"
	"errors"
	"time"
)

// Booking error taxonomy. Adapters translate backend-specific failures into
// these sentinels so the orchestrator can react uniformly.
var (
	// ErrSlotConflict means another caller already holds or booked the slot.
	// The loser never retries the same slot automatically; it re-queries
	// availability once and lets the orchestrator offer an alternative.
	ErrSlotConflict = errors.New("booking: slot conflict")
	// ErrBackendUnavailable covers backend 5xx responses and transport errors.
	ErrBackendUnavailable = errors.New("booking: backend unavailable")
	// ErrBookingTimeout marks a backend call that exceeded its deadline.
	ErrBookingTimeout = errors.New("booking: timeout")
	// ErrUnknownBackend means the tenant is configured with a backend id that
	// is not registered. Misconfiguration fails loudly, never silently.
	ErrUnknownBackend = errors.New("booking: unknown backend")
	// ErrSlotNotFound means the slot id does not exist on the backend.
	ErrSlotNotFound = errors.New("booking: slot not found")
)

// SlotStatus is the lifecycle position of a bookable slot. The backend owning
// the slot is the single source of truth; the engine only observes.
type SlotStatus string

const (
	SlotFree   SlotStatus = "free"
	SlotHeld   SlotStatus = "held"
	SlotBooked SlotStatus = "booked"
)

// Slot is a bookable appointment unit on a specific backend.
type Slot struct {
	BackendID  string     `json:"backend_id"`
	ResourceID string     `json:"resource_id"`
	SlotID     string     `json:"slot_id"`
	StartTime  time.Time  `json:"start_time"`
	Status     SlotStatus `json:"status"`
}

// AdapterInfo describes a registered backend.
type AdapterInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
}

// AvailabilityRequest asks a backend for free slots in a window. Results are
// best-effort: a slot returned free may already be held by the time a booking
// is attempted.
type AvailabilityRequest struct {
	TenantID     string
	ResourceType string
	From         time.Time
	To           time.Time
}

// PatientInfo identifies the patient for the backend's appointment record.
type PatientInfo struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
}

// BookRequest is one reserve-and-book attempt. IdempotencyKey lets a retry of
// a partially completed attempt return the original appointment instead of
// creating a duplicate.
type BookRequest struct {
	TenantID       string
	SlotID         string
	Patient        PatientInfo
	IdempotencyKey string
}

// BookResult is a successful booking. Replayed is true when the idempotency
// key matched an earlier completed attempt.
type BookResult struct {
	AppointmentID string `json:"appointment_id"`
	Replayed      bool   `json:"replayed,omitempty"`
}

// Adapter is the uniform contract every scheduling backend implements.
// ReserveAndBook runs the two-phase protocol: hold the slot, then confirm.
// Hold acquisition is atomic per slot, so the first caller wins and every
// competitor gets ErrSlotConflict. A failed confirm releases the hold.
type Adapter interface {
	Info() AdapterInfo
	GetAvailability(ctx context.Context, req AvailabilityRequest) ([]Slot, error)
	ReserveAndBook(ctx context.Context, req BookRequest) (BookResult, error)
}
