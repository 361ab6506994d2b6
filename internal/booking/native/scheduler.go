// Package native is the in-process scheduling backend for clinics that run on
// the platform's own calendar rather than an external system. It owns its
// slots outright, which makes it the reference implementation of the atomic
// hold protocol the HTTP backends delegate to their remote side.
package native

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-ai-engine/internal/booking"
)

const holdTTL = 2 * time.Minute

type slotRecord struct {
	slot        booking.Slot
	holdID      string
	holdExpires time.Time
	appointment string
}

// Scheduler implements booking.Adapter over an in-memory slot table. All slot
// transitions happen under one mutex, so hold acquisition is atomic per slot:
// the first caller wins and every concurrent competitor gets ErrSlotConflict.
type Scheduler struct {
	mu    sync.Mutex
	info  booking.AdapterInfo
	slots map[string]*slotRecord
	now   func() time.Time

	// confirmHook lets tests inject a confirm failure to exercise the
	// compensating release. Nil in production.
	confirmHook func(slotID string) error
}

// NewScheduler creates an empty native scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		info:  booking.AdapterInfo{ID: "native", DisplayName: "Platform Scheduler", Version: "1.0"},
		slots: make(map[string]*slotRecord),
		now:   time.Now,
	}
}

// Info identifies the backend.
func (s *Scheduler) Info() booking.AdapterInfo { return s.info }

// AddSlots seeds bookable slots, typically from clinic onboarding.
func (s *Scheduler) AddSlots(slots ...booking.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, slot := range slots {
		slot.BackendID = s.info.ID
		if slot.Status == "" {
			slot.Status = booking.SlotFree
		}
		s.slots[slot.SlotID] = &slotRecord{slot: slot}
	}
}

// GetAvailability returns free slots in the window, ordered by start time.
// Expired holds are reaped lazily here and in ReserveAndBook.
func (s *Scheduler) GetAvailability(_ context.Context, req booking.AvailabilityRequest) ([]booking.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]booking.Slot, 0, len(s.slots))
	for _, rec := range s.slots {
		s.reapExpiredHold(rec, now)
		if rec.slot.Status != booking.SlotFree {
			continue
		}
		if req.ResourceType != "" && rec.slot.ResourceID != req.ResourceType {
			continue
		}
		if !req.From.IsZero() && rec.slot.StartTime.Before(req.From) {
			continue
		}
		if !req.To.IsZero() && rec.slot.StartTime.After(req.To) {
			continue
		}
		out = append(out, rec.slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// ReserveAndBook runs hold then confirm. The hold is taken under the mutex;
// a failed confirm releases it so the slot returns to the pool.
func (s *Scheduler) ReserveAndBook(ctx context.Context, req booking.BookRequest) (booking.BookResult, error) {
	holdID, err := s.acquireHold(req.SlotID)
	if err != nil {
		return booking.BookResult{}, err
	}

	if err := s.confirm(ctx, req.SlotID, holdID); err != nil {
		s.releaseHold(req.SlotID, holdID)
		return booking.BookResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.slots[req.SlotID]
	rec.slot.Status = booking.SlotBooked
	rec.holdID = ""
	rec.appointment = uuid.NewString()
	return booking.BookResult{AppointmentID: rec.appointment}, nil
}

func (s *Scheduler) acquireHold(slotID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.slots[slotID]
	if !ok {
		return "", booking.ErrSlotNotFound
	}
	s.reapExpiredHold(rec, s.now())
	if rec.slot.Status != booking.SlotFree {
		return "", booking.ErrSlotConflict
	}
	rec.slot.Status = booking.SlotHeld
	rec.holdID = uuid.NewString()
	rec.holdExpires = s.now().Add(holdTTL)
	return rec.holdID, nil
}

func (s *Scheduler) confirm(ctx context.Context, slotID, holdID string) error {
	if err := ctx.Err(); err != nil {
		return booking.ErrBookingTimeout
	}
	if s.confirmHook != nil {
		return s.confirmHook(slotID)
	}
	return nil
}

func (s *Scheduler) releaseHold(slotID, holdID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.slots[slotID]
	if !ok || rec.holdID != holdID {
		return
	}
	rec.slot.Status = booking.SlotFree
	rec.holdID = ""
}

// reapExpiredHold frees a slot whose holder never confirmed. Caller holds the mutex.
func (s *Scheduler) reapExpiredHold(rec *slotRecord, now time.Time) {
	if rec.slot.Status == booking.SlotHeld && now.After(rec.holdExpires) {
		rec.slot.Status = booking.SlotFree
		rec.holdID = ""
	}
}
