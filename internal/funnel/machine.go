package funnel

import "fmt"

// State is a lead's position in the sales lifecycle.
type State string

const (
	StateQualifying        State = "qualifying"
	StateObjectionHandling State = "objection_handling"
	StateClosing           State = "closing"
	StatePaymentPending    State = "payment_pending"
	StateConverted         State = "converted"
	StateClosedLost        State = "closed_lost"
)

// Event is a semantic signal derived from a conversation turn. The machine
// never consumes raw text.
type Event string

const (
	EventQualified            Event = "QUALIFIED"
	EventNotInterested        Event = "NOT_INTERESTED"
	EventRejectedByAI         Event = "REJECTED_BY_AI"
	EventObjectionCleared     Event = "OBJECTION_CLEARED"
	EventAdditionalInfoNeeded Event = "ADDITIONAL_INFO_NEEDED"
	EventRefused              Event = "REFUSED"
	EventIntentConfirmed      Event = "INTENT_CONFIRMED"
	EventWavering             Event = "WAVERING"
	EventPaymentSuccess       Event = "PAYMENT_SUCCESS"
	EventPaymentFailed        Event = "PAYMENT_FAILED"
)

// IllegalTransitionError reports an event that is not valid in the current state.
type IllegalTransitionError struct {
	State State
	Event Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("funnel: illegal transition: event %q in state %q", e.Event, e.State)
}

// transitions is the full table of legal (state, event) -> next state pairs.
// Terminal states have no rows, so every event they receive is illegal.
var transitions = map[State]map[Event]State{
	StateQualifying: {
		EventQualified:     StateObjectionHandling,
		EventNotInterested: StateClosedLost,
		EventRejectedByAI:  StateClosedLost,
	},
	StateObjectionHandling: {
		EventObjectionCleared:     StateClosing,
		EventAdditionalInfoNeeded: StateObjectionHandling,
		EventRefused:              StateClosedLost,
	},
	StateClosing: {
		EventIntentConfirmed: StatePaymentPending,
		EventWavering:        StateObjectionHandling,
	},
	StatePaymentPending: {
		EventPaymentSuccess: StateConverted,
		EventPaymentFailed:  StateClosing,
	},
}

// Initial is the state every new lead starts in.
func Initial() State { return StateQualifying }

// Terminal reports whether the state accepts no further events.
func Terminal(s State) bool {
	return s == StateConverted || s == StateClosedLost
}

// Valid reports whether s is a known funnel state.
func Valid(s State) bool {
	if Terminal(s) {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// Transition applies event to state and returns the next state. The machine
// is pure: no I/O, no timers, no hidden mutation. An event with no row for
// the current state returns an *IllegalTransitionError and the caller must
// leave the lead's state unchanged.
func Transition(state State, event Event) (State, error) {
	row, ok := transitions[state]
	if !ok {
		return state, &IllegalTransitionError{State: state, Event: event}
	}
	next, ok := row[event]
	if !ok {
		return state, &IllegalTransitionError{State: state, Event: event}
	}
	return next, nil
}
