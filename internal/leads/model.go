package leads

import (
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-ai-engine/internal/channel"
	"github.com/wolfman30/clinic-ai-engine/internal/funnel"
)

// Direction marks which way a message flowed.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ToolInvocation records one tool call made while producing a reply.
type ToolInvocation struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
	Result    string `json:"result,omitempty"`
}

// Message is one entry in a lead's conversation history. Messages are
// immutable once appended.
type Message struct {
	Direction Direction        `json:"direction"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
}

// Lead is one patient-facing conversation tracked through the sales funnel.
// There is exactly one lead per (tenant, external user). TenantID never
// changes after creation; FunnelState only changes through funnel.Transition.
type Lead struct {
	ID             uuid.UUID    `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Channel        channel.Kind `json:"channel"`
	ExternalUserID string       `json:"external_user_id"`
	FunnelState    funnel.State `json:"funnel_state"`
	Locale         string       `json:"locale"`
	History        []Message    `json:"history"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// New creates a lead in the initial funnel state.
func New(tenantID string, ch channel.Kind, externalUserID, locale string) *Lead {
	now := time.Now().UTC()
	return &Lead{
		ID:             uuid.New(),
		TenantID:       tenantID,
		Channel:        ch,
		ExternalUserID: externalUserID,
		FunnelState:    funnel.Initial(),
		Locale:         locale,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Append adds a message to the history. History is append-only; existing
// entries are never rewritten.
func (l *Lead) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	l.History = append(l.History, msg)
	l.UpdatedAt = msg.Timestamp
}

// Clone returns a deep copy so callers outside the single-flight slot can
// never alias the stored history.
func (l *Lead) Clone() *Lead {
	cp := *l
	cp.History = make([]Message, len(l.History))
	copy(cp.History, l.History)
	return &cp
}
