package channel

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

// Kind identifies which transport a message arrived on.
type Kind string

const (
	KindSMS       Kind = "sms"
	KindWebChat   Kind = "webchat"
	KindInstagram Kind = "instagram"
	KindVoice     Kind = "voice"
)

// ErrEmptyMessage rejects payloads with no sender or no content.
var ErrEmptyMessage = errors.New("channel: empty sender or content")

// ErrUnknownChannel rejects payloads from unrecognized transports.
var ErrUnknownChannel = errors.New("channel: unknown channel kind")

// InboundMessage is the one canonical message record every downstream
// component consumes. Channel wire formats and signature verification happen
// upstream; payloads reaching the normalizer are already authenticated.
type InboundMessage struct {
	TenantID       string    `json:"tenant_id"`
	Channel        Kind      `json:"channel"`
	ExternalUserID string    `json:"external_user_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Locale         string    `json:"locale,omitempty"`
	// PayloadSize is the raw wire size, used by the admission shield's
	// anomaly scoring.
	PayloadSize int `json:"-"`
}

// Payload is a channel-native message after authentication: the sender, the
// clinic-side account it was sent to, and the text.
type Payload struct {
	Channel    Kind
	From       string
	AccountRef string
	Text       string
	ReceivedAt time.Time
	RawSize    int
}

// Normalizer converts channel payloads into canonical inbound messages,
// resolving the tenant from the receiving account.
type Normalizer struct {
	resolver *tenancy.Resolver
}

// NewNormalizer constructs a normalizer over the provisioned tenant set.
func NewNormalizer(resolver *tenancy.Resolver) *Normalizer {
	if resolver == nil {
		panic("channel: resolver cannot be nil")
	}
	return &Normalizer{resolver: resolver}
}

// Normalize validates the payload and maps it onto a tenant-scoped message.
func (n *Normalizer) Normalize(p Payload) (InboundMessage, error) {
	switch p.Channel {
	case KindSMS, KindWebChat, KindInstagram, KindVoice:
	default:
		return InboundMessage{}, fmt.Errorf("%w: %q", ErrUnknownChannel, p.Channel)
	}

	from := strings.TrimSpace(p.From)
	text := strings.TrimSpace(p.Text)
	if from == "" || text == "" {
		return InboundMessage{}, ErrEmptyMessage
	}

	tenant, err := n.resolver.Resolve(string(p.Channel), p.AccountRef)
	if err != nil {
		return InboundMessage{}, err
	}

	ts := p.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	size := p.RawSize
	if size <= 0 {
		size = len(p.Text)
	}

	return InboundMessage{
		TenantID:       tenant.ID,
		Channel:        p.Channel,
		ExternalUserID: from,
		Content:        text,
		Timestamp:      ts.UTC(),
		Locale:         tenant.Locale,
		PayloadSize:    size,
	}, nil
}
