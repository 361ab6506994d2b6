package channel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

func newTestNormalizer() *Normalizer {
	return NewNormalizer(tenancy.NewResolver(map[string]tenancy.Tenant{
		"sms:+15550001111": {ID: "org-1", Locale: "en-US", BookingBackendID: "fonet"},
	}))
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer()
	ts := time.Date(2026, 3, 1, 10, 30, 0, 0, time.FixedZone("EST", -5*3600))

	msg, err := n.Normalize(Payload{
		Channel:    KindSMS,
		From:       " +15557654321 ",
		AccountRef: "+15550001111",
		Text:       "  Do you have botox appointments this week?  ",
		ReceivedAt: ts,
		RawSize:    412,
	})
	require.NoError(t, err)

	assert.Equal(t, "org-1", msg.TenantID)
	assert.Equal(t, KindSMS, msg.Channel)
	assert.Equal(t, "+15557654321", msg.ExternalUserID)
	assert.Equal(t, "Do you have botox appointments this week?", msg.Content)
	assert.Equal(t, ts.UTC(), msg.Timestamp)
	assert.Equal(t, "en-US", msg.Locale)
	assert.Equal(t, 412, msg.PayloadSize)
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	n := newTestNormalizer()

	_, err := n.Normalize(Payload{Channel: KindSMS, From: "", AccountRef: "+15550001111", Text: "hi"})
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = n.Normalize(Payload{Channel: KindSMS, From: "+15557654321", AccountRef: "+15550001111", Text: "   "})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestNormalizeRejectsUnknownChannel(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(Payload{Channel: Kind("fax"), From: "a", AccountRef: "b", Text: "hello"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestNormalizeUnknownTenantFailsLoudly(t *testing.T) {
	n := newTestNormalizer()
	_, err := n.Normalize(Payload{
		Channel:    KindSMS,
		From:       "+15557654321",
		AccountRef: "+15559990000",
		Text:       "hello",
	})
	assert.ErrorIs(t, err, tenancy.ErrUnknownTenant)
}

func TestNormalizeDefaultsTimestampAndSize(t *testing.T) {
	n := newTestNormalizer()
	msg, err := n.Normalize(Payload{
		Channel:    KindSMS,
		From:       "+15557654321",
		AccountRef: "+15550001111",
		Text:       "hello",
	})
	require.NoError(t, err)
	assert.False(t, msg.Timestamp.IsZero())
	assert.Equal(t, len("hello"), msg.PayloadSize)
}
