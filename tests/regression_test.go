// Package tests contains end-to-end regression tests that drive the engine
// through its public HTTP surface, with only the model provider stubbed.
package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-ai-engine/internal/admission"
	"github.com/wolfman30/clinic-ai-engine/internal/ai"
	"github.com/wolfman30/clinic-ai-engine/internal/booking"
	"github.com/wolfman30/clinic-ai-engine/internal/booking/native"
	"github.com/wolfman30/clinic-ai-engine/internal/channel"
	"github.com/wolfman30/clinic-ai-engine/internal/guardrail"
	"github.com/wolfman30/clinic-ai-engine/internal/http/handlers"
	"github.com/wolfman30/clinic-ai-engine/internal/knowledge"
	"github.com/wolfman30/clinic-ai-engine/internal/leads"
	"github.com/wolfman30/clinic-ai-engine/internal/orchestrator"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
)

// scriptedModel returns queued responses in order; when the queue is empty it
// answers with plain text.
type scriptedModel struct {
	mu    sync.Mutex
	queue []ai.Response
}

func (m *scriptedModel) push(resp ...ai.Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp...)
}

func (m *scriptedModel) Generate(_ context.Context, _ ai.Request) (ai.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return ai.Response{Text: "Anything else I can help with?", StopReason: ai.StopEndTurn}, nil
	}
	resp := m.queue[0]
	m.queue = m.queue[1:]
	return resp, nil
}

type stack struct {
	router    http.Handler
	model     *scriptedModel
	repo      *leads.MemoryRepository
	scheduler *native.Scheduler
	sink      *security.RingSink
}

func newStack(t *testing.T) *stack {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sink := security.NewRingSink(64)
	shield := admission.NewShield(admission.DefaultConfig(), admission.DefaultBreakerConfig(), sink, nil)

	scheduler := native.NewScheduler()
	scheduler.AddSlots(
		booking.Slot{SlotID: "mon-10", ResourceID: "consult", StartTime: time.Now().Add(24 * time.Hour)},
		booking.Slot{SlotID: "tue-14", ResourceID: "consult", StartTime: time.Now().Add(48 * time.Hour)},
	)
	registry := booking.NewRegistry()
	registry.Register(booking.WithIdempotency(scheduler, booking.NewRedisIdempotencyStore(redisClient, time.Hour), nil))

	retriever := knowledge.NewRedisRetriever(redisClient, nil)
	require.NoError(t, retriever.AppendDocuments(context.Background(), "org-1", []string{
		"Botox consultations take 30 minutes and are free of charge.",
	}))

	resolver := tenancy.NewResolver(map[string]tenancy.Tenant{
		"sms:+15550000001": {ID: "org-1", Locale: "en-US", BookingBackendID: "native"},
	})

	model := &scriptedModel{}
	repo := leads.NewMemoryRepository()
	engine := orchestrator.NewEngine(
		orchestrator.DefaultConfig(),
		shield,
		repo,
		model,
		retriever,
		registry,
		guardrail.DefaultPolicy(),
		resolver,
		nil,
		orchestrator.WithSecuritySink(sink),
	)

	router := handlers.NewRouter(handlers.RouterConfig{
		Messages:       handlers.NewMessagesHandler(engine, channel.NewNormalizer(resolver), nil),
		AdminSecurity:  handlers.NewAdminSecurityHandler(sink, shield.Breakers(), registry, nil),
		AdminJWTSecret: "regression-secret",
	})
	return &stack{router: router, model: model, repo: repo, scheduler: scheduler, sink: sink}
}

func (s *stack) send(t *testing.T, from, text string) (int, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"from":        from,
		"account_ref": "+15550000001",
		"text":        text,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages/sms", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var body map[string]any
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
	}
	return rec.Code, body
}

func toolCall(id, name, args string) ai.Response {
	return ai.Response{
		ToolCalls:  []ai.ToolCall{{ID: id, Name: name, Arguments: json.RawMessage(args)}},
		StopReason: ai.StopToolUse,
	}
}

func TestFullBookingConversation(t *testing.T) {
	s := newStack(t)

	// Turn 1: a pricing question answered from the knowledge base.
	s.model.push(
		toolCall("tu-1", "search_knowledge", `{"query":"botox consultation"}`),
		ai.Response{Text: "Botox consults are free and take 30 minutes. Want to book one?", StopReason: ai.StopEndTurn},
	)
	code, body := s.send(t, "+15557001001", "How much is a botox consult?")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["reply"], "free")
	assert.Equal(t, "qualifying", body["funnel_state"])

	// Turn 2: the patient books; funnel fast-forwards past persuasion stages.
	s.model.push(
		toolCall("tu-2", "get_availability", `{"resource_type":"consult"}`),
		toolCall("tu-3", "reserve_and_book", `{"slot_id":"mon-10","patient_name":"Sam Lee","patient_phone":"+15557001001"}`),
		ai.Response{Text: "Done! You're booked for Monday at 10. See you then.", StopReason: ai.StopEndTurn},
	)
	code, body = s.send(t, "+15557001001", "Yes, book me the Monday slot. I'm Sam Lee, +15557001001.")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body["reply"], "booked")
	assert.Equal(t, "payment_pending", body["funnel_state"])

	// The slot is really consumed.
	slots, err := s.scheduler.GetAvailability(context.Background(), booking.AvailabilityRequest{})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, "tue-14", slots[0].SlotID)

	// History captured both turns.
	lead, err := s.repo.Get(context.Background(), "org-1", "+15557001001")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Len(t, lead.History, 4)
}

func TestConcurrentBookingOneWinnerAcrossLeads(t *testing.T) {
	s := newStack(t)

	// Both patients try to book the same slot in parallel turns.
	book := func(phone, name string) ai.Response {
		return toolCall("tu-"+phone, "reserve_and_book",
			`{"slot_id":"mon-10","patient_name":"`+name+`","patient_phone":"`+phone+`"}`)
	}
	s.model.push(
		book("+15557002001", "First Patient"),
		book("+15557002002", "Second Patient"),
		ai.Response{Text: "All set!", StopReason: ai.StopEndTurn},
		ai.Response{Text: "All set!", StopReason: ai.StopEndTurn},
	)

	var wg sync.WaitGroup
	codes := make(chan int, 2)
	for _, phone := range []string{"+15557002001", "+15557002002"} {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			code, _ := s.send(t, p, "Book mon-10 for me")
			codes <- code
		}(phone)
	}
	wg.Wait()
	close(codes)
	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}

	// Exactly one booking won: one slot left out of two.
	slots, err := s.scheduler.GetAvailability(context.Background(), booking.AvailabilityRequest{})
	require.NoError(t, err)
	assert.Len(t, slots, 1, "the contested slot must be booked exactly once")
}

func TestGuardrailInterceptsOverTheWire(t *testing.T) {
	s := newStack(t)

	s.model.push(ai.Response{
		Text:       "You likely have an infection, take antibiotics.",
		StopReason: ai.StopEndTurn,
	})
	code, body := s.send(t, "+15557003001", "My cheek is swollen, what's wrong with me?")
	require.Equal(t, http.StatusOK, code)
	reply, _ := body["reply"].(string)
	assert.NotContains(t, reply, "infection")
	assert.Contains(t, reply, "can't give medical advice")
}

func TestFloodIsRateLimitedAndAudited(t *testing.T) {
	s := newStack(t)

	var denied int
	for i := 0; i < 40; i++ {
		code, _ := s.send(t, "+15557004001", "hello?")
		if code == http.StatusTooManyRequests {
			denied++
		}
	}
	assert.Equal(t, 20, denied, "everything past the window ceiling must be denied")

	// Sustained denials crossed the anomaly threshold and were recorded.
	var sawDenyRate bool
	for _, ev := range s.sink.Snapshot() {
		if ev.Kind == security.KindDenyRateExceeded {
			sawDenyRate = true
		}
	}
	assert.True(t, sawDenyRate, "deny-rate anomaly must reach the security sink")
}
