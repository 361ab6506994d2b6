package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/clinic-ai-engine/internal/admission"
	"github.com/wolfman30/clinic-ai-engine/internal/ai"
	"github.com/wolfman30/clinic-ai-engine/internal/booking"
	"github.com/wolfman30/clinic-ai-engine/internal/channel"
	"github.com/wolfman30/clinic-ai-engine/internal/funnel"
	"github.com/wolfman30/clinic-ai-engine/internal/guardrail"
	"github.com/wolfman30/clinic-ai-engine/internal/knowledge"
	"github.com/wolfman30/clinic-ai-engine/internal/leads"
	"github.com/wolfman30/clinic-ai-engine/internal/observability/metrics"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// Config tunes the reasoning loop and per-call timeouts.
type Config struct {
	// MaxIterations caps the reasoning loop per turn.
	MaxIterations int
	// AITimeout bounds each model call.
	AITimeout time.Duration
	// ToolTimeout bounds each tool invocation.
	ToolTimeout time.Duration
	// MaxReplyTokens caps the model's output per call.
	MaxReplyTokens int32
	// Temperature for model calls; negative leaves the provider default.
	Temperature float32
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  4,
		AITimeout:      30 * time.Second,
		ToolTimeout:    10 * time.Second,
		MaxReplyTokens: 1024,
		Temperature:    0.3,
	}
}

// Replies used when the engine cannot complete a normal turn.
const (
	replyRateLimited  = "You're sending messages a little fast for us. Give it a moment and try again."
	replyBlocked      = "We couldn't process that message. Please contact the clinic directly and they'll help you out."
	replyUnavailable  = "We're having a brief technical issue. Please hold on, we'll confirm shortly."
	replyLoopExceeded = "Let me have someone from the clinic follow up with you directly to get this sorted."
)

// denialReply picks the canned text matching why admission said no.
func denialReply(reason admission.Reason) string {
	if reason == admission.ReasonRateLimited {
		return replyRateLimited
	}
	return replyBlocked
}

// TurnResult is the outcome of one processed inbound message.
type TurnResult struct {
	Reply           string                 `json:"reply"`
	FunnelState     funnel.State           `json:"funnel_state"`
	ToolInvocations []leads.ToolInvocation `json:"tool_invocations,omitempty"`
	// Denied is set when the admission shield rejected the message before
	// any lead work happened.
	Denied     bool             `json:"denied,omitempty"`
	DenyReason admission.Reason `json:"deny_reason,omitempty"`
}

// Engine drives one conversation turn end to end: admission, the bounded
// reasoning loop with tool dispatch, funnel transition, the guardrail final
// pass, and persistence. Turns for the same lead are strictly serialized;
// turns for different leads run fully in parallel.
type Engine struct {
	cfg       Config
	shield    *admission.Shield
	breakers  *admission.BreakerSet
	repo      leads.Repository
	aiClient  ai.Client
	retriever knowledge.Retriever
	registry  *booking.Registry
	guard     *guardrail.Policy
	tenants   map[string]tenancy.Tenant
	sink      security.Sink
	metrics   *metrics.EngineMetrics
	logger    *logging.Logger
	tracer    trace.Tracer
	flights   *keyedMutex
}

// EngineOption configures optional collaborators.
type EngineOption func(*Engine)

// WithMetrics attaches engine metrics.
func WithMetrics(m *metrics.EngineMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithSecuritySink attaches the security event sink.
func WithSecuritySink(sink security.Sink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// NewEngine wires the turn pipeline together.
func NewEngine(
	cfg Config,
	shield *admission.Shield,
	repo leads.Repository,
	aiClient ai.Client,
	retriever knowledge.Retriever,
	registry *booking.Registry,
	guard *guardrail.Policy,
	resolver *tenancy.Resolver,
	logger *logging.Logger,
	opts ...EngineOption,
) *Engine {
	switch {
	case shield == nil:
		panic("orchestrator: shield cannot be nil")
	case repo == nil:
		panic("orchestrator: lead repository cannot be nil")
	case aiClient == nil:
		panic("orchestrator: ai client cannot be nil")
	case retriever == nil:
		panic("orchestrator: knowledge retriever cannot be nil")
	case registry == nil:
		panic("orchestrator: booking registry cannot be nil")
	case resolver == nil:
		panic("orchestrator: tenant resolver cannot be nil")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 4
	}
	if cfg.AITimeout <= 0 {
		cfg.AITimeout = 30 * time.Second
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = 10 * time.Second
	}
	if guard == nil {
		guard = guardrail.DefaultPolicy()
	}
	if logger == nil {
		logger = logging.Default()
	}

	tenants := make(map[string]tenancy.Tenant)
	for _, t := range resolver.Tenants() {
		tenants[t.ID] = t
	}

	e := &Engine{
		cfg:       cfg,
		shield:    shield,
		breakers:  shield.Breakers(),
		repo:      repo,
		aiClient:  aiClient,
		retriever: retriever,
		registry:  registry,
		guard:     guard,
		tenants:   tenants,
		logger:    logger,
		tracer:    otel.Tracer("clinic.internal.orchestrator"),
		flights:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessMessage runs one conversation turn. The caller always gets a reply:
// denials, downstream outages, and loop exhaustion all map to safe
// user-facing text rather than errors. Errors are reserved for conditions
// where no reply may be sent at all, such as a tenant mismatch.
func (e *Engine) ProcessMessage(ctx context.Context, msg channel.InboundMessage) (*TurnResult, error) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", msg.TenantID),
		attribute.String("channel", string(msg.Channel)),
	)
	start := time.Now()

	tenant, ok := e.tenants[msg.TenantID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: %w: %s", tenancy.ErrUnknownTenant, msg.TenantID)
	}

	decision := e.shield.Evaluate(ctx, admission.Request{
		TenantID:       msg.TenantID,
		ClientIdentity: msg.ExternalUserID,
		Channel:        string(msg.Channel),
		PayloadSize:    msg.PayloadSize,
	})
	if !decision.Allow {
		// Denied turns never touch the lead.
		e.metrics.ObserveTurn(string(msg.Channel), "denied", time.Since(start).Seconds())
		return &TurnResult{
			Reply:      denialReply(decision.Reason),
			Denied:     true,
			DenyReason: decision.Reason,
		}, nil
	}

	// Serialize per lead: a second message from the same patient queues
	// behind the current turn instead of racing its funnel transition.
	unlock := e.flights.Lock(msg.TenantID + "|" + msg.ExternalUserID)
	defer unlock()

	ctx = tenancy.WithTenantID(ctx, msg.TenantID)

	lead, err := e.repo.Get(ctx, msg.TenantID, msg.ExternalUserID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load lead: %w", err)
	}
	if lead == nil {
		lead = leads.New(msg.TenantID, msg.Channel, msg.ExternalUserID, locale(msg, tenant))
	}
	span.SetAttributes(attribute.String("lead.id", lead.ID.String()))

	lead.Append(leads.Message{
		Direction: leads.DirectionInbound,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})

	reply, invocations, outcome := e.reason(ctx, tenant, lead)
	signal, reply := extractFunnelSignal(reply)

	e.applyFunnelEvents(lead, deriveFunnelEvents(lead.FunnelState, outcome, signal))

	final := e.applyGuardrail(ctx, msg, reply)

	lead.Append(leads.Message{
		Direction: leads.DirectionOutbound,
		Content:   final,
		ToolCalls: invocations,
	})
	if err := e.repo.Save(ctx, lead); err != nil {
		if errors.Is(err, tenancy.ErrTenantMismatch) {
			return nil, err
		}
		// The reply is already composed; losing one history write is better
		// than dropping the patient's answer.
		e.logger.Error("lead save failed", "error", err, "tenant_id", msg.TenantID, "lead_id", lead.ID)
	}

	e.metrics.ObserveTurn(string(msg.Channel), "ok", time.Since(start).Seconds())
	return &TurnResult{
		Reply:           final,
		FunnelState:     lead.FunnelState,
		ToolInvocations: invocations,
	}, nil
}

// reason runs the bounded reasoning loop: each iteration the model either
// produces the final reply or requests tools, whose results feed the next
// iteration. Exhausting the cap yields the safe fallback.
func (e *Engine) reason(ctx context.Context, tenant tenancy.Tenant, lead *leads.Lead) (string, []leads.ToolInvocation, toolOutcome) {
	ctx, span := e.tracer.Start(ctx, "orchestrator.reason")
	defer span.End()

	var (
		invocations []leads.ToolInvocation
		outcome     toolOutcome
	)
	transcript := historyTranscript(lead)
	req := ai.Request{
		System:      []string{systemPrompt(tenant)},
		Tools:       toolSchema(),
		MaxTokens:   e.cfg.MaxReplyTokens,
		Temperature: e.cfg.Temperature,
	}

	for i := 0; i < e.cfg.MaxIterations; i++ {
		if err := e.breakers.Allow(tenant.ID, admission.CategoryAI); err != nil {
			e.logger.Warn("ai circuit open, degrading turn", "tenant_id", tenant.ID)
			return replyUnavailable, invocations, outcome
		}

		req.Messages = transcript
		aiCtx, cancel := context.WithTimeout(ctx, e.cfg.AITimeout)
		resp, err := e.aiClient.Generate(aiCtx, req)
		cancel()
		if err != nil {
			e.breakers.RecordFailure(tenant.ID, admission.CategoryAI)
			e.logger.Error("model call failed", "error", err, "tenant_id", tenant.ID, "iteration", i)
			return replyUnavailable, invocations, outcome
		}
		e.breakers.RecordSuccess(tenant.ID, admission.CategoryAI)

		if len(resp.ToolCalls) == 0 {
			return resp.Text, invocations, outcome
		}

		transcript = append(transcript, ai.Message{
			Role:      ai.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		results := make([]ai.ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result, isErr := e.dispatchTool(ctx, tenant, lead, call, &outcome)
			invocations = append(invocations, leads.ToolInvocation{
				Name:      call.Name,
				Arguments: string(call.Arguments),
				Result:    result,
			})
			results = append(results, ai.ToolResult{
				ToolCallID: call.ID,
				Content:    result,
				IsError:    isErr,
			})
		}
		transcript = append(transcript, ai.Message{Role: ai.RoleUser, ToolResults: results})
	}

	e.logger.Error("reasoning loop exhausted", "tenant_id", tenant.ID, "lead_id", lead.ID, "cap", e.cfg.MaxIterations)
	e.metrics.ObserveLoopExhausted()
	return replyLoopExceeded, invocations, outcome
}

// applyFunnelEvents feeds derived events through the state machine. An
// illegal event is logged and dropped; the lead's state is never corrupted by
// a bad derivation.
func (e *Engine) applyFunnelEvents(lead *leads.Lead, events []funnel.Event) {
	for _, ev := range events {
		next, err := funnel.Transition(lead.FunnelState, ev)
		if err != nil {
			var illegal *funnel.IllegalTransitionError
			if errors.As(err, &illegal) {
				e.logger.Warn("illegal funnel transition dropped",
					"tenant_id", lead.TenantID, "lead_id", lead.ID,
					"state", string(illegal.State), "event", string(illegal.Event))
				e.metrics.ObserveIllegalTransition()
			}
			return
		}
		lead.FunnelState = next
	}
}

// applyGuardrail runs the final policy pass over every outbound reply,
// including degraded and fallback text.
func (e *Engine) applyGuardrail(ctx context.Context, msg channel.InboundMessage, reply string) string {
	res := e.guard.Apply(reply)
	for _, rule := range res.Triggered {
		e.metrics.ObserveGuardrail(rule)
	}
	if res.Blocked && e.sink != nil {
		e.sink.Emit(ctx, security.Event{
			TenantID:       msg.TenantID,
			ClientIdentity: msg.ExternalUserID,
			Kind:           security.KindGuardrailBlocked,
			Severity:       security.SeverityWarning,
			Detail:         fmt.Sprintf("rules: %v", res.Triggered),
			Timestamp:      time.Now().UTC(),
		})
	}
	return res.Final
}

// deriveFunnelEvents maps the turn's outcome onto funnel events. Tool
// outcomes outrank the model's text signal: a confirmed booking fast-forwards
// the lead through the remaining stages (the appointment exists, so the
// intermediate persuasion stages are moot) and availability interest in
// qualifying counts as qualification. Only a turn with no tool-derived event
// falls back to the model's funnel_signal line; a quiet turn leaves the
// funnel alone.
func deriveFunnelEvents(state funnel.State, outcome toolOutcome, signal funnel.Event) []funnel.Event {
	if outcome.booked {
		var events []funnel.Event
		for {
			switch state {
			case funnel.StateQualifying:
				events = append(events, funnel.EventQualified)
				state = funnel.StateObjectionHandling
			case funnel.StateObjectionHandling:
				events = append(events, funnel.EventObjectionCleared)
				state = funnel.StateClosing
			case funnel.StateClosing:
				return append(events, funnel.EventIntentConfirmed)
			case funnel.StatePaymentPending:
				return append(events, funnel.EventPaymentSuccess)
			default:
				return events
			}
		}
	}
	if outcome.queriedAvailability && state == funnel.StateQualifying {
		return []funnel.Event{funnel.EventQualified}
	}
	if signal != "" {
		return []funnel.Event{signal}
	}
	return nil
}

func historyTranscript(lead *leads.Lead) []ai.Message {
	out := make([]ai.Message, 0, len(lead.History))
	for _, msg := range lead.History {
		role := ai.RoleUser
		if msg.Direction == leads.DirectionOutbound {
			role = ai.RoleAssistant
		}
		if msg.Content == "" {
			continue
		}
		out = append(out, ai.Message{Role: role, Content: msg.Content})
	}
	return out
}

func systemPrompt(tenant tenancy.Tenant) string {
	return fmt.Sprintf(`You are the front-desk assistant for a medical aesthetics clinic (tenant %s, locale %s).
Help patients learn about treatments and book appointments.
Use search_knowledge for treatment and policy questions, get_availability to list open slots, and reserve_and_book only after the patient explicitly chose a slot and gave their name and phone number.
Never give medical advice, never diagnose, and never promise prices the clinic has not published.
Keep replies short and conversational.
When the patient clearly declines, refuses, hesitates, or needs more information, end your reply with a separate line "funnel_signal: <EVENT>" using one of NOT_INTERESTED, REFUSED, WAVERING, ADDITIONAL_INFO_NEEDED, OBJECTION_CLEARED, INTENT_CONFIRMED. The line is stripped before the patient sees the reply.`, tenant.ID, tenant.Locale)
}

func locale(msg channel.InboundMessage, tenant tenancy.Tenant) string {
	if msg.Locale != "" {
		return msg.Locale
	}
	return tenant.Locale
}
