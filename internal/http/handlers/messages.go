package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-ai-engine/internal/channel"
	"github.com/wolfman30/clinic-ai-engine/internal/orchestrator"
	"github.com/wolfman30/clinic-ai-engine/internal/tenancy"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// MessagesHandler accepts authenticated channel payloads and runs them
// through the engine. Channel signature verification happens upstream (API
// gateway); by the time a request lands here it is trusted transport-wise.
type MessagesHandler struct {
	engine     *orchestrator.Engine
	normalizer *channel.Normalizer
	logger     *logging.Logger
}

// NewMessagesHandler creates the inbound message handler.
func NewMessagesHandler(engine *orchestrator.Engine, normalizer *channel.Normalizer, logger *logging.Logger) *MessagesHandler {
	if engine == nil {
		panic("handlers: engine cannot be nil")
	}
	if normalizer == nil {
		panic("handlers: normalizer cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &MessagesHandler{engine: engine, normalizer: normalizer, logger: logger}
}

type inboundRequest struct {
	From       string `json:"from"`
	AccountRef string `json:"account_ref"`
	Text       string `json:"text"`
	Locale     string `json:"locale,omitempty"`
}

type turnResponse struct {
	Reply           string `json:"reply"`
	FunnelState     string `json:"funnel_state,omitempty"`
	ToolInvocations any    `json:"tool_invocations,omitempty"`
	DenyReason      string `json:"deny_reason,omitempty"`
}

// Handle processes POST /v1/messages/{channel}.
func (h *MessagesHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, 64*1024)
	var req inboundRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	payload := channel.Payload{
		Channel:    channel.Kind(chi.URLParam(r, "channel")),
		From:       req.From,
		AccountRef: req.AccountRef,
		Text:       req.Text,
		ReceivedAt: time.Now().UTC(),
		RawSize:    len(req.Text),
	}
	msg, err := h.normalizer.Normalize(payload)
	switch {
	case errors.Is(err, channel.ErrUnknownChannel), errors.Is(err, channel.ErrEmptyMessage):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, tenancy.ErrUnknownTenant):
		http.Error(w, "no tenant for this account", http.StatusNotFound)
		return
	case err != nil:
		h.logger.Error("normalize failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if req.Locale != "" {
		msg.Locale = req.Locale
	}

	res, err := h.engine.ProcessMessage(r.Context(), msg)
	if err != nil {
		h.logger.Error("turn failed", "error", err, "tenant_id", msg.TenantID)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if res.Denied {
		writeJSON(w, http.StatusTooManyRequests, turnResponse{
			Reply:      res.Reply,
			DenyReason: string(res.DenyReason),
		})
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{
		Reply:           res.Reply,
		FunnelState:     string(res.FunnelState),
		ToolInvocations: res.ToolInvocations,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
