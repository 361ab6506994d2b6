package handlers

import (
	"net/http"

	"github.com/wolfman30/clinic-ai-engine/internal/admission"
	"github.com/wolfman30/clinic-ai-engine/internal/booking"
	"github.com/wolfman30/clinic-ai-engine/internal/security"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// AdminSecurityHandler exposes the operator's view of the engine: recent
// security events, circuit positions, and registered booking backends.
type AdminSecurityHandler struct {
	events   *security.RingSink
	breakers *admission.BreakerSet
	registry *booking.Registry
	logger   *logging.Logger
}

// NewAdminSecurityHandler creates the admin security handler.
func NewAdminSecurityHandler(events *security.RingSink, breakers *admission.BreakerSet, registry *booking.Registry, logger *logging.Logger) *AdminSecurityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminSecurityHandler{events: events, breakers: breakers, registry: registry, logger: logger}
}

type securitySummaryResponse struct {
	Events   []security.Event                  `json:"events"`
	Circuits map[string]admission.CircuitState `json:"circuits"`
}

// Summary handles GET /v1/admin/security/summary.
func (h *AdminSecurityHandler) Summary(w http.ResponseWriter, _ *http.Request) {
	resp := securitySummaryResponse{Circuits: map[string]admission.CircuitState{}}
	if h.events != nil {
		resp.Events = h.events.Snapshot()
	}
	if h.breakers != nil {
		resp.Circuits = h.breakers.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Backends handles GET /v1/admin/backends.
func (h *AdminSecurityHandler) Backends(w http.ResponseWriter, _ *http.Request) {
	var infos []booking.AdapterInfo
	if h.registry != nil {
		infos = h.registry.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"backends": infos})
}
