package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-ai-engine/internal/http/middleware"
	"github.com/wolfman30/clinic-ai-engine/pkg/logging"
)

// RouterConfig carries everything the HTTP surface needs.
type RouterConfig struct {
	Messages       *MessagesHandler
	AdminSecurity  *AdminSecurityHandler
	AdminJWTSecret string
	Logger         *logging.Logger
}

// NewRouter assembles the engine's HTTP surface.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestLogger(cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages/{channel}", cfg.Messages.Handle)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminJWT(cfg.AdminJWTSecret))
			r.Get("/security/summary", cfg.AdminSecurity.Summary)
			r.Get("/backends", cfg.AdminSecurity.Backends)
		})
	})
	return r
}
