package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clinvera/clinvera/internal/audit"
	"github.com/clinvera/clinvera/internal/auth"
	"github.com/clinvera/clinvera/internal/observability"
	"github.com/clinvera/clinvera/internal/platform/httpx"
	"github.com/clinvera/clinvera/internal/rbac"
	"github.com/clinvera/clinvera/jobs"
)

// RouterParams carries the handlers and middleware wired into the router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics

	ActorLoader *auth.Loader
	RBAC        *rbac.Handler
	Audit       *audit.Handler
	Jobs        *jobs.Handler
}

// NewRouter assembles the HTTP routing tree.
func NewRouter(p RouterParams) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: p.Logger, Config: p.Config, Metrics: p.Metrics}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if p.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", p.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if p.ActorLoader != nil {
			r.Use(p.ActorLoader.LoadActor)
		}
		if p.RBAC != nil {
			p.RBAC.MountRoutes(r)
		}
		if p.Audit != nil {
			r.Route("/audit", p.Audit.MountRoutes)
		}
		if p.Jobs != nil {
			r.Route("/jobs", p.Jobs.MountRoutes)
		}
	})

	return r
}
