package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/posync/internal/observability"
	"github.com/odyssey-erp/posync/internal/posync"
	"github.com/odyssey-erp/posync/internal/rbac"
	"github.com/odyssey-erp/posync/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SyncHandler    *posync.Handler
	JobHandler     *jobs.Handler
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with bridge defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.SyncHandler != nil {
		r.Route("/api", func(r chi.Router) {
			if params.RBACMiddleware.Service != nil {
				r.Use(params.RBACMiddleware.Identify)
				params.SyncHandler.MountRoutes(r, params.RBACMiddleware.RequireUser)
				return
			}
			params.SyncHandler.MountRoutes(r, nil)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			if params.RBACMiddleware.Service != nil {
				r.Use(params.RBACMiddleware.Identify)
				r.Use(params.RBACMiddleware.RequireRole(elevatedRole(params.Config)))
			}
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// elevatedRole is the role allowed to inspect the job queue.
func elevatedRole(cfg *Config) string {
	if cfg == nil || cfg.SyncElevatedRole == "" {
		return posync.DefaultElevatedRole
	}
	return cfg.SyncElevatedRole
}
