package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/blocknest/blocknest/internal/assignment"
	"github.com/blocknest/blocknest/internal/observability"
	"github.com/blocknest/blocknest/internal/rbac"
	"github.com/blocknest/blocknest/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AssignmentHandler *assignment.Handler
	JobHandler        *jobs.Handler
	RBACMiddleware    rbac.Middleware
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with BlockNest defaults. Everything
// under /admin requires a resolved caller identity; the authenticating proxy
// upstream owns credential checks.
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

	r.Route("/admin", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		params.AssignmentHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
