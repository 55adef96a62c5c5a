package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/fiscalbridge/internal/observability"
	"github.com/odyssey-erp/fiscalbridge/internal/ops"
	"github.com/odyssey-erp/fiscalbridge/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Metrics    *observability.Metrics
	JobHandler *jobs.Handler
	OpsHandler *ops.Handler
	// Ready reports whether the backing stores answer.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the ops chi.Router.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			if err := params.Ready(r.Context()); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.OpsHandler != nil {
		hash := ""
		if params.Config != nil {
			hash = params.Config.OpsTokenHash
		}
		r.Route("/ops", func(r chi.Router) {
			r.Use(chimw.NoCache)
			r.Use(OperatorAuth(hash, params.Logger))
			params.OpsHandler.MountRoutes(r)
		})
	}
	return r
}
