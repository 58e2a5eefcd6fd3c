package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/fleetglass/fleetglass/internal/capability"
	"github.com/fleetglass/fleetglass/internal/nodelink"
	"github.com/fleetglass/fleetglass/internal/observability"
	"github.com/fleetglass/fleetglass/internal/source"
	"github.com/fleetglass/fleetglass/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Middleware        MiddlewareConfig
	CapabilityHandler *capability.Handler
	SourceHandler     *source.Handler
	NodeHandler       *nodelink.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Fleetglass defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(params.Middleware) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.CapabilityHandler != nil {
			params.CapabilityHandler.MountRoutes(r)
		}
		if params.SourceHandler != nil {
			params.SourceHandler.MountRoutes(r)
		}
		if params.NodeHandler != nil {
			params.NodeHandler.MountRoutes(r)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
