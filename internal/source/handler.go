package source

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetglass/fleetglass/internal/platform/httpx"
	"github.com/fleetglass/fleetglass/internal/policy"
	"github.com/fleetglass/fleetglass/internal/shared"
)

// Handler exposes aggregation endpoints.
type Handler struct {
	logger     *slog.Logger
	aggregator *Aggregator
	snapshots  *SnapshotStore
	authz      policy.Middleware
}

// NewHandler builds a Handler instance. snapshots may be nil.
func NewHandler(logger *slog.Logger, aggregator *Aggregator, snapshots *SnapshotStore, authz policy.Middleware) *Handler {
	return &Handler{logger: logger, aggregator: aggregator, snapshots: snapshots, authz: authz}
}

// MountRoutes registers aggregation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapInventoryList))
		r.Get("/inventory", h.inventory)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapSourcesHealth))
		r.Get("/sources/health", h.health)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapCachesFlush))
		r.Post("/caches/flush", h.flushCaches)
	})
}

func (h *Handler) inventory(w http.ResponseWriter, r *http.Request) {
	useCache := true
	if v := r.URL.Query().Get("cache"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			useCache = parsed
		}
	}

	inv, err := h.aggregator.AggregatedInventory(r.Context(), useCache)
	if err != nil {
		h.logger.Error("inventory aggregation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Aggregation failed", err.Error())
		return
	}
	if h.snapshots != nil {
		if err := h.snapshots.Save(r.Context(), inv); err != nil {
			h.logger.Warn("snapshot mirror failed", slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	useCache := false
	if v := r.URL.Query().Get("cache"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			useCache = parsed
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"sources": h.aggregator.HealthCheckAll(r.Context(), useCache),
	})
}

func (h *Handler) flushCaches(w http.ResponseWriter, r *http.Request) {
	h.aggregator.ClearAllCaches()
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}
