package nodelink

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetglass/fleetglass/internal/platform/httpx"
	"github.com/fleetglass/fleetglass/internal/policy"
	"github.com/fleetglass/fleetglass/internal/shared"
)

// Handler exposes linked-node endpoints.
type Handler struct {
	logger *slog.Logger
	linker *Linker
	authz  policy.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, linker *Linker, authz policy.Middleware) *Handler {
	return &Handler{logger: logger, linker: linker, authz: authz}
}

// MountRoutes registers linked-node routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapNodesView))
		r.Get("/nodes", h.listNodes)
		r.Get("/nodes/{id}", h.nodeDetail)
	})
}

func (h *Handler) listNodes(w http.ResponseWriter, r *http.Request) {
	useCache := true
	if v := r.URL.Query().Get("cache"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			useCache = parsed
		}
	}
	nodes, err := h.linker.LinkedInventory(r.Context(), useCache)
	if err != nil {
		h.logger.Error("linked inventory failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Inventory failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (h *Handler) nodeDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, data, err := h.linker.LinkedNodeData(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Node not found", id)
			return
		}
		h.logger.Error("node detail failed", slog.String("node", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Node detail failed", err.Error())
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"node": node, "data": data})
}
