package capability

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fleetglass/fleetglass/internal/platform/httpx"
	"github.com/fleetglass/fleetglass/internal/policy"
	"github.com/fleetglass/fleetglass/internal/shared"
)

// Handler exposes the registry over HTTP.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
	authz    policy.Middleware
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, registry *Registry, authz policy.Middleware) *Handler {
	return &Handler{logger: logger, registry: registry, authz: authz}
}

// MountRoutes registers capability routes. Execution is not gated here:
// the registry runs its own permission check per capability.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapCapabilityList))
		r.Get("/capabilities", h.listCapabilities)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireCapability(shared.CapWidgetsView))
		r.Get("/widgets", h.listWidgets)
	})
	r.Post("/capabilities/{name}/execute", h.executeCapability)
}

func (h *Handler) listCapabilities(w http.ResponseWriter, r *http.Request) {
	filter := Filter{
		Category:  r.URL.Query().Get("category"),
		RiskLevel: RiskLevel(r.URL.Query().Get("risk")),
		Provider:  r.URL.Query().Get("provider"),
	}
	var user *shared.User
	if u, ok := shared.UserFromContext(r.Context()); ok {
		user = &u
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"capabilities": h.registry.Capabilities(r.Context(), filter, user),
	})
}

func (h *Handler) executeCapability(w http.ResponseWriter, r *http.Request) {
	user, ok := shared.UserFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "no identity on request")
		return
	}
	name := chi.URLParam(r, "name")
	if err := ValidateName(name); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid capability name", err.Error())
		return
	}

	var body struct {
		Params map[string]any `json:"params"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid request body", err.Error())
			return
		}
	}

	result := h.registry.Execute(r.Context(), user, name, body.Params, NewDebugContext())
	httpx.JSON(w, statusFor(result), result)
}

func (h *Handler) listWidgets(w http.ResponseWriter, r *http.Request) {
	var user *shared.User
	if u, ok := shared.UserFromContext(r.Context()); ok {
		user = &u
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"widgets": h.registry.Widgets(r.Context(), user),
	})
}

// statusFor maps structured execution failures onto HTTP status codes.
// The body always carries the full Result so callers can inspect the
// machine-readable code.
func statusFor(res Result) int {
	if res.Error == nil {
		return http.StatusOK
	}
	switch res.Error.Code {
	case shared.CodeCapabilityNotFound:
		return http.StatusNotFound
	case shared.CodePermissionDenied:
		return http.StatusForbidden
	case shared.CodeValidationError:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}
