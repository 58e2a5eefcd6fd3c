package policy

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/fleetglass/fleetglass/internal/shared"
)

// clientIP strips the port from RemoteAddr when present. The RealIP
// middleware may already have rewritten it to a bare address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// Middleware wires policy authorization helpers for HTTP handlers.
type Middleware struct {
	Evaluator *Evaluator
	Logger    *slog.Logger
}

// RequireCapability ensures the current user is allowed the named
// capability before the request reaches the handler. The client address
// recorded by the RealIP middleware feeds the rule's IP conditions.
func (m Middleware) RequireCapability(capability string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := shared.UserFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			decision, err := m.Evaluator.CheckPermission(r.Context(), user, capability, &RequestContext{
				ClientIP: clientIP(r),
			})
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("policy check", slog.String("capability", capability), slog.Any("error", err))
				}
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if !decision.Allowed {
				if m.Logger != nil {
					m.Logger.Warn("request denied",
						slog.String("capability", capability),
						slog.String("user", user.ID),
						slog.String("reason", decision.Reason))
				}
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
