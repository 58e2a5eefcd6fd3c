package capability

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/fleetglass/fleetglass/internal/shared"
)

// RiskLevel classifies how disruptive a capability is when executed.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// HandlerFunc runs a capability. A returned error or a panic is converted
// into a structured execution failure; it never escapes the registry.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// Definition describes one capability a provider offers. Name follows the
// category.action grammar: letters and digits, two or more dot-separated
// segments.
type Definition struct {
	Name        string
	Category    string
	Description string
	RiskLevel   RiskLevel
	// RequiredPermissions gates execution. Empty means public.
	RequiredPermissions []string
	Handler             HandlerFunc
}

// Registration binds a definition to its owning provider.
type Registration struct {
	Definition   Definition
	Provider     string
	Priority     int
	RegisteredAt time.Time
}

// Widget is a UI element tied to the capabilities it needs to render.
type Widget struct {
	ID                   string   `json:"id"`
	Provider             string   `json:"provider"`
	Title                string   `json:"title,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities"`
	Priority             int      `json:"priority"`
}

// ExecutionContext accompanies every handler invocation.
type ExecutionContext struct {
	User       shared.User
	Capability string
	Provider   string
	StartedAt  time.Time
	DebugID    string
}

// Request is the handler input: caller parameters plus execution metadata.
type Request struct {
	Params    map[string]any
	Execution ExecutionContext
}

// ExecutionError is a structured failure. Code is one of the shared.Code*
// constants.
type ExecutionError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// DebugContext threads a correlation id through an execution chain.
type DebugContext struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// NewDebugContext mints a fresh correlation id.
func NewDebugContext() *DebugContext {
	return &DebugContext{ID: uuid.NewString(), StartedAt: time.Now()}
}

// Result is the outcome of Execute. Failures are values carried in Error,
// never panics or returned Go errors.
type Result struct {
	Success   bool            `json:"success"`
	Data      any             `json:"data,omitempty"`
	Error     *ExecutionError `json:"error,omitempty"`
	HandledBy string          `json:"handled_by,omitempty"`
	Duration  time.Duration   `json:"duration_ms"`
	Debug     *DebugContext   `json:"debug,omitempty"`
}

// ListedCapability is a listing entry. Authorized is only set when the
// listing was computed for a concrete user.
type ListedCapability struct {
	Name        string    `json:"name"`
	Category    string    `json:"category"`
	Description string    `json:"description,omitempty"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Provider    string    `json:"provider"`
	Priority    int       `json:"priority"`
	Authorized  *bool     `json:"authorized,omitempty"`
}

// ListedWidget is a widget listing entry, annotated like ListedCapability.
type ListedWidget struct {
	Widget
	Authorized *bool `json:"authorized,omitempty"`
}

// Filter narrows capability listings.
type Filter struct {
	Category  string
	RiskLevel RiskLevel
	Provider  string
}
