package capability

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fleetglass/fleetglass/internal/shared"
)

// DefaultPriority is used when a provider does not care about ordering.
const DefaultPriority = 10

var nameRe = regexp.MustCompile(`^[A-Za-z0-9]+(\.[A-Za-z0-9]+)+$`)

// ValidateName checks the category.action grammar.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("capability: invalid name %q", name)
	}
	return nil
}

// PermissionChecker decides whether a user may execute a capability with
// the given declared requirement list. The policy evaluator satisfies
// this; BasicChecker is the no-RBAC fallback.
type PermissionChecker interface {
	Authorized(ctx context.Context, user shared.User, capability string, required []string) bool
}

// BasicChecker is a registry-local check for deployments without the full
// policy subsystem: an empty requirement list is public, admins always
// pass, otherwise any of the user's permissions or roles must appear in
// the requirement list.
type BasicChecker struct{}

func (BasicChecker) Authorized(_ context.Context, user shared.User, _ string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	if user.IsAdmin() {
		return true
	}
	for _, req := range required {
		if slices.Contains(user.Permissions, req) || slices.Contains(user.Roles, req) {
			return true
		}
	}
	return false
}

// AuditPort records capability executions. Failures are logged, never
// propagated to the caller.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ExecutionMetrics receives one sample per capability execution.
// *observability.Metrics satisfies this.
type ExecutionMetrics interface {
	RecordCapabilityExecution(capability, outcome string)
}

// Registry is the process-wide capability table. Multiple providers may
// register the same capability name; the highest priority one executes.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string][]Registration
	widgets       map[string]Widget
	widgetsByCap  map[string]map[string]struct{}

	checker PermissionChecker
	audit   AuditPort
	metrics ExecutionMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithChecker injects the permission checker used for execution gating
// and listing annotation.
func WithChecker(checker PermissionChecker) RegistryOption {
	return func(r *Registry) { r.checker = checker }
}

// WithAudit attaches an execution audit sink.
func WithAudit(audit AuditPort) RegistryOption {
	return func(r *Registry) { r.audit = audit }
}

// WithMetrics attaches an execution counter.
func WithMetrics(metrics ExecutionMetrics) RegistryOption {
	return func(r *Registry) { r.metrics = metrics }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds an empty registry. Without WithChecker it falls back
// to BasicChecker.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		registrations: make(map[string][]Registration),
		widgets:       make(map[string]Widget),
		widgetsByCap:  make(map[string]map[string]struct{}),
		checker:       BasicChecker{},
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a provider's capability. The per-name list stays sorted
// by priority descending; ties keep registration order.
func (r *Registry) Register(provider string, def Definition, priority int) error {
	if err := ValidateName(def.Name); err != nil {
		return err
	}
	if provider == "" {
		return fmt.Errorf("capability: provider name required for %q", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("capability: %q has no handler", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	regs := append(r.registrations[def.Name], Registration{
		Definition:   def,
		Provider:     provider,
		Priority:     priority,
		RegisteredAt: r.now(),
	})
	sort.SliceStable(regs, func(i, j int) bool { return regs[i].Priority > regs[j].Priority })
	r.registrations[def.Name] = regs
	return nil
}

// UnregisterProvider removes every registration owned by the provider and
// cascades removal of its widgets. Returns the number of capability
// registrations removed.
func (r *Registry) UnregisterProvider(provider string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for name, regs := range r.registrations {
		kept := regs[:0]
		for _, reg := range regs {
			if reg.Provider == provider {
				removed++
				continue
			}
			kept = append(kept, reg)
		}
		if len(kept) == 0 {
			delete(r.registrations, name)
		} else {
			r.registrations[name] = kept
		}
	}
	for id, w := range r.widgets {
		if w.Provider == provider {
			r.removeWidgetLocked(id)
		}
	}
	return removed
}

// Execute resolves the active provider for name and runs it. All failure
// modes come back as a structured Result; a handler panic is caught and
// reported as an execution error.
func (r *Registry) Execute(ctx context.Context, user shared.User, name string, params map[string]any, debug *DebugContext) Result {
	r.mu.RLock()
	regs := r.registrations[name]
	var top Registration
	if len(regs) > 0 {
		top = regs[0]
	}
	found := len(regs) > 0
	r.mu.RUnlock()

	started := r.now()
	if !found {
		return r.finish(ctx, user, name, "", started, Result{
			Error: &ExecutionError{
				Code:    shared.CodeCapabilityNotFound,
				Message: fmt.Sprintf("no provider registered for %q", name),
			},
			Debug: debug,
		})
	}

	if !r.checker.Authorized(ctx, user, name, top.Definition.RequiredPermissions) {
		return r.finish(ctx, user, name, top.Provider, started, Result{
			Error: &ExecutionError{
				Code:    shared.CodePermissionDenied,
				Message: fmt.Sprintf("permission denied for %q", name),
				Details: map[string]any{
					"required": top.Definition.RequiredPermissions,
					"roles":    user.Roles,
				},
			},
			HandledBy: top.Provider,
			Debug:     debug,
		})
	}

	req := Request{
		Params: params,
		Execution: ExecutionContext{
			User:       user,
			Capability: name,
			Provider:   top.Provider,
			StartedAt:  started,
		},
	}
	if debug != nil {
		req.Execution.DebugID = debug.ID
	}

	data, err := r.invoke(ctx, top.Definition.Handler, req)
	if err != nil {
		return r.finish(ctx, user, name, top.Provider, started, Result{
			Error: &ExecutionError{
				Code:    shared.CodeExecutionError,
				Message: err.Error(),
			},
			HandledBy: top.Provider,
			Debug:     debug,
		})
	}
	return r.finish(ctx, user, name, top.Provider, started, Result{
		Success:   true,
		Data:      data,
		HandledBy: top.Provider,
		Debug:     debug,
	})
}

// invoke runs a handler with panic containment.
func (r *Registry) invoke(ctx context.Context, handler HandlerFunc, req Request) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
			if r.logger != nil {
				r.logger.Error("capability handler panicked",
					slog.String("capability", req.Execution.Capability),
					slog.String("provider", req.Execution.Provider),
					slog.Any("panic", rec))
			}
		}
	}()
	return handler(ctx, req)
}

func (r *Registry) finish(ctx context.Context, user shared.User, name, provider string, started time.Time, res Result) Result {
	res.Duration = r.now().Sub(started)
	outcome := "success"
	if res.Error != nil {
		outcome = res.Error.Code
	}
	if r.metrics != nil {
		r.metrics.RecordCapabilityExecution(name, outcome)
	}
	if r.audit != nil {
		entry := shared.AuditLog{
			ActorID:    user.ID,
			Capability: name,
			Provider:   provider,
			Outcome:    outcome,
			Duration:   res.Duration,
			At:         started,
		}
		if err := r.audit.Record(ctx, entry); err != nil && r.logger != nil {
			r.logger.Warn("audit record failed", slog.String("capability", name), slog.Any("error", err))
		}
	}
	return res
}

// RegisterWidget adds a widget and indexes it under each capability it
// requires.
func (r *Registry) RegisterWidget(provider string, w Widget) error {
	if w.ID == "" {
		return fmt.Errorf("capability: widget id required")
	}
	if provider == "" {
		return fmt.Errorf("capability: provider name required for widget %q", w.ID)
	}
	w.Provider = provider

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.widgets[w.ID]; exists {
		return fmt.Errorf("capability: widget %q already registered", w.ID)
	}
	r.widgets[w.ID] = w
	for _, cap := range w.RequiredCapabilities {
		idx := r.widgetsByCap[cap]
		if idx == nil {
			idx = make(map[string]struct{})
			r.widgetsByCap[cap] = idx
		}
		idx[w.ID] = struct{}{}
	}
	return nil
}

// UnregisterWidget removes a widget and its index entries. Reports
// whether the widget existed.
func (r *Registry) UnregisterWidget(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.widgets[id]; !ok {
		return false
	}
	r.removeWidgetLocked(id)
	return true
}

func (r *Registry) removeWidgetLocked(id string) {
	w := r.widgets[id]
	delete(r.widgets, id)
	for _, cap := range w.RequiredCapabilities {
		if idx := r.widgetsByCap[cap]; idx != nil {
			delete(idx, id)
			if len(idx) == 0 {
				delete(r.widgetsByCap, cap)
			}
		}
	}
}

// HasCapability reports whether at least one provider registered name.
func (r *Registry) HasCapability(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.registrations[name]) > 0
}

// ProvidersFor lists the providers registered for name, highest priority
// first.
func (r *Registry) ProvidersFor(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.registrations[name]
	providers := make([]string, 0, len(regs))
	for _, reg := range regs {
		providers = append(providers, reg.Provider)
	}
	return providers
}

// WidgetsRequiring lists widget ids indexed under a capability name.
func (r *Registry) WidgetsRequiring(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.widgetsByCap[name]
	ids := make([]string, 0, len(idx))
	for id := range idx {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Capabilities lists registrations matching the filter, sorted by name
// then priority descending. With a non-nil user every entry carries its
// authorization verdict.
func (r *Registry) Capabilities(ctx context.Context, filter Filter, user *shared.User) []ListedCapability {
	r.mu.RLock()
	names := make([]string, 0, len(r.registrations))
	for name := range r.registrations {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []ListedCapability
	for _, name := range names {
		for _, reg := range r.registrations[name] {
			def := reg.Definition
			if filter.Category != "" && def.Category != filter.Category {
				continue
			}
			if filter.RiskLevel != "" && def.RiskLevel != filter.RiskLevel {
				continue
			}
			if filter.Provider != "" && reg.Provider != filter.Provider {
				continue
			}
			entry := ListedCapability{
				Name:        def.Name,
				Category:    def.Category,
				Description: def.Description,
				RiskLevel:   def.RiskLevel,
				Provider:    reg.Provider,
				Priority:    reg.Priority,
			}
			out = append(out, entry)
		}
	}
	r.mu.RUnlock()

	if user != nil {
		for i := range out {
			allowed := r.checker.Authorized(ctx, *user, out[i].Name, r.requiredFor(out[i].Name))
			out[i].Authorized = &allowed
		}
	}
	return out
}

func (r *Registry) requiredFor(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if regs := r.registrations[name]; len(regs) > 0 {
		return regs[0].Definition.RequiredPermissions
	}
	return nil
}

// Widgets lists all widgets sorted by declared priority descending. With
// a non-nil user each entry is annotated authorized only when every
// required capability is authorized.
func (r *Registry) Widgets(ctx context.Context, user *shared.User) []ListedWidget {
	r.mu.RLock()
	out := make([]ListedWidget, 0, len(r.widgets))
	for _, w := range r.widgets {
		out = append(out, ListedWidget{Widget: w})
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})

	if user != nil {
		for i := range out {
			allowed := true
			for _, cap := range out[i].RequiredCapabilities {
				if !r.checker.Authorized(ctx, *user, cap, r.requiredFor(cap)) {
					allowed = false
					break
				}
			}
			out[i].Authorized = &allowed
		}
	}
	return out
}
