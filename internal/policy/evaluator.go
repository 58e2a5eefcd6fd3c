package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/fleetglass/fleetglass/internal/platform/cache"
	"github.com/fleetglass/fleetglass/internal/shared"
)

// ReasonNoRule is returned when neither a deny nor an allow rule matched.
const ReasonNoRule = "No matching permission rule found"

// DefaultCacheTTL bounds how long an effective permission set may serve
// decisions before recomputation.
const DefaultCacheTTL = 5 * time.Minute

// DecisionMetrics receives one sample per completed permission
// decision. *observability.Metrics satisfies this.
type DecisionMetrics interface {
	RecordPolicyDecision(allowed bool)
}

// Evaluator decides allow/deny for capability requests. Decisions are
// deny-first: among matching rules, deny beats allow and the most
// specific pattern determines the matched rule.
type Evaluator struct {
	store   Store
	cache   *cache.Store[EffectivePermissions]
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics DecisionMetrics
}

// Option customises an Evaluator.
type Option func(*Evaluator)

// WithCacheTTL overrides the effective-permission cache TTL.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Evaluator) { e.ttl = ttl }
}

// WithClock overrides the time source used for cache expiry and time
// window conditions.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// WithMetrics attaches a decision counter.
func WithMetrics(metrics DecisionMetrics) Option {
	return func(e *Evaluator) { e.metrics = metrics }
}

// NewEvaluator constructs an Evaluator over the given role store.
func NewEvaluator(store Store, opts ...Option) *Evaluator {
	e := &Evaluator{
		store: store,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = cache.NewStore[EffectivePermissions](e.ttl, cache.WithClock[EffectivePermissions](func() time.Time {
		return e.now()
	}))
	return e
}

// CheckPermission decides whether the user may invoke the named
// capability in the given context. Denial is a value, not an error;
// the only propagated error is a store failure.
func (e *Evaluator) CheckPermission(ctx context.Context, user shared.User, capability string, rc *RequestContext) (Decision, error) {
	decision, err := e.evaluate(ctx, user, capability, rc)
	if err == nil && e.metrics != nil {
		e.metrics.RecordPolicyDecision(decision.Allowed)
	}
	return decision, err
}

func (e *Evaluator) evaluate(ctx context.Context, user shared.User, capability string, rc *RequestContext) (Decision, error) {
	effective, err := e.GetEffectivePermissions(ctx, user)
	if err != nil {
		return Decision{}, err
	}

	rules := make([]Permission, len(effective.Permissions))
	copy(rules, effective.Permissions)
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Action != rules[j].Action {
			return rules[i].Action == ActionDeny
		}
		return Specificity(rules[i].Capability) > Specificity(rules[j].Capability)
	})

	now := e.now()
	for i := range rules {
		rule := rules[i]
		if !Matches(rule.Capability, capability) {
			continue
		}
		if !rule.Condition.Empty() && !conditionMet(rule.Condition, rc, now) {
			continue
		}
		if rule.Action == ActionDeny {
			return Decision{
				Allowed: false,
				Reason:  fmt.Sprintf("Denied by rule %q", rule.Capability),
				Matched: &rule,
			}, nil
		}
		return Decision{
			Allowed: true,
			Reason:  fmt.Sprintf("Allowed by rule %q", rule.Capability),
			Matched: &rule,
		}, nil
	}

	return Decision{Allowed: false, Reason: ReasonNoRule}, nil
}

// GetEffectivePermissions resolves the union of permissions from the
// user's direct roles and the roles reachable through its groups,
// serving a cached copy while it is fresh.
func (e *Evaluator) GetEffectivePermissions(ctx context.Context, user shared.User) (EffectivePermissions, error) {
	if cached, ok := e.cache.Get(user.ID); ok {
		return cached, nil
	}

	roleIDs := make([]string, 0, len(user.Roles))
	seen := make(map[string]struct{}, len(user.Roles))
	for _, id := range user.Roles {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		roleIDs = append(roleIDs, id)
	}
	for _, groupID := range user.Groups {
		ids, err := e.store.GroupRoleIDs(ctx, groupID)
		if err != nil {
			return EffectivePermissions{}, fmt.Errorf("policy: resolve group %s: %w", groupID, err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			roleIDs = append(roleIDs, id)
		}
	}

	var perms []Permission
	for _, id := range roleIDs {
		role, err := e.store.RoleByID(ctx, id)
		if err != nil {
			return EffectivePermissions{}, fmt.Errorf("policy: load role %s: %w", id, err)
		}
		if role == nil {
			if e.logger != nil {
				e.logger.Warn("unknown role referenced", slog.String("role_id", id), slog.String("user_id", user.ID))
			}
			continue
		}
		perms = append(perms, role.Permissions...)
	}

	effective := EffectivePermissions{
		UserID:      user.ID,
		Permissions: perms,
		ComputedAt:  e.now(),
	}
	e.cache.SetWithTTL(user.ID, effective, e.ttl)
	return effective, nil
}

// InvalidateCache drops the cached permission set for one user. Callers
// mutating roles, permissions, or group membership must flush stale
// decisions through this or InvalidateAllCaches.
func (e *Evaluator) InvalidateCache(userID string) {
	e.cache.Delete(userID)
}

// InvalidateAllCaches drops every cached permission set.
func (e *Evaluator) InvalidateAllCaches() {
	e.cache.Clear()
}

// Authorized adapts the evaluator to the capability registry's
// PermissionChecker contract: the declared requirement list is ignored
// and the capability name itself is evaluated against the full rule
// set. A store failure fails closed.
func (e *Evaluator) Authorized(ctx context.Context, user shared.User, capability string, _ []string) bool {
	decision, err := e.CheckPermission(ctx, user, capability, nil)
	if err != nil {
		if e.logger != nil {
			e.logger.Error("authorization check failed", slog.String("capability", capability), slog.Any("error", err))
		}
		return false
	}
	return decision.Allowed
}
