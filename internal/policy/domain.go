package policy

import (
	"context"
	"time"
)

// Action is the effect of a permission rule.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Condition gates a permission rule on situational context. All present
// sub-conditions must pass; absent ones are vacuously true.
type Condition struct {
	// NodeFilter is a three-part expression `field(=|~)value` evaluated
	// against the target node. `=` is exact match, `~` is a glob.
	NodeFilter string
	// TimeWindow is "always", "HH:MM-HH:MM", or the same range prefixed
	// with "weekdays:" or "weekend:".
	TimeWindow string
	// AllowedIPs lists literal IPs, CIDR blocks, or `*`-wildcard dotted
	// patterns the client address must match.
	AllowedIPs []string
}

// Empty reports whether no sub-condition is set.
func (c *Condition) Empty() bool {
	return c == nil || (c.NodeFilter == "" && c.TimeWindow == "" && len(c.AllowedIPs) == 0)
}

// Permission is a single rule: a capability name pattern plus an effect,
// optionally gated by a condition.
type Permission struct {
	Capability string
	Action     Action
	Condition  *Condition
}

// Role groups permissions. System roles are immutable: the owning store
// refuses to rename or delete them.
type Role struct {
	ID          string
	Name        string
	Permissions []Permission
	Priority    int
	System      bool
}

// EffectivePermissions is the role/group-resolved permission set for one
// user, cached per user id.
type EffectivePermissions struct {
	UserID      string
	Permissions []Permission
	ComputedAt  time.Time
}

// Decision is the outcome of a permission check. It is always a value,
// never an error: a caller cannot distinguish "denied" from "error"
// except through the store-unreachable case, which does propagate.
type Decision struct {
	Allowed bool
	Reason  string
	Matched *Permission
}

// NodeInfo describes the target node for node-filter conditions.
type NodeInfo struct {
	Name        string
	Environment string
	Role        string
	Metadata    map[string]string
}

// RequestContext carries the situational data condition gates evaluate
// against. A nil context fails node and IP sub-conditions closed; time
// windows still evaluate against the evaluator clock.
type RequestContext struct {
	Node     *NodeInfo
	ClientIP string
}

// Store is the role/permission collaborator contract. RoleByID returns
// (nil, nil) for an unknown id; any error means the store is unreachable
// and propagates to the caller.
type Store interface {
	RoleByID(ctx context.Context, id string) (*Role, error)
	GroupRoleIDs(ctx context.Context, groupID string) ([]string, error)
}
