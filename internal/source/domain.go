package source

import (
	"context"
	"time"
)

// Node is one host as reported by a single source. SourceSpecific keeps
// fields only that source understands; the typed core is what the
// aggregator and linker operate on.
type Node struct {
	ID             string         `json:"id" validate:"required"`
	Name           string         `json:"name"`
	URI            string         `json:"uri,omitempty"`
	Hostname       string         `json:"hostname,omitempty"`
	Source         string         `json:"source"`
	CertStatus     string         `json:"cert_status,omitempty"`
	LastCheckIn    time.Time      `json:"last_check_in,omitzero"`
	SourceSpecific map[string]any `json:"source_specific,omitempty"`
}

// Group is a named set of node ids owned by a single source. Nodes must
// be present even when empty; MissingNodes flags members that the owning
// source did not report as nodes.
type Group struct {
	ID           string            `json:"id" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	Source       string            `json:"source" validate:"required"`
	Nodes        []string          `json:"nodes"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	MissingNodes []string          `json:"missing_nodes,omitempty"`
}

// AggregatedGroup is a group after cross-source merging. Linked is true
// when at least two sources reported a group with the same name; its id
// is then "linked:<name>".
type AggregatedGroup struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Sources  []string          `json:"sources"`
	Nodes    []string          `json:"nodes"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Linked   bool              `json:"linked"`
}

// HealthStatus is one source's self-reported health.
type HealthStatus struct {
	Healthy             bool      `json:"healthy"`
	Message             string    `json:"message,omitempty"`
	LastCheck           time.Time `json:"last_check"`
	WorkingCapabilities []string  `json:"working_capabilities,omitempty"`
	FailingCapabilities []string  `json:"failing_capabilities,omitempty"`
}

// Action is a request for a source to act on one of its nodes.
type Action struct {
	Capability string
	NodeID     string
	Params     map[string]any
}

// Source is the plugin contract. Implementations are black boxes behind
// a network or process boundary; every call may block and must honor the
// context.
type Source interface {
	Name() string
	Initialize(ctx context.Context, settings map[string]any) error
	Initialized() bool
	Inventory(ctx context.Context) ([]Node, error)
	Groups(ctx context.Context) ([]Group, error)
	NodeFacts(ctx context.Context, nodeID string) (map[string]any, error)
	HealthCheck(ctx context.Context) (HealthStatus, error)
	ExecuteAction(ctx context.Context, action Action) (any, error)
}

// Aggregation status values for one source.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

// SourceStatus records how one source fared during an aggregation pass.
type SourceStatus struct {
	Status     string `json:"status"`
	NodeCount  int    `json:"node_count"`
	GroupCount int    `json:"group_count"`
	Error      string `json:"error,omitempty"`
}

// Inventory is the merged cross-source view.
type Inventory struct {
	Nodes       []Node                  `json:"nodes"`
	Groups      []AggregatedGroup       `json:"groups"`
	Sources     map[string]SourceStatus `json:"sources"`
	GeneratedAt time.Time               `json:"generated_at"`
}
