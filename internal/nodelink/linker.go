// Package nodelink merges per-source node records that describe the same
// real-world host into one logical linked node.
package nodelink

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/fleetglass/fleetglass/internal/capability"
	"github.com/fleetglass/fleetglass/internal/shared"
	"github.com/fleetglass/fleetglass/internal/source"
)

// DefaultCertSource is the source whose certificate status wins when
// several sources report one.
const DefaultCertSource = "puppet"

// linkActorID identifies the internal actor used for per-source data
// fetches in audit records.
const linkActorID = "system:nodelink"

// LinkedNode is a raw node enriched with every source that reported it.
// The embedded core carries best-of fields: certificate status from the
// canonical source when present, most recent check-in across sources.
type LinkedNode struct {
	source.Node
	Sources []string `json:"sources"`
	Linked  bool     `json:"linked"`
}

// InventoryProvider supplies the raw aggregate the linker works from.
type InventoryProvider interface {
	AggregatedInventory(ctx context.Context, useCache bool) (source.Inventory, error)
}

// Executor runs capabilities on behalf of the linker.
type Executor interface {
	Execute(ctx context.Context, user shared.User, name string, params map[string]any, debug *capability.DebugContext) capability.Result
}

// Linker resolves cross-source node identity.
type Linker struct {
	inventory  InventoryProvider
	executor   Executor
	certSource string
	logger     *slog.Logger
}

// LinkerOption customises a Linker.
type LinkerOption func(*Linker)

// WithCertSource overrides the canonical certificate-status source.
func WithCertSource(name string) LinkerOption {
	return func(l *Linker) { l.certSource = name }
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) LinkerOption {
	return func(l *Linker) { l.logger = logger }
}

// NewLinker builds a Linker over the aggregator and registry.
func NewLinker(inventory InventoryProvider, executor Executor, opts ...LinkerOption) *Linker {
	l := &Linker{
		inventory:  inventory,
		executor:   executor,
		certSource: DefaultCertSource,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// identifiers collects a node's identifying attributes, lower-cased:
// id, display name, hostname parsed from the connection URI, and the
// configured hostname.
func identifiers(n source.Node) []string {
	var ids []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			return
		}
		for _, existing := range ids {
			if existing == s {
				return
			}
		}
		ids = append(ids, s)
	}
	add(n.ID)
	add(n.Name)
	if n.URI != "" {
		if u, err := url.Parse(n.URI); err == nil {
			add(u.Hostname())
		}
	}
	add(n.Hostname)
	return ids
}

// LinkNodes merges raw nodes sharing any identifying attribute. The
// merge is one hop through the identifier index: if A and B share an
// identifier and B and C share a different one, A and C only merge when
// one of A's own identifiers reaches C. This is a deliberate
// approximation, not a transitive closure.
func (l *Linker) LinkNodes(rawNodes []source.Node) []LinkedNode {
	index := make(map[string][]int)
	for i, n := range rawNodes {
		for _, id := range identifiers(n) {
			index[id] = append(index[id], i)
		}
	}

	processed := make([]bool, len(rawNodes))
	var out []LinkedNode
	for i, n := range rawNodes {
		if processed[i] {
			continue
		}

		cluster := []int{i}
		processed[i] = true
		for _, id := range identifiers(n) {
			for _, j := range index[id] {
				if processed[j] {
					continue
				}
				processed[j] = true
				cluster = append(cluster, j)
			}
		}
		out = append(out, l.merge(rawNodes, cluster))
	}
	return out
}

// merge folds a cluster of raw records into one LinkedNode.
func (l *Linker) merge(rawNodes []source.Node, cluster []int) LinkedNode {
	linked := LinkedNode{Node: rawNodes[cluster[0]]}

	seen := make(map[string]struct{}, len(cluster))
	for _, idx := range cluster {
		n := rawNodes[idx]
		if _, ok := seen[n.Source]; !ok {
			seen[n.Source] = struct{}{}
			linked.Sources = append(linked.Sources, n.Source)
		}
		if n.Source == l.certSource && n.CertStatus != "" {
			linked.CertStatus = n.CertStatus
		} else if linked.CertStatus == "" {
			linked.CertStatus = n.CertStatus
		}
		if n.LastCheckIn.After(linked.LastCheckIn) {
			linked.LastCheckIn = n.LastCheckIn
		}
	}
	linked.Linked = len(linked.Sources) > 1
	return linked
}

// LinkedInventory returns the current aggregate with its nodes linked.
func (l *Linker) LinkedInventory(ctx context.Context, useCache bool) ([]LinkedNode, error) {
	inv, err := l.inventory.AggregatedInventory(ctx, useCache)
	if err != nil {
		return nil, err
	}
	return l.LinkNodes(inv.Nodes), nil
}

// capabilityPlan names the per-source capabilities fetched for one
// logical node: facts always, plus source-specific extras.
func capabilityPlan(sourceName string) []string {
	plan := []string{sourceName + ".facts"}
	switch sourceName {
	case "puppet":
		plan = append(plan, "puppet.reports", "puppet.catalog")
	case "ansible":
		plan = append(plan, "ansible.events")
	case "puppetca", "ca":
		plan = append(plan, sourceName+".certificate", sourceName+".status")
	}
	return plan
}

// LinkedNodeData resolves the logical node for nodeID and fetches the
// per-source detail map by executing each source's capabilities with an
// internal privileged identity. Sources whose capabilities fail
// contribute their error instead of data.
func (l *Linker) LinkedNodeData(ctx context.Context, nodeID string) (LinkedNode, map[string]map[string]any, error) {
	nodes, err := l.LinkedInventory(ctx, true)
	if err != nil {
		return LinkedNode{}, nil, err
	}

	var target *LinkedNode
	needle := strings.ToLower(nodeID)
	for i := range nodes {
		for _, id := range identifiers(nodes[i].Node) {
			if id == needle {
				target = &nodes[i]
				break
			}
		}
		if target != nil {
			break
		}
	}
	if target == nil {
		return LinkedNode{}, nil, fmt.Errorf("nodelink: node %q: %w", nodeID, shared.ErrNotFound)
	}

	actor := shared.User{ID: linkActorID, Roles: []string{shared.RoleAdmin}}
	data := make(map[string]map[string]any, len(target.Sources))
	for _, src := range target.Sources {
		perSource := make(map[string]any)
		for _, cap := range capabilityPlan(src) {
			res := l.executor.Execute(ctx, actor, cap, map[string]any{"node_id": target.ID}, nil)
			key := strings.TrimPrefix(cap, src+".")
			if !res.Success {
				if l.logger != nil {
					l.logger.Warn("node data fetch failed",
						slog.String("capability", cap), slog.String("node", target.ID))
				}
				if res.Error != nil {
					perSource[key] = map[string]any{"error": res.Error.Message, "code": res.Error.Code}
				}
				continue
			}
			perSource[key] = res.Data
		}
		data[src] = perSource
	}
	return *target, data, nil
}
