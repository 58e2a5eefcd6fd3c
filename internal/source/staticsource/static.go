// Package staticsource implements a source plugin backed entirely by its
// own settings. It exists for fixed inventories and for exercising the
// aggregation pipeline without external systems.
package staticsource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fleetglass/fleetglass/internal/source"
)

type settings struct {
	Nodes []struct {
		ID          string         `yaml:"id"`
		Name        string         `yaml:"name"`
		URI         string         `yaml:"uri"`
		Hostname    string         `yaml:"hostname"`
		CertStatus  string         `yaml:"cert_status"`
		LastCheckIn time.Time      `yaml:"last_check_in"`
		Facts       map[string]any `yaml:"facts"`
	} `yaml:"nodes"`
	Groups []struct {
		ID       string            `yaml:"id"`
		Name     string            `yaml:"name"`
		Nodes    []string          `yaml:"nodes"`
		Metadata map[string]string `yaml:"metadata"`
	} `yaml:"groups"`
}

// Static serves a fixed node and group list from its configuration.
type Static struct {
	name string

	mu          sync.RWMutex
	initialized bool
	nodes       []source.Node
	groups      []source.Group
	facts       map[string]map[string]any
}

// New returns an uninitialized static source with the given name.
func New(name string) *Static {
	return &Static{name: name}
}

func (s *Static) Name() string { return s.name }

// Initialize loads nodes and groups from the settings map.
func (s *Static) Initialize(_ context.Context, raw map[string]any) error {
	encoded, err := yaml.Marshal(raw)
	if err != nil {
		return fmt.Errorf("staticsource: encode settings: %w", err)
	}
	var cfg settings
	if err := yaml.Unmarshal(encoded, &cfg); err != nil {
		return fmt.Errorf("staticsource: parse settings: %w", err)
	}

	nodes := make([]source.Node, 0, len(cfg.Nodes))
	facts := make(map[string]map[string]any, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		if n.ID == "" {
			return fmt.Errorf("staticsource: node without id")
		}
		nodes = append(nodes, source.Node{
			ID:          n.ID,
			Name:        n.Name,
			URI:         n.URI,
			Hostname:    n.Hostname,
			CertStatus:  n.CertStatus,
			LastCheckIn: n.LastCheckIn,
		})
		facts[n.ID] = n.Facts
	}

	groups := make([]source.Group, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		memberIDs := g.Nodes
		if memberIDs == nil {
			memberIDs = []string{}
		}
		groups = append(groups, source.Group{
			ID:       g.ID,
			Name:     g.Name,
			Nodes:    memberIDs,
			Metadata: g.Metadata,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.groups = groups
	s.facts = facts
	s.initialized = true
	return nil
}

func (s *Static) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

func (s *Static) Inventory(_ context.Context) ([]source.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]source.Node, len(s.nodes))
	copy(out, s.nodes)
	return out, nil
}

func (s *Static) Groups(_ context.Context) ([]source.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]source.Group, len(s.groups))
	copy(out, s.groups)
	return out, nil
}

func (s *Static) NodeFacts(_ context.Context, nodeID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts, ok := s.facts[nodeID]
	if !ok {
		return nil, fmt.Errorf("staticsource: unknown node %q", nodeID)
	}
	return facts, nil
}

func (s *Static) HealthCheck(_ context.Context) (source.HealthStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return source.HealthStatus{
		Healthy:             s.initialized,
		Message:             fmt.Sprintf("%d nodes, %d groups", len(s.nodes), len(s.groups)),
		WorkingCapabilities: []string{s.name + ".facts", s.name + ".inventory", s.name + ".groups"},
	}, nil
}

// ExecuteAction is unsupported: a static inventory has nothing to act on.
func (s *Static) ExecuteAction(_ context.Context, action source.Action) (any, error) {
	return nil, fmt.Errorf("staticsource: action %q not supported", action.Capability)
}
