package source

import (
	"context"
	"fmt"

	"github.com/fleetglass/fleetglass/internal/capability"
)

// RegisterCapabilities publishes a source's data operations into the
// capability registry under the "<source>.<operation>" names consumers
// resolve instead of hard-coding plugins. Read operations are gated at
// the transport layer; actions additionally require the operator role.
func RegisterCapabilities(reg *capability.Registry, src Source, priority int) error {
	name := src.Name()

	register := func(op, description string, risk capability.RiskLevel, required []string, handler capability.HandlerFunc) error {
		return reg.Register(name, capability.Definition{
			Name:                name + "." + op,
			Category:            name,
			Description:         description,
			RiskLevel:           risk,
			RequiredPermissions: required,
			Handler:             handler,
		}, priority)
	}

	if err := register("facts", "node facts from "+name, capability.RiskLow, nil,
		func(ctx context.Context, req capability.Request) (any, error) {
			nodeID, _ := req.Params["node_id"].(string)
			if nodeID == "" {
				return nil, fmt.Errorf("node_id parameter required")
			}
			return src.NodeFacts(ctx, nodeID)
		}); err != nil {
		return err
	}
	if err := register("inventory", "node inventory from "+name, capability.RiskLow, nil,
		func(ctx context.Context, _ capability.Request) (any, error) {
			return src.Inventory(ctx)
		}); err != nil {
		return err
	}
	if err := register("groups", "groups from "+name, capability.RiskLow, nil,
		func(ctx context.Context, _ capability.Request) (any, error) {
			return src.Groups(ctx)
		}); err != nil {
		return err
	}
	if err := register("health", "health of "+name, capability.RiskLow, nil,
		func(ctx context.Context, _ capability.Request) (any, error) {
			return src.HealthCheck(ctx)
		}); err != nil {
		return err
	}
	return register("action", "execute an action via "+name, capability.RiskHigh, []string{"operator"},
		func(ctx context.Context, req capability.Request) (any, error) {
			nodeID, _ := req.Params["node_id"].(string)
			cap, _ := req.Params["capability"].(string)
			params, _ := req.Params["params"].(map[string]any)
			return src.ExecuteAction(ctx, Action{Capability: cap, NodeID: nodeID, Params: params})
		})
}
