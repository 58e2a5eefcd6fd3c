package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleetglass/fleetglass/internal/shared"
)

// undefined_table
const codeUndefinedTable = "42P01"

// storeErr maps a driver failure onto the shared store error. An
// undefined table usually means the policy schema was never seeded, so
// it carries an explicit hint.
func storeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUndefinedTable {
		return fmt.Errorf("policy: %s: schema not provisioned: %w: %w", op, shared.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("policy: %s: %w: %w", op, shared.ErrStoreUnavailable, err)
}

// SQLStore reads roles and permissions from the PostgreSQL tables owned
// by the persistence collaborator. It never writes.
type SQLStore struct {
	pool *pgxpool.Pool
}

// NewSQLStore constructs a store backed by the provided pool.
func NewSQLStore(pool *pgxpool.Pool) *SQLStore {
	return &SQLStore{pool: pool}
}

// RoleByID fetches a role with its ordered permission list. Unknown ids
// return (nil, nil); any other failure is a store error.
func (s *SQLStore) RoleByID(ctx context.Context, id string) (*Role, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, priority, system FROM roles WHERE id = $1`, id)

	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Priority, &role.System); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr("query role", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT capability, action, node_filter, time_window, allowed_ips
		   FROM role_permissions
		  WHERE role_id = $1
		  ORDER BY position`, id)
	if err != nil {
		return nil, storeErr("query role permissions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			perm       Permission
			nodeFilter string
			timeWindow string
			allowedIPs []string
		)
		if err := rows.Scan(&perm.Capability, &perm.Action, &nodeFilter, &timeWindow, &allowedIPs); err != nil {
			return nil, storeErr("scan permission", err)
		}
		if nodeFilter != "" || timeWindow != "" || len(allowedIPs) > 0 {
			perm.Condition = &Condition{
				NodeFilter: nodeFilter,
				TimeWindow: timeWindow,
				AllowedIPs: allowedIPs,
			}
		}
		role.Permissions = append(role.Permissions, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate permissions", err)
	}
	return &role, nil
}

// GroupRoleIDs returns the role ids attached to a group.
func (s *SQLStore) GroupRoleIDs(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role_id FROM group_roles WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, storeErr("query group roles", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan group role", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate group roles", err)
	}
	return ids, nil
}
