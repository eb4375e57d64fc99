package rbac

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads role data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ActiveRolesForUser returns the active roles currently held by a user:
// the assignment must be active and unexpired, and the role itself active.
func (r *Repository) ActiveRolesForUser(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.id, ro.name, ro.display_name, ro.permissions, ro.is_active, ro.created_at, ro.updated_at
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.user_id = $1
		  AND ra.is_active = TRUE
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		  AND ro.is_active = TRUE
		ORDER BY ro.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var rawPerms []byte
		if err := rows.Scan(&role.ID, &role.Name, &role.DisplayName, &rawPerms, &role.IsActive, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		if len(rawPerms) > 0 {
			if err := json.Unmarshal(rawPerms, &role.Permissions); err != nil {
				return nil, fmt.Errorf("rbac: decode permissions for role %d: %w", role.ID, err)
			}
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}
