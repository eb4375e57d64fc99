package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blocknest/blocknest/internal/platform/db"
	"github.com/blocknest/blocknest/internal/rbac"
)

// ErrRoleNotFound indicates the requested role is missing or inactive.
var ErrRoleNotFound = errors.New("assignment: role not found")

// pgForeignKeyViolation is the SQLSTATE for foreign key violations; hit when
// the target user vanishes between validation and commit.
const pgForeignKeyViolation = "23503"

// RepositoryPort abstracts persistence for the service and validator.
type RepositoryPort interface {
	GetRole(ctx context.Context, roleID int64) (rbac.Role, error)
	GetAssignment(ctx context.Context, userID, roleID int64) (*RoleAssignment, error)
	EffectiveRoleNames(ctx context.Context, userID int64) ([]rbac.RoleName, error)
	UpsertAssignment(ctx context.Context, a RoleAssignment) error
	DeactivateAssignment(ctx context.Context, userID, roleID int64) (bool, error)
	ListForUser(ctx context.Context, userID int64) ([]RoleAssignment, error)
}

// Repository persists role assignments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRole fetches an active role by id. Missing and inactive roles are both
// reported as ErrRoleNotFound.
func (r *Repository) GetRole(ctx context.Context, roleID int64) (rbac.Role, error) {
	var role rbac.Role
	var rawPerms []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, display_name, permissions, is_active, created_at, updated_at
		FROM roles
		WHERE id = $1 AND is_active = TRUE`, roleID).
		Scan(&role.ID, &role.Name, &role.DisplayName, &rawPerms, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Role{}, ErrRoleNotFound
		}
		return rbac.Role{}, err
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &role.Permissions); err != nil {
			return rbac.Role{}, fmt.Errorf("assignment: decode permissions for role %d: %w", roleID, err)
		}
	}
	return role, nil
}

// GetAssignment loads the assignment row for (userID, roleID), nil when none
// exists. Inactive and expired rows are returned too; effectiveness is the
// validator's call.
func (r *Repository) GetAssignment(ctx context.Context, userID, roleID int64) (*RoleAssignment, error) {
	var a RoleAssignment
	err := r.pool.QueryRow(ctx, `
		SELECT ra.user_id, ra.role_id, ro.name, ra.assigned_by, ra.assigned_at, ra.expires_at, ra.notes, ra.is_active
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.user_id = $1 AND ra.role_id = $2`, userID, roleID).
		Scan(&a.UserID, &a.RoleID, &a.RoleName, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.Notes, &a.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// EffectiveRoleNames returns the names of roles the user currently holds
// effectively (active assignment, unexpired, active role).
func (r *Repository) EffectiveRoleNames(ctx context.Context, userID int64) ([]rbac.RoleName, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ro.name
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.user_id = $1
		  AND ra.is_active = TRUE
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		  AND ro.is_active = TRUE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []rbac.RoleName
	for rows.Next() {
		var name rbac.RoleName
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// UpsertAssignment commits the grant in a single transaction. On conflict of
// (user_id, role_id) the existing row is reactivated in place, preserving it
// for audit continuity instead of creating a duplicate.
func (r *Repository) UpsertAssignment(ctx context.Context, a RoleAssignment) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO role_assignments (user_id, role_id, assigned_by, assigned_at, expires_at, notes, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, TRUE)
			ON CONFLICT (user_id, role_id) DO UPDATE SET
				assigned_by = EXCLUDED.assigned_by,
				assigned_at = EXCLUDED.assigned_at,
				expires_at  = EXCLUDED.expires_at,
				notes       = EXCLUDED.notes,
				is_active   = TRUE`,
			a.UserID, a.RoleID, a.AssignedBy, a.AssignedAt, a.ExpiresAt, a.Notes)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return fmt.Errorf("assignment: referenced row vanished before commit: %w", err)
		}
		return err
	}
	return nil
}

// DeactivateAssignment flips is_active off for an existing row. Reports
// whether a row was updated.
func (r *Repository) DeactivateAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListForUser returns all assignment rows for a user, newest first.
func (r *Repository) ListForUser(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ra.user_id, ra.role_id, ro.name, ra.assigned_by, ra.assigned_at, ra.expires_at, ra.notes, ra.is_active
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id
		WHERE ra.user_id = $1
		ORDER BY ra.assigned_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []RoleAssignment
	for rows.Next() {
		var a RoleAssignment
		if err := rows.Scan(&a.UserID, &a.RoleID, &a.RoleName, &a.AssignedBy, &a.AssignedAt, &a.ExpiresAt, &a.Notes, &a.IsActive); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

// DeactivateExpired flips is_active off for assignments whose expiry has
// elapsed. Run by the background sweep, not the request path.
func (r *Repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE role_assignments
		SET is_active = FALSE
		WHERE is_active = TRUE
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
