package rbac

import "time"

// RoleName enumerates the administrative roles known to the platform.
type RoleName string

const (
	// RoleSuperAdmin is the highest-privilege tier; it dominates every other role.
	RoleSuperAdmin RoleName = "super_admin"
	// RoleModerator can act on reported content and user sanctions.
	RoleModerator RoleName = "moderator"
	// RoleAnalyticsViewer grants read access to aggregated metrics.
	RoleAnalyticsViewer RoleName = "analytics_viewer"
	// RoleCommunityManager administers neighborhood groups and events.
	RoleCommunityManager RoleName = "community_manager"
	// RoleSupport handles user-facing support tooling.
	RoleSupport RoleName = "support"
)

// Action enumerates operations a permission can allow on a resource.
type Action string

const (
	ActionRead        Action = "read"
	ActionWrite       Action = "write"
	ActionDelete      Action = "delete"
	ActionManageRoles Action = "manage_roles"
)

// Role bundles named permissions. Roles are created out-of-band; the engine
// only reads active ones.
type Role struct {
	ID          int64
	Name        RoleName
	DisplayName string
	Permissions map[string][]Action
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PermissionSet maps resource names to the set of allowed actions.
type PermissionSet map[string]map[Action]struct{}

// Identity is the per-request view of an authenticated administrative caller:
// the user id plus the currently active role names and derived permissions.
// It is computed from persisted role assignments and never stored itself.
type Identity struct {
	UserID int64
	Roles  []RoleName
	perms  PermissionSet
}

// HasRole reports whether the identity's active role set includes name.
func (id Identity) HasRole(name RoleName) bool {
	for _, r := range id.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether the identity holds the top-tier role.
func (id Identity) IsSuperAdmin() bool { return id.HasRole(RoleSuperAdmin) }

// IsModerator reports whether the identity holds the moderator role.
func (id Identity) IsModerator() bool { return id.HasRole(RoleModerator) }

// IsAnalyticsViewer reports whether the identity may view analytics.
func (id Identity) IsAnalyticsViewer() bool { return id.HasRole(RoleAnalyticsViewer) }

// Can reports whether the identity may perform action on resource. The
// super_admin permission set dominates every lesser role, so holders pass
// every check.
func (id Identity) Can(resource string, action Action) bool {
	if id.IsSuperAdmin() {
		return true
	}
	actions, ok := id.perms[resource]
	if !ok {
		return false
	}
	_, ok = actions[action]
	return ok
}
