package rbac

// NewIdentity derives the capability set for a caller from their active
// roles: the permission union across roles plus the role names themselves.
// Inactive roles must be filtered out by the caller (the repository only
// returns active ones).
func NewIdentity(userID int64, roles []Role) Identity {
	names := make([]RoleName, 0, len(roles))
	perms := make(PermissionSet)
	for _, role := range roles {
		names = append(names, role.Name)
		for resource, actions := range role.Permissions {
			set, ok := perms[resource]
			if !ok {
				set = make(map[Action]struct{}, len(actions))
				perms[resource] = set
			}
			for _, action := range actions {
				set[action] = struct{}{}
			}
		}
	}
	return Identity{UserID: userID, Roles: names, perms: perms}
}

// identitySnapshot is the cacheable wire form of an Identity.
type identitySnapshot struct {
	UserID      int64               `json:"user_id"`
	Roles       []RoleName          `json:"roles"`
	Permissions map[string][]Action `json:"permissions"`
}

func (id Identity) snapshot() identitySnapshot {
	perms := make(map[string][]Action, len(id.perms))
	for resource, actions := range id.perms {
		list := make([]Action, 0, len(actions))
		for action := range actions {
			list = append(list, action)
		}
		perms[resource] = list
	}
	return identitySnapshot{UserID: id.UserID, Roles: id.Roles, Permissions: perms}
}

func (s identitySnapshot) identity() Identity {
	perms := make(PermissionSet, len(s.Permissions))
	for resource, actions := range s.Permissions {
		set := make(map[Action]struct{}, len(actions))
		for _, action := range actions {
			set[action] = struct{}{}
		}
		perms[resource] = set
	}
	return Identity{UserID: s.UserID, Roles: s.Roles, perms: perms}
}
