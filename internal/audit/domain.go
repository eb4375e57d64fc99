package audit

import "time"

// ActionType enumerates the audit actions this engine emits.
type ActionType string

const (
	// ActionRoleAssigned records a successfully committed grant.
	ActionRoleAssigned ActionType = "admin_role_assigned"
	// ActionRoleAssignmentFailed records a grant or revocation that failed
	// past validation (commit error or unexpected failure).
	ActionRoleAssignmentFailed ActionType = "admin_role_assignment_failed"
	// ActionRoleRevoked records a successful revocation.
	ActionRoleRevoked ActionType = "admin_role_revoked"
)

// TargetTypeUser marks records whose target is a member account.
const TargetTypeUser = "user"

// Record is one append-only audit entry. Records are written exactly once
// per request outcome and never updated or deleted by the engine.
type Record struct {
	ID         string
	AdminID    int64
	Action     ActionType
	TargetType string
	TargetID   string
	Metadata   map[string]any
	IPAddress  string
	UserAgent  string
	Success    bool
	CreatedAt  time.Time
}
