package assignment

import (
	"fmt"
	"time"

	"github.com/blocknest/blocknest/internal/rbac"
)

// MaxGrantDuration bounds how far in the future a grant may expire.
const MaxGrantDuration = 365 * 24 * time.Hour

// RoleAssignment is the persisted grant of a role to a user, unique on
// (UserID, RoleID). Re-grants after expiry or revocation reactivate the same
// row instead of inserting a new one.
type RoleAssignment struct {
	UserID     int64
	RoleID     int64
	RoleName   rbac.RoleName
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
	Notes      string
	IsActive   bool
}

// EffectiveAt reports whether the assignment is currently effective: active
// and either permanent or not yet expired.
func (a RoleAssignment) EffectiveAt(now time.Time) bool {
	return a.IsActive && (a.ExpiresAt == nil || a.ExpiresAt.After(now))
}

// AssignInput describes a grant request.
type AssignInput struct {
	CallerID     int64
	TargetUserID int64
	RoleID       int64
	ExpiresAt    *time.Time
	Notes        string
	IPAddress    string
	UserAgent    string
}

// RevokeInput describes a revocation request.
type RevokeInput struct {
	CallerID     int64
	TargetUserID int64
	RoleID       int64
	IPAddress    string
	UserAgent    string
}

// Result is the success payload of a grant.
type Result struct {
	UserID     int64         `json:"user_id"`
	RoleName   rbac.RoleName `json:"role_name"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
	AssignedBy int64         `json:"assigned_by"`
}

// Code identifies why a request was rejected.
type Code string

const (
	CodeSelfAssignmentForbidden Code = "SELF_ASSIGNMENT_FORBIDDEN"
	CodeUserNotFound            Code = "USER_NOT_FOUND"
	CodeUserInactive            Code = "USER_INACTIVE"
	CodeRoleNotFound            Code = "ROLE_NOT_FOUND"
	CodeInsufficientPrivileges  Code = "INSUFFICIENT_PRIVILEGES"
	CodeRoleAlreadyAssigned     Code = "ROLE_ALREADY_ASSIGNED"
	CodeInvalidExpiration       Code = "INVALID_EXPIRATION"
	CodeExpirationTooLong       Code = "EXPIRATION_TOO_LONG"
	CodeRateLimitExceeded       Code = "RATE_LIMIT_EXCEEDED"
	CodeRedundantRoleAssignment Code = "REDUNDANT_ROLE_ASSIGNMENT"
	CodeAssignmentNotFound      Code = "ASSIGNMENT_NOT_FOUND"
	CodeAssignmentError         Code = "ASSIGNMENT_ERROR"
)

// Rejection is the terminal outcome of a failed validation check. It is an
// expected, caller-actionable result rather than an internal failure.
type Rejection struct {
	Code    Code
	Message string
	Data    map[string]any
}

// Error implements the error interface so rejections flow through the usual
// error paths and remain matchable with errors.As.
func (r *Rejection) Error() string {
	return fmt.Sprintf("assignment: %s: %s", r.Code, r.Message)
}

func reject(code Code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}
