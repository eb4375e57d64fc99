package assignment

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/blocknest/blocknest/internal/audit"
	"github.com/blocknest/blocknest/internal/rbac"
)

// AuditPort abstracts the append-only audit trail.
type AuditPort interface {
	Record(ctx context.Context, rec audit.Record) error
}

// PermissionInvalidator drops cached capability sets after a state change.
type PermissionInvalidator interface {
	Invalidate(ctx context.Context) error
}

// GrantMetrics counts grant decisions by outcome.
type GrantMetrics interface {
	GrantDecision(outcome string)
}

// ServiceParams groups the dependencies of Service. Invalidator and Metrics
// may be nil.
type ServiceParams struct {
	Repo        RepositoryPort
	Users       UserDirectory
	Audit       AuditPort
	RateLimiter *RateLimiter
	Invalidator PermissionInvalidator
	Metrics     GrantMetrics
	Logger      *slog.Logger
}

// Service runs the role-lifecycle workflow: validate, commit, audit. Exactly
// one audit record is written per request outcome: on the happy path after
// commit, and on any unexpected failure after rollback. Ordinary validation
// rejections are returned to the caller without an audit side effect.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	validator   *Validator
	invalidator PermissionInvalidator
	metrics     GrantMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewService builds Service.
func NewService(params ServiceParams) *Service {
	return &Service{
		repo:        params.Repo,
		audit:       params.Audit,
		validator:   NewValidator(params.Users, params.Repo, params.RateLimiter),
		invalidator: params.Invalidator,
		metrics:     params.Metrics,
		logger:      params.Logger,
		now:         time.Now,
	}
}

// AssignRole grants a role to a user on behalf of the caller. It returns a
// *Rejection error for validation failures and an opaque error for anything
// unexpected; the latter is always accompanied by a failure audit record.
func (s *Service) AssignRole(ctx context.Context, caller rbac.Identity, input AssignInput) (Result, error) {
	input.CallerID = caller.UserID

	admitted, rejection, err := s.validator.Validate(ctx, caller, input)
	if rejection != nil {
		s.countDecision(string(rejection.Code))
		return Result{}, rejection
	}
	if err != nil {
		s.auditGrantFailure(ctx, input, "", err)
		s.countDecision(string(CodeAssignmentError))
		return Result{}, fmt.Errorf("assignment: validate: %w", err)
	}

	assignedAt := s.now().UTC()
	row := RoleAssignment{
		UserID:     input.TargetUserID,
		RoleID:     input.RoleID,
		RoleName:   admitted.Role.Name,
		AssignedBy: caller.UserID,
		AssignedAt: assignedAt,
		ExpiresAt:  input.ExpiresAt,
		Notes:      input.Notes,
		IsActive:   true,
	}
	if err := s.repo.UpsertAssignment(ctx, row); err != nil {
		s.auditGrantFailure(ctx, input, admitted.Role.Name, err)
		s.countDecision(string(CodeAssignmentError))
		return Result{}, fmt.Errorf("assignment: commit: %w", err)
	}

	meta := map[string]any{
		"role_name":    string(admitted.Role.Name),
		"target_email": admitted.Target.Email,
	}
	if input.ExpiresAt != nil {
		meta["expires_at"] = input.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if input.Notes != "" {
		meta["notes"] = input.Notes
	}
	s.record(ctx, audit.Record{
		AdminID:    caller.UserID,
		Action:     audit.ActionRoleAssigned,
		TargetType: audit.TargetTypeUser,
		TargetID:   strconv.FormatInt(input.TargetUserID, 10),
		Metadata:   meta,
		IPAddress:  input.IPAddress,
		UserAgent:  input.UserAgent,
		Success:    true,
	})
	s.invalidate(ctx)
	s.countDecision("admitted")

	return Result{
		UserID:     input.TargetUserID,
		RoleName:   admitted.Role.Name,
		ExpiresAt:  input.ExpiresAt,
		AssignedBy: caller.UserID,
	}, nil
}

// RevokeRole deactivates an existing assignment. The same hierarchy rule
// applies as for granting: only super admins touch super_admin.
func (s *Service) RevokeRole(ctx context.Context, caller rbac.Identity, input RevokeInput) error {
	input.CallerID = caller.UserID

	if input.TargetUserID == caller.UserID {
		return reject(CodeSelfAssignmentForbidden, "administrators cannot modify their own roles")
	}
	existing, err := s.repo.GetAssignment(ctx, input.TargetUserID, input.RoleID)
	if err != nil {
		s.auditRevokeFailure(ctx, input, err)
		return fmt.Errorf("assignment: revoke lookup: %w", err)
	}
	if existing == nil || !existing.IsActive {
		return reject(CodeAssignmentNotFound, "user does not hold this role")
	}
	if existing.RoleName == rbac.RoleSuperAdmin && !caller.IsSuperAdmin() {
		return reject(CodeInsufficientPrivileges, "only super administrators may revoke super_admin")
	}

	revoked, err := s.repo.DeactivateAssignment(ctx, input.TargetUserID, input.RoleID)
	if err != nil {
		s.auditRevokeFailure(ctx, input, err)
		return fmt.Errorf("assignment: revoke: %w", err)
	}
	if !revoked {
		return reject(CodeAssignmentNotFound, "user does not hold this role")
	}

	s.record(ctx, audit.Record{
		AdminID:    caller.UserID,
		Action:     audit.ActionRoleRevoked,
		TargetType: audit.TargetTypeUser,
		TargetID:   strconv.FormatInt(input.TargetUserID, 10),
		Metadata: map[string]any{
			"role_name": string(existing.RoleName),
			"role_id":   input.RoleID,
		},
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Success:   true,
	})
	s.invalidate(ctx)
	return nil
}

// ListUserAssignments returns every assignment row for a user.
func (s *Service) ListUserAssignments(ctx context.Context, userID int64) ([]RoleAssignment, error) {
	return s.repo.ListForUser(ctx, userID)
}

// auditGrantFailure writes the failure record for a grant that blew up past
// validation. Context that never got resolved is recorded as "unknown". A
// secondary failure writing this record must not mask the original error, so
// it is only logged.
func (s *Service) auditGrantFailure(ctx context.Context, input AssignInput, roleName rbac.RoleName, cause error) {
	name := "unknown"
	if roleName != "" {
		name = string(roleName)
	}
	s.record(ctx, audit.Record{
		AdminID:    input.CallerID,
		Action:     audit.ActionRoleAssignmentFailed,
		TargetType: audit.TargetTypeUser,
		TargetID:   strconv.FormatInt(input.TargetUserID, 10),
		Metadata: map[string]any{
			"role_id":   input.RoleID,
			"role_name": name,
			"error":     cause.Error(),
		},
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Success:   false,
	})
}

func (s *Service) auditRevokeFailure(ctx context.Context, input RevokeInput, cause error) {
	s.record(ctx, audit.Record{
		AdminID:    input.CallerID,
		Action:     audit.ActionRoleAssignmentFailed,
		TargetType: audit.TargetTypeUser,
		TargetID:   strconv.FormatInt(input.TargetUserID, 10),
		Metadata: map[string]any{
			"operation": "revoke",
			"role_id":   input.RoleID,
			"error":     cause.Error(),
		},
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
		Success:   false,
	})
}

func (s *Service) record(ctx context.Context, rec audit.Record) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, rec); err != nil && s.logger != nil {
		s.logger.Error("audit write failed",
			slog.String("action", string(rec.Action)),
			slog.String("target_id", rec.TargetID),
			slog.Any("error", err))
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Invalidate(ctx); err != nil && s.logger != nil {
		s.logger.Warn("permission cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) countDecision(outcome string) {
	if s.metrics != nil {
		s.metrics.GrantDecision(outcome)
	}
}
