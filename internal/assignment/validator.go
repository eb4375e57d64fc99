package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blocknest/blocknest/internal/rbac"
	"github.com/blocknest/blocknest/internal/users"
)

// UserDirectory abstracts target-user lookup.
type UserDirectory interface {
	GetUser(ctx context.Context, id int64) (users.User, error)
}

// Admitted is the snapshot handed to the committer once every check passed.
type Admitted struct {
	Target users.User
	Role   rbac.Role
}

// evalState carries the request plus whatever the checks have loaded so far.
// Checks are side-effect-free reads; none acquires a lock.
type evalState struct {
	input  AssignInput
	caller rbac.Identity
	now    time.Time

	target   users.User
	role     rbac.Role
	existing *RoleAssignment
}

type checkFn func(ctx context.Context, st *evalState) (*Rejection, error)

// Validator runs the admission checks for a grant request in a fixed order,
// stopping at the first rejection. Each check is an independent function so
// the invariants stay individually testable.
type Validator struct {
	users UserDirectory
	repo  RepositoryPort
	rate  *RateLimiter
	now   func() time.Time
}

// NewValidator builds a Validator.
func NewValidator(dir UserDirectory, repo RepositoryPort, rate *RateLimiter) *Validator {
	return &Validator{users: dir, repo: repo, rate: rate, now: time.Now}
}

// Validate admits or rejects the request. A nil *Rejection with nil error
// means admitted. Errors are infrastructure failures, not rejections.
func (v *Validator) Validate(ctx context.Context, caller rbac.Identity, input AssignInput) (Admitted, *Rejection, error) {
	st := &evalState{input: input, caller: caller, now: v.now()}
	for _, check := range v.checks() {
		rejection, err := check(ctx, st)
		if err != nil {
			return Admitted{}, nil, err
		}
		if rejection != nil {
			return Admitted{}, rejection, nil
		}
	}
	return Admitted{Target: st.target, Role: st.role}, nil, nil
}

func (v *Validator) checks() []checkFn {
	return []checkFn{
		v.checkSelfAssignment,
		v.checkTarget,
		v.checkRole,
		v.checkHierarchy,
		v.checkDuplicate,
		v.checkExpiration,
		v.checkRateLimit,
		v.checkRedundancy,
	}
}

// checkSelfAssignment runs first: it needs no state and admins must never
// alter their own privileges.
func (v *Validator) checkSelfAssignment(_ context.Context, st *evalState) (*Rejection, error) {
	if st.input.TargetUserID == st.input.CallerID {
		return reject(CodeSelfAssignmentForbidden, "administrators cannot modify their own roles"), nil
	}
	return nil, nil
}

func (v *Validator) checkTarget(ctx context.Context, st *evalState) (*Rejection, error) {
	target, err := v.users.GetUser(ctx, st.input.TargetUserID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return reject(CodeUserNotFound, "target user does not exist"), nil
		}
		return nil, err
	}
	if !target.IsActive {
		return reject(CodeUserInactive, "target user account is disabled"), nil
	}
	st.target = target
	return nil, nil
}

func (v *Validator) checkRole(ctx context.Context, st *evalState) (*Rejection, error) {
	role, err := v.repo.GetRole(ctx, st.input.RoleID)
	if err != nil {
		if errors.Is(err, ErrRoleNotFound) {
			return reject(CodeRoleNotFound, "role does not exist or is inactive"), nil
		}
		return nil, err
	}
	st.role = role
	return nil, nil
}

// checkHierarchy stops a lower-tier admin from handing out the top tier.
func (v *Validator) checkHierarchy(_ context.Context, st *evalState) (*Rejection, error) {
	if st.role.Name == rbac.RoleSuperAdmin && !st.caller.IsSuperAdmin() {
		return reject(CodeInsufficientPrivileges, "only super administrators may grant super_admin"), nil
	}
	return nil, nil
}

// checkDuplicate rejects grants of a currently-effective assignment. Expired
// or revoked rows pass through: the committer reactivates them in place.
func (v *Validator) checkDuplicate(ctx context.Context, st *evalState) (*Rejection, error) {
	existing, err := v.repo.GetAssignment(ctx, st.input.TargetUserID, st.input.RoleID)
	if err != nil {
		return nil, err
	}
	st.existing = existing
	if existing != nil && existing.EffectiveAt(st.now) {
		rejection := reject(CodeRoleAlreadyAssigned, "user already holds this role")
		rejection.Data = map[string]any{"expires_at": existing.ExpiresAt}
		return rejection, nil
	}
	return nil, nil
}

func (v *Validator) checkExpiration(_ context.Context, st *evalState) (*Rejection, error) {
	expiresAt := st.input.ExpiresAt
	if expiresAt == nil {
		return nil, nil
	}
	if !expiresAt.After(st.now) {
		return reject(CodeInvalidExpiration, "expiration must be in the future"), nil
	}
	if expiresAt.After(st.now.Add(MaxGrantDuration)) {
		return reject(CodeExpirationTooLong, fmt.Sprintf("expiration may be at most %d days out", int(MaxGrantDuration.Hours()/24))), nil
	}
	return nil, nil
}

func (v *Validator) checkRateLimit(ctx context.Context, st *evalState) (*Rejection, error) {
	ok, err := v.rate.Allow(ctx, st.input.CallerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return reject(CodeRateLimitExceeded, "too many role grants in the last hour"), nil
	}
	return nil, nil
}

// checkRedundancy: a super admin's privilege set already dominates any lesser
// role, so granting one on top is rejected as a likely mistake.
func (v *Validator) checkRedundancy(ctx context.Context, st *evalState) (*Rejection, error) {
	if st.role.Name == rbac.RoleSuperAdmin {
		return nil, nil
	}
	names, err := v.repo.EffectiveRoleNames(ctx, st.input.TargetUserID)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		if name == rbac.RoleSuperAdmin {
			return reject(CodeRedundantRoleAssignment, "user already holds super_admin, which covers this role"), nil
		}
	}
	return nil, nil
}
