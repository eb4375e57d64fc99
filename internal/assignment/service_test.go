package assignment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blocknest/blocknest/internal/audit"
	"github.com/blocknest/blocknest/internal/rbac"
)

func seedGrants(trail *memAudit, admin int64, n int, at time.Time) {
	for i := 0; i < n; i++ {
		trail.records = append(trail.records, audit.Record{
			AdminID:   admin,
			Action:    audit.ActionRoleAssigned,
			TargetID:  "2",
			Success:   true,
			CreatedAt: at,
		})
	}
}

func TestAssignRoleSuccess(t *testing.T) {
	env := newTestEnv()
	expires := time.Now().Add(30 * 24 * time.Hour)

	result, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
		ExpiresAt:    &expires,
		Notes:        "covering the north district",
	})
	require.NoError(t, err)
	require.Equal(t, targetID, result.UserID)
	require.Equal(t, rbac.RoleModerator, result.RoleName)
	require.Equal(t, adminID, result.AssignedBy)
	require.NotNil(t, result.ExpiresAt)

	stored, err := env.repo.GetAssignment(context.Background(), targetID, moderatorRID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.IsActive)
	require.Equal(t, adminID, stored.AssignedBy)

	records := env.trail.all()
	require.Len(t, records, 1)
	require.Equal(t, audit.ActionRoleAssigned, records[0].Action)
	require.True(t, records[0].Success)
	require.Equal(t, "2", records[0].TargetID)
	require.Equal(t, "moderator", records[0].Metadata["role_name"])
	require.Equal(t, "neighbor@blocknest.test", records[0].Metadata["target_email"])

	require.Equal(t, 1, env.cache.bumps)
	require.Equal(t, 1, env.metrics.outcomes["admitted"])
}

func TestAssignRoleRejections(t *testing.T) {
	cases := []struct {
		name   string
		caller rbac.Identity
		input  AssignInput
		code   Code
	}{
		{
			name:   "self assignment",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: adminID, RoleID: moderatorRID},
			code:   CodeSelfAssignmentForbidden,
		},
		{
			name:   "unknown user",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: 999, RoleID: moderatorRID},
			code:   CodeUserNotFound,
		},
		{
			name:   "inactive user",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: inactiveID, RoleID: moderatorRID},
			code:   CodeUserInactive,
		},
		{
			name:   "unknown role",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: targetID, RoleID: 999},
			code:   CodeRoleNotFound,
		},
		{
			name:   "inactive role",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: targetID, RoleID: supportRID},
			code:   CodeRoleNotFound,
		},
		{
			name:   "non-super granting super_admin",
			caller: adminIdentity(),
			input:  AssignInput{TargetUserID: targetID, RoleID: superRID},
			code:   CodeInsufficientPrivileges,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			_, err := env.svc.AssignRole(context.Background(), tc.caller, tc.input)

			var rejection *Rejection
			require.ErrorAs(t, err, &rejection)
			require.Equal(t, tc.code, rejection.Code)

			require.Empty(t, env.trail.all(), "validation rejections must not be audited")
			require.Zero(t, env.repo.upsertCalls)
			require.Zero(t, env.cache.bumps)
			require.Equal(t, 1, env.metrics.outcomes[string(tc.code)])
		})
	}
}

func TestAssignRoleSuperAdminBySuperAdmin(t *testing.T) {
	env := newTestEnv()

	result, err := env.svc.AssignRole(context.Background(), superIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       superRID,
	})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSuperAdmin, result.RoleName)
}

func TestAssignRoleDuplicate(t *testing.T) {
	env := newTestEnv()
	expires := time.Now().Add(time.Hour)
	env.repo.assignments[assignmentKey{targetID, moderatorRID}] = RoleAssignment{
		UserID: targetID, RoleID: moderatorRID, RoleName: rbac.RoleModerator,
		AssignedBy: 7, AssignedAt: time.Now().Add(-time.Hour), ExpiresAt: &expires, IsActive: true,
	}

	_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
	})
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, CodeRoleAlreadyAssigned, rejection.Code)
	require.Contains(t, rejection.Data, "expires_at")
}

func TestAssignRoleReactivatesExpiredRow(t *testing.T) {
	env := newTestEnv()
	expired := time.Now().Add(-time.Hour)
	env.repo.assignments[assignmentKey{targetID, moderatorRID}] = RoleAssignment{
		UserID: targetID, RoleID: moderatorRID, RoleName: rbac.RoleModerator,
		AssignedBy: 7, AssignedAt: time.Now().Add(-48 * time.Hour), ExpiresAt: &expired, IsActive: true,
	}

	_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
	})
	require.NoError(t, err)

	require.Equal(t, 1, env.repo.rowCount(targetID), "re-grant must reuse the existing row")
	stored, _ := env.repo.GetAssignment(context.Background(), targetID, moderatorRID)
	require.True(t, stored.IsActive)
	require.Equal(t, adminID, stored.AssignedBy)
	require.Nil(t, stored.ExpiresAt)
}

func TestAssignRoleExpirationBounds(t *testing.T) {
	cases := []struct {
		name    string
		expires time.Duration
		code    Code
	}{
		{"in the past", -time.Second, CodeInvalidExpiration},
		{"beyond a year", 366 * 24 * time.Hour, CodeExpirationTooLong},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			expires := time.Now().Add(tc.expires)
			_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
				TargetUserID: targetID,
				RoleID:       moderatorRID,
				ExpiresAt:    &expires,
			})
			var rejection *Rejection
			require.ErrorAs(t, err, &rejection)
			require.Equal(t, tc.code, rejection.Code)
		})
	}
}

func TestAssignRoleRedundantForSuperAdmin(t *testing.T) {
	env := newTestEnv()
	env.repo.assignments[assignmentKey{targetID, superRID}] = RoleAssignment{
		UserID: targetID, RoleID: superRID, RoleName: rbac.RoleSuperAdmin,
		AssignedBy: 7, AssignedAt: time.Now().Add(-time.Hour), IsActive: true,
	}

	_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
	})
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, CodeRedundantRoleAssignment, rejection.Code)
}

func TestAssignRoleRateLimit(t *testing.T) {
	t.Run("tenth recent grant blocks", func(t *testing.T) {
		env := newTestEnv()
		seedGrants(env.trail, adminID, 10, time.Now().Add(-10*time.Minute))

		_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		var rejection *Rejection
		require.ErrorAs(t, err, &rejection)
		require.Equal(t, CodeRateLimitExceeded, rejection.Code)
	})

	t.Run("ninth recent grant passes", func(t *testing.T) {
		env := newTestEnv()
		seedGrants(env.trail, adminID, 9, time.Now().Add(-10*time.Minute))

		_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		require.NoError(t, err)
	})

	t.Run("grants age out of the window", func(t *testing.T) {
		env := newTestEnv()
		seedGrants(env.trail, adminID, 10, time.Now().Add(-61*time.Minute))

		_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		require.NoError(t, err)
	})

	t.Run("other admins have their own budget", func(t *testing.T) {
		env := newTestEnv()
		seedGrants(env.trail, 42, 10, time.Now().Add(-10*time.Minute))

		_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		require.NoError(t, err)
	})
}

func TestAssignRoleCommitFailureIsAudited(t *testing.T) {
	env := newTestEnv()
	env.repo.failUpsert = errors.New("connection reset")

	_, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
	})
	require.Error(t, err)
	var rejection *Rejection
	require.False(t, errors.As(err, &rejection), "infrastructure failures are not rejections")

	records := env.trail.all()
	require.Len(t, records, 1)
	require.Equal(t, audit.ActionRoleAssignmentFailed, records[0].Action)
	require.False(t, records[0].Success)
	require.Equal(t, "moderator", records[0].Metadata["role_name"])
	require.Contains(t, records[0].Metadata["error"], "connection reset")

	require.Zero(t, env.cache.bumps)
	require.Equal(t, 1, env.metrics.outcomes[string(CodeAssignmentError)])
}

func TestAssignRoleAuditFailureDoesNotFailGrant(t *testing.T) {
	env := newTestEnv()
	env.trail.failRecord = errors.New("audit store down")

	result, err := env.svc.AssignRole(context.Background(), adminIdentity(), AssignInput{
		TargetUserID: targetID,
		RoleID:       moderatorRID,
	})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleModerator, result.RoleName)

	stored, _ := env.repo.GetAssignment(context.Background(), targetID, moderatorRID)
	require.NotNil(t, stored)
	require.True(t, stored.IsActive)
}

func TestRevokeRole(t *testing.T) {
	seed := func(env *testEnv) {
		env.repo.assignments[assignmentKey{targetID, moderatorRID}] = RoleAssignment{
			UserID: targetID, RoleID: moderatorRID, RoleName: rbac.RoleModerator,
			AssignedBy: adminID, AssignedAt: time.Now().Add(-time.Hour), IsActive: true,
		}
	}

	t.Run("success", func(t *testing.T) {
		env := newTestEnv()
		seed(env)

		err := env.svc.RevokeRole(context.Background(), adminIdentity(), RevokeInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		require.NoError(t, err)

		stored, _ := env.repo.GetAssignment(context.Background(), targetID, moderatorRID)
		require.False(t, stored.IsActive)

		records := env.trail.all()
		require.Len(t, records, 1)
		require.Equal(t, audit.ActionRoleRevoked, records[0].Action)
		require.True(t, records[0].Success)
		require.Equal(t, 1, env.cache.bumps)
	})

	t.Run("not held", func(t *testing.T) {
		env := newTestEnv()

		err := env.svc.RevokeRole(context.Background(), adminIdentity(), RevokeInput{
			TargetUserID: targetID,
			RoleID:       moderatorRID,
		})
		var rejection *Rejection
		require.ErrorAs(t, err, &rejection)
		require.Equal(t, CodeAssignmentNotFound, rejection.Code)
	})

	t.Run("self revocation forbidden", func(t *testing.T) {
		env := newTestEnv()

		err := env.svc.RevokeRole(context.Background(), adminIdentity(), RevokeInput{
			TargetUserID: adminID,
			RoleID:       moderatorRID,
		})
		var rejection *Rejection
		require.ErrorAs(t, err, &rejection)
		require.Equal(t, CodeSelfAssignmentForbidden, rejection.Code)
	})

	t.Run("super_admin needs super caller", func(t *testing.T) {
		env := newTestEnv()
		env.repo.assignments[assignmentKey{targetID, superRID}] = RoleAssignment{
			UserID: targetID, RoleID: superRID, RoleName: rbac.RoleSuperAdmin,
			AssignedBy: 7, AssignedAt: time.Now().Add(-time.Hour), IsActive: true,
		}

		err := env.svc.RevokeRole(context.Background(), adminIdentity(), RevokeInput{
			TargetUserID: targetID,
			RoleID:       superRID,
		})
		var rejection *Rejection
		require.ErrorAs(t, err, &rejection)
		require.Equal(t, CodeInsufficientPrivileges, rejection.Code)

		require.NoError(t, env.svc.RevokeRole(context.Background(), superIdentity(), RevokeInput{
			TargetUserID: targetID,
			RoleID:       superRID,
		}))
	})
}

func TestListUserAssignments(t *testing.T) {
	env := newTestEnv()
	env.repo.assignments[assignmentKey{targetID, moderatorRID}] = RoleAssignment{
		UserID: targetID, RoleID: moderatorRID, RoleName: rbac.RoleModerator, IsActive: true,
	}
	env.repo.assignments[assignmentKey{targetID, analyticsRID}] = RoleAssignment{
		UserID: targetID, RoleID: analyticsRID, RoleName: rbac.RoleAnalyticsViewer, IsActive: false,
	}

	list, err := env.svc.ListUserAssignments(context.Background(), targetID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}
