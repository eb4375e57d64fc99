package assignment

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/blocknest/blocknest/internal/audit"
	"github.com/blocknest/blocknest/internal/rbac"
	"github.com/blocknest/blocknest/internal/users"
)

type assignmentKey struct {
	userID int64
	roleID int64
}

// memRepo is an in-memory RepositoryPort for tests.
type memRepo struct {
	mu          sync.Mutex
	roles       map[int64]rbac.Role
	assignments map[assignmentKey]RoleAssignment

	getRoleCalls int
	upsertCalls  int
	failUpsert   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		roles:       make(map[int64]rbac.Role),
		assignments: make(map[assignmentKey]RoleAssignment),
	}
}

func (m *memRepo) GetRole(_ context.Context, roleID int64) (rbac.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getRoleCalls++
	role, ok := m.roles[roleID]
	if !ok || !role.IsActive {
		return rbac.Role{}, ErrRoleNotFound
	}
	return role, nil
}

func (m *memRepo) GetAssignment(_ context.Context, userID, roleID int64) (*RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[assignmentKey{userID, roleID}]
	if !ok {
		return nil, nil
	}
	copied := a
	return &copied, nil
}

func (m *memRepo) EffectiveRoleNames(_ context.Context, userID int64) ([]rbac.RoleName, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []rbac.RoleName
	for key, a := range m.assignments {
		if key.userID == userID && a.EffectiveAt(time.Now()) {
			names = append(names, a.RoleName)
		}
	}
	return names, nil
}

func (m *memRepo) UpsertAssignment(_ context.Context, a RoleAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertCalls++
	if m.failUpsert != nil {
		return m.failUpsert
	}
	if a.RoleName == "" {
		a.RoleName = m.roles[a.RoleID].Name
	}
	m.assignments[assignmentKey{a.UserID, a.RoleID}] = a
	return nil
}

func (m *memRepo) DeactivateAssignment(_ context.Context, userID, roleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := assignmentKey{userID, roleID}
	a, ok := m.assignments[key]
	if !ok || !a.IsActive {
		return false, nil
	}
	a.IsActive = false
	m.assignments[key] = a
	return true, nil
}

func (m *memRepo) ListForUser(_ context.Context, userID int64) ([]RoleAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []RoleAssignment
	for key, a := range m.assignments {
		if key.userID == userID {
			list = append(list, a)
		}
	}
	return list, nil
}

func (m *memRepo) rowCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key := range m.assignments {
		if key.userID == userID {
			n++
		}
	}
	return n
}

// memUsers is an in-memory UserDirectory for tests.
type memUsers struct {
	mu    sync.Mutex
	users map[int64]users.User
	calls int
}

func newMemUsers(list ...users.User) *memUsers {
	m := &memUsers{users: make(map[int64]users.User)}
	for _, u := range list {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) GetUser(_ context.Context, id int64) (users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	u, ok := m.users[id]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

// memAudit collects audit records in memory and doubles as the grant counter,
// the same dual role the real recorder plays.
type memAudit struct {
	mu         sync.Mutex
	records    []audit.Record
	failRecord error
	now        func() time.Time
}

func newMemAudit() *memAudit {
	return &memAudit{now: time.Now}
}

func (m *memAudit) Record(_ context.Context, rec audit.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRecord != nil {
		return m.failRecord
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memAudit) CountRecentGrants(_ context.Context, adminID int64, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.records {
		if rec.AdminID == adminID && rec.Action == audit.ActionRoleAssigned && rec.Success && rec.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (m *memAudit) all() []audit.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Record(nil), m.records...)
}

type stubInvalidator struct {
	mu    sync.Mutex
	bumps int
}

func (s *stubInvalidator) Invalidate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumps++
	return nil
}

type stubMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{outcomes: make(map[string]int)}
}

func (s *stubMetrics) GrantDecision(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[outcome]++
}

const (
	adminID      int64 = 1
	targetID     int64 = 2
	inactiveID   int64 = 3
	moderatorRID int64 = 10
	superRID     int64 = 11
	analyticsRID int64 = 12
	supportRID   int64 = 13
)

func activeUser(id int64, email string) users.User {
	return users.User{ID: id, Email: email, Name: email, IsActive: true}
}

func seedRoles(repo *memRepo) {
	repo.roles[moderatorRID] = rbac.Role{
		ID: moderatorRID, Name: rbac.RoleModerator, DisplayName: "Moderator",
		Permissions: map[string][]rbac.Action{"reports": {rbac.ActionRead, rbac.ActionWrite}},
		IsActive:    true,
	}
	repo.roles[superRID] = rbac.Role{
		ID: superRID, Name: rbac.RoleSuperAdmin, DisplayName: "Super Admin",
		Permissions: map[string][]rbac.Action{"users": {rbac.ActionManageRoles}},
		IsActive:    true,
	}
	repo.roles[analyticsRID] = rbac.Role{
		ID: analyticsRID, Name: rbac.RoleAnalyticsViewer, DisplayName: "Analytics Viewer",
		Permissions: map[string][]rbac.Action{"analytics": {rbac.ActionRead}},
		IsActive:    true,
	}
	repo.roles[supportRID] = rbac.Role{
		ID: supportRID, Name: rbac.RoleSupport, DisplayName: "Support",
		IsActive: false,
	}
}

type testEnv struct {
	svc     *Service
	repo    *memRepo
	dir     *memUsers
	trail   *memAudit
	cache   *stubInvalidator
	metrics *stubMetrics
}

func newTestEnv() *testEnv {
	repo := newMemRepo()
	seedRoles(repo)
	dir := newMemUsers(
		activeUser(adminID, "admin@blocknest.test"),
		activeUser(targetID, "neighbor@blocknest.test"),
		users.User{ID: inactiveID, Email: "gone@blocknest.test", IsActive: false},
	)
	trail := newMemAudit()
	cache := &stubInvalidator{}
	metrics := newStubMetrics()
	svc := NewService(ServiceParams{
		Repo:        repo,
		Users:       dir,
		Audit:       trail,
		RateLimiter: NewRateLimiter(trail, 10, time.Hour),
		Invalidator: cache,
		Metrics:     metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testEnv{svc: svc, repo: repo, dir: dir, trail: trail, cache: cache, metrics: metrics}
}

func adminIdentity() rbac.Identity {
	return rbac.Identity{UserID: adminID, Roles: []rbac.RoleName{rbac.RoleCommunityManager}}
}

func superIdentity() rbac.Identity {
	return rbac.Identity{UserID: adminID, Roles: []rbac.RoleName{rbac.RoleSuperAdmin}}
}
