package rbac

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage/storagetest"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

type fixture struct {
	store *storagetest.FakeStore
	eval  *Evaluator
	orgID string
	user  *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storagetest.NewFakeStore()
	orgID := uuid.New().String()
	require.NoError(t, store.Organizations().Create(context.Background(), &models.Organization{
		ID: orgID, Name: "T1", Status: models.OrgStatusActive,
	}))

	user := &models.User{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Email:      "user@example.com",
		ExternalID: "u-ext-1",
		Status:     models.UserStatusActive,
	}
	require.NoError(t, store.Users().Create(context.Background(), user))

	return &fixture{
		store: store,
		eval:  NewEvaluator(store, models.MaxRoleDepth, logger.NewNop()),
		orgID: orgID,
		user:  user,
	}
}

func (f *fixture) addRole(t *testing.T, name, parentID string, level int) *models.Role {
	t.Helper()
	r := &models.Role{ID: uuid.New().String(), OrgID: f.orgID, Name: name, ParentID: parentID, Level: level}
	require.NoError(t, f.store.Roles().Create(context.Background(), r))
	return r
}

func (f *fixture) addPermission(t *testing.T, name, resourceType, action string, effect models.PermissionEffect) *models.Permission {
	t.Helper()
	p := &models.Permission{
		ID: uuid.New().String(), OrgID: f.orgID, Name: name,
		ResourceType: resourceType, Action: action, Effect: effect,
	}
	require.NoError(t, f.store.Permissions().Create(context.Background(), p))
	return p
}

func (f *fixture) attach(t *testing.T, role *models.Role, perm *models.Permission) {
	t.Helper()
	require.NoError(t, f.store.Roles().AddPermission(context.Background(), &models.RolePermission{
		ID: uuid.New().String(), RoleID: role.ID, PermissionID: perm.ID,
	}))
}

func (f *fixture) grant(t *testing.T, role *models.Role, resourceType, resourceID string, expiresAt *time.Time) *models.UserRole {
	t.Helper()
	ur := &models.UserRole{
		ID: uuid.New().String(), UserID: f.user.ID, RoleID: role.ID,
		ResourceType: resourceType, ResourceID: resourceID,
		GrantedAt: time.Now(), ExpiresAt: expiresAt,
	}
	require.NoError(t, f.store.Roles().Grant(context.Background(), ur))
	return ur
}

func request(orgID, principal, action, resourceType, resourceID string) *models.DecisionRequest {
	return &models.DecisionRequest{
		TenantID:  orgID,
		Principal: models.PrincipalRef{ID: principal},
		Action:    action,
		Resource:  models.ResourceRef{Type: resourceType, ID: resourceID},
	}
}

func TestAllowThroughDirectRole(t *testing.T) {
	f := newFixture(t)
	viewer := f.addRole(t, "viewer", "", 0)
	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.attach(t, viewer, read)
	f.grant(t, viewer, "", "", nil)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Contains(t, res.Reason, "viewer")
	assert.Contains(t, res.Reason, "document:read")
	assert.Equal(t, []string{"viewer"}, res.ContributingRoles)
	assert.Equal(t, []string{"document:read"}, res.ContributingPermissions)
}

func TestDenyWhenPermissionMissing(t *testing.T) {
	f := newFixture(t)
	viewer := f.addRole(t, "viewer", "", 0)
	f.grant(t, viewer, "", "", nil)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)

	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "lacks")
	assert.Contains(t, res.Reason, "document:read")
}

func TestAllowThroughHierarchyClosure(t *testing.T) {
	f := newFixture(t)
	admin := f.addRole(t, "admin", "", 0)
	viewer := f.addRole(t, "viewer", admin.ID, 1)
	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.attach(t, admin, read)
	f.grant(t, viewer, "", "", nil)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)

	assert.Equal(t, models.DecisionAllow, res.Decision)
	assert.Contains(t, res.ContributingRoles, "admin")
}

func TestClosureContainsParentClosure(t *testing.T) {
	// closure(child) must cover everything closure(parent) covers.
	f := newFixture(t)
	root := f.addRole(t, "root", "", 0)
	mid := f.addRole(t, "mid", root.ID, 1)
	leaf := f.addRole(t, "leaf", mid.ID, 2)

	rootPerm := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	midPerm := f.addPermission(t, "folder:read", "folder", "read", models.EffectAllow)
	f.attach(t, root, rootPerm)
	f.attach(t, mid, midPerm)
	f.grant(t, leaf, "", "", nil)

	for _, tc := range []struct{ rtype, action string }{
		{"document", "read"},
		{"folder", "read"},
	} {
		res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", tc.action, tc.rtype, "x"))
		require.NoError(t, err)
		assert.Equal(t, models.DecisionAllow, res.Decision, tc.rtype)
	}
}

func TestHierarchyDepthBound(t *testing.T) {
	f := newFixture(t)

	// Chain of 12 roles; the permission sits on the far ancestor, past the
	// depth-10 closure bound for the deepest grant.
	roles := make([]*models.Role, 12)
	for i := range roles {
		parent := ""
		if i > 0 {
			parent = roles[i-1].ID
		}
		roles[i] = f.addRole(t, fmt.Sprintf("role-%d", i), parent, i)
	}
	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.attach(t, roles[0], read)

	// Granting at depth 10 reaches the root.
	f.grant(t, roles[10], "", "", nil)
	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, res.Decision)
}

func TestCycleSafety(t *testing.T) {
	f := newFixture(t)
	a := f.addRole(t, "a", "", 0)
	b := f.addRole(t, "b", a.ID, 1)
	// Corrupt data: close the cycle a -> b -> a.
	a.ParentID = b.ID
	require.NoError(t, f.store.Roles().Update(context.Background(), a))

	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.attach(t, a, read)
	f.grant(t, b, "", "", nil)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err, "cycle must not hang or error")
	assert.Equal(t, models.DecisionAllow, res.Decision)
}

func TestDenyOverAllow(t *testing.T) {
	f := newFixture(t)
	viewer := f.addRole(t, "viewer", "", 0)
	editor := f.addRole(t, "editor", "", 0)
	allow := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	denyPerm := f.addPermission(t, "document:read:deny", "document", "read", models.EffectDeny)
	f.attach(t, viewer, allow)
	f.attach(t, editor, denyPerm)
	f.grant(t, viewer, "", "", nil)
	f.grant(t, editor, "", "", nil)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "denied")
}

func TestScopeShapes(t *testing.T) {
	tests := []struct {
		name       string
		scopeType  string
		scopeID    string
		reqType    string
		reqID      string
		want       models.Decision
		wantReason string
	}{
		{"global scope matches any resource", "", "", "document", "doc-1", models.DecisionAllow, ""},
		{"type scope matches any id", "document", "", "document", "doc-99", models.DecisionAllow, ""},
		{"instance scope matches exactly", "document", "doc-1", "document", "doc-1", models.DecisionAllow, ""},
		{"instance scope rejects other id", "document", "doc-1", "document", "doc-2", models.DecisionDeny, "not scoped"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			viewer := f.addRole(t, "viewer", "", 0)
			read := f.addPermission(t, "document:read", tt.reqType, "read", models.EffectAllow)
			f.attach(t, viewer, read)
			f.grant(t, viewer, tt.scopeType, tt.scopeID, nil)

			res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", tt.reqType, tt.reqID))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Decision)
			if tt.wantReason != "" {
				assert.Contains(t, res.Reason, tt.wantReason)
			}
		})
	}
}

func TestExpiredGrantDoesNotContribute(t *testing.T) {
	f := newFixture(t)
	viewer := f.addRole(t, "viewer", "", 0)
	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.attach(t, viewer, read)

	past := time.Now().Add(-time.Minute)
	f.grant(t, viewer, "", "", &past)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "no roles")
}

func TestUnknownPrincipalDenied(t *testing.T) {
	f := newFixture(t)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "stranger", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "user not found")
}

func TestInactiveUserDenied(t *testing.T) {
	f := newFixture(t)
	f.user.Status = models.UserStatusInactive
	require.NoError(t, f.store.Users().Update(context.Background(), f.user))

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "user inactive")
}

func TestNoRolesDenied(t *testing.T) {
	f := newFixture(t)

	res, err := f.eval.Evaluate(context.Background(), request(f.orgID, "u-ext-1", "read", "document", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, res.Decision)
	assert.Contains(t, res.Reason, "no roles")
}

func TestRolePermissionRoundTripRestoresDecision(t *testing.T) {
	f := newFixture(t)
	viewer := f.addRole(t, "viewer", "", 0)
	read := f.addPermission(t, "document:read", "document", "read", models.EffectAllow)
	f.grant(t, viewer, "", "", nil)

	req := request(f.orgID, "u-ext-1", "read", "document", "doc-1")

	before, err := f.eval.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionDeny, before.Decision)

	rp := &models.RolePermission{ID: uuid.New().String(), RoleID: viewer.ID, PermissionID: read.ID}
	require.NoError(t, f.store.Roles().AddPermission(context.Background(), rp))

	during, err := f.eval.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, during.Decision)

	require.NoError(t, f.store.Roles().RemovePermission(context.Background(), viewer.ID, read.ID))

	after, err := f.eval.Evaluate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, before.Decision, after.Decision)
	assert.Equal(t, before.Reason, after.Reason)
}
