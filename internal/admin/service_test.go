package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage/storagetest"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

type harness struct {
	svc       *Service
	store     *storagetest.FakeStore
	published *[]models.MutationEvent
	org       *models.Organization
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := storagetest.NewFakeStore()
	bus := events.NewBus(logger.NewNop())
	var published []models.MutationEvent
	bus.SubscribeAll(func(e models.MutationEvent) { published = append(published, e) })

	svc := NewService(store, bus, nil, models.MaxRoleDepth, logger.NewNop())
	org, err := svc.CreateOrganization(context.Background(), "T1", "admin")
	require.NoError(t, err)

	return &harness{svc: svc, store: store, published: &published, org: org}
}

func (h *harness) addUser(t *testing.T, email, externalID string) *models.User {
	t.Helper()
	u, err := h.svc.CreateUser(context.Background(), &models.User{
		OrgID: h.org.ID, Email: email, ExternalID: externalID,
	}, "admin")
	require.NoError(t, err)
	return u
}

func (h *harness) lastEvent() models.MutationEvent {
	published := *h.published
	return published[len(published)-1]
}

func TestCreateOrganizationSeedsSystemRoles(t *testing.T) {
	h := newHarness(t)

	roles, err := h.svc.ListRoles(context.Background(), h.org.ID)
	require.NoError(t, err)
	require.Len(t, roles, 2)

	names := map[string]bool{}
	for _, r := range roles {
		names[r.Name] = true
		assert.True(t, r.IsSystem)
	}
	assert.True(t, names["org-admin"])
	assert.True(t, names["viewer"])
}

func TestDuplicateOrganizationNameConflicts(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.CreateOrganization(context.Background(), "T1", "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestSystemRolesImmutable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	roles, err := h.svc.ListRoles(ctx, h.org.ID)
	require.NoError(t, err)
	system := roles[0]

	system.Name = "renamed"
	err = h.svc.UpdateRole(ctx, h.org.ID, system, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))

	err = h.svc.DeleteRole(ctx, h.org.ID, system.ID, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindPrecondition))
}

func TestRoleHierarchyDepthLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	parentID := ""
	var last *models.Role
	// Levels 0..10 are all valid.
	for i := 0; i <= models.MaxRoleDepth; i++ {
		role, err := h.svc.CreateRole(ctx, h.org.ID, roleName(i), "", parentID, "admin")
		require.NoError(t, err, "level %d", i)
		assert.Equal(t, i, role.Level)
		parentID = role.ID
		last = role
	}

	// Level 11 is rejected.
	_, err := h.svc.CreateRole(ctx, h.org.ID, "too-deep", "", last.ID, "admin")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func roleName(i int) string { return string(rune('a'+i)) + "-role" }

func TestReparentCycleRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.svc.CreateRole(ctx, h.org.ID, "role-a", "", "", "admin")
	require.NoError(t, err)
	b, err := h.svc.CreateRole(ctx, h.org.ID, "role-b", "", a.ID, "admin")
	require.NoError(t, err)
	c, err := h.svc.CreateRole(ctx, h.org.ID, "role-c", "", b.ID, "admin")
	require.NoError(t, err)

	// a under c closes the cycle a -> b -> c -> a.
	a.ParentID = c.ID
	err = h.svc.UpdateRole(ctx, h.org.ID, a, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	// Self-parent is rejected too.
	b.ParentID = b.ID
	err = h.svc.UpdateRole(ctx, h.org.ID, b, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestReparentRelevelsSubtree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	root, err := h.svc.CreateRole(ctx, h.org.ID, "root", "", "", "admin")
	require.NoError(t, err)
	mid, err := h.svc.CreateRole(ctx, h.org.ID, "mid", "", root.ID, "admin")
	require.NoError(t, err)
	leaf, err := h.svc.CreateRole(ctx, h.org.ID, "leaf", "", mid.ID, "admin")
	require.NoError(t, err)

	// Detach mid to the top level: its subtree shifts up.
	mid.ParentID = ""
	require.NoError(t, h.svc.UpdateRole(ctx, h.org.ID, mid, "admin"))

	got, err := h.svc.GetRole(ctx, h.org.ID, mid.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Level)

	got, err = h.svc.GetRole(ctx, h.org.ID, leaf.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Level)

	assert.Equal(t, models.EventRoleChanged, h.lastEvent().Type)
}

func TestAssignRoleValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.addUser(t, "u@example.com", "u-ext-1")
	role, err := h.svc.CreateRole(ctx, h.org.ID, "editor", "", "", "admin")
	require.NoError(t, err)

	// resource id without type
	err = h.svc.AssignRole(ctx, h.org.ID, &models.UserRole{
		UserID: user.ID, RoleID: role.ID, ResourceID: "doc-1",
	}, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	// expiry in the past
	past := time.Now().Add(-time.Minute)
	err = h.svc.AssignRole(ctx, h.org.ID, &models.UserRole{
		UserID: user.ID, RoleID: role.ID, ExpiresAt: &past,
	}, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	// valid grant publishes a principal-scoped invalidation
	err = h.svc.AssignRole(ctx, h.org.ID, &models.UserRole{UserID: user.ID, RoleID: role.ID}, "admin")
	require.NoError(t, err)
	e := h.lastEvent()
	assert.Equal(t, models.EventUserRoleChanged, e.Type)
	assert.Equal(t, "u-ext-1", e.PrincipalKey)

	// duplicate grant conflicts
	err = h.svc.AssignRole(ctx, h.org.ID, &models.UserRole{UserID: user.ID, RoleID: role.ID}, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))
}

func TestRevokeRolePublishesInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.addUser(t, "u@example.com", "u-ext-1")
	role, err := h.svc.CreateRole(ctx, h.org.ID, "editor", "", "", "admin")
	require.NoError(t, err)
	require.NoError(t, h.svc.AssignRole(ctx, h.org.ID, &models.UserRole{UserID: user.ID, RoleID: role.ID}, "admin"))

	require.NoError(t, h.svc.RevokeRole(ctx, h.org.ID, user.ID, role.ID, "", "", "admin"))
	e := h.lastEvent()
	assert.Equal(t, models.EventUserRoleChanged, e.Type)
	assert.Equal(t, "u-ext-1", e.PrincipalKey)

	err = h.svc.RevokeRole(ctx, h.org.ID, user.ID, role.ID, "", "", "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestAttachDetachPermission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	role, err := h.svc.CreateRole(ctx, h.org.ID, "editor", "", "", "admin")
	require.NoError(t, err)
	perm, err := h.svc.CreatePermission(ctx, &models.Permission{
		OrgID: h.org.ID, Name: "document:read", ResourceType: "document", Action: "read",
	}, "admin")
	require.NoError(t, err)

	require.NoError(t, h.svc.AttachPermission(ctx, h.org.ID, role.ID, perm.ID, "admin"))
	assert.Equal(t, models.EventRolePermissionChanged, h.lastEvent().Type)

	// duplicate attach conflicts
	err = h.svc.AttachPermission(ctx, h.org.ID, role.ID, perm.ID, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindConflict))

	require.NoError(t, h.svc.DetachPermission(ctx, h.org.ID, role.ID, perm.ID, "admin"))
	assert.Equal(t, models.EventRolePermissionChanged, h.lastEvent().Type)
}

func TestCreatePermissionValidatesEffect(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.CreatePermission(context.Background(), &models.Permission{
		OrgID: h.org.ID, Name: "x", ResourceType: "document", Action: "read",
		Effect: models.PermissionEffect("audit"),
	}, "admin")
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	p, err := h.svc.CreatePermission(context.Background(), &models.Permission{
		OrgID: h.org.ID, Name: "y", ResourceType: "document", Action: "read",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.EffectAllow, p.Effect, "effect defaults to allow")
}

func TestSweepExpiredGrants(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.addUser(t, "u@example.com", "u-ext-1")
	role, err := h.svc.CreateRole(ctx, h.org.ID, "temp", "", "", "admin")
	require.NoError(t, err)

	// Insert an already-expired grant directly; the service rejects past
	// expiries at assignment time.
	past := time.Now().Add(-time.Hour)
	require.NoError(t, h.store.Roles().Grant(ctx, &models.UserRole{
		ID: "g-1", UserID: user.ID, RoleID: role.ID, GrantedAt: past.Add(-time.Hour), ExpiresAt: &past,
	}))

	n, err := h.svc.SweepExpiredGrants(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e := h.lastEvent()
	assert.Equal(t, models.EventUserRoleChanged, e.Type)
	assert.Equal(t, "u-ext-1", e.PrincipalKey)

	grants, err := h.store.Roles().GrantsForUser(ctx, user.ID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, grants, "expired grant is gone")
}

func TestSuspendRestoreOrganization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.SuspendOrganization(ctx, h.org.ID, "admin"))
	org, err := h.svc.GetOrganization(ctx, h.org.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrgStatusSuspended, org.Status)

	require.NoError(t, h.svc.RestoreOrganization(ctx, h.org.ID, "admin"))
	org, err = h.svc.GetOrganization(ctx, h.org.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrgStatusActive, org.Status)
}

func TestUpdateUserPublishesPrincipalInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.addUser(t, "u@example.com", "u-ext-1")

	user.Status = models.UserStatusInactive
	require.NoError(t, h.svc.UpdateUser(ctx, h.org.ID, user, "admin"))

	e := h.lastEvent()
	assert.Equal(t, models.EventUserChanged, e.Type)
	assert.Equal(t, "u-ext-1", e.PrincipalKey)
}
