// Package admin implements the management operations: organizations, users,
// roles, permissions and grants. Every mutation records an audit entry;
// mutations that can change a decision publish an invalidation event once
// their store write has succeeded.
package admin

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// systemRoles are seeded into every new organization. They cannot be
// renamed, reparented or deleted.
var systemRoles = []struct {
	name    string
	display string
}{
	{"org-admin", "Organization Administrator"},
	{"viewer", "Viewer"},
}

// Service exposes the management surface.
type Service struct {
	store    storage.Store
	bus      events.Publisher
	recorder *audit.Recorder
	maxDepth int
	logger   logger.Logger
}

func NewService(store storage.Store, bus events.Publisher, rec *audit.Recorder, maxDepth int, log logger.Logger) *Service {
	if maxDepth <= 0 {
		maxDepth = models.MaxRoleDepth
	}
	return &Service{store: store, bus: bus, recorder: rec, maxDepth: maxDepth, logger: log}
}

/* --------------------------------- organizations -------------------------------- */

// CreateOrganization creates a tenant and seeds its system roles.
func (s *Service) CreateOrganization(ctx context.Context, name string, actorID string) (*models.Organization, error) {
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "organization name is required")
	}

	org := &models.Organization{
		ID:     uuid.New().String(),
		Name:   name,
		Status: models.OrgStatusActive,
	}
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Organizations().Create(ctx, org); err != nil {
			return err
		}
		for _, sr := range systemRoles {
			role := &models.Role{
				ID:          uuid.New().String(),
				OrgID:       org.ID,
				Name:        sr.name,
				DisplayName: sr.display,
				IsSystem:    true,
			}
			if err := s.store.Roles().Create(ctx, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(org.ID, actorID, "organization.create", "organization", org.ID, map[string]interface{}{"name": name})
	return org, nil
}

func (s *Service) GetOrganization(ctx context.Context, id string) (*models.Organization, error) {
	return s.store.Organizations().GetByID(ctx, id)
}

func (s *Service) ListOrganizations(ctx context.Context) ([]*models.Organization, error) {
	return s.store.Organizations().List(ctx)
}

// SuspendOrganization blocks the tenant at the gate without deleting data.
func (s *Service) SuspendOrganization(ctx context.Context, id, actorID string) error {
	if err := s.store.Organizations().UpdateStatus(ctx, id, models.OrgStatusSuspended); err != nil {
		return err
	}
	s.audit(id, actorID, "organization.suspend", "organization", id, nil)
	return nil
}

// RestoreOrganization reactivates a suspended tenant.
func (s *Service) RestoreOrganization(ctx context.Context, id, actorID string) error {
	if err := s.store.Organizations().UpdateStatus(ctx, id, models.OrgStatusActive); err != nil {
		return err
	}
	s.audit(id, actorID, "organization.restore", "organization", id, nil)
	return nil
}

// DeleteOrganization soft-deletes the tenant.
func (s *Service) DeleteOrganization(ctx context.Context, id, actorID string) error {
	if err := s.store.Organizations().SoftDelete(ctx, id); err != nil {
		return err
	}
	s.audit(id, actorID, "organization.delete", "organization", id, nil)
	return nil
}

/* ------------------------------------- users ------------------------------------ */

func (s *Service) CreateUser(ctx context.Context, user *models.User, actorID string) (*models.User, error) {
	if user.Email == "" {
		return nil, apperr.New(apperr.KindValidation, "email is required")
	}
	if _, err := s.store.Organizations().GetByID(ctx, user.OrgID); err != nil {
		return nil, err
	}

	user.ID = uuid.New().String()
	if user.Status == "" {
		user.Status = models.UserStatusActive
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	s.audit(user.OrgID, actorID, "user.create", "user", user.ID, map[string]interface{}{"email": user.Email})
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, orgID, userID string) (*models.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.OrgID != orgID {
		return nil, apperr.New(apperr.KindNotFound, "user not found")
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, orgID string) ([]*models.User, error) {
	return s.store.Users().List(ctx, orgID)
}

// UpdateUser applies status and attribute changes, then invalidates the
// principal's cached decisions.
func (s *Service) UpdateUser(ctx context.Context, orgID string, user *models.User, actorID string) error {
	existing, err := s.GetUser(ctx, orgID, user.ID)
	if err != nil {
		return err
	}
	user.OrgID = existing.OrgID
	if err := s.store.Users().Update(ctx, user); err != nil {
		return err
	}

	s.publish(models.MutationEvent{
		Type:         models.EventUserChanged,
		TenantID:     orgID,
		PrincipalKey: existing.PrincipalKey(),
		EntityID:     user.ID,
	})
	s.audit(orgID, actorID, "user.update", "user", user.ID, nil)
	return nil
}

func (s *Service) DeleteUser(ctx context.Context, orgID, userID, actorID string) error {
	existing, err := s.GetUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if err := s.store.Users().SoftDelete(ctx, userID); err != nil {
		return err
	}

	s.publish(models.MutationEvent{
		Type:         models.EventUserChanged,
		TenantID:     orgID,
		PrincipalKey: existing.PrincipalKey(),
		EntityID:     userID,
	})
	s.audit(orgID, actorID, "user.delete", "user", userID, nil)
	return nil
}

/* ------------------------------------- roles ------------------------------------ */

// CreateRole creates a role. The level derives from the parent; depth is
// bounded.
func (s *Service) CreateRole(ctx context.Context, orgID, name, displayName, parentID string, actorID string) (*models.Role, error) {
	if name == "" {
		return nil, apperr.New(apperr.KindValidation, "role name is required")
	}

	level := 0
	if parentID != "" {
		parent, err := s.store.Roles().GetByID(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.OrgID != orgID {
			return nil, apperr.New(apperr.KindValidation, "parent role belongs to another organization")
		}
		level = parent.Level + 1
		if level > s.maxDepth {
			return nil, apperr.Newf(apperr.KindConflict, "role hierarchy exceeds maximum depth %d", s.maxDepth).
				WithDetails(map[string]interface{}{"maxDepth": s.maxDepth, "level": level})
		}
	}

	role := &models.Role{
		ID:          uuid.New().String(),
		OrgID:       orgID,
		Name:        name,
		DisplayName: displayName,
		ParentID:    parentID,
		Level:       level,
	}
	if err := s.store.Roles().Create(ctx, role); err != nil {
		return nil, err
	}

	s.audit(orgID, actorID, "role.create", "role", role.ID, map[string]interface{}{"name": name, "parent": parentID})
	return role, nil
}

func (s *Service) GetRole(ctx context.Context, orgID, roleID string) (*models.Role, error) {
	role, err := s.store.Roles().GetByID(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.OrgID != orgID {
		return nil, apperr.New(apperr.KindNotFound, "role not found")
	}
	return role, nil
}

func (s *Service) ListRoles(ctx context.Context, orgID string) ([]*models.Role, error) {
	return s.store.Roles().List(ctx, orgID)
}

// UpdateRole renames or reparents a non-system role. Reparenting recomputes
// subtree levels and rejects cycles and depth overflows.
func (s *Service) UpdateRole(ctx context.Context, orgID string, updated *models.Role, actorID string) error {
	existing, err := s.GetRole(ctx, orgID, updated.ID)
	if err != nil {
		return err
	}
	if existing.IsSystem {
		return apperr.New(apperr.KindPrecondition, "system roles cannot be modified").
			WithDetails(map[string]interface{}{"role": existing.Name})
	}

	reparented := updated.ParentID != existing.ParentID
	if reparented {
		if err := s.validateReparent(ctx, orgID, existing, updated.ParentID); err != nil {
			return err
		}
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		if reparented {
			return s.reparent(ctx, orgID, existing, updated)
		}
		updated.Level = existing.Level
		return s.store.Roles().Update(ctx, updated)
	})
	if err != nil {
		return err
	}

	s.publish(models.MutationEvent{Type: models.EventRoleChanged, TenantID: orgID, EntityID: updated.ID})
	s.audit(orgID, actorID, "role.update", "role", updated.ID, nil)
	return nil
}

// validateReparent rejects cycles and ensures the subtree stays within the
// depth bound.
func (s *Service) validateReparent(ctx context.Context, orgID string, role *models.Role, newParentID string) error {
	if newParentID == "" {
		return nil
	}
	if newParentID == role.ID {
		return apperr.New(apperr.KindConflict, "role cannot be its own parent")
	}

	parent, err := s.store.Roles().GetByID(ctx, newParentID)
	if err != nil {
		return err
	}
	if parent.OrgID != orgID {
		return apperr.New(apperr.KindValidation, "parent role belongs to another organization")
	}

	// Walk up from the new parent: reaching the role means a cycle.
	seen := map[string]bool{}
	cursor := parent
	for cursor != nil {
		if cursor.ID == role.ID {
			return apperr.New(apperr.KindConflict, "reparenting would create a hierarchy cycle").
				WithDetails(map[string]interface{}{"role": role.Name, "parent": parent.Name})
		}
		if seen[cursor.ID] || cursor.ParentID == "" {
			break
		}
		seen[cursor.ID] = true
		next, err := s.store.Roles().GetByID(ctx, cursor.ParentID)
		if err != nil {
			break
		}
		cursor = next
	}

	newLevel := parent.Level + 1
	depth, err := s.subtreeDepth(ctx, orgID, role.ID)
	if err != nil {
		return err
	}
	if newLevel+depth > s.maxDepth {
		return apperr.Newf(apperr.KindConflict, "role hierarchy exceeds maximum depth %d", s.maxDepth).
			WithDetails(map[string]interface{}{"maxDepth": s.maxDepth, "level": newLevel + depth})
	}
	return nil
}

// subtreeDepth returns the height of the subtree rooted at roleID.
func (s *Service) subtreeDepth(ctx context.Context, orgID, roleID string) (int, error) {
	all, err := s.store.Roles().List(ctx, orgID)
	if err != nil {
		return 0, err
	}
	children := map[string][]string{}
	for _, r := range all {
		if r.ParentID != "" {
			children[r.ParentID] = append(children[r.ParentID], r.ID)
		}
	}

	depth := 0
	frontier := children[roleID]
	for len(frontier) > 0 && depth <= s.maxDepth {
		depth++
		var next []string
		for _, id := range frontier {
			next = append(next, children[id]...)
		}
		frontier = next
	}
	return depth, nil
}

// reparent moves the role and relevels its subtree inside one transaction.
func (s *Service) reparent(ctx context.Context, orgID string, existing, updated *models.Role) error {
	newLevel := 0
	if updated.ParentID != "" {
		parent, err := s.store.Roles().GetByID(ctx, updated.ParentID)
		if err != nil {
			return err
		}
		newLevel = parent.Level + 1
	}
	updated.Level = newLevel
	if err := s.store.Roles().Update(ctx, updated); err != nil {
		return err
	}

	all, err := s.store.Roles().List(ctx, orgID)
	if err != nil {
		return err
	}
	children := map[string][]*models.Role{}
	for _, r := range all {
		if r.ParentID != "" {
			children[r.ParentID] = append(children[r.ParentID], r)
		}
	}

	frontier := children[existing.ID]
	level := newLevel + 1
	for len(frontier) > 0 && level <= s.maxDepth {
		var next []*models.Role
		for _, child := range frontier {
			child.Level = level
			if err := s.store.Roles().Update(ctx, child); err != nil {
				return err
			}
			next = append(next, children[child.ID]...)
		}
		frontier = next
		level++
	}
	return nil
}

// DeleteRole soft-deletes a non-system role.
func (s *Service) DeleteRole(ctx context.Context, orgID, roleID, actorID string) error {
	role, err := s.GetRole(ctx, orgID, roleID)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return apperr.New(apperr.KindPrecondition, "system roles cannot be deleted").
			WithDetails(map[string]interface{}{"role": role.Name})
	}
	if err := s.store.Roles().SoftDelete(ctx, roleID); err != nil {
		return err
	}

	s.publish(models.MutationEvent{Type: models.EventRoleChanged, TenantID: orgID, EntityID: roleID})
	s.audit(orgID, actorID, "role.delete", "role", roleID, nil)
	return nil
}

/* ---------------------------------- permissions --------------------------------- */

func (s *Service) CreatePermission(ctx context.Context, p *models.Permission, actorID string) (*models.Permission, error) {
	switch {
	case p.Name == "":
		return nil, apperr.New(apperr.KindValidation, "permission name is required")
	case p.ResourceType == "" || p.Action == "":
		return nil, apperr.New(apperr.KindValidation, "resource type and action are required")
	}
	if p.Effect == "" {
		p.Effect = models.EffectAllow
	}
	if _, err := models.ParsePermissionEffect(string(p.Effect)); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "invalid effect", err)
	}

	p.ID = uuid.New().String()
	if err := s.store.Permissions().Create(ctx, p); err != nil {
		return nil, err
	}

	s.audit(p.OrgID, actorID, "permission.create", "permission", p.ID, map[string]interface{}{"name": p.Name})
	return p, nil
}

func (s *Service) ListPermissions(ctx context.Context, orgID string) ([]*models.Permission, error) {
	return s.store.Permissions().List(ctx, orgID)
}

// DeletePermission hard-deletes a permission; attached role edges go with
// it, so the whole tenant is invalidated.
func (s *Service) DeletePermission(ctx context.Context, orgID, permissionID, actorID string) error {
	p, err := s.store.Permissions().GetByID(ctx, permissionID)
	if err != nil {
		return err
	}
	if p.OrgID != orgID {
		return apperr.New(apperr.KindNotFound, "permission not found")
	}
	if err := s.store.Permissions().Delete(ctx, permissionID); err != nil {
		return err
	}

	s.publish(models.MutationEvent{Type: models.EventRolePermissionChanged, TenantID: orgID, EntityID: permissionID})
	s.audit(orgID, actorID, "permission.delete", "permission", permissionID, nil)
	return nil
}

/* ------------------------------- role permissions ------------------------------- */

func (s *Service) AttachPermission(ctx context.Context, orgID, roleID, permissionID, actorID string) error {
	role, err := s.GetRole(ctx, orgID, roleID)
	if err != nil {
		return err
	}
	p, err := s.store.Permissions().GetByID(ctx, permissionID)
	if err != nil {
		return err
	}
	if p.OrgID != orgID {
		return apperr.New(apperr.KindNotFound, "permission not found")
	}

	rp := &models.RolePermission{ID: uuid.New().String(), RoleID: roleID, PermissionID: permissionID}
	if err := s.store.Roles().AddPermission(ctx, rp); err != nil {
		return err
	}

	s.publish(models.MutationEvent{Type: models.EventRolePermissionChanged, TenantID: orgID, EntityID: roleID})
	s.audit(orgID, actorID, "role_permission.attach", "role", roleID,
		map[string]interface{}{"role": role.Name, "permission": p.Name})
	return nil
}

func (s *Service) DetachPermission(ctx context.Context, orgID, roleID, permissionID, actorID string) error {
	if _, err := s.GetRole(ctx, orgID, roleID); err != nil {
		return err
	}
	if err := s.store.Roles().RemovePermission(ctx, roleID, permissionID); err != nil {
		return err
	}

	s.publish(models.MutationEvent{Type: models.EventRolePermissionChanged, TenantID: orgID, EntityID: roleID})
	s.audit(orgID, actorID, "role_permission.detach", "role", roleID, nil)
	return nil
}

/* ---------------------------------- user roles ---------------------------------- */

// AssignRole grants a role to a user with an optional resource scope and
// expiry.
func (s *Service) AssignRole(ctx context.Context, orgID string, grant *models.UserRole, actorID string) error {
	if grant.ResourceID != "" && grant.ResourceType == "" {
		return apperr.New(apperr.KindValidation, "resource id requires a resource type")
	}
	if grant.ExpiresAt != nil && !grant.ExpiresAt.After(time.Now()) {
		return apperr.New(apperr.KindValidation, "expiry must be in the future")
	}

	user, err := s.GetUser(ctx, orgID, grant.UserID)
	if err != nil {
		return err
	}
	role, err := s.GetRole(ctx, orgID, grant.RoleID)
	if err != nil {
		return err
	}
	if user.OrgID != role.OrgID {
		return apperr.New(apperr.KindValidation, "user and role belong to different organizations")
	}

	grant.ID = uuid.New().String()
	grant.GrantedBy = actorID
	grant.GrantedAt = time.Now()
	if err := s.store.Roles().Grant(ctx, grant); err != nil {
		return err
	}

	s.publish(models.MutationEvent{
		Type:         models.EventUserRoleChanged,
		TenantID:     orgID,
		PrincipalKey: user.PrincipalKey(),
		EntityID:     grant.ID,
	})
	s.audit(orgID, actorID, "user_role.assign", "user", user.ID,
		map[string]interface{}{"role": role.Name, "resourceType": grant.ResourceType, "resourceId": grant.ResourceID})
	return nil
}

// RevokeRole removes one grant identified by its unique scope tuple.
func (s *Service) RevokeRole(ctx context.Context, orgID, userID, roleID, resourceType, resourceID, actorID string) error {
	user, err := s.GetUser(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if err := s.store.Roles().Revoke(ctx, userID, roleID, resourceType, resourceID); err != nil {
		return err
	}

	s.publish(models.MutationEvent{
		Type:         models.EventUserRoleChanged,
		TenantID:     orgID,
		PrincipalKey: user.PrincipalKey(),
		EntityID:     roleID,
	})
	s.audit(orgID, actorID, "user_role.revoke", "user", userID,
		map[string]interface{}{"role": roleID})
	return nil
}

// SweepExpiredGrants removes lapsed grants and invalidates the affected
// principals. Run periodically by the server.
func (s *Service) SweepExpiredGrants(ctx context.Context) (int, error) {
	deleted, err := s.store.Roles().DeleteExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	notified := map[string]bool{}
	for _, grant := range deleted {
		user, err := s.store.Users().GetByID(ctx, grant.UserID)
		if err != nil {
			continue
		}
		key := user.OrgID + ":" + user.PrincipalKey()
		if notified[key] {
			continue
		}
		notified[key] = true
		s.publish(models.MutationEvent{
			Type:         models.EventUserRoleChanged,
			TenantID:     user.OrgID,
			PrincipalKey: user.PrincipalKey(),
		})
	}
	if len(deleted) > 0 {
		s.logger.Info("swept expired role grants", "count", len(deleted))
	}
	return len(deleted), nil
}

/* ----------------------------------- internals ----------------------------------- */

func (s *Service) publish(e models.MutationEvent) {
	e.OccurredAt = time.Now()
	s.bus.Publish(e)
}

func (s *Service) audit(tenantID, actorID, action, resourceType, resourceID string, request map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(audit.MutationEntry(tenantID, actorID, action, resourceType, resourceID, request))
}
