// Package storagetest provides an in-memory storage.Store used by service
// tests.
package storagetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
)

// FakeStore implements storage.Store over process memory. It enforces the
// same uniqueness invariants as the SQL schema so conflict paths are
// testable.
type FakeStore struct {
	mu sync.RWMutex

	Orgs           map[string]*models.Organization
	UsersByID      map[string]*models.User
	RolesByID      map[string]*models.Role
	Perms          map[string]*models.Permission
	RolePerms      map[string]*models.RolePermission
	UserRoles      map[string]*models.UserRole
	PoliciesByID   map[string]*models.Policy
	PolicyVersions map[string]*models.PolicyVersion
	AuditEntries   []*models.AuditLog

	// FailAuditInserts makes Insert fail; used to exercise retry/drop paths.
	FailAuditInserts int
	// FailUserReads makes user lookups fail with a storage error; used to
	// exercise the error-decision path.
	FailUserReads int

	orgs  *fakeOrgStore
	users *fakeUserStore
	roles *fakeRoleStore
	perms *fakePermissionStore
	pols  *fakePolicyStore
	audit *fakeAuditStore
}

func NewFakeStore() *FakeStore {
	f := &FakeStore{
		Orgs:           map[string]*models.Organization{},
		UsersByID:      map[string]*models.User{},
		RolesByID:      map[string]*models.Role{},
		Perms:          map[string]*models.Permission{},
		RolePerms:      map[string]*models.RolePermission{},
		UserRoles:      map[string]*models.UserRole{},
		PoliciesByID:   map[string]*models.Policy{},
		PolicyVersions: map[string]*models.PolicyVersion{},
	}
	f.orgs = &fakeOrgStore{f}
	f.users = &fakeUserStore{f}
	f.roles = &fakeRoleStore{f}
	f.perms = &fakePermissionStore{f}
	f.pols = &fakePolicyStore{f}
	f.audit = &fakeAuditStore{f}
	return f
}

func (f *FakeStore) Organizations() storage.OrganizationStore { return f.orgs }
func (f *FakeStore) Users() storage.UserStore                 { return f.users }
func (f *FakeStore) Roles() storage.RoleStore                 { return f.roles }
func (f *FakeStore) Permissions() storage.PermissionStore     { return f.perms }
func (f *FakeStore) Policies() storage.PolicyStore            { return f.pols }
func (f *FakeStore) Audit() storage.AuditStore                { return f.audit }

func (f *FakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// AuditCount reads the audit entry count under the store lock.
func (f *FakeStore) AuditCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.AuditEntries)
}

// AuditSnapshot copies the audit entries under the store lock.
func (f *FakeStore) AuditSnapshot() []*models.AuditLog {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*models.AuditLog, len(f.AuditEntries))
	for i, e := range f.AuditEntries {
		cp := *e
		out[i] = &cp
	}
	return out
}

func (f *FakeStore) HealthCheck(ctx context.Context) error { return nil }
func (f *FakeStore) Close()                                {}

func conflict(entity string) error {
	return apperr.Newf(apperr.KindConflict, "%s already exists", entity)
}

func notFound(entity string) error {
	return apperr.Newf(apperr.KindNotFound, "%s not found", entity)
}

/* -------------------------------- organizations ------------------------------- */

type fakeOrgStore struct{ f *FakeStore }

func (s *fakeOrgStore) Create(ctx context.Context, org *models.Organization) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, o := range s.f.Orgs {
		if o.DeletedAt == nil && o.Name == org.Name {
			return conflict("organization")
		}
	}
	cp := *org
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.f.Orgs[org.ID] = &cp
	return nil
}

func (s *fakeOrgStore) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	o, ok := s.f.Orgs[id]
	if !ok || o.DeletedAt != nil {
		return nil, notFound("organization")
	}
	cp := *o
	return &cp, nil
}

func (s *fakeOrgStore) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, o := range s.f.Orgs {
		if o.DeletedAt == nil && o.Name == name {
			cp := *o
			return &cp, nil
		}
	}
	return nil, notFound("organization")
}

func (s *fakeOrgStore) List(ctx context.Context) ([]*models.Organization, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var orgs []*models.Organization
	for _, o := range s.f.Orgs {
		if o.DeletedAt == nil {
			cp := *o
			orgs = append(orgs, &cp)
		}
	}
	sort.Slice(orgs, func(i, j int) bool { return orgs[i].Name < orgs[j].Name })
	return orgs, nil
}

func (s *fakeOrgStore) UpdateStatus(ctx context.Context, id string, status models.OrgStatus) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	o, ok := s.f.Orgs[id]
	if !ok || o.DeletedAt != nil {
		return notFound("organization")
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	return nil
}

func (s *fakeOrgStore) SoftDelete(ctx context.Context, id string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	o, ok := s.f.Orgs[id]
	if !ok || o.DeletedAt != nil {
		return notFound("organization")
	}
	now := time.Now()
	o.Status = models.OrgStatusDeleted
	o.DeletedAt = &now
	return nil
}

/* ------------------------------------ users ----------------------------------- */

type fakeUserStore struct{ f *FakeStore }

func (s *fakeUserStore) Create(ctx context.Context, user *models.User) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, u := range s.f.UsersByID {
		if u.DeletedAt != nil {
			continue
		}
		if u.OrgID == user.OrgID && u.Email == user.Email {
			return conflict("user")
		}
		if user.Username != "" && u.OrgID == user.OrgID && u.Username == user.Username {
			return conflict("user")
		}
		if user.BearerSubject != "" && u.BearerSubject == user.BearerSubject {
			return conflict("user")
		}
	}
	cp := *user
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.f.UsersByID[user.ID] = &cp
	return nil
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	u, ok := s.f.UsersByID[id]
	if !ok || u.DeletedAt != nil {
		return nil, notFound("user")
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) GetByExternalID(ctx context.Context, orgID, externalID string) (*models.User, error) {
	s.f.mu.Lock()
	if s.f.FailUserReads > 0 {
		s.f.FailUserReads--
		s.f.mu.Unlock()
		return nil, apperr.New(apperr.KindStorage, "user read failed")
	}
	s.f.mu.Unlock()

	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, u := range s.f.UsersByID {
		if u.DeletedAt == nil && u.OrgID == orgID && u.ExternalID == externalID && externalID != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

func (s *fakeUserStore) GetByBearerSubject(ctx context.Context, subject string) (*models.User, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, u := range s.f.UsersByID {
		if u.DeletedAt == nil && u.BearerSubject == subject && subject != "" {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, orgID, email string) (*models.User, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, u := range s.f.UsersByID {
		if u.DeletedAt == nil && u.OrgID == orgID && u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound("user")
}

func (s *fakeUserStore) List(ctx context.Context, orgID string) ([]*models.User, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var users []*models.User
	for _, u := range s.f.UsersByID {
		if u.DeletedAt == nil && u.OrgID == orgID {
			cp := *u
			users = append(users, &cp)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (s *fakeUserStore) Update(ctx context.Context, user *models.User) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	u, ok := s.f.UsersByID[user.ID]
	if !ok || u.DeletedAt != nil {
		return notFound("user")
	}
	cp := *user
	cp.CreatedAt = u.CreatedAt
	cp.UpdatedAt = time.Now()
	s.f.UsersByID[user.ID] = &cp
	return nil
}

func (s *fakeUserStore) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	u, ok := s.f.UsersByID[id]
	if !ok || u.DeletedAt != nil {
		return notFound("user")
	}
	u.LastSyncAt = &at
	return nil
}

func (s *fakeUserStore) SoftDelete(ctx context.Context, id string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	u, ok := s.f.UsersByID[id]
	if !ok || u.DeletedAt != nil {
		return notFound("user")
	}
	now := time.Now()
	u.Status = models.UserStatusDeleted
	u.DeletedAt = &now
	return nil
}

/* ------------------------------------ roles ------------------------------------ */

type fakeRoleStore struct{ f *FakeStore }

func (s *fakeRoleStore) Create(ctx context.Context, role *models.Role) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, r := range s.f.RolesByID {
		if r.DeletedAt == nil && r.OrgID == role.OrgID && r.Name == role.Name {
			return conflict("role")
		}
	}
	cp := *role
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.f.RolesByID[role.ID] = &cp
	return nil
}

func (s *fakeRoleStore) GetByID(ctx context.Context, id string) (*models.Role, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	r, ok := s.f.RolesByID[id]
	if !ok || r.DeletedAt != nil {
		return nil, notFound("role")
	}
	cp := *r
	return &cp, nil
}

func (s *fakeRoleStore) GetByName(ctx context.Context, orgID, name string) (*models.Role, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, r := range s.f.RolesByID {
		if r.DeletedAt == nil && r.OrgID == orgID && r.Name == name {
			cp := *r
			return &cp, nil
		}
	}
	return nil, notFound("role")
}

func (s *fakeRoleStore) GetByIDs(ctx context.Context, ids []string) ([]*models.Role, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var roles []*models.Role
	for _, id := range ids {
		if r, ok := s.f.RolesByID[id]; ok && r.DeletedAt == nil {
			cp := *r
			roles = append(roles, &cp)
		}
	}
	return roles, nil
}

func (s *fakeRoleStore) List(ctx context.Context, orgID string) ([]*models.Role, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var roles []*models.Role
	for _, r := range s.f.RolesByID {
		if r.DeletedAt == nil && r.OrgID == orgID {
			cp := *r
			roles = append(roles, &cp)
		}
	}
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Level != roles[j].Level {
			return roles[i].Level < roles[j].Level
		}
		return roles[i].Name < roles[j].Name
	})
	return roles, nil
}

func (s *fakeRoleStore) Update(ctx context.Context, role *models.Role) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	r, ok := s.f.RolesByID[role.ID]
	if !ok || r.DeletedAt != nil {
		return notFound("role")
	}
	cp := *role
	cp.CreatedAt = r.CreatedAt
	cp.IsSystem = r.IsSystem
	cp.UpdatedAt = time.Now()
	s.f.RolesByID[role.ID] = &cp
	return nil
}

func (s *fakeRoleStore) SoftDelete(ctx context.Context, id string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	r, ok := s.f.RolesByID[id]
	if !ok || r.DeletedAt != nil {
		return notFound("role")
	}
	now := time.Now()
	r.DeletedAt = &now
	return nil
}

func (s *fakeRoleStore) AddPermission(ctx context.Context, rp *models.RolePermission) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, existing := range s.f.RolePerms {
		if existing.RoleID == rp.RoleID && existing.PermissionID == rp.PermissionID {
			return conflict("role permission")
		}
	}
	cp := *rp
	cp.CreatedAt = time.Now()
	s.f.RolePerms[rp.ID] = &cp
	return nil
}

func (s *fakeRoleStore) RemovePermission(ctx context.Context, roleID, permissionID string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for id, rp := range s.f.RolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			delete(s.f.RolePerms, id)
			return nil
		}
	}
	return notFound("role permission")
}

func (s *fakeRoleStore) PermissionsByRole(ctx context.Context, roleIDs []string) (map[string][]*models.Permission, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	wanted := make(map[string]bool, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = true
	}
	result := make(map[string][]*models.Permission)
	for _, rp := range s.f.RolePerms {
		if !wanted[rp.RoleID] {
			continue
		}
		if p, ok := s.f.Perms[rp.PermissionID]; ok {
			cp := *p
			result[rp.RoleID] = append(result[rp.RoleID], &cp)
		}
	}
	return result, nil
}

func (s *fakeRoleStore) Grant(ctx context.Context, ur *models.UserRole) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, existing := range s.f.UserRoles {
		if existing.UserID == ur.UserID && existing.RoleID == ur.RoleID &&
			existing.ResourceType == ur.ResourceType && existing.ResourceID == ur.ResourceID {
			return conflict("user role")
		}
	}
	cp := *ur
	if cp.GrantedAt.IsZero() {
		cp.GrantedAt = time.Now()
	}
	s.f.UserRoles[ur.ID] = &cp
	return nil
}

func (s *fakeRoleStore) Revoke(ctx context.Context, userID, roleID, resourceType, resourceID string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for id, ur := range s.f.UserRoles {
		if ur.UserID == userID && ur.RoleID == roleID &&
			ur.ResourceType == resourceType && ur.ResourceID == resourceID {
			delete(s.f.UserRoles, id)
			return nil
		}
	}
	return notFound("user role")
}

func (s *fakeRoleStore) GrantsForUser(ctx context.Context, userID string, now time.Time) ([]*models.UserRole, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var grants []*models.UserRole
	for _, ur := range s.f.UserRoles {
		if ur.UserID != userID || ur.Expired(now) {
			continue
		}
		cp := *ur
		grants = append(grants, &cp)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].ID < grants[j].ID })
	return grants, nil
}

func (s *fakeRoleStore) DeleteExpired(ctx context.Context, now time.Time) ([]*models.UserRole, error) {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var deleted []*models.UserRole
	for id, ur := range s.f.UserRoles {
		if ur.Expired(now) {
			cp := *ur
			deleted = append(deleted, &cp)
			delete(s.f.UserRoles, id)
		}
	}
	return deleted, nil
}

/* --------------------------------- permissions --------------------------------- */

type fakePermissionStore struct{ f *FakeStore }

func (s *fakePermissionStore) Create(ctx context.Context, p *models.Permission) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, existing := range s.f.Perms {
		if existing.OrgID != p.OrgID {
			continue
		}
		if existing.Name == p.Name {
			return conflict("permission")
		}
		if existing.ResourceType == p.ResourceType && existing.Action == p.Action && existing.Effect == p.Effect {
			return conflict("permission")
		}
	}
	cp := *p
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.f.Perms[p.ID] = &cp
	return nil
}

func (s *fakePermissionStore) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	p, ok := s.f.Perms[id]
	if !ok {
		return nil, notFound("permission")
	}
	cp := *p
	return &cp, nil
}

func (s *fakePermissionStore) GetByName(ctx context.Context, orgID, name string) (*models.Permission, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, p := range s.f.Perms {
		if p.OrgID == orgID && p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("permission")
}

func (s *fakePermissionStore) List(ctx context.Context, orgID string) ([]*models.Permission, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var perms []*models.Permission
	for _, p := range s.f.Perms {
		if p.OrgID == orgID {
			cp := *p
			perms = append(perms, &cp)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

func (s *fakePermissionStore) Update(ctx context.Context, p *models.Permission) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	existing, ok := s.f.Perms[p.ID]
	if !ok {
		return notFound("permission")
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.f.Perms[p.ID] = &cp
	return nil
}

func (s *fakePermissionStore) Delete(ctx context.Context, id string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if _, ok := s.f.Perms[id]; !ok {
		return notFound("permission")
	}
	delete(s.f.Perms, id)
	for rpID, rp := range s.f.RolePerms {
		if rp.PermissionID == id {
			delete(s.f.RolePerms, rpID)
		}
	}
	return nil
}

/* ----------------------------------- policies ----------------------------------- */

type fakePolicyStore struct{ f *FakeStore }

func (s *fakePolicyStore) Create(ctx context.Context, p *models.Policy) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, existing := range s.f.PoliciesByID {
		if existing.DeletedAt == nil && existing.OrgID == p.OrgID && existing.Name == p.Name {
			return conflict("policy")
		}
	}
	cp := *p
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	s.f.PoliciesByID[p.ID] = &cp
	return nil
}

func (s *fakePolicyStore) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	p, ok := s.f.PoliciesByID[id]
	if !ok || p.DeletedAt != nil {
		return nil, notFound("policy")
	}
	cp := *p
	return &cp, nil
}

func (s *fakePolicyStore) GetByName(ctx context.Context, orgID, name string) (*models.Policy, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, p := range s.f.PoliciesByID {
		if p.DeletedAt == nil && p.OrgID == orgID && p.Name == name {
			cp := *p
			return &cp, nil
		}
	}
	return nil, notFound("policy")
}

func (s *fakePolicyStore) List(ctx context.Context, orgID string) ([]*models.Policy, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var policies []*models.Policy
	for _, p := range s.f.PoliciesByID {
		if p.DeletedAt == nil && p.OrgID == orgID {
			cp := *p
			policies = append(policies, &cp)
		}
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies, nil
}

func (s *fakePolicyStore) Update(ctx context.Context, p *models.Policy) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	existing, ok := s.f.PoliciesByID[p.ID]
	if !ok || existing.DeletedAt != nil {
		return notFound("policy")
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now()
	s.f.PoliciesByID[p.ID] = &cp
	return nil
}

func (s *fakePolicyStore) SoftDelete(ctx context.Context, id string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	p, ok := s.f.PoliciesByID[id]
	if !ok || p.DeletedAt != nil {
		return notFound("policy")
	}
	now := time.Now()
	p.DeletedAt = &now
	return nil
}

func (s *fakePolicyStore) CreateVersion(ctx context.Context, v *models.PolicyVersion) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	for _, existing := range s.f.PolicyVersions {
		if existing.PolicyID == v.PolicyID && existing.Version == v.Version {
			return conflict("policy version")
		}
	}
	cp := *v
	cp.CreatedAt = time.Now()
	s.f.PolicyVersions[v.ID] = &cp
	return nil
}

func (s *fakePolicyStore) GetVersion(ctx context.Context, policyID string, version int) (*models.PolicyVersion, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	for _, v := range s.f.PolicyVersions {
		if v.PolicyID == policyID && v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, notFound("policy version")
}

func (s *fakePolicyStore) ListVersions(ctx context.Context, policyID string) ([]*models.PolicyVersion, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	var versions []*models.PolicyVersion
	for _, v := range s.f.PolicyVersions {
		if v.PolicyID == policyID {
			cp := *v
			versions = append(versions, &cp)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Version > versions[j].Version })
	return versions, nil
}

func (s *fakePolicyStore) MaxVersion(ctx context.Context, policyID string) (int, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	max := 0
	for _, v := range s.f.PolicyVersions {
		if v.PolicyID == policyID && v.Version > max {
			max = v.Version
		}
	}
	return max, nil
}

func (s *fakePolicyStore) SetVersionValidation(ctx context.Context, versionID string, status models.ValidationStatus, verrs []models.ValidationError) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	v, ok := s.f.PolicyVersions[versionID]
	if !ok {
		return notFound("policy version")
	}
	v.ValidationStatus = status
	v.ValidationErrors = verrs
	return nil
}

func (s *fakePolicyStore) MarkPublished(ctx context.Context, versionID string, at time.Time) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	v, ok := s.f.PolicyVersions[versionID]
	if !ok {
		return notFound("policy version")
	}
	v.PublishedAt = &at
	return nil
}

func (s *fakePolicyStore) CountByChecksum(ctx context.Context, policyID, checksum string) (int, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	count := 0
	for _, v := range s.f.PolicyVersions {
		if v.PolicyID == policyID && v.Checksum == checksum {
			count++
		}
	}
	return count, nil
}

/* ------------------------------------ audit ------------------------------------ */

type fakeAuditStore struct{ f *FakeStore }

func (s *fakeAuditStore) Insert(ctx context.Context, entry *models.AuditLog) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	if s.f.FailAuditInserts > 0 {
		s.f.FailAuditInserts--
		return apperr.New(apperr.KindStorage, "audit insert failed")
	}
	cp := *entry
	s.f.AuditEntries = append(s.f.AuditEntries, &cp)
	return nil
}

func (s *fakeAuditStore) Query(ctx context.Context, q storage.AuditQuery) ([]*models.AuditLog, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	match := func(pred *string, value string) bool {
		return pred == nil || *pred == value
	}
	var entries []*models.AuditLog
	for _, e := range s.f.AuditEntries {
		if e.TenantID != q.TenantID {
			continue
		}
		if e.Timestamp.Before(q.From) || !e.Timestamp.Before(q.To) {
			continue
		}
		if !match(q.EventType, string(e.EventType)) || !match(q.ActorID, e.ActorID) ||
			!match(q.ResourceType, e.ResourceType) || !match(q.ResourceID, e.ResourceID) ||
			!match(q.Action, e.Action) || !match(q.Decision, e.Decision) ||
			!match(q.IPAddress, e.IPAddress) {
			continue
		}
		cp := *e
		entries = append(entries, &cp)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Timestamp.After(entries[j].Timestamp) })
	if q.Offset > 0 {
		if q.Offset >= len(entries) {
			return nil, nil
		}
		entries = entries[q.Offset:]
	}
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	return entries, nil
}

func (s *fakeAuditStore) EnsurePartition(ctx context.Context, at time.Time) error { return nil }

func (s *fakeAuditStore) ListPartitions(ctx context.Context) ([]storage.Partition, error) {
	s.f.mu.RLock()
	defer s.f.mu.RUnlock()
	seen := map[string]time.Time{}
	for _, e := range s.f.AuditEntries {
		start := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), 1, 0, 0, 0, 0, time.UTC)
		name := "audit_logs_" + start.Format("2006_01")
		seen[name] = start
	}
	var partitions []storage.Partition
	for name, start := range seen {
		partitions = append(partitions, storage.Partition{Name: name, Start: start})
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i].Start.Before(partitions[j].Start) })
	return partitions, nil
}

func (s *fakeAuditStore) DropPartition(ctx context.Context, name string) error {
	s.f.mu.Lock()
	defer s.f.mu.Unlock()
	var kept []*models.AuditLog
	for _, e := range s.f.AuditEntries {
		start := time.Date(e.Timestamp.Year(), e.Timestamp.Month(), 1, 0, 0, 0, 0, time.UTC)
		if "audit_logs_"+start.Format("2006_01") != name {
			kept = append(kept, e)
		}
	}
	s.f.AuditEntries = kept
	return nil
}
