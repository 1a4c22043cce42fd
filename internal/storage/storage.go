// Package storage defines the persistence interfaces for the data model.
// Services depend on these interfaces; internal/storage/postgres provides the
// production implementation.
package storage

import (
	"context"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

// Store aggregates the per-entity stores. WithTx runs fn with every store
// operation inside one transaction; the transaction commits when fn returns
// nil and rolls back otherwise.
type Store interface {
	Organizations() OrganizationStore
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	Policies() PolicyStore
	Audit() AuditStore

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	HealthCheck(ctx context.Context) error
	Close()
}

// OrganizationStore persists tenants. Reads exclude soft-deleted rows.
type OrganizationStore interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id string) (*models.Organization, error)
	GetByName(ctx context.Context, name string) (*models.Organization, error)
	List(ctx context.Context) ([]*models.Organization, error)
	UpdateStatus(ctx context.Context, id string, status models.OrgStatus) error
	SoftDelete(ctx context.Context, id string) error
}

// UserStore persists users. Lookup methods exclude soft-deleted rows.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByExternalID(ctx context.Context, orgID, externalID string) (*models.User, error)
	GetByBearerSubject(ctx context.Context, subject string) (*models.User, error)
	GetByEmail(ctx context.Context, orgID, email string) (*models.User, error)
	List(ctx context.Context, orgID string) ([]*models.User, error)
	Update(ctx context.Context, user *models.User) error
	TouchLastSync(ctx context.Context, id string, at time.Time) error
	SoftDelete(ctx context.Context, id string) error
}

// RoleStore persists roles, role-permission edges and user-role grants.
type RoleStore interface {
	Create(ctx context.Context, role *models.Role) error
	GetByID(ctx context.Context, id string) (*models.Role, error)
	GetByName(ctx context.Context, orgID, name string) (*models.Role, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Role, error)
	List(ctx context.Context, orgID string) ([]*models.Role, error)
	Update(ctx context.Context, role *models.Role) error
	SoftDelete(ctx context.Context, id string) error

	AddPermission(ctx context.Context, rp *models.RolePermission) error
	RemovePermission(ctx context.Context, roleID, permissionID string) error
	// PermissionsByRole returns, for each given role id, the permissions
	// attached to it.
	PermissionsByRole(ctx context.Context, roleIDs []string) (map[string][]*models.Permission, error)

	Grant(ctx context.Context, ur *models.UserRole) error
	Revoke(ctx context.Context, userID, roleID, resourceType, resourceID string) error
	// GrantsForUser returns the user's grants that have not expired at the
	// given instant.
	GrantsForUser(ctx context.Context, userID string, now time.Time) ([]*models.UserRole, error)
	// DeleteExpired removes lapsed grants and returns them so callers can
	// invalidate the affected principals.
	DeleteExpired(ctx context.Context, now time.Time) ([]*models.UserRole, error)
}

// PermissionStore persists permissions. Permissions are hard-deleted.
type PermissionStore interface {
	Create(ctx context.Context, p *models.Permission) error
	GetByID(ctx context.Context, id string) (*models.Permission, error)
	GetByName(ctx context.Context, orgID, name string) (*models.Permission, error)
	List(ctx context.Context, orgID string) ([]*models.Permission, error)
	Update(ctx context.Context, p *models.Permission) error
	Delete(ctx context.Context, id string) error
}

// PolicyStore persists policies and their immutable versions.
type PolicyStore interface {
	Create(ctx context.Context, p *models.Policy) error
	GetByID(ctx context.Context, id string) (*models.Policy, error)
	GetByName(ctx context.Context, orgID, name string) (*models.Policy, error)
	List(ctx context.Context, orgID string) ([]*models.Policy, error)
	Update(ctx context.Context, p *models.Policy) error
	SoftDelete(ctx context.Context, id string) error

	CreateVersion(ctx context.Context, v *models.PolicyVersion) error
	GetVersion(ctx context.Context, policyID string, version int) (*models.PolicyVersion, error)
	ListVersions(ctx context.Context, policyID string) ([]*models.PolicyVersion, error)
	MaxVersion(ctx context.Context, policyID string) (int, error)
	SetVersionValidation(ctx context.Context, versionID string, status models.ValidationStatus, verrs []models.ValidationError) error
	MarkPublished(ctx context.Context, versionID string, at time.Time) error
	CountByChecksum(ctx context.Context, policyID, checksum string) (int, error)
}

// AuditQuery filters an audit log read. TenantID and the time range are
// mandatory; remaining predicates are optional.
type AuditQuery struct {
	TenantID     string
	From         time.Time
	To           time.Time
	EventType    *string
	ActorID      *string
	ResourceType *string
	ResourceID   *string
	Action       *string
	Decision     *string
	IPAddress    *string
	Limit        int
	Offset       int
}

// AuditStore appends to and reads from the time-partitioned audit log.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	Query(ctx context.Context, q AuditQuery) ([]*models.AuditLog, error)
	// EnsurePartition creates the monthly partition covering the given time.
	EnsurePartition(ctx context.Context, at time.Time) error
	// ListPartitions returns partition table names with their month start.
	ListPartitions(ctx context.Context) ([]Partition, error)
	// DropPartition removes one monthly partition wholesale.
	DropPartition(ctx context.Context, name string) error
}

// Partition describes one monthly audit partition.
type Partition struct {
	Name  string
	Start time.Time
}
