package models

import (
	"fmt"
	"time"
)

// OrgStatus is the lifecycle state of an organization.
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// ParseOrgStatus maps a wire string to an OrgStatus. The mapping is total:
// unknown inputs are an error, never a silent default.
func ParseOrgStatus(s string) (OrgStatus, error) {
	switch OrgStatus(s) {
	case OrgStatusActive, OrgStatusSuspended, OrgStatusDeleted:
		return OrgStatus(s), nil
	}
	return "", fmt.Errorf("unknown organization status %q", s)
}

// Organization is the tenant boundary. Every other entity belongs to exactly
// one organization.
type Organization struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Status    OrgStatus              `json:"status"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
	DeletedAt *time.Time             `json:"deletedAt,omitempty"`
}

// UserStatus is the lifecycle state of a user.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
	UserStatusDeleted  UserStatus = "deleted"
)

func ParseUserStatus(s string) (UserStatus, error) {
	switch UserStatus(s) {
	case UserStatusActive, UserStatusInactive, UserStatusDeleted:
		return UserStatus(s), nil
	}
	return "", fmt.Errorf("unknown user status %q", s)
}

// User is a principal within an organization. ExternalID is the identity the
// caller presents (IdP-assigned); BearerSubject is the stable OIDC subject for
// JIT-provisioned users.
type User struct {
	ID            string                 `json:"id"`
	OrgID         string                 `json:"orgId"`
	Email         string                 `json:"email"`
	Username      string                 `json:"username,omitempty"`
	ExternalID    string                 `json:"externalId,omitempty"`
	BearerSubject string                 `json:"bearerSubject,omitempty"`
	Status        UserStatus             `json:"status"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
	LastSyncAt    *time.Time             `json:"lastSyncAt,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
	UpdatedAt     time.Time              `json:"updatedAt"`
	DeletedAt     *time.Time             `json:"deletedAt,omitempty"`
}

// PrincipalKey returns the identity used for decision fingerprints and cache
// invalidation: the external subject the request presents, falling back to the
// internal id for users without an external id.
func (u *User) PrincipalKey() string {
	if u.ExternalID != "" {
		return u.ExternalID
	}
	return u.ID
}

// MaxRoleDepth bounds the role hierarchy. Level 0 is a root role.
const MaxRoleDepth = 10

// Role is a named permission bundle. ParentID is a weak reference inside the
// same organization; Level is parent.Level+1, 0 for roots.
type Role struct {
	ID          string            `json:"id"`
	OrgID       string            `json:"orgId"`
	Name        string            `json:"name"`
	DisplayName string            `json:"displayName,omitempty"`
	ParentID    string            `json:"parentId,omitempty"`
	Level       int               `json:"level"`
	IsSystem    bool              `json:"isSystem"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	DeletedAt   *time.Time        `json:"deletedAt,omitempty"`
}

// PermissionEffect is allow or deny. Deny takes precedence during evaluation.
type PermissionEffect string

const (
	EffectAllow PermissionEffect = "allow"
	EffectDeny  PermissionEffect = "deny"
)

func ParsePermissionEffect(s string) (PermissionEffect, error) {
	switch PermissionEffect(s) {
	case EffectAllow, EffectDeny:
		return PermissionEffect(s), nil
	}
	return "", fmt.Errorf("unknown permission effect %q", s)
}

// Permission is a (resourceType, action, effect) triple. Conditions is
// reserved for attribute-based constraints.
type Permission struct {
	ID           string                 `json:"id"`
	OrgID        string                 `json:"orgId"`
	Name         string                 `json:"name"`
	ResourceType string                 `json:"resourceType"`
	Action       string                 `json:"action"`
	Effect       PermissionEffect       `json:"effect"`
	Conditions   map[string]interface{} `json:"conditions,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	ID           string    `json:"id"`
	RoleID       string    `json:"roleId"`
	PermissionID string    `json:"permissionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserRole grants a role to a user, optionally scoped to a resource type or a
// single resource instance, optionally expiring.
type UserRole struct {
	ID           string     `json:"id"`
	UserID       string     `json:"userId"`
	RoleID       string     `json:"roleId"`
	ResourceType string     `json:"resourceType,omitempty"`
	ResourceID   string     `json:"resourceId,omitempty"`
	GrantedBy    string     `json:"grantedBy,omitempty"`
	GrantedAt    time.Time  `json:"grantedAt"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the grant has lapsed. A grant expiring exactly now
// is expired.
func (ur *UserRole) Expired(now time.Time) bool {
	return ur.ExpiresAt != nil && !ur.ExpiresAt.After(now)
}

// ScopeMatches reports whether this grant's scope covers the given resource.
// Global scope (no type, no id) matches anything; type scope matches any id of
// that type; instance scope matches exactly.
func (ur *UserRole) ScopeMatches(resourceType, resourceID string) bool {
	if ur.ResourceType == "" {
		return true
	}
	if ur.ResourceType != resourceType {
		return false
	}
	return ur.ResourceID == "" || ur.ResourceID == resourceID
}
