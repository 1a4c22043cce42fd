package models

import "time"

// MutationEventType names the data-model mutations that drive cache
// invalidation.
type MutationEventType string

const (
	EventUserRoleChanged       MutationEventType = "user_role.changed"
	EventRolePermissionChanged MutationEventType = "role_permission.changed"
	EventRoleChanged           MutationEventType = "role.changed"
	EventUserChanged           MutationEventType = "user.changed"
	EventPolicyChanged         MutationEventType = "policy.changed"
)

// MutationEvent is published on the in-process bus after a mutating operation
// commits. PrincipalKey is set only for principal-scoped invalidations.
type MutationEvent struct {
	Type         MutationEventType `json:"type"`
	TenantID     string            `json:"tenantId"`
	PrincipalKey string            `json:"principalKey,omitempty"`
	EntityID     string            `json:"entityId,omitempty"`
	OccurredAt   time.Time         `json:"occurredAt"`
}
