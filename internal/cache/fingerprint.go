// Package cache implements the two-tier decision cache: a per-process bounded
// LRU in front of the shared distributed cache, with single-flight coalescing
// and event-driven invalidation.
package cache

import (
	"strings"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

// Fingerprint derives the cache key for a decision request. Resource
// attributes do not contribute: callers passing attributes own invalidation
// when those attributes change.
func Fingerprint(tenantID, principal, action, resourceType, resourceID string) string {
	var b strings.Builder
	b.Grow(len(tenantID) + len(principal) + len(action) + len(resourceType) + len(resourceID) + 4)
	b.WriteString(tenantID)
	b.WriteByte(':')
	b.WriteString(principal)
	b.WriteByte(':')
	b.WriteString(action)
	b.WriteByte(':')
	b.WriteString(resourceType)
	b.WriteByte(':')
	b.WriteString(resourceID)
	return b.String()
}

// FingerprintRequest derives the cache key from a decision request.
func FingerprintRequest(req *models.DecisionRequest) string {
	return Fingerprint(req.TenantID, req.Principal.ID, req.Action, req.Resource.Type, req.Resource.ID)
}

// tenantPrefix is the key prefix shared by every decision for one tenant.
func tenantPrefix(tenantID string) string {
	return tenantID + ":"
}

// principalPrefix is the key prefix shared by every decision for one
// principal within a tenant.
func principalPrefix(tenantID, principal string) string {
	return tenantID + ":" + principal + ":"
}

// tenantIndexKey names the distributed index set of all decision keys for a
// tenant.
func tenantIndexKey(tenantID string) string {
	return "authz:index:tenant:" + tenantID
}

// principalIndexKey names the distributed index set of all decision keys for
// a principal.
func principalIndexKey(tenantID, principal string) string {
	return "authz:index:principal:" + tenantID + ":" + principal
}
