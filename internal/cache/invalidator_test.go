package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

func prime(t *testing.T, c *DecisionCache, key string) {
	t.Helper()
	_, _, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*models.DecisionResult, error) {
		return allowResult(), nil
	})
	require.NoError(t, err)
}

func assertCached(t *testing.T, c *DecisionCache, key string, want bool) {
	t.Helper()
	_, cached, err := c.GetOrCompute(context.Background(), key, func(context.Context) (*models.DecisionResult, error) {
		return allowResult(), nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, cached, key)
}

func TestInvalidatorEventMatrix(t *testing.T) {
	tests := []struct {
		name          string
		event         models.MutationEvent
		purgedKeys    []string
		survivingKeys []string
	}{
		{
			name:          "user role change purges principal",
			event:         models.MutationEvent{Type: models.EventUserRoleChanged, TenantID: "T1", PrincipalKey: "u-1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1", "T1:u-1:write:folder:f-1"},
			survivingKeys: []string{"T1:u-2:read:document:doc-1", "T2:u-1:read:document:doc-1"},
		},
		{
			name:          "user change purges principal",
			event:         models.MutationEvent{Type: models.EventUserChanged, TenantID: "T1", PrincipalKey: "u-1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1"},
			survivingKeys: []string{"T1:u-2:read:document:doc-1"},
		},
		{
			name:          "role permission change purges tenant",
			event:         models.MutationEvent{Type: models.EventRolePermissionChanged, TenantID: "T1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1", "T1:u-2:read:document:doc-1"},
			survivingKeys: []string{"T2:u-1:read:document:doc-1"},
		},
		{
			name:          "role hierarchy change purges tenant",
			event:         models.MutationEvent{Type: models.EventRoleChanged, TenantID: "T1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1"},
			survivingKeys: []string{"T2:u-1:read:document:doc-1"},
		},
		{
			name:          "policy change purges tenant",
			event:         models.MutationEvent{Type: models.EventPolicyChanged, TenantID: "T1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1"},
			survivingKeys: []string{"T2:u-1:read:document:doc-1"},
		},
		{
			name:          "principal event without principal purges tenant",
			event:         models.MutationEvent{Type: models.EventUserRoleChanged, TenantID: "T1"},
			purgedKeys:    []string{"T1:u-1:read:document:doc-1", "T1:u-2:read:document:doc-1"},
			survivingKeys: []string{"T2:u-1:read:document:doc-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestCache(t)
			bus := events.NewBus(logger.NewNop())
			NewInvalidator(c, logger.NewNop()).Register(bus)

			for _, key := range append(append([]string{}, tt.purgedKeys...), tt.survivingKeys...) {
				prime(t, c, key)
			}

			bus.Publish(tt.event)

			for _, key := range tt.purgedKeys {
				assertCached(t, c, key, false)
			}
			for _, key := range tt.survivingKeys {
				assertCached(t, c, key, true)
			}
		})
	}
}
