package cache

import (
	"context"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// purgeTimeout bounds the distributed purge issued from a mutation's publish
// path.
const purgeTimeout = 5 * time.Second

// Invalidator maps mutation events to cache purges. Principal-scoped events
// purge that principal's keys; everything else purges the tenant.
type Invalidator struct {
	cache  *DecisionCache
	logger logger.Logger
}

func NewInvalidator(c *DecisionCache, log logger.Logger) *Invalidator {
	return &Invalidator{cache: c, logger: log}
}

// Register subscribes the invalidator to the mutation bus. Handlers run on
// the publisher's goroutine: L1 is purged immediately and the L2 purge is
// issued before the handler returns, so a read arriving after the mutation
// observes its effect.
func (inv *Invalidator) Register(bus *events.Bus) {
	bus.Subscribe(models.EventUserRoleChanged, inv.onPrincipalScoped)
	bus.Subscribe(models.EventUserChanged, inv.onPrincipalScoped)
	bus.Subscribe(models.EventRolePermissionChanged, inv.onTenantScoped)
	bus.Subscribe(models.EventRoleChanged, inv.onTenantScoped)
	bus.Subscribe(models.EventPolicyChanged, inv.onTenantScoped)
}

func (inv *Invalidator) onPrincipalScoped(e models.MutationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	if e.PrincipalKey == "" {
		// No principal attribution: purge the tenant rather than miss keys.
		inv.cache.InvalidateTenant(ctx, e.TenantID)
		return
	}
	inv.cache.InvalidatePrincipal(ctx, e.TenantID, e.PrincipalKey)
	inv.logger.Debug("purged principal decisions",
		"tenant", e.TenantID, "principal", e.PrincipalKey, "event", e.Type)
}

func (inv *Invalidator) onTenantScoped(e models.MutationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), purgeTimeout)
	defer cancel()

	inv.cache.InvalidateTenant(ctx, e.TenantID)
	inv.logger.Debug("purged tenant decisions", "tenant", e.TenantID, "event", e.Type)
}
