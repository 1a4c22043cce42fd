package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/admin"
	"github.com/bl-hori/auth-platform-sub001/internal/api"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/auth"
	"github.com/bl-hori/auth-platform-sub001/internal/authz"
	"github.com/bl-hori/auth-platform-sub001/internal/cache"
	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/policy"
	"github.com/bl-hori/auth-platform-sub001/internal/policy/engine"
	"github.com/bl-hori/auth-platform-sub001/internal/ratelimit"
	"github.com/bl-hori/auth-platform-sub001/internal/rbac"
	"github.com/bl-hori/auth-platform-sub001/internal/storage/postgres"
	pkgcache "github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// sweepInterval is how often expired role grants are cleaned up.
const sweepInterval = time.Minute

// retentionInterval is how often audit retention is applied.
const retentionInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logg := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Data store.
	store, err := postgres.Open(ctx, cfg.Database, logg)
	if err != nil {
		logg.Fatal("failed to open database", "error", err)
	}
	defer store.Close()

	// Distributed cache, falling back to in-memory when unreachable.
	l2, err := pkgcache.NewRedisCache(cfg.Cache.L2.Addrs, cfg.Cache.L2.Password,
		cfg.Cache.L2.DB, time.Duration(cfg.Cache.L2.TTL)*time.Second)
	if err != nil {
		logg.Warn("distributed cache unreachable", "error", err)
		l2 = pkgcache.NewNoopCache(logg)
	}

	// Two-tier decision cache plus event-driven invalidation.
	decisionCache := cache.New(l2, cfg.Cache.L1.MaxEntries,
		time.Duration(cfg.Cache.L1.TTL)*time.Second,
		time.Duration(cfg.Cache.L2.TTL)*time.Second, logg)

	bus := events.NewBus(logg)
	cache.NewInvalidator(decisionCache, logg).Register(bus)

	// Audit recorder.
	recorder := audit.NewRecorder(store, cfg.Audit.QueueSize, cfg.Audit.Workers, logg)
	recorder.Start()

	// Services.
	evaluator := rbac.NewEvaluator(store, cfg.RBAC.MaxHierarchyDepth, logg)
	policyEngine := engine.New(cfg.PolicyEngine, logg)
	authzService := authz.NewService(decisionCache, evaluator, policyEngine, recorder, logg)
	adminService := admin.NewService(store, bus, recorder, cfg.RBAC.MaxHierarchyDepth, logg)
	policyService := policy.NewService(store, policyEngine, bus, logg)
	auditService := audit.NewService(store, logg)

	gate := auth.NewGate(cfg.OIDC, cfg.APIKeys, store, logg)
	limiter := ratelimit.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RefillTokens,
		time.Duration(cfg.RateLimit.RefillPeriod)*time.Second)

	// Background maintenance: expired-grant sweep and audit retention.
	go runSweeper(ctx, adminService, logg)
	go runRetention(ctx, auditService, cfg.Audit.RetentionDays, logg)

	server := api.NewServer(api.Deps{
		Config:   cfg,
		Logger:   logg,
		Store:    store,
		L2:       l2,
		Cache:    decisionCache,
		Gate:     gate,
		Limiter:  limiter,
		Authz:    authzService,
		Admin:    adminService,
		Policy:   policyService,
		AuditSvc: auditService,
		Recorder: recorder,
	})

	if err := server.Start(ctx); err != nil {
		logg.Fatal("server exited", "error", err)
	}
}

func runSweeper(ctx context.Context, adminService *admin.Service, logg logger.Logger) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := adminService.SweepExpiredGrants(ctx); err != nil {
				logg.Warn("expired grant sweep failed", "error", err)
			}
		}
	}
}

func runRetention(ctx context.Context, auditService *audit.Service, retentionDays int, logg logger.Logger) {
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := auditService.ApplyRetention(ctx, retentionDays); err != nil {
				logg.Warn("audit retention failed", "error", err)
			}
		}
	}
}
