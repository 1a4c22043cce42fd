// Package api assembles the HTTP server: middleware chain, routes and
// graceful shutdown.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bl-hori/auth-platform-sub001/internal/admin"
	"github.com/bl-hori/auth-platform-sub001/internal/api/handlers"
	"github.com/bl-hori/auth-platform-sub001/internal/api/middleware"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/auth"
	"github.com/bl-hori/auth-platform-sub001/internal/authz"
	"github.com/bl-hori/auth-platform-sub001/internal/cache"
	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/policy"
	"github.com/bl-hori/auth-platform-sub001/internal/ratelimit"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	pkgcache "github.com/bl-hori/auth-platform-sub001/pkg/cache"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Deps carries the wired services the server exposes.
type Deps struct {
	Config   *config.Config
	Logger   logger.Logger
	Store    storage.Store
	L2       pkgcache.DistributedCache
	Cache    *cache.DecisionCache
	Gate     *auth.Gate
	Limiter  ratelimit.Limiter
	Authz    *authz.Service
	Admin    *admin.Service
	Policy   *policy.Service
	AuditSvc *audit.Service
	Recorder *audit.Recorder
}

// Server is the HTTP front of the platform.
type Server struct {
	deps       Deps
	router     *gin.Engine
	httpServer *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	s := &Server{deps: deps, router: router}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(middleware.CORSMiddleware(s.deps.Config.CORS))
	s.router.Use(middleware.RequestLogger(s.deps.Logger))
	s.router.Use(monitoring.HTTPMetricsMiddleware())
	s.router.Use(middleware.AuthMiddleware(s.deps.Gate))
	s.router.Use(middleware.RateLimiter(s.deps.Limiter))
}

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Store, s.deps.L2, s.deps.Logger)
	s.router.GET("/health/live", healthHandler.Liveness)
	s.router.GET("/health/ready", healthHandler.Readiness)
	monitoring.SetupPrometheusMetrics(s.router)

	v1 := s.router.Group("/api/v1")

	authzHandler := handlers.NewAuthzHandler(s.deps.Authz, s.deps.Logger)
	v1.POST("/authorize", authzHandler.Authorize)
	v1.POST("/authorize/batch", authzHandler.AuthorizeBatch)

	rbacHandler := handlers.NewRBACAdminHandler(s.deps.Admin, s.deps.Logger)
	v1.POST("/roles", rbacHandler.CreateRole)
	v1.GET("/roles", rbacHandler.ListRoles)
	v1.GET("/roles/:roleId", rbacHandler.GetRole)
	v1.PUT("/roles/:roleId", rbacHandler.UpdateRole)
	v1.DELETE("/roles/:roleId", rbacHandler.DeleteRole)
	v1.PUT("/roles/:roleId/permissions/:permissionId", rbacHandler.AttachPermission)
	v1.DELETE("/roles/:roleId/permissions/:permissionId", rbacHandler.DetachPermission)

	v1.POST("/permissions", rbacHandler.CreatePermission)
	v1.GET("/permissions", rbacHandler.ListPermissions)
	v1.DELETE("/permissions/:permissionId", rbacHandler.DeletePermission)

	v1.POST("/users", rbacHandler.CreateUser)
	v1.GET("/users", rbacHandler.ListUsers)
	v1.PUT("/users/:userId", rbacHandler.UpdateUser)
	v1.DELETE("/users/:userId", rbacHandler.DeleteUser)
	v1.POST("/users/:userId/roles", rbacHandler.AssignRole)
	v1.DELETE("/users/:userId/roles/:roleId", rbacHandler.RevokeRole)

	policyHandler := handlers.NewPolicyHandler(s.deps.Policy, s.deps.Logger)
	v1.POST("/policies", policyHandler.Create)
	v1.GET("/policies", policyHandler.List)
	v1.GET("/policies/:policyId", policyHandler.Get)
	v1.PUT("/policies/:policyId/content", policyHandler.UpdateContent)
	v1.POST("/policies/:policyId/publish", policyHandler.Publish)
	v1.POST("/policies/:policyId/archive", policyHandler.Archive)
	v1.POST("/policies/:policyId/restore", policyHandler.Restore)
	v1.DELETE("/policies/:policyId", policyHandler.Delete)
	v1.GET("/policies/:policyId/versions", policyHandler.ListVersions)
	v1.GET("/policies/:policyId/versions/:version", policyHandler.GetVersion)
	v1.POST("/policies/:policyId/versions/:version/validate", policyHandler.Revalidate)

	auditHandler := handlers.NewAuditHandler(s.deps.AuditSvc, s.deps.Logger)
	v1.GET("/audit", auditHandler.Query)
	v1.GET("/audit/export", auditHandler.Export)

	adminHandler := handlers.NewAdminHandler(s.deps.Admin, s.deps.Cache, s.deps.Recorder, s.deps.Logger)
	v1.POST("/organizations", adminHandler.CreateOrganization)
	v1.GET("/organizations/current", adminHandler.GetOrganization)
	v1.POST("/organizations/current/suspend", adminHandler.SuspendOrganization)
	v1.POST("/organizations/current/restore", adminHandler.RestoreOrganization)
	v1.DELETE("/organizations/current", adminHandler.DeleteOrganization)
	v1.POST("/admin/cache/invalidate", adminHandler.InvalidateTenantCache)
	v1.GET("/admin/cache/stats", adminHandler.CacheStats)
}

// Start serves until ctx is cancelled, then shuts down gracefully: stop
// accepting requests, drain the audit queue, close the cache pool.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.deps.Config.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("authorization platform API starting", "port", s.deps.Config.Port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		s.deps.Logger.Info("shutting down gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.deps.Logger.Error("http shutdown failed", "error", err)
	}
	if err := s.deps.Recorder.Stop(shutdownCtx); err != nil {
		s.deps.Logger.Error("audit queue drain incomplete", "error", err)
	}
	if err := s.deps.L2.Close(); err != nil {
		s.deps.Logger.Error("closing distributed cache failed", "error", err)
	}
	return nil
}
