// Package authz orchestrates the decision pipeline: fingerprint, two-tier
// cache, RBAC evaluation, optional external policy composition, metrics and
// asynchronous audit.
package authz

import (
	"context"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/audit"
	"github.com/bl-hori/auth-platform-sub001/internal/cache"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/policy/engine"
	"github.com/bl-hori/auth-platform-sub001/internal/rbac"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Service answers authorization questions.
type Service struct {
	cache     *cache.DecisionCache
	evaluator *rbac.Evaluator
	engine    engine.Adapter
	recorder  *audit.Recorder
	logger    logger.Logger
}

func NewService(dc *cache.DecisionCache, ev *rbac.Evaluator, eng engine.Adapter, rec *audit.Recorder, log logger.Logger) *Service {
	return &Service{cache: dc, evaluator: ev, engine: eng, recorder: rec, logger: log}
}

// RequestMeta carries transport-level context recorded with each decision.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Decide runs one decision end to end. Failures below the evaluator surface
// as a decision of "error", never as a transport error.
func (s *Service) Decide(ctx context.Context, req *models.DecisionRequest, meta RequestMeta) (*models.DecisionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()
	monitoring.RecordRequest(req.TenantID)

	key := cache.FingerprintRequest(req)
	result, _, err := s.cache.GetOrCompute(ctx, key, func(ctx context.Context) (*models.DecisionResult, error) {
		return s.compute(ctx, req), nil
	})
	if err != nil {
		// The compute path never errors; this is a cache-internal failure.
		result = &models.DecisionResult{Decision: models.DecisionError, Reason: "evaluation failed"}
		s.logger.Error("decision pipeline failed", "tenant", req.TenantID, "error", err)
	}

	elapsed := time.Since(start)
	result.EvaluationTimeMs = elapsed.Milliseconds()

	monitoring.RecordDecision(string(result.Decision), result.Degraded)
	monitoring.RecordEvaluationDuration(elapsed)

	s.recorder.Record(audit.DecisionEntry(req, result, meta.IPAddress, meta.UserAgent))
	return result, nil
}

// DecideBatch evaluates an ordered list, returning results in input order.
func (s *Service) DecideBatch(ctx context.Context, reqs []*models.DecisionRequest, meta RequestMeta) ([]*models.DecisionResult, error) {
	results := make([]*models.DecisionResult, len(reqs))
	for i, req := range reqs {
		res, err := s.Decide(ctx, req, meta)
		if err != nil {
			return nil, err
		}
		results[i] = res
	}
	return results, nil
}

// compute evaluates RBAC and composes the external policy answer. Storage
// failures become an error decision; policy transport failures degrade to
// the RBAC result.
func (s *Service) compute(ctx context.Context, req *models.DecisionRequest) *models.DecisionResult {
	rbacResult, err := s.evaluator.Evaluate(ctx, req)
	if err != nil {
		s.logger.Error("rbac evaluation failed",
			"tenant", req.TenantID, "principal", req.Principal.ID, "error", err)
		return &models.DecisionResult{Decision: models.DecisionError, Reason: "evaluation failed"}
	}

	if !s.engine.Enabled() {
		return rbacResult
	}

	allowed, err := s.engine.Decide(ctx, &engine.Input{
		Tenant:       req.TenantID,
		Principal:    req.Principal,
		Action:       req.Action,
		Resource:     req.Resource,
		Context:      req.Context,
		RBACDecision: string(rbacResult.Decision),
	})
	if err != nil {
		// Policy engine unreachable: fall back to RBAC alone.
		s.logger.Warn("policy engine unavailable; using RBAC result",
			"tenant", req.TenantID, "error", err)
		rbacResult.Degraded = true
		return rbacResult
	}

	// Deny wins: allow only when both evaluators allow.
	if rbacResult.Decision == models.DecisionAllow && !allowed {
		return &models.DecisionResult{
			Decision:                models.DecisionDeny,
			Reason:                  "denied by policy",
			ContributingRoles:       rbacResult.ContributingRoles,
			ContributingPermissions: rbacResult.ContributingPermissions,
		}
	}
	return rbacResult
}

func validateRequest(req *models.DecisionRequest) error {
	switch {
	case req.TenantID == "":
		return apperr.New(apperr.KindValidation, "tenant is required")
	case req.Principal.ID == "":
		return apperr.New(apperr.KindValidation, "principal id is required")
	case req.Action == "":
		return apperr.New(apperr.KindValidation, "action is required")
	case req.Resource.Type == "":
		return apperr.New(apperr.KindValidation, "resource type is required")
	}
	return nil
}
