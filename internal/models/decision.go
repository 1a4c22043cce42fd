package models

import "time"

// Decision is the outcome of an authorization evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionDeny  Decision = "deny"
	DecisionError Decision = "error"
)

// PrincipalRef identifies the subject of a decision request.
type PrincipalRef struct {
	ID    string                 `json:"id"`
	Type  string                 `json:"type,omitempty"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// ResourceRef identifies the target of a decision request.
type ResourceRef struct {
	Type  string                 `json:"type"`
	ID    string                 `json:"id,omitempty"`
	Attrs map[string]interface{} `json:"attrs,omitempty"`
}

// DecisionRequest asks whether a principal may perform an action on a
// resource within a tenant.
type DecisionRequest struct {
	TenantID  string                 `json:"tenant"`
	Principal PrincipalRef           `json:"principal"`
	Action    string                 `json:"action"`
	Resource  ResourceRef            `json:"resource"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// DecisionResult carries the decision plus the evidence that produced it.
// Degraded marks results computed while a dependency was unavailable.
type DecisionResult struct {
	Decision                Decision `json:"decision"`
	Reason                  string   `json:"reason"`
	EvaluationTimeMs        int64    `json:"evaluationTimeMs"`
	ContributingRoles       []string `json:"contributingRoles,omitempty"`
	ContributingPermissions []string `json:"contributingPermissions,omitempty"`
	Degraded                bool     `json:"degraded,omitempty"`
}

// CachedDecision is the self-describing record stored in the decision cache.
type CachedDecision struct {
	Decision                Decision  `json:"decision"`
	Reason                  string    `json:"reason"`
	ContributingRoles       []string  `json:"contributingRoles,omitempty"`
	ContributingPermissions []string  `json:"contributingPermissions,omitempty"`
	Degraded                bool      `json:"degraded,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
}

// Result converts a cache record back into a response, stamping the observed
// evaluation time.
func (c *CachedDecision) Result(elapsedMs int64) *DecisionResult {
	return &DecisionResult{
		Decision:                c.Decision,
		Reason:                  c.Reason,
		EvaluationTimeMs:        elapsedMs,
		ContributingRoles:       c.ContributingRoles,
		ContributingPermissions: c.ContributingPermissions,
		Degraded:                c.Degraded,
	}
}
