package models

import "time"

// AuditEventType distinguishes decision records from admin mutations.
type AuditEventType string

const (
	AuditEventDecision AuditEventType = "authorization.decision"
	AuditEventMutation AuditEventType = "admin.mutation"
	AuditEventAuth     AuditEventType = "authentication"
)

// AuditLog is one immutable entry in the time-partitioned audit log.
type AuditLog struct {
	ID           string                 `json:"id"`
	TenantID     string                 `json:"tenantId"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"eventType"`
	ActorID      string                 `json:"actorId,omitempty"`
	ActorEmail   string                 `json:"actorEmail,omitempty"`
	ResourceType string                 `json:"resourceType,omitempty"`
	ResourceID   string                 `json:"resourceId,omitempty"`
	Action       string                 `json:"action"`
	Decision     string                 `json:"decision,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	RequestData  map[string]interface{} `json:"requestData,omitempty"`
	ResponseData map[string]interface{} `json:"responseData,omitempty"`
	IPAddress    string                 `json:"ipAddress,omitempty"`
	UserAgent    string                 `json:"userAgent,omitempty"`
}
