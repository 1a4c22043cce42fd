package models

import (
	"fmt"
	"time"
)

// PolicyType selects the evaluation engine for a policy. Cedar is reserved.
type PolicyType string

const (
	PolicyTypeRego  PolicyType = "rego"
	PolicyTypeCedar PolicyType = "cedar"
)

func ParsePolicyType(s string) (PolicyType, error) {
	switch PolicyType(s) {
	case PolicyTypeRego, PolicyTypeCedar:
		return PolicyType(s), nil
	}
	return "", fmt.Errorf("unknown policy type %q", s)
}

// PolicyStatus is the lifecycle state of a policy.
type PolicyStatus string

const (
	PolicyStatusDraft    PolicyStatus = "draft"
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusArchived PolicyStatus = "archived"
)

func ParsePolicyStatus(s string) (PolicyStatus, error) {
	switch PolicyStatus(s) {
	case PolicyStatusDraft, PolicyStatusActive, PolicyStatusArchived:
		return PolicyStatus(s), nil
	}
	return "", fmt.Errorf("unknown policy status %q", s)
}

// Policy is a named external-policy document. CurrentVersion always points at
// the latest PolicyVersion sequence number.
type Policy struct {
	ID             string            `json:"id"`
	OrgID          string            `json:"orgId"`
	Name           string            `json:"name"`
	DisplayName    string            `json:"displayName,omitempty"`
	Type           PolicyType        `json:"type"`
	Status         PolicyStatus      `json:"status"`
	CurrentVersion int               `json:"currentVersion"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	DeletedAt      *time.Time        `json:"deletedAt,omitempty"`
}

// ValidationStatus is the outcome of validating a policy version.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

func ParseValidationStatus(s string) (ValidationStatus, error) {
	switch ValidationStatus(s) {
	case ValidationPending, ValidationValid, ValidationInvalid:
		return ValidationStatus(s), nil
	}
	return "", fmt.Errorf("unknown validation status %q", s)
}

// ValidationError is one structured violation found while validating policy
// content.
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// PolicyVersion is an immutable snapshot of policy content. Checksum is the
// SHA-256 of Content, hex encoded.
type PolicyVersion struct {
	ID               string            `json:"id"`
	PolicyID         string            `json:"policyId"`
	Version          int               `json:"version"`
	Content          string            `json:"content"`
	Checksum         string            `json:"checksum"`
	ValidationStatus ValidationStatus  `json:"validationStatus"`
	ValidationErrors []ValidationError `json:"validationErrors,omitempty"`
	PublishedAt      *time.Time        `json:"publishedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}
