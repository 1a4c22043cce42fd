package policy

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/events"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/policy/engine"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Service manages policies and their versions.
type Service struct {
	store  storage.Store
	engine engine.Adapter
	bus    events.Publisher
	logger logger.Logger
}

func NewService(store storage.Store, eng engine.Adapter, bus events.Publisher, log logger.Logger) *Service {
	return &Service{store: store, engine: eng, bus: bus, logger: log}
}

// Create creates a draft policy with its first version, validated
// synchronously.
func (s *Service) Create(ctx context.Context, orgID, name, displayName string, ptype models.PolicyType, content string) (*models.Policy, *models.PolicyVersion, error) {
	if name == "" {
		return nil, nil, apperr.New(apperr.KindValidation, "policy name is required")
	}

	p := &models.Policy{
		ID:             uuid.New().String(),
		OrgID:          orgID,
		Name:           name,
		DisplayName:    displayName,
		Type:           ptype,
		Status:         models.PolicyStatusDraft,
		CurrentVersion: 1,
		Metadata:       map[string]string{},
	}

	var version *models.PolicyVersion
	err := s.store.WithTx(ctx, func(ctx context.Context) error {
		if err := s.store.Policies().Create(ctx, p); err != nil {
			return err
		}
		v, err := s.appendVersion(ctx, p, content)
		if err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.publishChange(orgID, p.ID)
	return p, version, nil
}

// UpdateContent appends a new validated version and advances currentVersion.
func (s *Service) UpdateContent(ctx context.Context, orgID, policyID, content string) (*models.PolicyVersion, error) {
	p, err := s.getOwned(ctx, orgID, policyID)
	if err != nil {
		return nil, err
	}

	var version *models.PolicyVersion
	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		v, err := s.appendVersion(ctx, p, content)
		if err != nil {
			return err
		}
		p.CurrentVersion = v.Version
		if err := s.store.Policies().Update(ctx, p); err != nil {
			return err
		}
		version = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishChange(orgID, policyID)
	return version, nil
}

// appendVersion creates version max+1 with checksum and synchronous
// validation. Duplicate content is allowed but surfaced in policy metadata.
func (s *Service) appendVersion(ctx context.Context, p *models.Policy, content string) (*models.PolicyVersion, error) {
	max, err := s.store.Policies().MaxVersion(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	checksum := Checksum(content)
	v := &models.PolicyVersion{
		ID:               uuid.New().String(),
		PolicyID:         p.ID,
		Version:          max + 1,
		Content:          content,
		Checksum:         checksum,
		ValidationStatus: models.ValidationPending,
	}
	if err := s.store.Policies().CreateVersion(ctx, v); err != nil {
		return nil, err
	}

	dupes, err := s.store.Policies().CountByChecksum(ctx, p.ID, checksum)
	if err != nil {
		return nil, err
	}
	if dupes > 1 {
		if p.Metadata == nil {
			p.Metadata = map[string]string{}
		}
		p.Metadata["duplicate_checksum_versions"] = strconv.Itoa(dupes)
		if err := s.store.Policies().Update(ctx, p); err != nil {
			return nil, err
		}
	}

	verrs := s.validate(ctx, p.Type, content)
	if len(verrs) > 0 {
		v.ValidationStatus = models.ValidationInvalid
		v.ValidationErrors = verrs
	} else {
		v.ValidationStatus = models.ValidationValid
	}
	if err := s.store.Policies().SetVersionValidation(ctx, v.ID, v.ValidationStatus, verrs); err != nil {
		return nil, err
	}
	return v, nil
}

// validate runs the denylist and package checks locally, then delegates the
// full syntactic check to the external compiler, falling back to the local
// structural check when the compiler is unreachable.
func (s *Service) validate(ctx context.Context, ptype models.PolicyType, content string) []models.ValidationError {
	if ptype == models.PolicyTypeCedar {
		return []models.ValidationError{{Code: "unsupported", Message: "cedar validation is not supported"}}
	}

	verrs := checkPackage(content)
	verrs = append(verrs, checkDenylist(content)...)
	if len(verrs) > 0 {
		return verrs
	}

	if s.engine.Enabled() {
		remote, err := s.engine.CheckSyntax(ctx, content)
		if err == nil {
			return remote
		}
		s.logger.Warn("policy compiler unreachable; using local structural check", "error", err)
	}
	return structuralCheck(content)
}

// Publish activates the policy. Only a valid version may be published.
func (s *Service) Publish(ctx context.Context, orgID, policyID string, version int) error {
	p, err := s.getOwned(ctx, orgID, policyID)
	if err != nil {
		return err
	}
	if version == 0 {
		version = p.CurrentVersion
	}

	v, err := s.store.Policies().GetVersion(ctx, policyID, version)
	if err != nil {
		return err
	}
	if v.ValidationStatus != models.ValidationValid {
		return apperr.New(apperr.KindPrecondition, "cannot publish a version that is not valid").
			WithDetails(map[string]interface{}{
				"currentState":  string(v.ValidationStatus),
				"requiredState": string(models.ValidationValid),
				"version":       v.Version,
			})
	}

	err = s.store.WithTx(ctx, func(ctx context.Context) error {
		now := time.Now()
		if err := s.store.Policies().MarkPublished(ctx, v.ID, now); err != nil {
			return err
		}
		p.Status = models.PolicyStatusActive
		p.CurrentVersion = v.Version
		return s.store.Policies().Update(ctx, p)
	})
	if err != nil {
		return err
	}

	s.publishChange(orgID, policyID)
	s.logger.Info("policy published", "policy", p.Name, "version", v.Version, "tenant", orgID)
	return nil
}

// Archive takes an active policy out of the serving set.
func (s *Service) Archive(ctx context.Context, orgID, policyID string) error {
	p, err := s.getOwned(ctx, orgID, policyID)
	if err != nil {
		return err
	}
	if p.Status != models.PolicyStatusActive {
		return apperr.New(apperr.KindPrecondition, "only an active policy can be archived").
			WithDetails(map[string]interface{}{
				"currentState":  string(p.Status),
				"requiredState": string(models.PolicyStatusActive),
			})
	}

	p.Status = models.PolicyStatusArchived
	if err := s.store.Policies().Update(ctx, p); err != nil {
		return err
	}

	s.publishChange(orgID, policyID)
	s.logger.Info("policy archived", "policy", p.Name, "tenant", orgID)
	return nil
}

// Restore is the administrative override returning an archived policy to
// active.
func (s *Service) Restore(ctx context.Context, orgID, policyID string) error {
	p, err := s.getOwned(ctx, orgID, policyID)
	if err != nil {
		return err
	}
	if p.Status != models.PolicyStatusArchived {
		return apperr.New(apperr.KindPrecondition, "only an archived policy can be restored").
			WithDetails(map[string]interface{}{
				"currentState":  string(p.Status),
				"requiredState": string(models.PolicyStatusArchived),
			})
	}

	p.Status = models.PolicyStatusActive
	if err := s.store.Policies().Update(ctx, p); err != nil {
		return err
	}

	s.publishChange(orgID, policyID)
	return nil
}

// Delete soft-deletes the policy, hiding it from normal reads.
func (s *Service) Delete(ctx context.Context, orgID, policyID string) error {
	if _, err := s.getOwned(ctx, orgID, policyID); err != nil {
		return err
	}
	if err := s.store.Policies().SoftDelete(ctx, policyID); err != nil {
		return err
	}
	s.publishChange(orgID, policyID)
	return nil
}

func (s *Service) Get(ctx context.Context, orgID, policyID string) (*models.Policy, error) {
	return s.getOwned(ctx, orgID, policyID)
}

func (s *Service) List(ctx context.Context, orgID string) ([]*models.Policy, error) {
	return s.store.Policies().List(ctx, orgID)
}

func (s *Service) GetVersion(ctx context.Context, orgID, policyID string, version int) (*models.PolicyVersion, error) {
	if _, err := s.getOwned(ctx, orgID, policyID); err != nil {
		return nil, err
	}
	return s.store.Policies().GetVersion(ctx, policyID, version)
}

// Revalidate reruns validation for an existing version, e.g. after the
// external compiler comes back from an outage.
func (s *Service) Revalidate(ctx context.Context, orgID, policyID string, version int) (*models.PolicyVersion, error) {
	p, err := s.getOwned(ctx, orgID, policyID)
	if err != nil {
		return nil, err
	}
	v, err := s.store.Policies().GetVersion(ctx, policyID, version)
	if err != nil {
		return nil, err
	}

	verrs := s.validate(ctx, p.Type, v.Content)
	if len(verrs) > 0 {
		v.ValidationStatus = models.ValidationInvalid
		v.ValidationErrors = verrs
	} else {
		v.ValidationStatus = models.ValidationValid
		v.ValidationErrors = nil
	}
	if err := s.store.Policies().SetVersionValidation(ctx, v.ID, v.ValidationStatus, verrs); err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Service) ListVersions(ctx context.Context, orgID, policyID string) ([]*models.PolicyVersion, error) {
	if _, err := s.getOwned(ctx, orgID, policyID); err != nil {
		return nil, err
	}
	return s.store.Policies().ListVersions(ctx, policyID)
}

// getOwned loads the policy and enforces tenant isolation.
func (s *Service) getOwned(ctx context.Context, orgID, policyID string) (*models.Policy, error) {
	p, err := s.store.Policies().GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.OrgID != orgID {
		return nil, apperr.New(apperr.KindNotFound, "policy not found")
	}
	return p, nil
}

func (s *Service) publishChange(orgID, policyID string) {
	s.bus.Publish(models.MutationEvent{
		Type:       models.EventPolicyChanged,
		TenantID:   orgID,
		EntityID:   policyID,
		OccurredAt: time.Now(),
	})
}
