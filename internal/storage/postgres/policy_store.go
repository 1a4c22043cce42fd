package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

type policyStore struct {
	s *Store
}

const policyColumns = `id, org_id, name, display_name, type, status,
	current_version, metadata, created_at, updated_at, deleted_at`

func scanPolicy(row interface{ Scan(...any) error }) (*models.Policy, error) {
	var p models.Policy
	var displayName sql.NullString
	var ptype, status string
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &displayName, &ptype, &status,
		&p.CurrentVersion, &p.Metadata, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt); err != nil {
		return nil, err
	}
	p.DisplayName = displayName.String
	parsedType, err := models.ParsePolicyType(ptype)
	if err != nil {
		return nil, err
	}
	parsedStatus, err := models.ParsePolicyStatus(status)
	if err != nil {
		return nil, err
	}
	p.Type = parsedType
	p.Status = parsedStatus
	return &p, nil
}

func (st *policyStore) Create(ctx context.Context, p *models.Policy) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO policies (id, org_id, name, display_name, type, status,
			current_version, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, p.ID, p.OrgID, p.Name, nullable(p.DisplayName), string(p.Type),
		string(p.Status), p.CurrentVersion, p.Metadata)
	observe("insert", "policies", start, err)
	return mapError(err, "policy")
}

func (st *policyStore) GetByID(ctx context.Context, id string) (*models.Policy, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	p, err := scanPolicy(row)
	observe("select", "policies", start, err)
	if err != nil {
		return nil, mapError(err, "policy")
	}
	return p, nil
}

func (st *policyStore) GetByName(ctx context.Context, orgID, name string) (*models.Policy, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE org_id = $1 AND name = $2 AND deleted_at IS NULL
	`, orgID, name)
	p, err := scanPolicy(row)
	observe("select", "policies", start, err)
	if err != nil {
		return nil, mapError(err, "policy")
	}
	return p, nil
}

func (st *policyStore) List(ctx context.Context, orgID string) ([]*models.Policy, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE org_id = $1 AND deleted_at IS NULL
		ORDER BY name
	`, orgID)
	observe("select", "policies", start, err)
	if err != nil {
		return nil, mapError(err, "policy")
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, mapError(err, "policy")
		}
		policies = append(policies, p)
	}
	return policies, mapError(rows.Err(), "policy")
}

func (st *policyStore) Update(ctx context.Context, p *models.Policy) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE policies SET display_name = $2, status = $3, current_version = $4,
			metadata = $5, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, p.ID, nullable(p.DisplayName), string(p.Status), p.CurrentVersion, p.Metadata)
	observe("update", "policies", start, err)
	if err != nil {
		return mapError(err, "policy")
	}
	if tag.RowsAffected() == 0 {
		return notFound("policy")
	}
	return nil
}

func (st *policyStore) SoftDelete(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE policies SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	observe("update", "policies", start, err)
	if err != nil {
		return mapError(err, "policy")
	}
	if tag.RowsAffected() == 0 {
		return notFound("policy")
	}
	return nil
}

/* ------------------------------ policy versions ------------------------------ */

const versionColumns = `id, policy_id, version, content, checksum,
	validation_status, validation_errors, published_at, created_at`

func scanPolicyVersion(row interface{ Scan(...any) error }) (*models.PolicyVersion, error) {
	var v models.PolicyVersion
	var status string
	var verrs []byte
	if err := row.Scan(&v.ID, &v.PolicyID, &v.Version, &v.Content, &v.Checksum,
		&status, &verrs, &v.PublishedAt, &v.CreatedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParseValidationStatus(status)
	if err != nil {
		return nil, err
	}
	v.ValidationStatus = parsed
	if len(verrs) > 0 {
		if err := json.Unmarshal(verrs, &v.ValidationErrors); err != nil {
			return nil, err
		}
	}
	return &v, nil
}

func (st *policyStore) CreateVersion(ctx context.Context, v *models.PolicyVersion) error {
	start := time.Now()
	var verrs any
	if len(v.ValidationErrors) > 0 {
		b, err := json.Marshal(v.ValidationErrors)
		if err != nil {
			return err
		}
		verrs = b
	}
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO policy_versions (id, policy_id, version, content, checksum,
			validation_status, validation_errors, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, v.ID, v.PolicyID, v.Version, v.Content, v.Checksum,
		string(v.ValidationStatus), verrs)
	observe("insert", "policy_versions", start, err)
	return mapError(err, "policy version")
}

func (st *policyStore) GetVersion(ctx context.Context, policyID string, version int) (*models.PolicyVersion, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+versionColumns+` FROM policy_versions
		WHERE policy_id = $1 AND version = $2
	`, policyID, version)
	v, err := scanPolicyVersion(row)
	observe("select", "policy_versions", start, err)
	if err != nil {
		return nil, mapError(err, "policy version")
	}
	return v, nil
}

func (st *policyStore) ListVersions(ctx context.Context, policyID string) ([]*models.PolicyVersion, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+versionColumns+` FROM policy_versions
		WHERE policy_id = $1
		ORDER BY version DESC
	`, policyID)
	observe("select", "policy_versions", start, err)
	if err != nil {
		return nil, mapError(err, "policy version")
	}
	defer rows.Close()

	var versions []*models.PolicyVersion
	for rows.Next() {
		v, err := scanPolicyVersion(rows)
		if err != nil {
			return nil, mapError(err, "policy version")
		}
		versions = append(versions, v)
	}
	return versions, mapError(rows.Err(), "policy version")
}

func (st *policyStore) MaxVersion(ctx context.Context, policyID string) (int, error) {
	start := time.Now()
	var max int
	err := st.s.db(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM policy_versions WHERE policy_id = $1
	`, policyID).Scan(&max)
	observe("select", "policy_versions", start, err)
	if err != nil {
		return 0, mapError(err, "policy version")
	}
	return max, nil
}

func (st *policyStore) SetVersionValidation(ctx context.Context, versionID string, status models.ValidationStatus, verrs []models.ValidationError) error {
	start := time.Now()
	var encoded any
	if len(verrs) > 0 {
		b, err := json.Marshal(verrs)
		if err != nil {
			return err
		}
		encoded = b
	}
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE policy_versions SET validation_status = $2, validation_errors = $3
		WHERE id = $1
	`, versionID, string(status), encoded)
	observe("update", "policy_versions", start, err)
	if err != nil {
		return mapError(err, "policy version")
	}
	if tag.RowsAffected() == 0 {
		return notFound("policy version")
	}
	return nil
}

func (st *policyStore) MarkPublished(ctx context.Context, versionID string, at time.Time) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE policy_versions SET published_at = $2 WHERE id = $1
	`, versionID, at)
	observe("update", "policy_versions", start, err)
	if err != nil {
		return mapError(err, "policy version")
	}
	if tag.RowsAffected() == 0 {
		return notFound("policy version")
	}
	return nil
}

func (st *policyStore) CountByChecksum(ctx context.Context, policyID, checksum string) (int, error) {
	start := time.Now()
	var count int
	err := st.s.db(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM policy_versions WHERE policy_id = $1 AND checksum = $2
	`, policyID, checksum).Scan(&count)
	observe("select", "policy_versions", start, err)
	if err != nil {
		return 0, mapError(err, "policy version")
	}
	return count, nil
}
