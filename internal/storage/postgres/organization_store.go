package postgres

import (
	"context"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

type organizationStore struct {
	s *Store
}

const orgColumns = `id, name, status, settings, created_at, updated_at, deleted_at`

func scanOrganization(row interface{ Scan(...any) error }) (*models.Organization, error) {
	var o models.Organization
	var status string
	if err := row.Scan(&o.ID, &o.Name, &status, &o.Settings, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParseOrgStatus(status)
	if err != nil {
		return nil, err
	}
	o.Status = parsed
	return &o, nil
}

func (st *organizationStore) Create(ctx context.Context, org *models.Organization) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO organizations (id, name, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
	`, org.ID, org.Name, string(org.Status), org.Settings)
	observe("insert", "organizations", start, err)
	return mapError(err, "organization")
}

func (st *organizationStore) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+orgColumns+` FROM organizations
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	org, err := scanOrganization(row)
	observe("select", "organizations", start, err)
	if err != nil {
		return nil, mapError(err, "organization")
	}
	return org, nil
}

func (st *organizationStore) GetByName(ctx context.Context, name string) (*models.Organization, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+orgColumns+` FROM organizations
		WHERE name = $1 AND deleted_at IS NULL
	`, name)
	org, err := scanOrganization(row)
	observe("select", "organizations", start, err)
	if err != nil {
		return nil, mapError(err, "organization")
	}
	return org, nil
}

func (st *organizationStore) List(ctx context.Context) ([]*models.Organization, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+orgColumns+` FROM organizations
		WHERE deleted_at IS NULL
		ORDER BY name
	`)
	observe("select", "organizations", start, err)
	if err != nil {
		return nil, mapError(err, "organization")
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, mapError(err, "organization")
		}
		orgs = append(orgs, org)
	}
	return orgs, mapError(rows.Err(), "organization")
}

func (st *organizationStore) UpdateStatus(ctx context.Context, id string, status models.OrgStatus) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE organizations SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, string(status))
	observe("update", "organizations", start, err)
	if err != nil {
		return mapError(err, "organization")
	}
	if tag.RowsAffected() == 0 {
		return notFound("organization")
	}
	return nil
}

func (st *organizationStore) SoftDelete(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE organizations SET status = 'deleted', deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	observe("update", "organizations", start, err)
	if err != nil {
		return mapError(err, "organization")
	}
	if tag.RowsAffected() == 0 {
		return notFound("organization")
	}
	return nil
}
