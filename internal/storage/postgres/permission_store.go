package postgres

import (
	"context"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

type permissionStore struct {
	s *Store
}

const permissionColumns = `id, org_id, name, resource_type, action, effect,
	conditions, created_at, updated_at`

// permissionColumnsPrefixed qualifies the column list for joins.
func permissionColumnsPrefixed(alias string) string {
	return alias + `.id, ` + alias + `.org_id, ` + alias + `.name, ` +
		alias + `.resource_type, ` + alias + `.action, ` + alias + `.effect, ` +
		alias + `.conditions, ` + alias + `.created_at, ` + alias + `.updated_at`
}

func scanPermission(row interface{ Scan(...any) error }) (*models.Permission, error) {
	var p models.Permission
	var effect string
	if err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.ResourceType, &p.Action,
		&effect, &p.Conditions, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParsePermissionEffect(effect)
	if err != nil {
		return nil, err
	}
	p.Effect = parsed
	return &p, nil
}

func (st *permissionStore) Create(ctx context.Context, p *models.Permission) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO permissions (id, org_id, name, resource_type, action, effect,
			conditions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
	`, p.ID, p.OrgID, p.Name, p.ResourceType, p.Action, string(p.Effect), p.Conditions)
	observe("insert", "permissions", start, err)
	return mapError(err, "permission")
}

func (st *permissionStore) GetByID(ctx context.Context, id string) (*models.Permission, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+permissionColumns+` FROM permissions WHERE id = $1
	`, id)
	p, err := scanPermission(row)
	observe("select", "permissions", start, err)
	if err != nil {
		return nil, mapError(err, "permission")
	}
	return p, nil
}

func (st *permissionStore) GetByName(ctx context.Context, orgID, name string) (*models.Permission, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+permissionColumns+` FROM permissions WHERE org_id = $1 AND name = $2
	`, orgID, name)
	p, err := scanPermission(row)
	observe("select", "permissions", start, err)
	if err != nil {
		return nil, mapError(err, "permission")
	}
	return p, nil
}

func (st *permissionStore) List(ctx context.Context, orgID string) ([]*models.Permission, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+permissionColumns+` FROM permissions
		WHERE org_id = $1
		ORDER BY name
	`, orgID)
	observe("select", "permissions", start, err)
	if err != nil {
		return nil, mapError(err, "permission")
	}
	defer rows.Close()

	var perms []*models.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, mapError(err, "permission")
		}
		perms = append(perms, p)
	}
	return perms, mapError(rows.Err(), "permission")
}

func (st *permissionStore) Update(ctx context.Context, p *models.Permission) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE permissions SET name = $2, conditions = $3, updated_at = now()
		WHERE id = $1
	`, p.ID, p.Name, p.Conditions)
	observe("update", "permissions", start, err)
	if err != nil {
		return mapError(err, "permission")
	}
	if tag.RowsAffected() == 0 {
		return notFound("permission")
	}
	return nil
}

func (st *permissionStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	observe("delete", "permissions", start, err)
	if err != nil {
		return mapError(err, "permission")
	}
	if tag.RowsAffected() == 0 {
		return notFound("permission")
	}
	return nil
}
