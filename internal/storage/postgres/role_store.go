package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

type roleStore struct {
	s *Store
}

const roleColumns = `id, org_id, name, display_name, parent_id, level, is_system,
	metadata, created_at, updated_at, deleted_at`

func scanRole(row interface{ Scan(...any) error }) (*models.Role, error) {
	var r models.Role
	var displayName, parentID sql.NullString
	if err := row.Scan(&r.ID, &r.OrgID, &r.Name, &displayName, &parentID, &r.Level,
		&r.IsSystem, &r.Metadata, &r.CreatedAt, &r.UpdatedAt, &r.DeletedAt); err != nil {
		return nil, err
	}
	r.DisplayName = displayName.String
	r.ParentID = parentID.String
	return &r, nil
}

func (st *roleStore) Create(ctx context.Context, role *models.Role) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO roles (id, org_id, name, display_name, parent_id, level,
			is_system, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
	`, role.ID, role.OrgID, role.Name, nullable(role.DisplayName),
		nullable(role.ParentID), role.Level, role.IsSystem, role.Metadata)
	observe("insert", "roles", start, err)
	return mapError(err, "role")
}

func (st *roleStore) GetByID(ctx context.Context, id string) (*models.Role, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	r, err := scanRole(row)
	observe("select", "roles", start, err)
	if err != nil {
		return nil, mapError(err, "role")
	}
	return r, nil
}

func (st *roleStore) GetByName(ctx context.Context, orgID, name string) (*models.Role, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE org_id = $1 AND name = $2 AND deleted_at IS NULL
	`, orgID, name)
	r, err := scanRole(row)
	observe("select", "roles", start, err)
	if err != nil {
		return nil, mapError(err, "role")
	}
	return r, nil
}

func (st *roleStore) GetByIDs(ctx context.Context, ids []string) ([]*models.Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE id = ANY($1::uuid[]) AND deleted_at IS NULL
	`, ids)
	observe("select", "roles", start, err)
	if err != nil {
		return nil, mapError(err, "role")
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, mapError(err, "role")
		}
		roles = append(roles, r)
	}
	return roles, mapError(rows.Err(), "role")
}

func (st *roleStore) List(ctx context.Context, orgID string) ([]*models.Role, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+roleColumns+` FROM roles
		WHERE org_id = $1 AND deleted_at IS NULL
		ORDER BY level, name
	`, orgID)
	observe("select", "roles", start, err)
	if err != nil {
		return nil, mapError(err, "role")
	}
	defer rows.Close()

	var roles []*models.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, mapError(err, "role")
		}
		roles = append(roles, r)
	}
	return roles, mapError(rows.Err(), "role")
}

func (st *roleStore) Update(ctx context.Context, role *models.Role) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE roles SET name = $2, display_name = $3, parent_id = $4, level = $5,
			metadata = $6, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, role.ID, role.Name, nullable(role.DisplayName), nullable(role.ParentID),
		role.Level, role.Metadata)
	observe("update", "roles", start, err)
	if err != nil {
		return mapError(err, "role")
	}
	if tag.RowsAffected() == 0 {
		return notFound("role")
	}
	return nil
}

func (st *roleStore) SoftDelete(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE roles SET deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	observe("update", "roles", start, err)
	if err != nil {
		return mapError(err, "role")
	}
	if tag.RowsAffected() == 0 {
		return notFound("role")
	}
	return nil
}

/* --------------------------- role-permission edges --------------------------- */

func (st *roleStore) AddPermission(ctx context.Context, rp *models.RolePermission) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO role_permissions (id, role_id, permission_id, created_at)
		VALUES ($1, $2, $3, now())
	`, rp.ID, rp.RoleID, rp.PermissionID)
	observe("insert", "role_permissions", start, err)
	return mapError(err, "role permission")
}

func (st *roleStore) RemovePermission(ctx context.Context, roleID, permissionID string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2
	`, roleID, permissionID)
	observe("delete", "role_permissions", start, err)
	if err != nil {
		return mapError(err, "role permission")
	}
	if tag.RowsAffected() == 0 {
		return notFound("role permission")
	}
	return nil
}

func (st *roleStore) PermissionsByRole(ctx context.Context, roleIDs []string) (map[string][]*models.Permission, error) {
	if len(roleIDs) == 0 {
		return map[string][]*models.Permission{}, nil
	}
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT rp.role_id, `+permissionColumnsPrefixed("p")+`
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1::uuid[])
	`, roleIDs)
	observe("select", "role_permissions", start, err)
	if err != nil {
		return nil, mapError(err, "role permission")
	}
	defer rows.Close()

	result := make(map[string][]*models.Permission)
	for rows.Next() {
		var roleID string
		var p models.Permission
		var effect string
		if err := rows.Scan(&roleID, &p.ID, &p.OrgID, &p.Name, &p.ResourceType,
			&p.Action, &effect, &p.Conditions, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, mapError(err, "role permission")
		}
		parsed, err := models.ParsePermissionEffect(effect)
		if err != nil {
			return nil, err
		}
		p.Effect = parsed
		result[roleID] = append(result[roleID], &p)
	}
	return result, mapError(rows.Err(), "role permission")
}

/* ------------------------------ user-role grants ------------------------------ */

func (st *roleStore) Grant(ctx context.Context, ur *models.UserRole) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO user_roles (id, user_id, role_id, resource_type, resource_id,
			granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, ur.ID, ur.UserID, ur.RoleID, ur.ResourceType, ur.ResourceID,
		nullable(ur.GrantedBy), ur.GrantedAt, ur.ExpiresAt)
	observe("insert", "user_roles", start, err)
	return mapError(err, "user role")
}

func (st *roleStore) Revoke(ctx context.Context, userID, roleID, resourceType, resourceID string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id = $2 AND resource_type = $3 AND resource_id = $4
	`, userID, roleID, resourceType, resourceID)
	observe("delete", "user_roles", start, err)
	if err != nil {
		return mapError(err, "user role")
	}
	if tag.RowsAffected() == 0 {
		return notFound("user role")
	}
	return nil
}

func (st *roleStore) GrantsForUser(ctx context.Context, userID string, now time.Time) ([]*models.UserRole, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT id, user_id, role_id, resource_type, resource_id, granted_by,
			granted_at, expires_at
		FROM user_roles
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
	`, userID, now)
	observe("select", "user_roles", start, err)
	if err != nil {
		return nil, mapError(err, "user role")
	}
	defer rows.Close()

	var grants []*models.UserRole
	for rows.Next() {
		var ur models.UserRole
		var grantedBy sql.NullString
		if err := rows.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.ResourceType,
			&ur.ResourceID, &grantedBy, &ur.GrantedAt, &ur.ExpiresAt); err != nil {
			return nil, mapError(err, "user role")
		}
		ur.GrantedBy = grantedBy.String
		grants = append(grants, &ur)
	}
	return grants, mapError(rows.Err(), "user role")
}

func (st *roleStore) DeleteExpired(ctx context.Context, now time.Time) ([]*models.UserRole, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		DELETE FROM user_roles
		WHERE expires_at IS NOT NULL AND expires_at <= $1
		RETURNING id, user_id, role_id, resource_type, resource_id, granted_by,
			granted_at, expires_at
	`, now)
	observe("delete", "user_roles", start, err)
	if err != nil {
		return nil, mapError(err, "user role")
	}
	defer rows.Close()

	var deleted []*models.UserRole
	for rows.Next() {
		var ur models.UserRole
		var grantedBy sql.NullString
		if err := rows.Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.ResourceType,
			&ur.ResourceID, &grantedBy, &ur.GrantedAt, &ur.ExpiresAt); err != nil {
			return nil, mapError(err, "user role")
		}
		ur.GrantedBy = grantedBy.String
		deleted = append(deleted, &ur)
	}
	return deleted, mapError(rows.Err(), "user role")
}
