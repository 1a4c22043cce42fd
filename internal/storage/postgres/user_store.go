package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
)

type userStore struct {
	s *Store
}

const userColumns = `id, org_id, email, username, external_id, bearer_subject,
	status, attributes, last_sync_at, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var status string
	var username, externalID, bearerSubject sql.NullString
	if err := row.Scan(&u.ID, &u.OrgID, &u.Email, &username, &externalID, &bearerSubject,
		&status, &u.Attributes, &u.LastSyncAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParseUserStatus(status)
	if err != nil {
		return nil, err
	}
	u.Status = parsed
	u.Username = username.String
	u.ExternalID = externalID.String
	u.BearerSubject = bearerSubject.String
	return &u, nil
}

// nullable maps "" to NULL so partial unique indexes ignore absent values.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (st *userStore) Create(ctx context.Context, user *models.User) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO users (id, org_id, email, username, external_id, bearer_subject,
			status, attributes, last_sync_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
	`, user.ID, user.OrgID, user.Email, nullable(user.Username), nullable(user.ExternalID),
		nullable(user.BearerSubject), string(user.Status), user.Attributes, user.LastSyncAt)
	observe("insert", "users", start, err)
	return mapError(err, "user")
}

func (st *userStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	u, err := scanUser(row)
	observe("select", "users", start, err)
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

func (st *userStore) GetByExternalID(ctx context.Context, orgID, externalID string) (*models.User, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE org_id = $1 AND external_id = $2 AND deleted_at IS NULL
	`, orgID, externalID)
	u, err := scanUser(row)
	observe("select", "users", start, err)
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

func (st *userStore) GetByBearerSubject(ctx context.Context, subject string) (*models.User, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE bearer_subject = $1 AND deleted_at IS NULL
	`, subject)
	u, err := scanUser(row)
	observe("select", "users", start, err)
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

func (st *userStore) GetByEmail(ctx context.Context, orgID, email string) (*models.User, error) {
	start := time.Now()
	row := st.s.db(ctx).QueryRow(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE org_id = $1 AND email = $2 AND deleted_at IS NULL
	`, orgID, email)
	u, err := scanUser(row)
	observe("select", "users", start, err)
	if err != nil {
		return nil, mapError(err, "user")
	}
	return u, nil
}

func (st *userStore) List(ctx context.Context, orgID string) ([]*models.User, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE org_id = $1 AND deleted_at IS NULL
		ORDER BY email
	`, orgID)
	observe("select", "users", start, err)
	if err != nil {
		return nil, mapError(err, "user")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, mapError(err, "user")
		}
		users = append(users, u)
	}
	return users, mapError(rows.Err(), "user")
}

func (st *userStore) Update(ctx context.Context, user *models.User) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE users SET email = $2, username = $3, external_id = $4,
			bearer_subject = $5, status = $6, attributes = $7, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, user.ID, user.Email, nullable(user.Username), nullable(user.ExternalID),
		nullable(user.BearerSubject), string(user.Status), user.Attributes)
	observe("update", "users", start, err)
	if err != nil {
		return mapError(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return notFound("user")
	}
	return nil
}

func (st *userStore) TouchLastSync(ctx context.Context, id string, at time.Time) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		UPDATE users SET last_sync_at = $2 WHERE id = $1 AND deleted_at IS NULL
	`, id, at)
	observe("update", "users", start, err)
	return mapError(err, "user")
}

func (st *userStore) SoftDelete(ctx context.Context, id string) error {
	start := time.Now()
	tag, err := st.s.db(ctx).Exec(ctx, `
		UPDATE users SET status = 'deleted', deleted_at = now(), updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	observe("update", "users", start, err)
	if err != nil {
		return mapError(err, "user")
	}
	if tag.RowsAffected() == 0 {
		return notFound("user")
	}
	return nil
}
