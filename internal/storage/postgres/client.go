// Package postgres implements the storage interfaces on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/config"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so store methods work
// inside and outside transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger logger.Logger

	orgs        *organizationStore
	users       *userStore
	roles       *roleStore
	permissions *permissionStore
	policies    *policyStore
	audit       *auditStore
}

// Open creates the connection pool and verifies connectivity.
func Open(ctx context.Context, cfg config.DatabaseConfig, log logger.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "parsing database url", err)
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		pc.MinConns = int32(cfg.MinConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Second
	}
	pc.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStorage, "creating connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperr.Wrap(apperr.KindStorage, "pinging database", err)
	}

	log.Info("postgres connection pool created",
		"max_conns", pc.MaxConns, "min_conns", pc.MinConns)

	s := &Store{pool: pool, logger: log}
	s.orgs = &organizationStore{s}
	s.users = &userStore{s}
	s.roles = &roleStore{s}
	s.permissions = &permissionStore{s}
	s.policies = &policyStore{s}
	s.audit = &auditStore{s}
	return s, nil
}

func (s *Store) Organizations() storage.OrganizationStore { return s.orgs }
func (s *Store) Users() storage.UserStore                 { return s.users }
func (s *Store) Roles() storage.RoleStore                 { return s.roles }
func (s *Store) Permissions() storage.PermissionStore     { return s.permissions }
func (s *Store) Policies() storage.PolicyStore            { return s.policies }
func (s *Store) Audit() storage.AuditStore                { return s.audit }

// WithTx runs fn inside a transaction. Store methods called with the context
// fn receives participate in that transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		// Already transactional: join the outer transaction.
		return fn(ctx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindStorage, "beginning transaction", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.KindStorage, "committing transaction", err)
	}
	return nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// db returns the transaction bound to ctx, or the pool.
func (s *Store) db(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// observe records operation metrics for one database call.
func observe(operation, table string, start time.Time, err error) {
	monitoring.RecordDBOperation(operation, table, time.Since(start), err == nil)
}

func notFound(entity string) error {
	return apperr.Newf(apperr.KindNotFound, "%s not found", entity)
}

// mapError translates pgx errors into typed application errors.
func mapError(err error, entity string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.Newf(apperr.KindNotFound, "%s not found", entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return apperr.Newf(apperr.KindConflict, "%s already exists", entity).
				WithDetails(map[string]interface{}{"constraint": pgErr.ConstraintName})
		case "23503":
			return apperr.Newf(apperr.KindValidation, "%s references a missing row", entity).
				WithDetails(map[string]interface{}{"constraint": pgErr.ConstraintName})
		}
	}
	return apperr.Wrap(apperr.KindStorage, entity, err)
}
