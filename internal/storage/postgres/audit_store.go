package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
)

type auditStore struct {
	s *Store
}

const auditColumns = `id, tenant_id, ts, event_type, actor_id, actor_email,
	resource_type, resource_id, action, decision, reason, request_data,
	response_data, ip_address, user_agent`

func scanAuditLog(row interface{ Scan(...any) error }) (*models.AuditLog, error) {
	var a models.AuditLog
	var eventType string
	var actorID, actorEmail, resourceType, resourceID, decision, reason, ip, agent sql.NullString
	if err := row.Scan(&a.ID, &a.TenantID, &a.Timestamp, &eventType, &actorID,
		&actorEmail, &resourceType, &resourceID, &a.Action, &decision, &reason,
		&a.RequestData, &a.ResponseData, &ip, &agent); err != nil {
		return nil, err
	}
	a.EventType = models.AuditEventType(eventType)
	a.ActorID = actorID.String
	a.ActorEmail = actorEmail.String
	a.ResourceType = resourceType.String
	a.ResourceID = resourceID.String
	a.Decision = decision.String
	a.Reason = reason.String
	a.IPAddress = ip.String
	a.UserAgent = agent.String
	return &a, nil
}

func (st *auditStore) Insert(ctx context.Context, entry *models.AuditLog) error {
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `
		INSERT INTO audit_logs (id, tenant_id, ts, event_type, actor_id, actor_email,
			resource_type, resource_id, action, decision, reason, request_data,
			response_data, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, entry.ID, entry.TenantID, entry.Timestamp, string(entry.EventType),
		nullable(entry.ActorID), nullable(entry.ActorEmail),
		nullable(entry.ResourceType), nullable(entry.ResourceID), entry.Action,
		nullable(entry.Decision), nullable(entry.Reason), entry.RequestData,
		entry.ResponseData, nullable(entry.IPAddress), nullable(entry.UserAgent))
	observe("insert", "audit_logs", start, err)
	return mapError(err, "audit log")
}

func (st *auditStore) Query(ctx context.Context, q storage.AuditQuery) ([]*models.AuditLog, error) {
	where := []string{"tenant_id = $1", "ts >= $2", "ts < $3"}
	args := []any{q.TenantID, q.From, q.To}

	addPredicate := func(column string, value *string) {
		if value != nil {
			args = append(args, *value)
			where = append(where, column+" = $"+strconv.Itoa(len(args)))
		}
	}
	addPredicate("event_type", q.EventType)
	addPredicate("actor_id", q.ActorID)
	addPredicate("resource_type", q.ResourceType)
	addPredicate("resource_id", q.ResourceID)
	addPredicate("action", q.Action)
	addPredicate("decision", q.Decision)
	addPredicate("ip_address", q.IPAddress)

	query := `SELECT ` + auditColumns + ` FROM audit_logs WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY ts DESC`
	if q.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(q.Limit)
	}
	if q.Offset > 0 {
		query += " OFFSET " + strconv.Itoa(q.Offset)
	}

	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, query, args...)
	observe("select", "audit_logs", start, err)
	if err != nil {
		return nil, mapError(err, "audit log")
	}
	defer rows.Close()

	var entries []*models.AuditLog
	for rows.Next() {
		a, err := scanAuditLog(rows)
		if err != nil {
			return nil, mapError(err, "audit log")
		}
		entries = append(entries, a)
	}
	return entries, mapError(rows.Err(), "audit log")
}

// partitionName returns the audit partition table name for a month, e.g.
// audit_logs_2026_01.
func partitionName(at time.Time) string {
	return fmt.Sprintf("audit_logs_%04d_%02d", at.Year(), int(at.Month()))
}

func (st *auditStore) EnsurePartition(ctx context.Context, at time.Time) error {
	monthStart := time.Date(at.Year(), at.Month(), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s PARTITION OF audit_logs
		FOR VALUES FROM ('%s') TO ('%s')
	`, partitionName(at), monthStart.Format("2006-01-02"), monthEnd.Format("2006-01-02")))
	observe("ddl", "audit_logs", start, err)
	return mapError(err, "audit partition")
}

func (st *auditStore) ListPartitions(ctx context.Context) ([]storage.Partition, error) {
	start := time.Now()
	rows, err := st.s.db(ctx).Query(ctx, `
		SELECT c.relname
		FROM pg_inherits i
		JOIN pg_class c ON c.oid = i.inhrelid
		JOIN pg_class p ON p.oid = i.inhparent
		WHERE p.relname = 'audit_logs'
		ORDER BY c.relname
	`)
	observe("select", "pg_inherits", start, err)
	if err != nil {
		return nil, mapError(err, "audit partition")
	}
	defer rows.Close()

	var partitions []storage.Partition
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, mapError(err, "audit partition")
		}
		start, ok := parsePartitionName(name)
		if !ok {
			continue
		}
		partitions = append(partitions, storage.Partition{Name: name, Start: start})
	}
	return partitions, mapError(rows.Err(), "audit partition")
}

// parsePartitionName extracts the month start from audit_logs_YYYY_MM.
func parsePartitionName(name string) (time.Time, bool) {
	const prefix = "audit_logs_"
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	parts := strings.Split(strings.TrimPrefix(name, prefix), "_")
	if len(parts) != 2 {
		return time.Time{}, false
	}
	year, err1 := strconv.Atoi(parts[0])
	month, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || month < 1 || month > 12 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC), true
}

func (st *auditStore) DropPartition(ctx context.Context, name string) error {
	if _, ok := parsePartitionName(name); !ok {
		return fmt.Errorf("invalid audit partition name %q", name)
	}
	start := time.Now()
	_, err := st.s.db(ctx).Exec(ctx, `DROP TABLE IF EXISTS `+name)
	observe("ddl", "audit_logs", start, err)
	return mapError(err, "audit partition")
}
