package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// Service is the audit read side: filtered queries, CSV export and
// retention.
type Service struct {
	store  storage.Store
	logger logger.Logger
}

func NewService(store storage.Store, log logger.Logger) *Service {
	return &Service{store: store, logger: log}
}

// Query returns audit entries matching q. Tenant and time range are
// mandatory.
func (s *Service) Query(ctx context.Context, q storage.AuditQuery) ([]*models.AuditLog, error) {
	if q.TenantID == "" {
		return nil, apperr.New(apperr.KindValidation, "tenant is required")
	}
	if q.From.IsZero() || q.To.IsZero() || !q.From.Before(q.To) {
		return nil, apperr.New(apperr.KindValidation, "a valid time range is required")
	}
	return s.store.Audit().Query(ctx, q)
}

// csvHeader is the export column order.
var csvHeader = []string{
	"id", "tenantId", "timestamp", "eventType", "actorId", "actorEmail",
	"resourceType", "resourceId", "action", "decision", "reason",
	"requestData", "responseData", "ipAddress", "userAgent",
}

// ExportCSV streams the query result as CSV. encoding/csv quotes separators,
// quotes and newlines per RFC 4180.
func (s *Service) ExportCSV(ctx context.Context, q storage.AuditQuery, w io.Writer) error {
	entries, err := s.Query(ctx, q)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		record, err := csvRecord(e)
		if err != nil {
			return err
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(e *models.AuditLog) ([]string, error) {
	marshal := func(m map[string]interface{}) (string, error) {
		if len(m) == 0 {
			return "", nil
		}
		b, err := json.Marshal(m)
		return string(b), err
	}
	reqData, err := marshal(e.RequestData)
	if err != nil {
		return nil, err
	}
	respData, err := marshal(e.ResponseData)
	if err != nil {
		return nil, err
	}
	return []string{
		e.ID,
		e.TenantID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.EventType),
		e.ActorID,
		e.ActorEmail,
		e.ResourceType,
		e.ResourceID,
		e.Action,
		e.Decision,
		e.Reason,
		reqData,
		respData,
		e.IPAddress,
		e.UserAgent,
	}, nil
}

// ReadCSV parses an export back into audit entries. Used for verification
// and re-import tooling.
func ReadCSV(r io.Reader) ([]*models.AuditLog, error) {
	cr := csv.NewReader(r)
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if len(rows[0]) != len(csvHeader) {
		return nil, fmt.Errorf("unexpected column count %d", len(rows[0]))
	}

	entries := make([]*models.AuditLog, 0, len(rows)-1)
	for _, row := range rows[1:] {
		ts, err := time.Parse(time.RFC3339Nano, row[2])
		if err != nil {
			return nil, err
		}
		e := &models.AuditLog{
			ID:           row[0],
			TenantID:     row[1],
			Timestamp:    ts,
			EventType:    models.AuditEventType(row[3]),
			ActorID:      row[4],
			ActorEmail:   row[5],
			ResourceType: row[6],
			ResourceID:   row[7],
			Action:       row[8],
			Decision:     row[9],
			Reason:       row[10],
			IPAddress:    row[13],
			UserAgent:    row[14],
		}
		if row[11] != "" {
			if err := json.Unmarshal([]byte(row[11]), &e.RequestData); err != nil {
				return nil, err
			}
		}
		if row[12] != "" {
			if err := json.Unmarshal([]byte(row[12]), &e.ResponseData); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ApplyRetention drops every monthly partition that ends before the
// retention horizon. Deletion operates at partition granularity only.
func (s *Service) ApplyRetention(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, apperr.New(apperr.KindValidation, "retention days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	partitions, err := s.store.Audit().ListPartitions(ctx)
	if err != nil {
		return 0, err
	}

	dropped := 0
	for _, p := range partitions {
		monthEnd := p.Start.AddDate(0, 1, 0)
		if monthEnd.After(cutoff) {
			continue
		}
		if err := s.store.Audit().DropPartition(ctx, p.Name); err != nil {
			return dropped, err
		}
		dropped++
		s.logger.Info("dropped expired audit partition",
			"partition", p.Name, "retention_days", strconv.Itoa(retentionDays))
	}
	return dropped, nil
}
