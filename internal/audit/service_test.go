package audit

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bl-hori/auth-platform-sub001/internal/apperr"
	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/internal/storage/storagetest"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

func strPtr(s string) *string { return &s }

func seedEntries(t *testing.T, store *storagetest.FakeStore, tenant string, base time.Time, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		decision := "allow"
		if i%2 == 1 {
			decision = "deny"
		}
		require.NoError(t, store.Audit().Insert(context.Background(), &models.AuditLog{
			ID:           uuid.New().String(),
			TenantID:     tenant,
			Timestamp:    base.Add(time.Duration(i) * time.Minute),
			EventType:    models.AuditEventDecision,
			ActorID:      "u-ext-1",
			ResourceType: "document",
			ResourceID:   "doc-1",
			Action:       "read",
			Decision:     decision,
			Reason:       `reason with "quotes", commas` + "\nand a newline",
			RequestData:  map[string]interface{}{"action": "read"},
			IPAddress:    "10.0.0.1",
		}))
	}
}

func TestQueryRequiresTenantAndRange(t *testing.T) {
	svc := NewService(storagetest.NewFakeStore(), logger.NewNop())

	_, err := svc.Query(context.Background(), storage.AuditQuery{
		From: time.Now().Add(-time.Hour), To: time.Now(),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.Query(context.Background(), storage.AuditQuery{TenantID: "T1"})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))

	_, err = svc.Query(context.Background(), storage.AuditQuery{
		TenantID: "T1", From: time.Now(), To: time.Now().Add(-time.Hour),
	})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestQueryFilters(t *testing.T) {
	store := storagetest.NewFakeStore()
	svc := NewService(store, logger.NewNop())
	base := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	seedEntries(t, store, "T1", base, 6)
	seedEntries(t, store, "T2", base, 3)

	q := storage.AuditQuery{TenantID: "T1", From: base.Add(-time.Minute), To: base.Add(time.Hour)}
	entries, err := svc.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, entries, 6)

	q.Decision = strPtr("deny")
	entries, err = svc.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	q.Decision = nil
	q.ActorID = strPtr("nobody")
	entries, err = svc.Query(context.Background(), q)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCSVExportRoundTrip(t *testing.T) {
	store := storagetest.NewFakeStore()
	svc := NewService(store, logger.NewNop())
	base := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	seedEntries(t, store, "T1", base, 4)

	q := storage.AuditQuery{TenantID: "T1", From: base.Add(-time.Minute), To: base.Add(time.Hour)}

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), q, &buf))

	// One header plus one row per decision; quoting handled by the writer.
	lines := strings.Count(buf.String(), "\n")
	assert.GreaterOrEqual(t, lines, 5)

	parsed, err := ReadCSV(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, parsed, 4)

	stored, err := svc.Query(context.Background(), q)
	require.NoError(t, err)

	byID := map[string]*models.AuditLog{}
	for _, e := range stored {
		byID[e.ID] = e
	}
	for _, p := range parsed {
		orig, ok := byID[p.ID]
		require.True(t, ok)
		assert.Equal(t, orig.TenantID, p.TenantID)
		assert.True(t, orig.Timestamp.Equal(p.Timestamp))
		assert.Equal(t, orig.EventType, p.EventType)
		assert.Equal(t, orig.ActorID, p.ActorID)
		assert.Equal(t, orig.Action, p.Action)
		assert.Equal(t, orig.Decision, p.Decision)
		assert.Equal(t, orig.Reason, p.Reason, "quotes, commas and newlines survive")
		assert.Equal(t, orig.RequestData["action"], p.RequestData["action"])
		assert.Equal(t, orig.IPAddress, p.IPAddress)
	}
}

func TestApplyRetentionDropsOldPartitions(t *testing.T) {
	store := storagetest.NewFakeStore()
	svc := NewService(store, logger.NewNop())

	old := time.Now().UTC().AddDate(0, -6, 0)
	recent := time.Now().UTC()
	seedEntries(t, store, "T1", old, 2)
	seedEntries(t, store, "T1", recent, 2)

	dropped, err := svc.ApplyRetention(context.Background(), 90)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	entries, err := svc.Query(context.Background(), storage.AuditQuery{
		TenantID: "T1",
		From:     old.AddDate(0, -1, 0),
		To:       recent.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Len(t, entries, 2, "only the recent partition survives")
}

func TestApplyRetentionRejectsNonPositive(t *testing.T) {
	svc := NewService(storagetest.NewFakeStore(), logger.NewNop())
	_, err := svc.ApplyRetention(context.Background(), 0)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}
