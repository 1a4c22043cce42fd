// Package audit implements the asynchronous audit recorder and the audit
// query surface: bounded queue, worker pool, CSV export and partition-level
// retention.
package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bl-hori/auth-platform-sub001/internal/models"
	"github.com/bl-hori/auth-platform-sub001/internal/monitoring"
	"github.com/bl-hori/auth-platform-sub001/internal/storage"
	"github.com/bl-hori/auth-platform-sub001/pkg/logger"
)

// insertTimeout bounds one audit write attempt.
const insertTimeout = 10 * time.Second

// Recorder drains audit entries into the store off the decision path.
// Enqueueing never blocks: when the queue is full the record is dropped and
// counted.
type Recorder struct {
	store   storage.Store
	queue   chan *models.AuditLog
	workers int
	logger  logger.Logger

	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64

	mu            sync.Mutex
	ensuredMonths map[string]bool
}

func NewRecorder(store storage.Store, queueSize, workers int, log logger.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = 10000
	}
	if workers <= 0 {
		workers = 4
	}
	return &Recorder{
		store:         store,
		queue:         make(chan *models.AuditLog, queueSize),
		workers:       workers,
		logger:        log,
		ensuredMonths: make(map[string]bool),
	}
}

// Start launches the worker pool.
func (r *Recorder) Start() {
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
}

// Stop closes the queue and waits for the workers to drain it, bounded by
// ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	r.once.Do(func() { close(r.queue) })

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record enqueues one entry. Missing id and timestamp are filled in. Never
// blocks the caller.
func (r *Recorder) Record(entry *models.AuditLog) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	select {
	case r.queue <- entry:
		monitoring.SetAuditQueueDepth(len(r.queue))
	default:
		r.dropped.Add(1)
		monitoring.RecordAuditDrop()
		r.logger.Warn("audit queue saturated; dropping record",
			"tenant", entry.TenantID, "action", entry.Action)
	}
}

// Dropped reports how many records have been dropped since start.
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// QueueDepth reports the current queue backlog.
func (r *Recorder) QueueDepth() int {
	return len(r.queue)
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for entry := range r.queue {
		r.write(entry)
		monitoring.SetAuditQueueDepth(len(r.queue))
	}
}

// write persists one entry, retrying once on failure. Persistent failure
// drops the record and counts it.
func (r *Recorder) write(entry *models.AuditLog) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	r.ensurePartition(ctx, entry.Timestamp)

	if err := r.store.Audit().Insert(ctx, entry); err != nil {
		r.logger.Warn("audit insert failed; retrying once", "error", err)
		if err := r.store.Audit().Insert(ctx, entry); err != nil {
			r.dropped.Add(1)
			monitoring.RecordAuditDrop()
			r.logger.Error("audit insert failed after retry; dropping record",
				"tenant", entry.TenantID, "action", entry.Action, "error", err)
		}
	}
}

// ensurePartition creates the monthly partition for the entry's timestamp
// once per process per month.
func (r *Recorder) ensurePartition(ctx context.Context, at time.Time) {
	month := at.UTC().Format("2006-01")

	r.mu.Lock()
	already := r.ensuredMonths[month]
	r.mu.Unlock()
	if already {
		return
	}

	if err := r.store.Audit().EnsurePartition(ctx, at); err != nil {
		r.logger.Warn("ensuring audit partition failed", "month", month, "error", err)
		return
	}
	r.mu.Lock()
	r.ensuredMonths[month] = true
	r.mu.Unlock()
}

// DecisionEntry builds the audit record for one authorization decision.
func DecisionEntry(req *models.DecisionRequest, res *models.DecisionResult, ip, agent string) *models.AuditLog {
	return &models.AuditLog{
		TenantID:     req.TenantID,
		EventType:    models.AuditEventDecision,
		ActorID:      req.Principal.ID,
		ResourceType: req.Resource.Type,
		ResourceID:   req.Resource.ID,
		Action:       req.Action,
		Decision:     string(res.Decision),
		Reason:       res.Reason,
		RequestData: map[string]interface{}{
			"principal": req.Principal.ID,
			"action":    req.Action,
			"resource":  req.Resource.Type + "/" + req.Resource.ID,
		},
		ResponseData: map[string]interface{}{
			"decision":         string(res.Decision),
			"degraded":         res.Degraded,
			"evaluationTimeMs": res.EvaluationTimeMs,
		},
		IPAddress: ip,
		UserAgent: agent,
	}
}

// MutationEntry builds the audit record for one admin mutation.
func MutationEntry(tenantID, actorID, action, resourceType, resourceID string, request map[string]interface{}) *models.AuditLog {
	return &models.AuditLog{
		TenantID:     tenantID,
		EventType:    models.AuditEventMutation,
		ActorID:      actorID,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Action:       action,
		RequestData:  request,
	}
}
