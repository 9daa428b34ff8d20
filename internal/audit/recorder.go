// Package audit records ticket status transitions on a best-effort basis.
// A failed write is logged and counted but never reaches the caller.
package audit

import (
	"context"
	"fmt"
	"time"

	"qms/shop-queue/internal/metrics"
	"qms/shop-queue/internal/models"
	"qms/shop-queue/internal/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultTimeout = 5 * time.Second

type Recorder struct {
	sink    store.AuditSink
	logger  logrus.FieldLogger
	timeout time.Duration
}

func NewRecorder(sink store.AuditSink, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{sink: sink, logger: logger, timeout: defaultTimeout}
}

// Record appends entry to the sink. The write outlives cancellation of ctx
// so an aborted request does not lose the entry of a committed transition.
func (r *Recorder) Record(ctx context.Context, entry models.AuditLogEntry) {
	if r == nil || r.sink == nil {
		return
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.append(writeCtx, entry); err != nil {
		metrics.RecordAuditFailure()
		r.logger.WithFields(logrus.Fields{
			"shop_id":     entry.ShopID,
			"ticket_id":   entry.TicketID,
			"from_status": entry.FromStatus,
			"to_status":   entry.ToStatus,
		}).WithError(err).Warn("audit write failed")
	}
}

func (r *Recorder) append(ctx context.Context, entry models.AuditLogEntry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit sink panic: %v", p)
		}
	}()
	_, err = r.sink.AppendAudit(ctx, entry)
	return err
}
