package authz

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const defaultAuditTimeout = 3 * time.Second

// Recorder writes audit records without ever failing the caller. Sink errors
// are logged and dropped; a decision must never be blocked by its own trail.
type Recorder struct {
	sink    AuditSink
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRecorder constructs a Recorder. A nil sink yields a no-op recorder.
func NewRecorder(sink AuditSink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sink: sink, logger: logger, timeout: defaultAuditTimeout, now: time.Now}
}

// Record persists the entry best-effort. The write runs on a detached
// context so a cancelled request does not lose the record.
func (r *Recorder) Record(ctx context.Context, record AuditRecord) {
	if r == nil || r.sink == nil {
		return
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.At.IsZero() {
		record.At = r.now().UTC()
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Write(writeCtx, record); err != nil {
		r.logger.Warn("audit write failed",
			slog.String("action", record.Action),
			slog.Int64("user_id", record.UserID),
			slog.Any("error", err))
	}
}
