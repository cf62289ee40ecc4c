package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/signalboard/signalboard/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuthzSweepExpired purges assignment and grant rows whose expiry
	// already excludes them from resolution.
	TaskAuthzSweepExpired = "authz:sweep_expired"
)

// SweepExpiredPayload parameterises the sweep task.
type SweepExpiredPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewSweepExpiredTask constructs an Asynq task.
func NewSweepExpiredTask(payload SweepExpiredPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuthzSweepExpired, data), nil
}

// ExpiredPurger removes rows that no longer contribute to resolution.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewSweepExpiredHandler builds the handler for TaskAuthzSweepExpired tasks.
func NewSweepExpiredHandler(purger ExpiredPurger, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SweepExpiredPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskAuthzSweepExpired)
		purged, err := purger.PurgeExpired(ctx)
		if err != nil {
			logger.Error("sweep expired", slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("sweep expired", slog.Int64("purged", purged), slog.String("reason", payload.Reason))
		return tracker.End(nil)
	}
}
