package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/dmsqa/permcore/internal/jobs"
)

// CleanupRunner is the subset of the permissions service the sweep needs.
type CleanupRunner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CleanupPayload carries sweep metadata. RequestedBy is zero for cron runs.
type CleanupPayload struct {
	RequestedBy  int64     `json:"requested_by,omitempty"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewCleanupTask constructs an Asynq task for the expired-override sweep.
func NewCleanupTask(requestedBy int64, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{RequestedBy: requestedBy, ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewCleanupHandler builds the handler processing TaskPermissionsCleanup
// tasks. The sweep is idempotent, so retries after partial failures are safe.
func NewCleanupHandler(runner CleanupRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload CleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		tracker := metrics.Track(TaskPermissionsCleanup)
		count, err := runner.CleanupExpired(ctx)
		if err != nil {
			logger.Error("cleanup expired overrides", slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("cleanup expired overrides",
			slog.Int64("deactivated", count),
			slog.Int64("requested_by", payload.RequestedBy),
		)
		return tracker.End(nil)
	}
}
