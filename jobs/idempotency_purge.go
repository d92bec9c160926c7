package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/bizledger/internal/jobs"
)

const (
	// TaskIdempotencyPurge drops idempotency keys past their retention.
	TaskIdempotencyPurge = "idempotency:purge"
	// PurgeCron runs daily after the reconciliation.
	PurgeCron = "30 3 * * *"
	// DefaultKeyRetention bounds how long a replayed request is rejected.
	DefaultKeyRetention = 7 * 24 * time.Hour
)

// KeyCleaner deletes keys older than the retention.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// PurgeJob removes stale idempotency keys.
type PurgeJob struct {
	Keys      KeyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewPurgeTask creates the purge task.
func NewPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyPurge, nil, asynq.Queue(QueueDefault))
}

// Handle executes the purge.
func (j *PurgeJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency purge: dependencies not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskIdempotencyPurge)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := j.Retention
	if retention <= 0 {
		retention = DefaultKeyRetention
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	n, err := j.Keys.Cleanup(ctx, retention)
	if err != nil {
		logger.Error("purge idempotency keys", slog.String("job", TaskIdempotencyPurge), slog.Any("error", err))
		return err
	}
	logger.Info("idempotency keys purged", slog.String("job", TaskIdempotencyPurge), slog.Int64("deleted", n))
	return nil
}
