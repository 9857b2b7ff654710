package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oakpos/oakpos/internal/shared"
)

const (
	// TaskIdempotencyCleanup prunes remembered request keys past their retention.
	TaskIdempotencyCleanup = "shared:idempotency-cleanup"
)

// IdempotencyCleanupPayload carries scheduling metadata.
type IdempotencyCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIdempotencyCleanupTask constructs an Asynq task for idempotency cleanup.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	payload := IdempotencyCleanupPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupJob deletes idempotency keys older than MaxAge.
type IdempotencyCleanupJob struct {
	Keys   *shared.IdempotencyStore
	MaxAge time.Duration
	Logger *slog.Logger
}

// Handle processes TaskIdempotencyCleanup tasks.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if err := j.Keys.Cleanup(ctx, j.MaxAge); err != nil {
		j.Logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("idempotency cleanup finished",
		slog.Duration("max_age", j.MaxAge),
		slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}
