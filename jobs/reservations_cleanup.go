package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oakpos/oakpos/internal/reservation"
)

const (
	// TaskStockReservationsCleanup drops expired till reservations.
	TaskStockReservationsCleanup = "stock:reservations-cleanup"
)

// ReservationCleanupPayload carries scheduling metadata.
type ReservationCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReservationCleanupTask constructs an Asynq task for reservation cleanup.
func NewReservationCleanupTask(at time.Time) (*asynq.Task, error) {
	payload := ReservationCleanupPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReservationsCleanup, body, asynq.Queue(QueueDefault)), nil
}

// ReservationCleanupJob purges session index entries whose holds expired.
type ReservationCleanupJob struct {
	Reservations *reservation.Store
	Logger       *slog.Logger
}

// Handle processes TaskStockReservationsCleanup tasks.
func (j *ReservationCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReservationCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	purged, err := j.Reservations.Purge(ctx)
	if err != nil {
		j.Logger.Error("reservation cleanup failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("reservation cleanup finished",
		slog.Int("purged", purged),
		slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}
