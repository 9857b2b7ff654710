package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oakpos/oakpos/internal/orders"
)

const (
	// TaskOrdersDueSweep flags overdue unpaid orders each night.
	TaskOrdersDueSweep = "orders:due-sweep"
)

// DueSweepPayload carries scheduling metadata.
type DueSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewDueSweepTask constructs an Asynq task for the due sweep.
func NewDueSweepTask(at time.Time) (*asynq.Task, error) {
	payload := DueSweepPayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrdersDueSweep, body, asynq.Queue(QueueDefault)), nil
}

// DueSweepJob moves orders past their final payment date to DUE statuses.
type DueSweepJob struct {
	Orders *orders.Service
	Logger *slog.Logger
}

// Handle processes TaskOrdersDueSweep tasks.
func (j *DueSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload DueSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	moved, err := j.Orders.SweepDueOrders(ctx, time.Now().UTC())
	if err != nil {
		j.Logger.Error("due sweep failed", slog.Any("error", err))
		return err
	}
	j.Logger.Info("due sweep finished",
		slog.Int("moved", moved),
		slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}
