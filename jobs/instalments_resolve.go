package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/oakpos/oakpos/internal/orders"
)

const (
	// TaskOrdersInstalmentsResolve settles due instalments from tendered surplus.
	TaskOrdersInstalmentsResolve = "orders:instalments-resolve"
)

// InstalmentResolvePayload carries scheduling metadata.
type InstalmentResolvePayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewInstalmentResolveTask constructs an Asynq task for instalment resolution.
func NewInstalmentResolveTask(at time.Time) (*asynq.Task, error) {
	payload := InstalmentResolvePayload{ScheduledFor: at}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOrdersInstalmentsResolve, body, asynq.Queue(QueueDefault)), nil
}

// InstalmentResolveJob marks today's due instalments as paid where the
// order's tendered surplus still covers them.
type InstalmentResolveJob struct {
	Orders *orders.Service
	Logger *slog.Logger
}

// Handle processes TaskOrdersInstalmentsResolve tasks.
func (j *InstalmentResolveJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload InstalmentResolvePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	now := time.Now().UTC()
	var resolved atomic.Int64
	for _, status := range []orders.PaymentStatus{orders.StatusPaid, orders.StatusPartiallyPaid} {
		candidates, err := j.Orders.List(ctx, status, 0)
		if err != nil {
			j.Logger.Error("instalment resolve listing failed", slog.Any("error", err))
			return err
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(4)
		for _, order := range candidates {
			order := order
			group.Go(func() error {
				n, err := j.Orders.ResolveInstalments(groupCtx, order.ID, now)
				if err != nil {
					j.Logger.Warn("instalment resolve failed",
						slog.Int64("order_id", order.ID),
						slog.Any("error", err))
					return nil
				}
				resolved.Add(int64(n))
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
	}
	j.Logger.Info("instalment resolve finished",
		slog.Int64("resolved", resolved.Load()),
		slog.Time("scheduled_for", payload.ScheduledFor))
	return nil
}
