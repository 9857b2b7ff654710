package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/oakpos/oakpos/internal/app"
	"github.com/oakpos/oakpos/internal/catalog"
	"github.com/oakpos/oakpos/internal/customers"
	"github.com/oakpos/oakpos/internal/ledger"
	"github.com/oakpos/oakpos/internal/orders"
	"github.com/oakpos/oakpos/internal/platform/cache"
	"github.com/oakpos/oakpos/internal/platform/db"
	"github.com/oakpos/oakpos/internal/reservation"
	"github.com/oakpos/oakpos/internal/shared"
	"github.com/oakpos/oakpos/internal/tax"
	"github.com/oakpos/oakpos/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogService := catalog.NewService(catalog.NewRepository(pool))
	customerService := customers.NewService(customers.NewRepository(pool), auditLogger)
	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger)
	reservations := reservation.NewStore(redisClient, cfg.ReservationTTL)

	orderService := orders.NewService(
		orders.NewRepository(pool),
		catalogService,
		customerService,
		reservations,
		ledgerService,
		shared.AllowAll{},
		auditLogger,
		orders.Policy{
			Strategy:     tax.Strategy(cfg.TaxStrategy),
			TaxType:      tax.Type(cfg.TaxType),
			TaxGroupID:   cfg.TaxGroupID,
			AllowUnpaid:  cfg.AllowUnpaidOrders,
			AllowPartial: cfg.AllowPartialOrders,
		},
		orders.NewHooks(),
	)

	dueSweepJob := &jobs.DueSweepJob{Orders: orderService, Logger: logger}
	instalmentJob := &jobs.InstalmentResolveJob{Orders: orderService, Logger: logger}
	reservationJob := &jobs.ReservationCleanupJob{Reservations: reservations, Logger: logger}
	idempotencyJob := &jobs.IdempotencyCleanupJob{
		Keys:   idempotencyStore,
		MaxAge: cfg.IdempotencyMaxAge,
		Logger: logger,
	}

	now := time.Now().UTC()
	dueSweepTask, err := jobs.NewDueSweepTask(now)
	if err != nil {
		logger.Error("build due sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	instalmentTask, err := jobs.NewInstalmentResolveTask(now)
	if err != nil {
		logger.Error("build instalment resolve task", slog.Any("error", err))
		os.Exit(1)
	}
	reservationTask, err := jobs.NewReservationCleanupTask(now)
	if err != nil {
		logger.Error("build reservation cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	idempotencyTask, err := jobs.NewIdempotencyCleanupTask(now)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOrdersDueSweep, Handler: dueSweepJob.Handle},
			{Type: jobs.TaskOrdersInstalmentsResolve, Handler: instalmentJob.Handle},
			{Type: jobs.TaskStockReservationsCleanup, Handler: reservationJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: idempotencyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DueSweepCron, Task: dueSweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: instalmentTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/15 * * * *", Task: reservationTask},
			{Spec: "0 2 * * *", Task: idempotencyTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
