package main

import (
	"context"
	"log/slog"
	"net/http"
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
	ordersHandler := orders.NewHandler(logger, orderService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		OrdersHandler: ordersHandler,
		JobsHandler:   jobsHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
