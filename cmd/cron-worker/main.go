package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/prepmarket-backend/internal/cron"
	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/internal/notifications"
	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/instance"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/migrate"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/redis"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

const lockKeyFormat = "pm:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe client", err)
		os.Exit(1)
	}

	currency, err := enums.ParseCurrency(cfg.Pricing.Currency)
	if err != nil {
		logg.Error(context.Background(), "invalid pricing currency", err)
		os.Exit(1)
	}
	commissionPercent, err := money.ParsePercent(cfg.Settlement.CommissionPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid commission percent", err)
		os.Exit(1)
	}

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	marketMetrics := metrics.NewMarketplaceMetrics(prometheus.DefaultRegisterer)

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)
	notificationsRepo := notifications.NewRepository(dbClient.DB())
	// No sockets live in this process; notifications are stored and picked
	// up by clients on their next fetch.
	dispatcher := notifications.NewDispatcher(notificationsRepo, nil, logg)

	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()), currency)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	ordersRepo := orders.NewRepository(dbClient.DB())
	orderService, err := orders.NewService(orders.ServiceParams{
		Repo:              ordersRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		Earnings:          ledgerService,
		Refunder:          stripeClient,
		Notifier:          dispatcher,
		Metrics:           marketMetrics,
		CommissionPercent: commissionPercent,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:              settlement.NewRepository(dbClient.DB()),
		TransactionRunner: dbClient,
		Ledger:            ledgerService,
		Outbox:            outboxService,
		Metrics:           marketMetrics,
		CommissionPercent: commissionPercent,
		HoldingWindow:     cfg.Settlement.HoldingWindow,
		BatchSize:         cfg.Settlement.SweepBatchSize,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()

	reconcileJob, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:   logg,
		Orders:   ordersRepo,
		Payments: stripeClient,
		Applier:  orderService,
		StaleAge: cfg.Payment.StaleProcessingAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment reconcile job", err)
		os.Exit(1)
	}
	registry.Register(reconcileJob, cfg.Cron.ReconcileEvery)

	sweepJob, err := cron.NewSettlementSweepJob(logg, settlementService)
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement sweep job", err)
		os.Exit(1)
	}
	registry.Register(sweepJob, cfg.Cron.SweepEvery)

	outboxCleanup, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "outbox-retention",
		Logger:    logg,
		Purge:     outboxRepo.DeletePublishedBefore,
		Retention: cfg.Cron.OutboxRetention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}
	registry.Register(outboxCleanup, cfg.Cron.CleanupEvery)

	notificationCleanup, err := cron.NewRetentionJob(cron.RetentionJobParams{
		Name:      "notification-retention",
		Logger:    logg,
		Purge:     notificationsRepo.DeleteReadBefore,
		Retention: cfg.Cron.NotificationsKept,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification retention job", err)
		os.Exit(1)
	}
	registry.Register(notificationCleanup, cfg.Cron.CleanupEvery)

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  cronMetrics,
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
		"jobs":        len(registry.Entries()),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
