package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/prepmarket-backend/api/routes"
	"github.com/angelmondragon/prepmarket-backend/internal/address"
	"github.com/angelmondragon/prepmarket-backend/internal/cart"
	"github.com/angelmondragon/prepmarket-backend/internal/catalog"
	"github.com/angelmondragon/prepmarket-backend/internal/checkout"
	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/internal/notifications"
	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/internal/realtime"
	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/internal/wallet"
	stripewebhook "github.com/angelmondragon/prepmarket-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/instance"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/maps"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/migrate"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/redis"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	marketMetrics := metrics.NewMarketplaceMetrics(registry)

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
	taxPercent, err := money.ParsePercent(cfg.Pricing.TaxPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid tax percent", err)
		os.Exit(1)
	}
	discountPercent, err := money.ParsePercent(cfg.Pricing.DiscountPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid discount percent", err)
		os.Exit(1)
	}
	commissionPercent, err := money.ParsePercent(cfg.Settlement.CommissionPercent)
	if err != nil {
		logg.Error(context.Background(), "invalid commission percent", err)
		os.Exit(1)
	}

	hub := realtime.NewHub(cfg.App.CORSOrigins, logg)
	notificationsRepo := notifications.NewRepository(dbClient.DB())
	notificationService, err := notifications.NewService(notificationsRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}
	dispatcher := notifications.NewDispatcher(notificationsRepo, hub, logg)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	ledgerRepo := ledger.NewRepository(dbClient.DB())
	ledgerService, err := ledger.NewService(ledgerRepo, currency)
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

	var places interface {
		Autocomplete(ctx context.Context, req maps.AutocompleteRequest) ([]maps.AutocompleteSuggestion, error)
		ResolvePlace(ctx context.Context, placeID string) (*maps.PlaceDetails, error)
	}
	if cfg.GoogleMaps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey)
		if err != nil {
			logg.Error(context.Background(), "failed to create maps client", err)
			os.Exit(1)
		}
		places = mapsClient
	} else {
		logg.Warn(context.Background(), "google maps api key missing, address suggestions disabled")
	}
	addressService, err := address.NewService(address.NewRepository(dbClient.DB()), dbClient, places)
	if err != nil {
		logg.Error(context.Background(), "failed to create address service", err)
		os.Exit(1)
	}

	cartRepo := cart.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	cartService, err := cart.NewService(cartRepo, catalogRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create cart service", err)
		os.Exit(1)
	}

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		TransactionRunner:      dbClient,
		Cart:                   cartRepo,
		Catalog:                catalogRepo,
		Addresses:              addressService,
		Orders:                 ordersRepo,
		Payments:               stripeClient,
		PaymentApplier:         orderService,
		Outbox:                 outboxService,
		Notifier:               dispatcher,
		Metrics:                marketMetrics,
		Currency:               currency,
		TaxPercent:             taxPercent,
		DiscountPercent:        discountPercent,
		MaxOrderNumberAttempts: cfg.Pricing.MaxOrderNumberAttempts,
		AmbiguousRetries:       cfg.Payment.AmbiguousRetries,
		Logger:                 logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	walletService, err := wallet.NewService(wallet.ServiceParams{
		Ledger:            ledgerService,
		PINs:              ledgerRepo,
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		RateLimiter:       redisClient,
		Metrics:           marketMetrics,
		Withdrawal:        cfg.Withdrawal,
		Password:          cfg.Password,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
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

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:  orderService,
		Metrics: marketMetrics,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}
	webhookGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, routes.Dependencies{
			DB:             dbClient,
			Redis:          redisClient,
			Metrics:        registry,
			Hub:            hub,
			Cart:           cartService,
			Checkout:       checkoutService,
			Orders:         orderService,
			Wallet:         walletService,
			Settlement:     settlementService,
			Addresses:      addressService,
			Notifications:  notificationService,
			Stripe:         stripeClient,
			StripeWebhooks: webhookService,
			WebhookGuard:   webhookGuard,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "api server shutdown failed", err)
		return
	}
	logg.Info(ctx, "api server shut down gracefully")
}
