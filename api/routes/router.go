package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/prepmarket-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/prepmarket-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/prepmarket-backend/api/controllers/webhooks"
	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/internal/address"
	"github.com/angelmondragon/prepmarket-backend/internal/cart"
	"github.com/angelmondragon/prepmarket-backend/internal/checkout"
	"github.com/angelmondragon/prepmarket-backend/internal/notifications"
	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/internal/realtime"
	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/internal/wallet"
	stripewebhook "github.com/angelmondragon/prepmarket-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/redis"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

type redisClient interface {
	redis.IdempotencyStore
	redis.RateLimiter
	redis.Pinger
}

// Dependencies is everything the HTTP surface needs from cmd/api.
type Dependencies struct {
	DB             db.Pinger
	Redis          redisClient
	Metrics        prometheus.Gatherer
	Hub            *realtime.Hub
	Cart           cart.Service
	Checkout       checkout.Service
	Orders         orders.Service
	Wallet         wallet.Service
	Settlement     settlement.Service
	Addresses      address.Service
	Notifications  notifications.Service
	Stripe         *stripe.Client
	StripeWebhooks *stripewebhook.Service
	WebhookGuard   *stripewebhook.EventGuard
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg,
			controllers.ReadinessCheck{Name: "postgres", Pinger: deps.DB},
			controllers.ReadinessCheck{Name: "redis", Pinger: deps.Redis},
		))
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{}))
	}

	r.Get("/api/public/ping", controllers.PublicPing())

	// Typed nils would slip past the controller's availability checks.
	var (
		webhookSvc webhookcontrollers.StripeWebhookService
		verifier   stripeVerifier
		guard      webhookGuard
	)
	if deps.StripeWebhooks != nil {
		webhookSvc = deps.StripeWebhooks
	}
	if deps.Stripe != nil {
		verifier = deps.Stripe
	}
	if deps.WebhookGuard != nil {
		guard = deps.WebhookGuard
	}
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Use(middleware.RateLimit("webhook", cfg.App.RateLimit*10, cfg.App.RateWindow, deps.Redis, logg))
		r.Post("/stripe", webhookcontrollers.StripeWebhook(webhookSvc, verifier, guard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RateLimit("api", cfg.App.RateLimit, cfg.App.RateWindow, deps.Redis, logg))
		r.Use(middleware.Idempotency(deps.Redis, cfg.Eventing.RequestIdempotencyTTL, logg))

		r.Get("/me", controllers.Me(logg))
		r.Get("/ws", controllers.Realtime(hubOrNil(deps.Hub), logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(middleware.RequireRole(logg, enums.ActorRoleCustomer)).
				Post("/", ordercontrollers.Create(deps.Checkout, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleVendor, enums.ActorRoleRider, enums.ActorRoleAdmin)).
				Post("/{orderId}/status", ordercontrollers.UpdateStatus(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleCustomer, enums.ActorRoleVendor)).
				Post("/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.With(middleware.RequireRole(logg, enums.ActorRoleRider)).
				Post("/{orderId}/accept", ordercontrollers.Accept(deps.Orders, logg))
		})

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", controllers.WalletGet(deps.Wallet, logg))
			r.Get("/transactions", controllers.WalletTransactions(deps.Wallet, logg))
			r.Post("/pin", controllers.WalletSetPIN(deps.Wallet, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleVendor, enums.ActorRoleRider))
				r.Post("/settle", controllers.WalletSettle(deps.Settlement, logg))
				r.Post("/withdrawals", controllers.WalletWithdraw(deps.Wallet, logg))
			})
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCustomer))
			r.Get("/", controllers.CartList(deps.Cart, logg))
			r.Post("/items", controllers.CartAddItem(deps.Cart, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(deps.Cart, logg))
		})

		r.Route("/addresses", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleCustomer))
			r.Get("/", controllers.AddressList(deps.Addresses, logg))
			r.Post("/", controllers.AddressSave(deps.Addresses, logg))
			r.Get("/suggest", controllers.AddressSuggest(deps.Addresses, logg))
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))
			r.Post("/orders/{orderId}/cancel", ordercontrollers.Cancel(deps.Orders, logg))
			r.Post("/withdrawals/{txId}/complete", controllers.AdminCompleteWithdrawal(deps.Wallet, logg))
			r.Post("/withdrawals/{txId}/fail", controllers.AdminFailWithdrawal(deps.Wallet, logg))
		})
	})

	return r
}

type stripeVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader string) (*stripe.WebhookEvent, error)
}

type webhookGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

// hubOrNil keeps a nil *Hub from becoming a non-nil interface.
func hubOrNil(h *realtime.Hub) interface {
	Serve(http.ResponseWriter, *http.Request, uuid.UUID) error
} {
	if h == nil {
		return nil
	}
	return h
}
