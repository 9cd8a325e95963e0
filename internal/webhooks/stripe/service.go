package stripewebhook

import (
	"context"
	"fmt"

	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

type paymentApplier interface {
	ApplyPaymentSucceeded(ctx context.Context, paymentIntentID string) (*orders.PaymentResult, error)
	ApplyPaymentFailed(ctx context.Context, paymentIntentID, message string) (*orders.PaymentResult, error)
}

type ServiceParams struct {
	Orders  paymentApplier
	Metrics *metrics.MarketplaceMetrics
	Logger  *logger.Logger
}

// Service applies verified payment intent events to orders.
type Service struct {
	orders  paymentApplier
	metrics *metrics.MarketplaceMetrics
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{orders: params.Orders, metrics: params.Metrics, logg: logg}, nil
}

// HandleEvent returns nil for every event the processor should stop
// retrying, including unknown types and intents that match no order.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.WebhookEvent) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"stripe_event_id": event.ID, "stripe_event_type": event.Type})

	switch event.Type {
	case stripe.EventPaymentIntentSucceeded, stripe.EventPaymentIntentFailed:
	default:
		s.logg.Info(ctx, "ignoring unhandled stripe event")
		return nil
	}
	if event.PaymentIntent == nil || event.PaymentIntent.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent missing from event")
	}
	intent := event.PaymentIntent
	ctx = s.logg.WithField(ctx, "payment_intent_id", intent.ID)

	var (
		result  *orders.PaymentResult
		err     error
		outcome string
	)
	if event.Type == stripe.EventPaymentIntentSucceeded {
		outcome = "succeeded"
		result, err = s.orders.ApplyPaymentSucceeded(ctx, intent.ID)
	} else {
		outcome = "failed"
		result, err = s.orders.ApplyPaymentFailed(ctx, intent.ID, intent.LastErrorMessage)
	}
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			// Intents created outside checkout carry no order.
			s.logg.Warn(ctx, "payment intent matches no order")
			return nil
		}
		return err
	}

	s.metrics.IncPayment("webhook", outcome)
	if result.Applied {
		s.logg.Info(s.logg.WithOrderID(ctx, result.Order.ID.String()), fmt.Sprintf("payment %s applied", outcome))
	} else {
		s.logg.Info(s.logg.WithOrderID(ctx, result.Order.ID.String()), "payment event already applied")
	}
	return nil
}
