package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

const (
	defaultStaleProcessingAge = 15 * time.Minute
	defaultReconcileBatch     = 100
)

type staleOrderReader interface {
	ListStaleProcessing(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

type intentFetcher interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type paymentApplier interface {
	ApplyPaymentSucceeded(ctx context.Context, paymentIntentID string) (*orders.PaymentResult, error)
	ApplyPaymentFailed(ctx context.Context, paymentIntentID, message string) (*orders.PaymentResult, error)
}

// PaymentReconcileJobParams configure the job that settles payments whose
// webhook never arrived.
type PaymentReconcileJobParams struct {
	Logger    *logger.Logger
	Orders    staleOrderReader
	Payments  intentFetcher
	Applier   paymentApplier
	StaleAge  time.Duration
	BatchSize int
}

func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("payment applier required")
	}
	staleAge := params.StaleAge
	if staleAge <= 0 {
		staleAge = defaultStaleProcessingAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:     params.Logger,
		orders:   params.Orders,
		payments: params.Payments,
		applier:  params.Applier,
		staleAge: staleAge,
		batch:    batch,
		now:      time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg     *logger.Logger
	orders   staleOrderReader
	payments intentFetcher
	applier  paymentApplier
	staleAge time.Duration
	batch    int
	now      func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.staleAge)
	stale, err := j.orders.ListStaleProcessing(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}

	var errs error
	var succeeded, failed, pending int
	for i := range stale {
		order := &stale[i]
		if order.PaymentIntentID == nil {
			continue
		}
		outcome, err := j.reconcile(ctx, *order.PaymentIntentID)
		if err != nil {
			orderCtx := j.logg.WithField(ctx, "order_id", order.ID.String())
			j.logg.Error(orderCtx, "reconcile payment", err)
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		switch outcome {
		case "succeeded":
			succeeded++
		case "failed":
			failed++
		default:
			pending++
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":   len(stale),
		"succeeded": succeeded,
		"failed":    failed,
		"pending":   pending,
	})
	j.logg.Info(logCtx, "payment reconcile complete")
	return errs
}

func (j *paymentReconcileJob) reconcile(ctx context.Context, intentID string) (string, error) {
	intent, err := j.payments.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return "", err
	}
	switch {
	case intent.Succeeded():
		if _, err := j.applier.ApplyPaymentSucceeded(ctx, intentID); err != nil {
			return "", err
		}
		return "succeeded", nil
	case intent.Failed():
		if _, err := j.applier.ApplyPaymentFailed(ctx, intentID, intent.LastErrorMessage); err != nil {
			return "", err
		}
		return "failed", nil
	default:
		return "pending", nil
	}
}
