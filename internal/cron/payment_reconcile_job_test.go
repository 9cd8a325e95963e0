package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

type fakeStaleReader struct {
	rows       []models.Order
	lastCutoff time.Time
}

func (f *fakeStaleReader) ListStaleProcessing(_ context.Context, cutoff time.Time, _ int) ([]models.Order, error) {
	f.lastCutoff = cutoff
	return f.rows, nil
}

type fakeIntents map[string]*stripe.PaymentIntent

func (f fakeIntents) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	pi, ok := f[id]
	if !ok {
		return nil, errors.New("processor unavailable")
	}
	return pi, nil
}

type fakeApplier struct {
	succeeded []string
	failed    map[string]string
}

func (f *fakeApplier) ApplyPaymentSucceeded(_ context.Context, id string) (*orders.PaymentResult, error) {
	f.succeeded = append(f.succeeded, id)
	return &orders.PaymentResult{Applied: true}, nil
}

func (f *fakeApplier) ApplyPaymentFailed(_ context.Context, id, message string) (*orders.PaymentResult, error) {
	if f.failed == nil {
		f.failed = map[string]string{}
	}
	f.failed[id] = message
	return &orders.PaymentResult{Applied: true}, nil
}

func staleOrder(intentID string) models.Order {
	return models.Order{ID: uuid.New(), PaymentIntentID: &intentID}
}

func TestPaymentReconcileAppliesProcessorOutcome(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	reader := &fakeStaleReader{rows: []models.Order{
		staleOrder("pi_ok"), staleOrder("pi_declined"), staleOrder("pi_waiting"),
	}}
	intents := fakeIntents{
		"pi_ok":       {ID: "pi_ok", Status: "succeeded"},
		"pi_declined": {ID: "pi_declined", Status: "requires_payment_method", LastErrorMessage: "card declined"},
		"pi_waiting":  {ID: "pi_waiting", Status: "processing"},
	}
	applier := &fakeApplier{}
	jobIface, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger: logger.Nop(), Orders: reader, Payments: intents, Applier: applier,
	})
	require.NoError(t, err)
	job := jobIface.(*paymentReconcileJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.True(t, reader.lastCutoff.Equal(now.Add(-defaultStaleProcessingAge)))
	assert.Equal(t, []string{"pi_ok"}, applier.succeeded)
	assert.Equal(t, map[string]string{"pi_declined": "card declined"}, applier.failed)
}

func TestPaymentReconcileContinuesPastLookupErrors(t *testing.T) {
	reader := &fakeStaleReader{rows: []models.Order{staleOrder("pi_missing"), staleOrder("pi_ok")}}
	applier := &fakeApplier{}
	job, err := NewPaymentReconcileJob(PaymentReconcileJobParams{
		Logger:   logger.Nop(),
		Orders:   reader,
		Payments: fakeIntents{"pi_ok": {ID: "pi_ok", Status: "succeeded"}},
		Applier:  applier,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "processor unavailable")
	assert.Equal(t, []string{"pi_ok"}, applier.succeeded)
}
