package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
)

type fakeApplier struct {
	succeeded []string
	failed    []string
	messages  []string
	err       error
}

func (f *fakeApplier) ApplyPaymentSucceeded(_ context.Context, id string) (*orders.PaymentResult, error) {
	f.succeeded = append(f.succeeded, id)
	if f.err != nil {
		return nil, f.err
	}
	return &orders.PaymentResult{Order: &models.Order{ID: uuid.New()}, Applied: len(f.succeeded) == 1}, nil
}

func (f *fakeApplier) ApplyPaymentFailed(_ context.Context, id, message string) (*orders.PaymentResult, error) {
	f.failed = append(f.failed, id)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return nil, f.err
	}
	return &orders.PaymentResult{Order: &models.Order{ID: uuid.New()}, Applied: true}, nil
}

func newTestService(t *testing.T, applier *fakeApplier) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Orders: applier})
	require.NoError(t, err)
	return svc
}

func TestHandleEventDispatchesByType(t *testing.T) {
	applier := &fakeApplier{}
	svc := newTestService(t, applier)

	require.NoError(t, svc.HandleEvent(context.Background(), &stripe.WebhookEvent{
		ID: "evt_1", Type: stripe.EventPaymentIntentSucceeded,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_ok", Status: "succeeded"},
	}))
	require.NoError(t, svc.HandleEvent(context.Background(), &stripe.WebhookEvent{
		ID: "evt_2", Type: stripe.EventPaymentIntentFailed,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_bad", Status: "requires_payment_method", LastErrorMessage: "insufficient funds"},
	}))

	assert.Equal(t, []string{"pi_ok"}, applier.succeeded)
	assert.Equal(t, []string{"pi_bad"}, applier.failed)
	assert.Equal(t, []string{"insufficient funds"}, applier.messages)
}

func TestHandleEventIgnoresUnknownTypes(t *testing.T) {
	applier := &fakeApplier{}
	svc := newTestService(t, applier)

	err := svc.HandleEvent(context.Background(), &stripe.WebhookEvent{ID: "evt_3", Type: "charge.refunded"})
	require.NoError(t, err)
	assert.Empty(t, applier.succeeded)
	assert.Empty(t, applier.failed)
}

func TestHandleEventAcksUnknownIntent(t *testing.T) {
	applier := &fakeApplier{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	svc := newTestService(t, applier)

	err := svc.HandleEvent(context.Background(), &stripe.WebhookEvent{
		ID: "evt_4", Type: stripe.EventPaymentIntentSucceeded,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_orphan"},
	})
	require.NoError(t, err)
}

func TestHandleEventSurfacesStorageFailures(t *testing.T) {
	applier := &fakeApplier{err: pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("db down"), "update payment status")}
	svc := newTestService(t, applier)

	err := svc.HandleEvent(context.Background(), &stripe.WebhookEvent{
		ID: "evt_5", Type: stripe.EventPaymentIntentSucceeded,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_retry"},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestHandleEventRequiresIntent(t *testing.T) {
	svc := newTestService(t, &fakeApplier{})
	err := svc.HandleEvent(context.Background(), &stripe.WebhookEvent{ID: "evt_6", Type: stripe.EventPaymentIntentSucceeded})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

type memoryStore struct {
	values map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) { return m.values[key], nil }

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return "idempotency:" + scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestEventGuard(t *testing.T) {
	guard, err := NewEventGuard(&memoryStore{values: map[string]string{}}, time.Hour, "stripe-webhook")
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := guard.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = guard.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)

	require.NoError(t, guard.Forget(ctx, "evt_1"))
	seen, err = guard.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = guard.Seen(ctx, "")
	assert.Error(t, err)
}
