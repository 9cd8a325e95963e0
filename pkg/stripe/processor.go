package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
)

// Event types the marketplace reacts to.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// ErrAmbiguous means the processor may or may not have acted on the request.
// Callers re-query or retry with the same idempotency key; they never assume
// failure.
var ErrAmbiguous = errors.New("payment processor outcome unknown")

// ErrSignature is returned when a webhook payload fails verification.
var ErrSignature = errors.New("webhook signature verification failed")

// DeclinedError is a definitive rejection, usually a card decline.
type DeclinedError struct {
	Code    string
	Message string
}

func (e *DeclinedError) Error() string {
	if e.Code == "" {
		return "payment declined: " + e.Message
	}
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
}

// PaymentIntent is the subset of a processor intent the marketplace stores.
type PaymentIntent struct {
	ID               string
	Status           string
	ClientSecret     string
	AmountCents      int64
	Metadata         map[string]string
	LastErrorMessage string
}

// Succeeded reports whether funds were captured.
func (p PaymentIntent) Succeeded() bool {
	return p.Status == string(stripe.PaymentIntentStatusSucceeded)
}

// Failed reports whether the intent can no longer succeed without a new
// payment method.
func (p PaymentIntent) Failed() bool {
	return p.Status == string(stripe.PaymentIntentStatusCanceled) ||
		p.Status == string(stripe.PaymentIntentStatusRequiresPaymentMethod)
}

// Refund is the subset of a processor refund the marketplace stores.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
}

// CreatePaymentIntentInput carries the charge request.
type CreatePaymentIntentInput struct {
	AmountCents    int64
	Currency       enums.Currency
	PaymentMethod  string
	Metadata       map[string]string
	IdempotencyKey string
}

// WebhookEvent is a verified processor event narrowed to payment intents.
type WebhookEvent struct {
	ID            string
	Type          string
	PaymentIntent *PaymentIntent
}

// CreatePaymentIntent creates and confirms an intent in one call.
func (c *Client) CreatePaymentIntent(ctx context.Context, input CreatePaymentIntentInput) (*PaymentIntent, error) {
	if input.AmountCents <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	if strings.TrimSpace(input.PaymentMethod) == "" {
		return nil, fmt.Errorf("payment method is required")
	}
	if input.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(input.AmountCents),
		Currency:      stripe.String(string(input.Currency)),
		PaymentMethod: stripe.String(input.PaymentMethod),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(input.IdempotencyKey)
	for key, value := range input.Metadata {
		params.AddMetadata(key, value)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return fromStripeIntent(pi), nil
}

// GetPaymentIntent re-reads an intent, used to resolve ambiguous outcomes.
func (c *Client) GetPaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, classify(err)
	}
	return fromStripeIntent(pi), nil
}

// Refund returns amountCents of a captured intent. The idempotency key makes
// retries after a lost response reuse the first refund.
func (c *Client) Refund(ctx context.Context, paymentIntentID string, amountCents int64, idempotencyKey string) (*Refund, error) {
	if paymentIntentID == "" {
		return nil, fmt.Errorf("payment intent id is required")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountCents),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status), AmountCents: r.Amount}, nil
}

// VerifyWebhook checks the signature header before anything in the payload
// is trusted, then narrows the event to its payment intent.
func (c *Client) VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	return VerifyWebhook(payload, signatureHeader, c.SigningSecret())
}

// VerifyWebhook is the client-free form used by tests and tooling.
func VerifyWebhook(payload []byte, signatureHeader, secret string) (*WebhookEvent, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: signing secret not configured", ErrSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data != nil && strings.HasPrefix(out.Type, "payment_intent.") {
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.PaymentIntent = fromStripeIntent(&pi)
	}
	return out, nil
}

func fromStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		out.LastErrorMessage = pi.LastPaymentError.Msg
	}
	return out
}

// classify maps SDK errors onto decline, ambiguous or plain failures.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.Type == stripe.ErrorTypeCard:
			return &DeclinedError{Code: string(stripeErr.Code), Message: stripeErr.Msg}
		case stripeErr.HTTPStatusCode == 0,
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
			stripeErr.HTTPStatusCode == http.StatusConflict,
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %s", ErrAmbiguous, stripeErr.Msg)
		default:
			return fmt.Errorf("stripe request failed: %s", stripeErr.Msg)
		}
	}
	if isTransport(err) {
		return fmt.Errorf("%w: %v", ErrAmbiguous, err)
	}
	return err
}

func isTransport(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsAmbiguous reports whether err leaves the processor state unknown.
func IsAmbiguous(err error) bool {
	return errors.Is(err, ErrAmbiguous)
}

// AsDeclined extracts a decline, if err is one.
func AsDeclined(err error) (*DeclinedError, bool) {
	var declined *DeclinedError
	if errors.As(err, &declined) {
		return declined, true
	}
	return nil, false
}
