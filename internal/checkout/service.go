package checkout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/address"
	"github.com/angelmondragon/prepmarket-backend/internal/cart"
	"github.com/angelmondragon/prepmarket-backend/internal/catalog"
	"github.com/angelmondragon/prepmarket-backend/internal/checkout/helpers"
	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/internal/pricing"
	pkgcheckout "github.com/angelmondragon/prepmarket-backend/pkg/checkout"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/prepmarket-backend/pkg/stripe"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

const (
	defaultScheduleHorizon = 14 * 24 * time.Hour
	orderTypeMeal          = "meal_order"
)

// sqlite reports the column list instead of the constraint name.
var orderNumberConstraints = []string{"orders_order_number_key", "orders.order_number"}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type addressResolver interface {
	ResolveDelivery(ctx context.Context, customerID uuid.UUID, addressID *uuid.UUID) (*models.Address, error)
}

type paymentCreator interface {
	CreatePaymentIntent(ctx context.Context, input stripe.CreatePaymentIntentInput) (*stripe.PaymentIntent, error)
}

type paymentApplier interface {
	ApplyPaymentSucceeded(ctx context.Context, paymentIntentID string) (*orders.PaymentResult, error)
}

// Service turns a customer's cart slice for one vendor into a paid (or
// payment-processing) order.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Result, error)
}

// CreateOrderInput is the authenticated checkout request.
type CreateOrderInput struct {
	CustomerID          uuid.UUID
	VendorID            uuid.UUID
	AddressID           *uuid.UUID
	ScheduledDeliveryAt time.Time
	PaymentMethodRef    string
	SpecialInstructions *string
}

// Result carries the created order and the client secret needed when the
// processor asks for further customer action.
type Result struct {
	Order        *models.Order
	ClientSecret string
}

type ServiceParams struct {
	TransactionRunner      txRunner
	Cart                   cart.Repository
	Catalog                catalog.Repository
	Addresses              addressResolver
	Orders                 orders.Repository
	Payments               paymentCreator
	PaymentApplier         paymentApplier
	Outbox                 outboxEmitter
	Notifier               orders.Notifier
	Metrics                *metrics.MarketplaceMetrics
	Currency               enums.Currency
	TaxPercent             decimal.Decimal
	DiscountPercent        decimal.Decimal
	MaxOrderNumberAttempts int
	AmbiguousRetries       int
	ScheduleHorizon        time.Duration
	OrderNumbers           func(time.Time) (string, error)
	Clock                  func() time.Time
	Logger                 *logger.Logger
}

type service struct {
	tx              txRunner
	cart            cart.Repository
	catalog         catalog.Repository
	addresses       addressResolver
	orders          orders.Repository
	payments        paymentCreator
	applier         paymentApplier
	outbox          outboxEmitter
	notifier        orders.Notifier
	metrics         *metrics.MarketplaceMetrics
	currency        enums.Currency
	taxPercent      decimal.Decimal
	discountPercent decimal.Decimal
	maxAttempts     int
	retries         int
	horizon         time.Duration
	orderNumbers    func(time.Time) (string, error)
	now             func() time.Time
	logg            *logger.Logger
}

// NewService wires the checkout workflow.
func NewService(params ServiceParams) (Service, error) {
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if params.Addresses == nil {
		return nil, fmt.Errorf("address resolver required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	if params.PaymentApplier == nil {
		return nil, fmt.Errorf("payment applier required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	currency := params.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("unsupported currency %q", currency)
	}
	attempts := params.MaxOrderNumberAttempts
	if attempts <= 0 {
		attempts = 5
	}
	retries := params.AmbiguousRetries
	if retries < 0 {
		retries = 0
	}
	horizon := params.ScheduleHorizon
	if horizon <= 0 {
		horizon = defaultScheduleHorizon
	}
	numbers := params.OrderNumbers
	if numbers == nil {
		numbers = helpers.OrderNumber
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:              params.TransactionRunner,
		cart:            params.Cart,
		catalog:         params.Catalog,
		addresses:       params.Addresses,
		orders:          params.Orders,
		payments:        params.Payments,
		applier:         params.PaymentApplier,
		outbox:          params.Outbox,
		notifier:        params.Notifier,
		metrics:         params.Metrics,
		currency:        currency,
		taxPercent:      params.TaxPercent,
		discountPercent: params.DiscountPercent,
		maxAttempts:     attempts,
		retries:         retries,
		horizon:         horizon,
		orderNumbers:    numbers,
		now:             clock,
		logg:            logg,
	}, nil
}

type pricedLine struct {
	cartItemID uuid.UUID
	meal       *catalog.MealPrice
	quantity   int
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Result, error) {
	if input.CustomerID == uuid.Nil || input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer and vendor are required")
	}
	if input.PaymentMethodRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
	}
	now := s.now().UTC()
	if err := pkgcheckout.ValidateSchedule(input.ScheduledDeliveryAt, now, s.horizon); err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"customer_id": input.CustomerID.String(),
		"vendor_id":   input.VendorID.String(),
	})

	cartItems, err := s.cart.ListForVendor(ctx, input.CustomerID, input.VendorID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	if len(cartItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no items from this vendor in cart").
			WithReason(pkgerrors.ReasonNoItems)
	}

	vendor, err := s.catalog.FindVendor(ctx, input.VendorID)
	if err != nil {
		return nil, err
	}

	lines, err := s.priceLines(ctx, input.VendorID, cartItems)
	if err != nil {
		return nil, err
	}

	addr, err := s.addresses.ResolveDelivery(ctx, input.CustomerID, input.AddressID)
	if err != nil {
		return nil, err
	}

	breakdown, err := pricing.Compute(pricing.Input{
		Items: pricingItems(lines),
		Policy: pricing.DeliveryPolicy{
			BaseFee:  money.FromCents(vendor.DeliveryBaseFeeCents),
			PerKmFee: money.FromCents(vendor.DeliveryPerKmCents),
		},
		Origin:          types.Point{Lng: vendor.Longitude, Lat: vendor.Latitude},
		Destination:     types.Point{Lng: addr.Longitude, Lat: addr.Latitude},
		TaxPercent:      s.taxPercent,
		DiscountPercent: s.discountPercent,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "price order")
	}
	cents := breakdown.Cents()

	orderID := uuid.New()
	ctx = s.logg.WithOrderID(ctx, orderID.String())

	intent, err := s.createIntent(ctx, stripe.CreatePaymentIntentInput{
		AmountCents:   cents.Total,
		Currency:      s.currency,
		PaymentMethod: input.PaymentMethodRef,
		Metadata: map[string]string{
			"order_id":    orderID.String(),
			"customer_id": input.CustomerID.String(),
			"vendor_id":   input.VendorID.String(),
			"order_type":  orderTypeMeal,
		},
		IdempotencyKey: orderID.String(),
	})
	if err != nil {
		return nil, err
	}

	deliveryCode, err := helpers.DeliveryCode()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate delivery code")
	}

	intentID := intent.ID
	order := &models.Order{
		ID:               orderID,
		CustomerID:       input.CustomerID,
		VendorID:         input.VendorID,
		Status:           enums.OrderStatusPending,
		PaymentStatus:    enums.PaymentStatusProcessing,
		Currency:         s.currency,
		SubtotalCents:    cents.Subtotal,
		DeliveryFeeCents: cents.DeliveryFee,
		ServiceFeeCents:  cents.ServiceFee,
		TaxCents:         cents.Tax,
		DiscountCents:    cents.Discount,
		TotalCents:       cents.Total,
		DistanceKm:       breakdown.DistanceKm,
		PaymentIntentID:  &intentID,
		PaymentMethodRef: input.PaymentMethodRef,
		PaymentMetadata: types.JSONMap{
			"payment_intent_status": intent.Status,
			"order_type":            orderTypeMeal,
		},
		DeliveryCode:        deliveryCode,
		DeliveryAddress:     address.Snapshot(addr),
		SpecialInstructions: input.SpecialInstructions,
		ScheduledDeliveryAt: input.ScheduledDeliveryAt.UTC(),
		Items:               orderItems(lines),
	}

	if err := s.persist(ctx, order, now); err != nil {
		s.logg.Error(ctx, "order persist failed after payment intent created", err)
		return nil, err
	}
	s.metrics.IncOrderCreated(string(order.PaymentStatus))
	s.logg.Info(s.logg.WithField(ctx, "order_number", order.OrderNumber), "order created")

	if intent.Succeeded() {
		if _, err := s.applier.ApplyPaymentSucceeded(ctx, intent.ID); err != nil {
			// The webhook or reconcile job will retry the same transition.
			s.logg.Error(ctx, "apply synchronous payment success", err)
		}
	}

	s.afterCommit(ctx, order, lines)

	stored, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		s.logg.Warn(ctx, "reload created order: "+err.Error())
		stored = order
	}
	return &Result{Order: stored, ClientSecret: intent.ClientSecret}, nil
}

func (s *service) priceLines(ctx context.Context, vendorID uuid.UUID, items []models.CartItem) ([]pricedLine, error) {
	lines := make([]pricedLine, 0, len(items))
	inputs := make([]pkgcheckout.LineInput, 0, len(items))
	for _, item := range items {
		meal, err := s.catalog.GetMealPrice(ctx, item.MealID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, pricedLine{cartItemID: item.ID, meal: meal, quantity: item.Quantity})
		inputs = append(inputs, pkgcheckout.LineInput{
			MealID:    meal.MealID,
			MealName:  meal.Name,
			VendorID:  meal.VendorID,
			Available: meal.Available,
			Quantity:  item.Quantity,
		})
	}
	if err := pkgcheckout.ValidateLines(vendorID, inputs); err != nil {
		return nil, err
	}
	return lines, nil
}

// createIntent retries ambiguous processor outcomes with the same
// idempotency key so at most one charge exists per order id.
func (s *service) createIntent(ctx context.Context, input stripe.CreatePaymentIntentInput) (*stripe.PaymentIntent, error) {
	var lastErr error
	for attempt := 0; attempt <= s.retries; attempt++ {
		intent, err := s.payments.CreatePaymentIntent(ctx, input)
		if err == nil {
			if intent.Failed() {
				s.metrics.IncPayment("checkout", "declined")
				msg := intent.LastErrorMessage
				if msg == "" {
					msg = "payment was not authorized"
				}
				return nil, pkgerrors.New(pkgerrors.CodePaymentDeclined, msg).WithReason(pkgerrors.ReasonPaymentDeclined)
			}
			return intent, nil
		}
		if declined, ok := stripe.AsDeclined(err); ok {
			s.metrics.IncPayment("checkout", "declined")
			return nil, pkgerrors.Wrap(pkgerrors.CodePaymentDeclined, err, declined.Message).
				WithReason(pkgerrors.ReasonPaymentDeclined).
				WithDetails(map[string]any{"decline_code": declined.Code})
		}
		if !stripe.IsAmbiguous(err) {
			s.metrics.IncPayment("checkout", "error")
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
		}
		lastErr = err
		s.logg.Warn(s.logg.WithField(ctx, "attempt", attempt+1), "ambiguous payment intent outcome, retrying")
	}
	s.metrics.IncPayment("checkout", "unknown")
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lastErr, "payment outcome unknown, retry the request").
		WithReason(pkgerrors.ReasonPaymentUnknown)
}

// persist writes the order with a fresh number, regenerating the number when
// the unique index rejects it.
func (s *service) persist(ctx context.Context, order *models.Order, now time.Time) error {
	actorID := order.CustomerID
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		number, err := s.orderNumbers(now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate order number")
		}
		order.OrderNumber = number
		order.Timeline = []models.OrderTimelineEntry{{
			Sequence:  1,
			Status:    enums.OrderStatusPending,
			ActorID:   &actorID,
			ActorRole: enums.ActorRoleCustomer,
			Note:      "order created",
			CreatedAt: now,
		}}

		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
				return err
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         &outbox.ActorRef{UserID: order.CustomerID, Role: enums.ActorRoleCustomer},
				Data: payloads.OrderCreatedEvent{
					OrderID:       order.ID,
					OrderNumber:   order.OrderNumber,
					CustomerID:    order.CustomerID,
					VendorID:      order.VendorID,
					TotalCents:    order.TotalCents,
					Currency:      order.Currency,
					PaymentStatus: order.PaymentStatus,
				},
			})
		})
		if err == nil {
			return nil
		}
		if !isOrderNumberCollision(err) {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist order")
		}
		s.logg.Warn(s.logg.WithField(ctx, "order_number", number), "order number collision, regenerating")
	}
	return pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique order number")
}

// afterCommit runs the enrichment steps. The order is already real, so every
// failure here is logged and dropped.
func (s *service) afterCommit(ctx context.Context, order *models.Order, lines []pricedLine) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.cartItemID)
	}
	if _, err := s.cart.DeleteItems(ctx, order.CustomerID, ids); err != nil {
		s.logg.Error(ctx, "clear ordered cart items", err)
	}
	if err := s.catalog.RecordOrder(ctx, order); err != nil {
		s.logg.Error(ctx, "update order counters", err)
	}
	if s.notifier == nil {
		return
	}
	data := map[string]any{"order_id": order.ID.String(), "order_number": order.OrderNumber}
	s.notifier.Notify(ctx, order.CustomerID, "Order placed",
		fmt.Sprintf("Order %s for %s was placed.", order.OrderNumber, money.Format(order.TotalCents)), data)
	s.notifier.Notify(ctx, order.VendorID, "New order",
		fmt.Sprintf("You received order %s.", order.OrderNumber), data)
}

func isOrderNumberCollision(err error) bool {
	for _, name := range orderNumberConstraints {
		if db.IsUniqueViolation(err, name) {
			return true
		}
	}
	return false
}

func pricingItems(lines []pricedLine) []pricing.LineItem {
	items := make([]pricing.LineItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, pricing.LineItem{
			UnitPrice: money.FromCents(line.meal.PriceCents),
			Quantity:  line.quantity,
		})
	}
	return items
}

func orderItems(lines []pricedLine) []models.OrderItem {
	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItem{
			MealID:         line.meal.MealID,
			MealName:       line.meal.Name,
			Quantity:       line.quantity,
			UnitPriceCents: line.meal.PriceCents,
			LineTotalCents: line.meal.PriceCents * int64(line.quantity),
		})
	}
	return items
}
