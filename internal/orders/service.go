package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox/payloads"
)

// Service drives orders through the lifecycle after creation.
type Service interface {
	Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error)
	TransitionStatus(ctx context.Context, input TransitionInput) (*models.Order, error)
	AcceptDelivery(ctx context.Context, orderID uuid.UUID, rider Actor) (*models.Order, error)
	Cancel(ctx context.Context, input CancelInput) (*models.Order, error)
	ApplyPaymentSucceeded(ctx context.Context, paymentIntentID string) (*PaymentResult, error)
	ApplyPaymentFailed(ctx context.Context, paymentIntentID, message string) (*PaymentResult, error)
}

// TransitionInput asks for order to move to Target.
type TransitionInput struct {
	OrderID            uuid.UUID
	Actor              Actor
	Target             enums.OrderStatus
	DeliveryCode       string
	Note               string
	EstimatedArrivalAt *time.Time
}

// CancelInput asks for order to be cancelled, refunding a captured payment.
type CancelInput struct {
	OrderID uuid.UUID
	Actor   Actor
	Reason  string
}

// PaymentResult reports whether a payment event changed the order.
type PaymentResult struct {
	Order   *models.Order
	Applied bool
}

type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Outbox            outboxEmitter
	Earnings          EarningsRecorder
	Refunder          Refunder
	Notifier          Notifier
	Metrics           *metrics.MarketplaceMetrics
	CommissionPercent decimal.Decimal
	Logger            *logger.Logger
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxEmitter
	earnings   EarningsRecorder
	refunder   Refunder
	notifier   Notifier
	metrics    *metrics.MarketplaceMetrics
	commission decimal.Decimal
	logg       *logger.Logger
}

// NewService builds the order lifecycle service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Earnings == nil {
		return nil, fmt.Errorf("earnings recorder required")
	}
	if params.Refunder == nil {
		return nil, fmt.Errorf("refunder required")
	}
	if params.CommissionPercent.IsNegative() || params.CommissionPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("commission percent must be between 0 and 100")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		repo:       params.Repo,
		tx:         params.TransactionRunner,
		outbox:     params.Outbox,
		earnings:   params.Earnings,
		refunder:   params.Refunder,
		notifier:   params.Notifier,
		metrics:    params.Metrics,
		commission: params.CommissionPercent,
		logg:       logg,
	}, nil
}

func (s *service) Get(ctx context.Context, actor Actor, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.load(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}
	if !CanView(order, actor) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order not visible to this user").
			WithReason(pkgerrors.ReasonNotAuthorized)
	}
	return order, nil
}

func (s *service) TransitionStatus(ctx context.Context, input TransitionInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.Target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown order status %q", input.Target))
	}

	switch input.Target {
	case enums.OrderStatusCancelled:
		return s.Cancel(ctx, CancelInput{OrderID: input.OrderID, Actor: input.Actor, Reason: input.Note})
	case enums.OrderStatusAccepted:
		return s.AcceptDelivery(ctx, input.OrderID, input.Actor)
	}

	var (
		from    enums.OrderStatus
		updated *models.Order
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.load(ctx, repo, input.OrderID)
		if err != nil {
			return err
		}
		if err := Authorize(order, input.Actor, input.Target); err != nil {
			return err
		}
		if err := ValidateTransition(order.Status, input.Target); err != nil {
			return err
		}

		now := time.Now().UTC()
		updates := map[string]any{}
		switch input.Target {
		case enums.OrderStatusDelivered:
			if err := VerifyDeliveryCode(order, input.DeliveryCode); err != nil {
				return err
			}
			updates["actual_delivery_at"] = now
		case enums.OrderStatusOnTheWay, enums.OrderStatusPickedUp:
			if input.EstimatedArrivalAt != nil {
				updates["estimated_arrival_at"] = input.EstimatedArrivalAt.UTC()
			}
		}

		from = order.Status
		if err := s.advance(ctx, tx, order, input.Target, input.Actor, input.Note, updates); err != nil {
			return err
		}

		if input.Target == enums.OrderStatusDelivered {
			if err := s.bookEarnings(ctx, tx, order); err != nil {
				return err
			}
		}

		updated, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(from), string(input.Target))
	s.notifyTransition(ctx, updated)
	return updated, nil
}

func (s *service) AcceptDelivery(ctx context.Context, orderID uuid.UUID, rider Actor) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if rider.Role != enums.ActorRoleRider || rider.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only riders may accept deliveries").
			WithReason(pkgerrors.ReasonNotAuthorized)
	}

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimDelivery(ctx, orderID, rider.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim delivery")
		}

		order, err := s.load(ctx, repo, orderID)
		if err != nil {
			return err
		}
		if !claimed {
			return claimFailure(order)
		}

		if err := repo.AppendTimeline(ctx, timelineEntry(order.ID, enums.OrderStatusAccepted, rider, "")); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
		}
		if err := s.emitStatusChanged(ctx, tx, order, enums.OrderStatusReady, enums.OrderStatusAccepted, rider); err != nil {
			return err
		}

		updated, err = s.load(ctx, repo, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncTransition(string(enums.OrderStatusReady), string(enums.OrderStatusAccepted))
	s.notifyTransition(ctx, updated)
	return updated, nil
}

func claimFailure(order *models.Order) error {
	switch {
	case order.RiderID != nil || (order.Status != enums.OrderStatusReady && !CustomerCancellable(order.Status)):
		return pkgerrors.New(pkgerrors.CodeConflict, "delivery no longer available").
			WithReason(pkgerrors.ReasonAlreadyClaimed)
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order is %s and not ready for pickup", order.Status)).
			WithReason(pkgerrors.ReasonNotReady)
	}
}

func (s *service) Cancel(ctx context.Context, input CancelInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.load(ctx, s.repo, input.OrderID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(order, input.Actor, enums.OrderStatusCancelled); err != nil {
		return nil, err
	}
	if err := cancellable(order.Status, input.Actor); err != nil {
		return nil, err
	}

	var refunded int64
	if order.PaymentStatus == enums.PaymentStatusCompleted && order.PaymentIntentID != nil {
		refunded, err = s.refund(ctx, order)
		if err != nil {
			return nil, err
		}
	}

	var (
		from      enums.OrderStatus
		updated   *models.Order
		overtaken error
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.lock(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		from = current.Status

		if refunded == 0 {
			if current.PaymentStatus == enums.PaymentStatusCompleted {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "payment captured while cancelling; reload and retry").
					WithReason(pkgerrors.ReasonStaleState)
			}
			if err := cancellable(current.Status, input.Actor); err != nil {
				return err
			}
			updated, err = s.cancelTx(ctx, tx, current, input.Actor, input.Reason, 0)
			return err
		}

		// The money is already back with the customer, so the order must
		// record it whatever state it moved to in the meantime.
		switch current.Status {
		case enums.OrderStatusCancelled:
			if _, err := s.recordRefund(ctx, tx, current, refunded, input.Actor, "refund issued for cancelled order"); err != nil {
				return err
			}
		case enums.OrderStatusDelivered:
			if _, err := s.recordRefund(ctx, tx, current, refunded, input.Actor, "refund issued after delivery"); err != nil {
				return err
			}
			overtaken = pkgerrors.New(pkgerrors.CodeStateConflict, "order was delivered before the cancellation landed; payment refunded").
				WithReason(pkgerrors.ReasonStaleState)
		default:
			if _, err := s.cancelTx(ctx, tx, current, input.Actor, input.Reason, refunded); err != nil {
				return err
			}
		}
		updated, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		if refunded > 0 {
			logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "refund_cents": refunded})
			s.logg.Error(logCtx, "refund issued but cancellation was not recorded", err)
		}
		return nil, err
	}
	if overtaken != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "refund_cents": refunded})
		s.logg.Error(logCtx, "refund issued for delivered order", overtaken)
		return nil, overtaken
	}

	if from != enums.OrderStatusCancelled {
		s.metrics.IncTransition(string(from), string(enums.OrderStatusCancelled))
	}
	s.notifyTransition(ctx, updated)
	return updated, nil
}

// refund returns the full captured amount. The key is stable per order, so
// retries reuse the processor's refund.
func (s *service) refund(ctx context.Context, order *models.Order) (int64, error) {
	refund, err := s.refunder.Refund(ctx, *order.PaymentIntentID, order.TotalCents, refundKey(order.ID))
	if err != nil {
		s.metrics.IncPayment("refund", "failed")
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refund payment")
	}
	s.metrics.IncPayment("refund", "succeeded")
	if refund.AmountCents == 0 {
		return order.TotalCents, nil
	}
	return refund.AmountCents, nil
}

// recordRefund stamps a refund on an order that is not being cancelled in
// the same step. It reports false when the payment was already refunded.
func (s *service) recordRefund(ctx context.Context, tx *gorm.DB, order *models.Order, amountCents int64, actor Actor, note string) (bool, error) {
	repo := s.repo.WithTx(tx)
	ok, err := repo.RecordRefund(ctx, order.ID, amountCents)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
	}
	if !ok {
		return false, nil
	}
	if err := repo.AppendTimeline(ctx, timelineEntry(order.ID, order.Status, actor, note)); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
	}
	intentID := ""
	if order.PaymentIntentID != nil {
		intentID = *order.PaymentIntentID
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderRefunded,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderRefundedEvent{
			OrderID:           order.ID,
			PaymentIntentID:   intentID,
			RefundAmountCents: amountCents,
			Reason:            note,
			RefundedAt:        time.Now().UTC(),
		},
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func cancellable(status enums.OrderStatus, actor Actor) error {
	allowed := CustomerCancellable(status)
	if actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem {
		allowed = AdminCancellable(status)
	}
	if allowed {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("cannot transition order from %s to %s", status, enums.OrderStatusCancelled)).
		WithReason(pkgerrors.ReasonInvalidTransition).
		WithDetails(map[string]any{"current": status, "attempted": enums.OrderStatusCancelled})
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, order *models.Order, actor Actor, reason string, refunded int64) (*models.Order, error) {
	repo := s.repo.WithTx(tx)
	role := actor.Role
	updates := map[string]any{
		"cancelled_by_role":   role,
		"cancelled_by_id":     actor.idPtr(),
		"refund_amount_cents": refunded,
	}
	if reason != "" {
		updates["cancellation_reason"] = reason
	}
	if refunded > 0 {
		updates["payment_status"] = enums.PaymentStatusRefunded
	}

	from := order.Status
	if err := s.advance(ctx, tx, order, enums.OrderStatusCancelled, actor, reason, updates); err != nil {
		return nil, err
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCancelled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderCancelledEvent{
			OrderID:           order.ID,
			CancelledByID:     actor.idPtr(),
			CancelledByRole:   role,
			Reason:            reason,
			RefundAmountCents: refunded,
			CancelledAt:       time.Now().UTC(),
		},
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "from": string(from)}), "order cancelled")
	return s.load(ctx, repo, order.ID)
}

func (s *service) ApplyPaymentSucceeded(ctx context.Context, paymentIntentID string) (*PaymentResult, error) {
	order, err := s.loadByIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "payment_intent_id": paymentIntentID})

	if order.PaymentStatus == enums.PaymentStatusRefunded {
		return &PaymentResult{Order: order}, nil
	}
	if order.Status == enums.OrderStatusCancelled {
		return s.refundLateCapture(ctx, order, paymentIntentID)
	}
	if order.PaymentStatus == enums.PaymentStatusCompleted {
		return &PaymentResult{Order: order}, nil
	}

	applied := false
	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdatePaymentStatus(ctx, order.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing},
			enums.PaymentStatusCompleted)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			updated, err = s.load(ctx, repo, order.ID)
			return err
		}
		applied = true

		if order.Status == enums.OrderStatusPending {
			if err := s.advance(ctx, tx, order, enums.OrderStatusConfirmed, SystemActor, "payment confirmed", nil); err != nil &&
				pkgerrors.ReasonOf(err) != pkgerrors.ReasonStaleState {
				return err
			}
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(SystemActor),
			Data: payloads.OrderPaidEvent{
				OrderID:         order.ID,
				PaymentIntentID: paymentIntentID,
				AmountCents:     order.TotalCents,
				PaidAt:          time.Now().UTC(),
			},
		}); err != nil {
			return err
		}

		updated, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.logg.Info(logCtx, "payment applied to order")
		s.notifyTransition(ctx, updated)
	}
	return &PaymentResult{Order: updated, Applied: applied}, nil
}

// refundLateCapture handles a capture reported after the order was cancelled.
// The capture is recorded first so a failed refund stays visible to the
// reconcile job, then the full amount goes back to the customer.
func (s *service) refundLateCapture(ctx context.Context, order *models.Order, paymentIntentID string) (*PaymentResult, error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{"order_id": order.ID.String(), "payment_intent_id": paymentIntentID})

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdatePaymentStatus(ctx, order.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing},
			enums.PaymentStatusCompleted)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(SystemActor),
			Data: payloads.OrderPaidEvent{
				OrderID:         order.ID,
				PaymentIntentID: paymentIntentID,
				AmountCents:     order.TotalCents,
				PaidAt:          time.Now().UTC(),
			},
		})
	})
	if err != nil {
		return nil, err
	}

	current, err := s.load(ctx, s.repo, order.ID)
	if err != nil {
		return nil, err
	}
	if current.PaymentStatus != enums.PaymentStatusCompleted {
		return &PaymentResult{Order: current}, nil
	}

	s.logg.Warn(logCtx, "payment captured for cancelled order, refunding")
	refunded, err := s.refund(ctx, current)
	if err != nil {
		s.logg.Error(logCtx, "refund of late capture failed", err)
		return nil, err
	}

	applied := false
	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		locked, err := s.lock(ctx, repo, order.ID)
		if err != nil {
			return err
		}
		applied, err = s.recordRefund(ctx, tx, locked, refunded, SystemActor, "payment captured after cancellation; refunded")
		if err != nil {
			return err
		}
		updated, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(logCtx, "refund_cents", refunded), "refund issued but not recorded", err)
		return nil, err
	}

	if applied {
		s.notifyTransition(ctx, updated)
	}
	return &PaymentResult{Order: updated, Applied: applied}, nil
}

func (s *service) ApplyPaymentFailed(ctx context.Context, paymentIntentID, message string) (*PaymentResult, error) {
	order, err := s.loadByIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, err
	}
	switch order.PaymentStatus {
	case enums.PaymentStatusCompleted, enums.PaymentStatusRefunded, enums.PaymentStatusFailed:
		return &PaymentResult{Order: order}, nil
	}

	applied := false
	var updated *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdatePaymentStatus(ctx, order.ID,
			[]enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing},
			enums.PaymentStatusFailed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		if !ok {
			updated, err = s.load(ctx, repo, order.ID)
			return err
		}
		applied = true

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(SystemActor),
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:         order.ID,
				PaymentIntentID: paymentIntentID,
				Message:         message,
			},
		}); err != nil {
			return err
		}

		if CanTransition(order.Status, enums.OrderStatusCancelled) {
			reason := "payment failed"
			if message != "" {
				reason = "payment failed: " + message
			}
			if _, err := s.cancelTx(ctx, tx, order, SystemActor, reason, 0); err != nil &&
				pkgerrors.ReasonOf(err) != pkgerrors.ReasonStaleState {
				return err
			}
		}

		updated, err = s.load(ctx, repo, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.notifyTransition(ctx, updated)
	}
	return &PaymentResult{Order: updated, Applied: applied}, nil
}

// advance applies one whitelisted move and records it on the timeline and
// outbox. A lost race surfaces as a stale-state conflict.
func (s *service) advance(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, actor Actor, note string, updates map[string]any) error {
	repo := s.repo.WithTx(tx)
	ok, err := repo.ApplyTransition(ctx, order.ID, order.Status, to, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order changed concurrently; reload and retry").
			WithReason(pkgerrors.ReasonStaleState)
	}
	if err := repo.AppendTimeline(ctx, timelineEntry(order.ID, to, actor, note)); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append timeline")
	}
	return s.emitStatusChanged(ctx, tx, order, order.Status, to, actor)
}

func (s *service) bookEarnings(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	for _, role := range []enums.ActorRole{enums.ActorRoleVendor, enums.ActorRoleRider} {
		userID, ok := EarningsRecipient(order, role)
		if !ok {
			continue
		}
		share := EarningsShare(order, role, s.commission)
		if share <= 0 {
			continue
		}
		if err := s.earnings.AddPending(ctx, tx, userID, role, share); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) emitStatusChanged(ctx context.Context, tx *gorm.DB, order *models.Order, from, to enums.OrderStatus, actor Actor) error {
	riderID := order.RiderID
	if to == enums.OrderStatusAccepted && riderID == nil {
		riderID = actor.idPtr()
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(actor),
		Data: payloads.OrderStatusChangedEvent{
			OrderID:    order.ID,
			From:       from,
			To:         to,
			ActorID:    actor.idPtr(),
			ActorRole:  actor.Role,
			RiderID:    riderID,
			OccurredAt: time.Now().UTC(),
		},
	})
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) lock(ctx context.Context, repo Repository, id uuid.UUID) (*models.Order, error) {
	order, err := repo.LockByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	return order, nil
}

func (s *service) loadByIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	if paymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	order, err := s.repo.FindByPaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment intent")
	}
	return order, nil
}

func (s *service) notifyTransition(ctx context.Context, order *models.Order) {
	if s.notifier == nil || order == nil {
		return
	}
	title := fmt.Sprintf("Order %s", order.OrderNumber)
	body := fmt.Sprintf("Order %s is now %s", order.OrderNumber, order.Status)
	data := map[string]any{
		"order_id":       order.ID.String(),
		"status":         string(order.Status),
		"payment_status": string(order.PaymentStatus),
	}
	s.notifier.Notify(ctx, order.CustomerID, title, body, data)
	s.notifier.Notify(ctx, order.VendorID, title, body, data)
	if order.RiderID != nil {
		s.notifier.Notify(ctx, *order.RiderID, title, body, data)
	}
}

func timelineEntry(orderID uuid.UUID, status enums.OrderStatus, actor Actor, note string) *models.OrderTimelineEntry {
	return &models.OrderTimelineEntry{
		OrderID:   orderID,
		Status:    status,
		ActorID:   actor.idPtr(),
		ActorRole: actor.Role,
		Note:      note,
	}
}

func actorRef(actor Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.ID, Role: actor.Role}
}

func refundKey(orderID uuid.UUID) string {
	return "refund-" + orderID.String()
}
