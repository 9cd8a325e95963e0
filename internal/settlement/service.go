// Package settlement releases delivered-order earnings from pending into the
// withdrawable balance once the holding window has passed.
package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

const defaultHoldingWindow = 48 * time.Hour

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type poster interface {
	Post(ctx context.Context, tx *gorm.DB, entry ledger.Entry) (*models.Transaction, error)
}

type Service interface {
	SettleEarnings(ctx context.Context, userID uuid.UUID, role enums.ActorRole) (*Result, error)
	Sweep(ctx context.Context) (*SweepSummary, error)
}

// Result describes one settled batch.
type Result struct {
	Transaction *models.Transaction `json:"transaction"`
	AmountCents int64               `json:"amount_cents"`
	OrderIDs    []uuid.UUID         `json:"order_ids"`
}

// SweepSummary aggregates a sweep across every actor with eligible orders.
type SweepSummary struct {
	Actors      int   `json:"actors"`
	Batches     int   `json:"batches"`
	AmountCents int64 `json:"amount_cents"`
}

type ServiceParams struct {
	Repo              Repository
	TransactionRunner txRunner
	Ledger            poster
	Outbox            outboxEmitter
	Metrics           *metrics.MarketplaceMetrics
	CommissionPercent decimal.Decimal
	HoldingWindow     time.Duration
	BatchSize         int
	Clock             func() time.Time
	Logger            *logger.Logger
}

type service struct {
	repo       Repository
	tx         txRunner
	ledger     poster
	outbox     outboxEmitter
	metrics    *metrics.MarketplaceMetrics
	commission decimal.Decimal
	holding    time.Duration
	batchSize  int
	now        func() time.Time
	logg       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	holding := params.HoldingWindow
	if holding <= 0 {
		holding = defaultHoldingWindow
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
		repo:       params.Repo,
		tx:         params.TransactionRunner,
		ledger:     params.Ledger,
		outbox:     params.Outbox,
		metrics:    params.Metrics,
		commission: params.CommissionPercent,
		holding:    holding,
		batchSize:  params.BatchSize,
		now:        clock,
		logg:       logg,
	}, nil
}

// SettleEarnings moves every eligible order share for the actor in one
// database transaction: flags are flipped first, then the wallet is credited
// and the summary Transaction written. A retry after a crash either sees the
// whole batch or none of it.
func (s *service) SettleEarnings(ctx context.Context, userID uuid.UUID, role enums.ActorRole) (*Result, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !role.Earns() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors and riders earn from orders").
			WithReason(pkgerrors.ReasonNotAuthorized)
	}
	cutoff := s.now().UTC().Add(-s.holding)
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": userID.String(), "role": string(role)})

	var result *Result
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		candidates, err := repo.ListEligible(ctx, userID, role, cutoff)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list settleable orders")
		}

		var (
			total    int64
			orderIDs []uuid.UUID
		)
		for i := range candidates {
			order := &candidates[i]
			if !orders.SettlementEligible(order, role, cutoff) {
				continue
			}
			marked, err := repo.MarkWithdrawn(ctx, order.ID, role)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order withdrawn")
			}
			if marked == 0 {
				continue
			}
			total += orders.EarningsShare(order, role, s.commission)
			orderIDs = append(orderIDs, order.ID)
		}
		if len(orderIDs) == 0 || total <= 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "no earnings eligible for settlement").
				WithReason(pkgerrors.ReasonNothingEligible)
		}

		ids := make([]string, 0, len(orderIDs))
		for _, id := range orderIDs {
			ids = append(ids, id.String())
		}
		txn, err := s.ledger.Post(ctx, tx, ledger.Entry{
			UserID:      userID,
			Role:        role,
			Type:        enums.TransactionTypeEarning,
			AmountCents: total,
			Description: fmt.Sprintf("Earnings from %d delivered order(s)", len(orderIDs)),
			Metadata:    types.JSONMap{"order_ids": ids, "role": string(role)},
			FromPending: true,
		})
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventEarningsSettled,
			AggregateType: enums.AggregateWallet,
			AggregateID:   userID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: role},
			Data: payloads.EarningsSettledEvent{
				UserID:        userID,
				Role:          role,
				AmountCents:   total,
				OrderIDs:      orderIDs,
				TransactionID: txn.ID,
			},
		}); err != nil {
			return err
		}

		result = &Result{Transaction: txn, AmountCents: total, OrderIDs: orderIDs}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.AddSettled(string(role), result.AmountCents)
	s.logg.Info(s.logg.WithField(ctx, "amount_cents", result.AmountCents),
		fmt.Sprintf("settled %d order(s)", len(result.OrderIDs)))
	return result, nil
}

// Sweep settles every actor that currently has eligible orders. One actor's
// failure does not stop the others; all failures are returned together.
func (s *service) Sweep(ctx context.Context) (*SweepSummary, error) {
	cutoff := s.now().UTC().Add(-s.holding)
	summary := &SweepSummary{}
	var errs error

	for _, role := range []enums.ActorRole{enums.ActorRoleVendor, enums.ActorRoleRider} {
		actors, err := s.repo.ListEligibleActors(ctx, role, cutoff, s.batchSize)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("list %s actors: %w", role, err))
			continue
		}
		for _, userID := range actors {
			summary.Actors++
			res, err := s.SettleEarnings(ctx, userID, role)
			if err != nil {
				if pkgerrors.ReasonOf(err) == pkgerrors.ReasonNothingEligible {
					continue
				}
				errs = multierr.Append(errs, fmt.Errorf("settle %s %s: %w", role, userID, err))
				continue
			}
			summary.Batches++
			summary.AmountCents += res.AmountCents
		}
	}
	return summary, errs
}
