// Package wallet exposes balances, PIN management and bank withdrawals on
// top of the ledger.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
	"github.com/angelmondragon/prepmarket-backend/pkg/redis"
	"github.com/angelmondragon/prepmarket-backend/pkg/security"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type pinStore interface {
	SetPIN(ctx context.Context, userID uuid.UUID, hash string) error
}

type Service interface {
	Get(ctx context.Context, userID uuid.UUID, role enums.ActorRole) (*models.Wallet, error)
	Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.TransactionList, error)
	SetPIN(ctx context.Context, input SetPINInput) error
	RequestWithdrawal(ctx context.Context, input WithdrawalInput) (*Withdrawal, error)
	CompleteWithdrawal(ctx context.Context, adminID, transactionID uuid.UUID) (*models.Transaction, error)
	FailWithdrawal(ctx context.Context, adminID, transactionID uuid.UUID, reason string) (*models.Transaction, error)
}

type SetPINInput struct {
	UserID     uuid.UUID
	Role       enums.ActorRole
	PIN        string
	CurrentPIN string
}

// WithdrawalInput moves AmountCents (fee included) from the available
// balance to a bank account.
type WithdrawalInput struct {
	UserID        uuid.UUID
	Role          enums.ActorRole
	AmountCents   int64
	PIN           string
	BankAccountID string
	BankName      string
	AccountName   string
}

type Withdrawal struct {
	Transaction *models.Transaction `json:"transaction"`
	FeeCents    int64               `json:"fee_cents"`
	PayoutCents int64               `json:"payout_cents"`
}

type ServiceParams struct {
	Ledger            ledger.Service
	PINs              pinStore
	TransactionRunner txRunner
	Outbox            outboxEmitter
	RateLimiter       redis.RateLimiter
	Metrics           *metrics.MarketplaceMetrics
	Withdrawal        config.WithdrawalConfig
	Password          config.PasswordConfig
	Logger            *logger.Logger
}

type service struct {
	ledger     ledger.Service
	pins       pinStore
	tx         txRunner
	outbox     outboxEmitter
	limiter    redis.RateLimiter
	metrics    *metrics.MarketplaceMetrics
	cfg        config.WithdrawalConfig
	feePercent decimal.Decimal
	password   config.PasswordConfig
	logg       *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.PINs == nil {
		return nil, fmt.Errorf("pin store required")
	}
	if params.TransactionRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	fee, err := money.ParsePercent(params.Withdrawal.FeePercent)
	if err != nil {
		return nil, fmt.Errorf("withdrawal fee percent: %w", err)
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		ledger:     params.Ledger,
		pins:       params.PINs,
		tx:         params.TransactionRunner,
		outbox:     params.Outbox,
		limiter:    params.RateLimiter,
		metrics:    params.Metrics,
		cfg:        params.Withdrawal,
		feePercent: fee,
		password:   params.Password,
		logg:       logg,
	}, nil
}

// Fee is the processing fee for a withdrawal: a percentage with a floor.
func Fee(amountCents int64, percent decimal.Decimal, minFeeCents int64) int64 {
	fee := money.PercentOfCents(amountCents, percent)
	if fee < minFeeCents {
		return minFeeCents
	}
	return fee
}

// Get returns the wallet, creating an empty one for earners on first access.
func (s *service) Get(ctx context.Context, userID uuid.UUID, role enums.ActorRole) (*models.Wallet, error) {
	wallet, err := s.ledger.Wallet(ctx, userID)
	if err == nil || !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return wallet, err
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		wallet, err = s.ledger.EnsureWallet(ctx, tx, userID, role)
		return err
	})
	return wallet, err
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*ledger.TransactionList, error) {
	return s.ledger.Transactions(ctx, userID, params)
}

func (s *service) SetPIN(ctx context.Context, input SetPINInput) error {
	if !pinPattern.MatchString(input.PIN) {
		return pkgerrors.New(pkgerrors.CodeValidation, "pin must be 4 digits")
	}
	wallet, err := s.Get(ctx, input.UserID, input.Role)
	if err != nil {
		return err
	}
	if wallet.PinSet {
		if err := s.checkPIN(ctx, wallet, input.CurrentPIN); err != nil {
			return err
		}
	}
	hash, err := security.HashPIN(input.PIN, s.password)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash pin")
	}
	if err := s.pins.SetPIN(ctx, input.UserID, hash); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store pin")
	}
	return nil
}

func (s *service) RequestWithdrawal(ctx context.Context, input WithdrawalInput) (*Withdrawal, error) {
	if !input.Role.Earns() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors and riders can withdraw").
			WithReason(pkgerrors.ReasonNotAuthorized)
	}
	if input.AmountCents < s.cfg.MinAmountCents {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("minimum withdrawal is %s", money.Format(s.cfg.MinAmountCents)))
	}
	if strings.TrimSpace(input.BankAccountID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bank account is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": input.UserID.String(), "role": string(input.Role)})

	if s.limiter != nil {
		allowed, _, err := s.limiter.FixedWindowAllow(ctx, "withdrawal:"+input.UserID.String(), s.cfg.RateLimit, s.cfg.RateWindow)
		if err != nil {
			s.logg.Error(ctx, "withdrawal rate limit check failed", err)
		} else if !allowed {
			return nil, pkgerrors.New(pkgerrors.CodeRateLimit, "too many withdrawal attempts, try again later")
		}
	}

	wallet, err := s.ledger.Wallet(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if !wallet.PinSet {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "set a wallet pin before withdrawing").
			WithReason(pkgerrors.ReasonInvalidPIN)
	}
	if err := s.checkPIN(ctx, wallet, input.PIN); err != nil {
		return nil, err
	}

	fee := Fee(input.AmountCents, s.feePercent, s.cfg.MinFeeCents)
	payout := input.AmountCents - fee

	var txn *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		txn, err = s.ledger.Post(ctx, tx, ledger.Entry{
			UserID:      input.UserID,
			Role:        input.Role,
			Type:        enums.TransactionTypeWithdrawal,
			AmountCents: input.AmountCents,
			Status:      enums.TransactionStatusPending,
			Description: fmt.Sprintf("Withdrawal to %s", bankLabel(input)),
			Metadata: types.JSONMap{
				"fee_cents":       fee,
				"payout_cents":    payout,
				"bank_account_id": input.BankAccountID,
				"bank_name":       input.BankName,
				"account_name":    input.AccountName,
			},
		})
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWithdrawalRequested,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: input.Role},
			Data: payloads.WithdrawalRequestedEvent{
				TransactionID: txn.ID,
				UserID:        input.UserID,
				AmountCents:   input.AmountCents,
				FeeCents:      fee,
				PayoutCents:   payout,
				Currency:      txn.Currency,
				BankAccountID: input.BankAccountID,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncWithdrawal(string(enums.TransactionStatusPending))
	s.logg.Info(s.logg.WithField(ctx, "transaction_id", txn.ID.String()), "withdrawal requested")
	return &Withdrawal{Transaction: txn, FeeCents: fee, PayoutCents: payout}, nil
}

func (s *service) CompleteWithdrawal(ctx context.Context, adminID, transactionID uuid.UUID) (*models.Transaction, error) {
	return s.resolve(ctx, adminID, transactionID, enums.TransactionStatusCompleted, "")
}

// FailWithdrawal marks the withdrawal failed and returns the debited amount
// with a refund Transaction.
func (s *service) FailWithdrawal(ctx context.Context, adminID, transactionID uuid.UUID, reason string) (*models.Transaction, error) {
	return s.resolve(ctx, adminID, transactionID, enums.TransactionStatusFailed, strings.TrimSpace(reason))
}

func (s *service) resolve(ctx context.Context, adminID, transactionID uuid.UUID, to enums.TransactionStatus, reason string) (*models.Transaction, error) {
	original, err := s.ledger.Transaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if original.Type != enums.TransactionTypeWithdrawal {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction is not a withdrawal")
	}
	wallet, err := s.ledger.Wallet(ctx, original.UserID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"transaction_id": transactionID.String(), "admin_id": adminID.String()})

	var resolved *models.Transaction
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		resolved, err = s.ledger.Resolve(ctx, tx, transactionID, to)
		if err != nil {
			return err
		}
		if to == enums.TransactionStatusFailed {
			ref := "withdrawal-reversal-" + transactionID.String()
			description := "Reversal of failed withdrawal"
			if reason != "" {
				description += ": " + reason
			}
			if _, err := s.ledger.Post(ctx, tx, ledger.Entry{
				UserID:      original.UserID,
				Role:        wallet.Role,
				Type:        enums.TransactionTypeRefund,
				AmountCents: original.AmountCents,
				Description: description,
				Reference:   &ref,
				Metadata:    types.JSONMap{"withdrawal_id": transactionID.String()},
			}); err != nil {
				return err
			}
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventWithdrawalResolved,
			AggregateType: enums.AggregateTransaction,
			AggregateID:   transactionID,
			Actor:         &outbox.ActorRef{UserID: adminID, Role: enums.ActorRoleAdmin},
			Data: payloads.WithdrawalResolvedEvent{
				TransactionID: transactionID,
				UserID:        original.UserID,
				Status:        to,
				Reason:        reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncWithdrawal(string(to))
	s.logg.Info(ctx, fmt.Sprintf("withdrawal %s", to))
	return resolved, nil
}

func (s *service) checkPIN(ctx context.Context, wallet *models.Wallet, pin string) error {
	invalid := pkgerrors.New(pkgerrors.CodeForbidden, "incorrect wallet pin").WithReason(pkgerrors.ReasonInvalidPIN)
	if wallet.PinHash == nil || pin == "" {
		return invalid
	}
	ok, err := security.VerifyPIN(pin, *wallet.PinHash)
	if err != nil {
		if errors.Is(err, security.ErrInvalidHash) {
			s.logg.Error(ctx, "stored wallet pin hash is malformed", err)
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify pin")
	}
	if !ok {
		return invalid
	}
	return nil
}

func bankLabel(input WithdrawalInput) string {
	account := input.BankAccountID
	if len(account) > 4 {
		account = "****" + account[len(account)-4:]
	}
	if input.BankName == "" {
		return account
	}
	return input.BankName + " " + account
}
