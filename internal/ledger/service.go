// Package ledger owns wallet balances and the immutable transaction trail.
// Every balance mutation goes through Post so that each change writes
// exactly one Transaction with its before and after snapshot.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

// Service defines wallet ledger operations. Methods taking a *gorm.DB run
// inside the caller's transaction.
type Service interface {
	EnsureWallet(ctx context.Context, tx *gorm.DB, userID uuid.UUID, role enums.ActorRole) (*models.Wallet, error)
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Post(ctx context.Context, tx *gorm.DB, entry Entry) (*models.Transaction, error)
	AddPending(ctx context.Context, tx *gorm.DB, userID uuid.UUID, role enums.ActorRole, amountCents int64) error
	Resolve(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, to enums.TransactionStatus) (*models.Transaction, error)
	Transaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error)
	Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionList, error)
	Audit(ctx context.Context, userID uuid.UUID) error
}

// Entry describes one wallet mutation.
type Entry struct {
	UserID      uuid.UUID
	Role        enums.ActorRole
	Type        enums.TransactionType
	AmountCents int64
	// Status defaults to completed. Withdrawals are posted as pending.
	Status      enums.TransactionStatus
	Description string
	Reference   *string
	Metadata    types.JSONMap
	// FromPending releases settled earnings out of the pending balance.
	FromPending bool
}

// TransactionList is one page of wallet history.
type TransactionList struct {
	Items      []models.Transaction `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type service struct {
	repo     Repository
	currency enums.Currency
	clock    func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, currency enums.Currency) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if !currency.IsValid() {
		return nil, fmt.Errorf("invalid ledger currency %q", currency)
	}
	return &service{
		repo:     repo,
		currency: currency,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *service) EnsureWallet(ctx context.Context, tx *gorm.DB, userID uuid.UUID, role enums.ActorRole) (*models.Wallet, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !role.IsValid() || role == enums.ActorRoleSystem {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid wallet role %q", role))
	}
	wallet, err := s.repo.WithTx(tx).EnsureWallet(ctx, userID, role, s.currency)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "ensure wallet")
	}
	return wallet, nil
}

func (s *service) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	wallet, err := s.repo.FindWallet(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load wallet")
	}
	return wallet, nil
}

func (s *service) Post(ctx context.Context, tx *gorm.DB, entry Entry) (*models.Transaction, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("ledger post requires a transaction")
	}
	repo := s.repo.WithTx(tx)

	if entry.Type.Sign() > 0 {
		if _, err := s.EnsureWallet(ctx, tx, entry.UserID, entry.Role); err != nil {
			return nil, err
		}
	}
	wallet, err := repo.LockWallet(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock wallet")
	}

	var applied bool
	switch {
	case entry.Type.Sign() < 0:
		if !wallet.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeForbidden, "wallet is inactive").WithReason(pkgerrors.ReasonWalletInactive)
		}
		applied, err = repo.Debit(ctx, entry.UserID, entry.AmountCents)
		if err == nil && !applied {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient wallet balance").
				WithDetails(map[string]any{"requested_cents": entry.AmountCents})
		}
	case entry.FromPending:
		applied, err = repo.ReleasePending(ctx, entry.UserID, entry.AmountCents)
		if err == nil && !applied {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "pending balance lower than release amount").
				WithReason(pkgerrors.ReasonPendingShortfall).
				WithDetails(map[string]any{"pending_cents": wallet.PendingCents, "release_cents": entry.AmountCents})
		}
	default:
		applied, err = repo.Credit(ctx, entry.UserID, entry.AmountCents)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "apply wallet balance change")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}

	// Reading back after the conditional update gives an exact snapshot
	// without a separate read-then-write window.
	updated, err := repo.FindWallet(ctx, entry.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload wallet")
	}

	status := entry.Status
	if status == "" {
		status = enums.TransactionStatusCompleted
	}
	now := s.clock()
	txn := &models.Transaction{
		UserID:             entry.UserID,
		Type:               entry.Type,
		AmountCents:        entry.AmountCents,
		Currency:           updated.Currency,
		Status:             status,
		Description:        strings.TrimSpace(entry.Description),
		Reference:          entry.Reference,
		Metadata:           entry.Metadata,
		BalanceAfterCents:  updated.BalanceCents,
		BalanceBeforeCents: updated.BalanceCents - entry.Type.Sign()*entry.AmountCents,
	}
	if status != enums.TransactionStatusPending {
		txn.ProcessedAt = &now
	}
	if err := repo.CreateTransaction(ctx, txn); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record transaction")
	}
	return txn, nil
}

func (s *service) AddPending(ctx context.Context, tx *gorm.DB, userID uuid.UUID, role enums.ActorRole, amountCents int64) error {
	if amountCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "pending amount must not be negative")
	}
	if amountCents == 0 {
		return nil
	}
	if _, err := s.EnsureWallet(ctx, tx, userID, role); err != nil {
		return err
	}
	applied, err := s.repo.WithTx(tx).AddPending(ctx, userID, amountCents)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add pending earnings")
	}
	if !applied {
		return pkgerrors.New(pkgerrors.CodeNotFound, "wallet not found")
	}
	return nil
}

// Resolve moves a pending transaction to its final status. Only the
// pending state may change; the amounts stay untouched.
func (s *service) Resolve(ctx context.Context, tx *gorm.DB, transactionID uuid.UUID, to enums.TransactionStatus) (*models.Transaction, error) {
	if to != enums.TransactionStatusCompleted && to != enums.TransactionStatusFailed {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot resolve transaction to %q", to))
	}
	repo := s.repo.WithTx(tx)

	ok, err := repo.UpdateTransactionStatus(ctx, transactionID, enums.TransactionStatusPending, to, s.clock())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update transaction status")
	}
	txn, err := repo.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("transaction is %s, not pending", txn.Status)).
			WithReason(pkgerrors.ReasonStaleState)
	}
	return txn, nil
}

func (s *service) Transaction(ctx context.Context, transactionID uuid.UUID) (*models.Transaction, error) {
	txn, err := s.repo.FindTransaction(ctx, transactionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transaction")
	}
	return txn, nil
}

func (s *service) Transactions(ctx context.Context, userID uuid.UUID, params pagination.Params) (*TransactionList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListTransactions(ctx, userID, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}

	items, next := pagination.Trim(rows, params.Limit, func(txn models.Transaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: txn.CreatedAt, ID: txn.ID}
	})
	return &TransactionList{Items: items, NextCursor: next}, nil
}

// Audit checks every transaction snapshot against its type's direction and
// the wallet balance against the signed sum of the trail.
func (s *service) Audit(ctx context.Context, userID uuid.UUID) error {
	wallet, err := s.Wallet(ctx, userID)
	if err != nil {
		return err
	}
	rows, err := s.repo.AllTransactions(ctx, userID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load transactions")
	}

	var sum int64
	for _, txn := range rows {
		delta := txn.Type.Sign() * txn.AmountCents
		if txn.BalanceAfterCents-txn.BalanceBeforeCents != delta {
			return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf(
				"transaction %s: balance moved %d, want %d", txn.ID, txn.BalanceAfterCents-txn.BalanceBeforeCents, delta))
		}
		sum += delta
	}
	if sum != wallet.BalanceCents {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf(
			"wallet %s: balance %d does not match transaction sum %d", userID, wallet.BalanceCents, sum))
	}
	return nil
}

func validateEntry(entry Entry) error {
	if entry.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if !entry.Type.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", entry.Type))
	}
	if entry.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if entry.Status != "" && !entry.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid transaction status %q", entry.Status))
	}
	if entry.FromPending && entry.Type != enums.TransactionTypeEarning {
		return pkgerrors.New(pkgerrors.CodeValidation, "only earnings are released from pending")
	}
	if strings.TrimSpace(entry.Description) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "description is required")
	}
	return nil
}
