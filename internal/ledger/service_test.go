package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
)

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	conn := dbtest.Open(t, &models.Wallet{}, &models.Transaction{})
	svc, err := NewService(NewRepository(conn), enums.CurrencyUSD)
	require.NoError(t, err)
	return svc, conn
}

func post(t *testing.T, conn *gorm.DB, svc Service, entry Entry) (*models.Transaction, error) {
	t.Helper()
	var txn *models.Transaction
	err := conn.Transaction(func(tx *gorm.DB) error {
		var err error
		txn, err = svc.Post(context.Background(), tx, entry)
		return err
	})
	return txn, err
}

func TestNewServiceRequiresRepository(t *testing.T) {
	_, err := NewService(nil, enums.CurrencyUSD)
	require.Error(t, err)
}

func TestPostCreditThenDebitSnapshotsBalances(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()

	credit, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeEarning,
		AmountCents: 2500, Description: "earnings",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), credit.BalanceBeforeCents)
	assert.Equal(t, int64(2500), credit.BalanceAfterCents)
	assert.Equal(t, enums.TransactionStatusCompleted, credit.Status)
	assert.NotNil(t, credit.ProcessedAt)

	debit, err := post(t, conn, svc, Entry{
		UserID: userID, Type: enums.TransactionTypeWithdrawal, AmountCents: 1000,
		Status: enums.TransactionStatusPending, Description: "withdrawal",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2500), debit.BalanceBeforeCents)
	assert.Equal(t, int64(1500), debit.BalanceAfterCents)
	assert.Nil(t, debit.ProcessedAt)

	wallet, err := svc.Wallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), wallet.BalanceCents)
	assert.Equal(t, enums.CurrencyUSD, wallet.Currency)

	require.NoError(t, svc.Audit(context.Background(), userID))
}

func TestPostDebitInsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()

	_, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleRider, Type: enums.TransactionTypeCredit,
		AmountCents: 500, Description: "credit",
	})
	require.NoError(t, err)

	_, err = post(t, conn, svc, Entry{
		UserID: userID, Type: enums.TransactionTypeDebit, AmountCents: 501, Description: "too much",
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))

	wallet, err := svc.Wallet(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.BalanceCents)

	var count int64
	require.NoError(t, conn.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPostDebitMissingWallet(t *testing.T) {
	svc, conn := newTestService(t)

	_, err := post(t, conn, svc, Entry{
		UserID: uuid.New(), Type: enums.TransactionTypeDebit, AmountCents: 1, Description: "debit",
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestPostDebitInactiveWallet(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()

	_, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeCredit,
		AmountCents: 900, Description: "credit",
	})
	require.NoError(t, err)
	require.NoError(t, conn.Model(&models.Wallet{}).Where("user_id = ?", userID).Update("is_active", false).Error)

	_, err = post(t, conn, svc, Entry{
		UserID: userID, Type: enums.TransactionTypeWithdrawal, AmountCents: 100, Description: "withdrawal",
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonWalletInactive, pkgerrors.ReasonOf(err))
}

func TestPostReleasesPending(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.AddPending(ctx, tx, userID, enums.ActorRoleVendor, 800)
	}))

	txn, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeEarning,
		AmountCents: 500, Description: "settled earnings", FromPending: true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(500), txn.BalanceAfterCents)

	wallet, err := svc.Wallet(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(500), wallet.BalanceCents)
	assert.Equal(t, int64(300), wallet.PendingCents)
}

func TestPostRejectsReleaseBeyondPending(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	ctx := context.Background()

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.AddPending(ctx, tx, userID, enums.ActorRoleVendor, 300)
	}))

	_, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeEarning,
		AmountCents: 500, Description: "settled earnings", FromPending: true,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInternal))
	assert.Equal(t, pkgerrors.ReasonPendingShortfall, pkgerrors.ReasonOf(err))

	wallet, err := svc.Wallet(ctx, userID)
	require.NoError(t, err)
	assert.Zero(t, wallet.BalanceCents)
	assert.Equal(t, int64(300), wallet.PendingCents)

	var txns int64
	require.NoError(t, conn.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&txns).Error)
	assert.Zero(t, txns)
}

func TestPostRejectsInvalidEntries(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()

	cases := map[string]Entry{
		"missing user":     {Type: enums.TransactionTypeCredit, AmountCents: 1, Description: "x"},
		"bad type":         {UserID: userID, Type: "bonus", AmountCents: 1, Description: "x"},
		"zero amount":      {UserID: userID, Type: enums.TransactionTypeCredit, Description: "x"},
		"no description":   {UserID: userID, Type: enums.TransactionTypeCredit, AmountCents: 1},
		"pending non-earn": {UserID: userID, Type: enums.TransactionTypeCredit, AmountCents: 1, Description: "x", FromPending: true},
	}
	for name, entry := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := post(t, conn, svc, entry)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestResolvePendingTransactionOnce(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	ctx := context.Background()

	_, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleRider, Type: enums.TransactionTypeCredit,
		AmountCents: 5000, Description: "credit",
	})
	require.NoError(t, err)
	withdrawal, err := post(t, conn, svc, Entry{
		UserID: userID, Type: enums.TransactionTypeWithdrawal, AmountCents: 2000,
		Status: enums.TransactionStatusPending, Description: "withdrawal",
	})
	require.NoError(t, err)

	resolved, err := svc.Resolve(ctx, conn, withdrawal.ID, enums.TransactionStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, resolved.Status)
	assert.NotNil(t, resolved.ProcessedAt)
	assert.Equal(t, withdrawal.BalanceAfterCents, resolved.BalanceAfterCents)

	_, err = svc.Resolve(ctx, conn, withdrawal.ID, enums.TransactionStatusFailed)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonStaleState, pkgerrors.ReasonOf(err))

	_, err = svc.Resolve(ctx, conn, uuid.New(), enums.TransactionStatusCompleted)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.Resolve(ctx, conn, withdrawal.ID, enums.TransactionStatusCancelled)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTransactionsPaginatesNewestFirst(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := post(t, conn, svc, Entry{
			UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeCredit,
			AmountCents: int64(i * 100), Description: "credit",
		})
		require.NoError(t, err)
	}

	first, err := svc.Transactions(ctx, userID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)

	second, err := svc.Transactions(ctx, userID, pagination.Params{Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)

	seen := map[uuid.UUID]bool{}
	for _, txn := range append(first.Items, second.Items...) {
		assert.False(t, seen[txn.ID])
		seen[txn.ID] = true
	}
	assert.Len(t, seen, 3)

	_, err = svc.Transactions(ctx, userID, pagination.Params{Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestAuditDetectsDrift(t *testing.T) {
	svc, conn := newTestService(t)
	userID := uuid.New()

	_, err := post(t, conn, svc, Entry{
		UserID: userID, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeCredit,
		AmountCents: 700, Description: "credit",
	})
	require.NoError(t, err)
	require.NoError(t, svc.Audit(context.Background(), userID))

	require.NoError(t, conn.Model(&models.Wallet{}).Where("user_id = ?", userID).
		Update("balance_cents", 701).Error)
	require.Error(t, svc.Audit(context.Background(), userID))
}
