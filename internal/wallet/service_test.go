package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/dbtest"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox"
)

type fakeLimiter struct {
	allow bool
	calls int
}

func (f *fakeLimiter) FixedWindowAllow(context.Context, string, int64, time.Duration) (bool, int64, error) {
	f.calls++
	return f.allow, int64(f.calls), nil
}

type harness struct {
	conn    *gorm.DB
	ledger  ledger.Service
	limiter *fakeLimiter
	svc     Service
	user    uuid.UUID
}

var testPassword = config.PasswordConfig{ArgonMemoryKB: 8, ArgonTime: 1, ArgonParallelism: 1, ArgonSaltLen: 8, ArgonKeyLen: 16}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t, &models.Wallet{}, &models.Transaction{}, &models.OutboxEvent{})
	repo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(repo, enums.CurrencyUSD)
	require.NoError(t, err)

	h := &harness{conn: conn, ledger: ledgerSvc, limiter: &fakeLimiter{allow: true}, user: uuid.New()}
	h.svc, err = NewService(ServiceParams{
		Ledger:            ledgerSvc,
		PINs:              repo,
		TransactionRunner: db.Wrap(conn),
		Outbox:            outbox.NewService(outbox.NewRepository(conn), nil),
		RateLimiter:       h.limiter,
		Withdrawal: config.WithdrawalConfig{
			FeePercent: "1.5", MinFeeCents: 100, MinAmountCents: 1000, RateLimit: 5, RateWindow: time.Hour,
		},
		Password: testPassword,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) fund(t *testing.T, cents int64) {
	t.Helper()
	require.NoError(t, h.conn.Transaction(func(tx *gorm.DB) error {
		_, err := h.ledger.Post(context.Background(), tx, ledger.Entry{
			UserID: h.user, Role: enums.ActorRoleVendor, Type: enums.TransactionTypeEarning,
			AmountCents: cents, Description: "seed earnings",
		})
		return err
	}))
}

func (h *harness) setPIN(t *testing.T, pin string) {
	t.Helper()
	require.NoError(t, h.svc.SetPIN(context.Background(), SetPINInput{UserID: h.user, Role: enums.ActorRoleVendor, PIN: pin}))
}

func (h *harness) balance(t *testing.T) int64 {
	t.Helper()
	wallet, err := h.ledger.Wallet(context.Background(), h.user)
	require.NoError(t, err)
	return wallet.BalanceCents
}

func (h *harness) withdraw(amount int64, pin string) (*Withdrawal, error) {
	return h.svc.RequestWithdrawal(context.Background(), WithdrawalInput{
		UserID: h.user, Role: enums.ActorRoleVendor, AmountCents: amount, PIN: pin,
		BankAccountID: "0123456789", BankName: "First Bank", AccountName: "Green Bowl Ltd",
	})
}

func TestFee(t *testing.T) {
	pct := decimal.RequireFromString("1.5")
	assert.Equal(t, int64(150), Fee(10000, pct, 100))
	assert.Equal(t, int64(100), Fee(2000, pct, 100))
	assert.Equal(t, int64(750), Fee(50000, pct, 100))
}

func TestSetPINRequiresCurrentPINToChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.SetPIN(ctx, SetPINInput{UserID: h.user, Role: enums.ActorRoleVendor, PIN: "12a4"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	h.setPIN(t, "1234")

	err = h.svc.SetPIN(ctx, SetPINInput{UserID: h.user, Role: enums.ActorRoleVendor, PIN: "5678", CurrentPIN: "0000"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonInvalidPIN, pkgerrors.ReasonOf(err))

	require.NoError(t, h.svc.SetPIN(ctx, SetPINInput{UserID: h.user, Role: enums.ActorRoleVendor, PIN: "5678", CurrentPIN: "1234"}))
	h.fund(t, 5000)
	_, err = h.withdraw(2000, "5678")
	require.NoError(t, err)
}

func TestRequestWithdrawalDebitsAndEmits(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 50000)
	h.setPIN(t, "1234")

	w, err := h.withdraw(10000, "1234")
	require.NoError(t, err)
	assert.Equal(t, int64(150), w.FeeCents)
	assert.Equal(t, int64(9850), w.PayoutCents)
	assert.Equal(t, enums.TransactionStatusPending, w.Transaction.Status)
	assert.Equal(t, enums.TransactionTypeWithdrawal, w.Transaction.Type)
	assert.Nil(t, w.Transaction.ProcessedAt)
	assert.Equal(t, int64(40000), h.balance(t))

	var events int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventWithdrawalRequested).Count(&events).Error)
	assert.Equal(t, int64(1), events)
	assert.Equal(t, 1, h.limiter.calls)
	require.NoError(t, h.ledger.Audit(context.Background(), h.user))
}

func TestRequestWithdrawalRejections(t *testing.T) {
	t.Run("wrong pin", func(t *testing.T) {
		h := newHarness(t)
		h.fund(t, 50000)
		h.setPIN(t, "1234")
		_, err := h.withdraw(10000, "9999")
		require.Error(t, err)
		assert.Equal(t, pkgerrors.ReasonInvalidPIN, pkgerrors.ReasonOf(err))
		assert.Equal(t, int64(50000), h.balance(t))
	})

	t.Run("pin never set", func(t *testing.T) {
		h := newHarness(t)
		h.fund(t, 50000)
		_, err := h.withdraw(10000, "1234")
		assert.Equal(t, pkgerrors.ReasonInvalidPIN, pkgerrors.ReasonOf(err))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		h := newHarness(t)
		h.fund(t, 5000)
		h.setPIN(t, "1234")
		_, err := h.withdraw(10000, "1234")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))
		assert.Equal(t, int64(5000), h.balance(t))
	})

	t.Run("below minimum", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.withdraw(999, "1234")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	})

	t.Run("customers cannot withdraw", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.svc.RequestWithdrawal(context.Background(), WithdrawalInput{
			UserID: h.user, Role: enums.ActorRoleCustomer, AmountCents: 5000, PIN: "1234", BankAccountID: "1",
		})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))
	})

	t.Run("rate limited", func(t *testing.T) {
		h := newHarness(t)
		h.fund(t, 50000)
		h.setPIN(t, "1234")
		h.limiter.allow = false
		_, err := h.withdraw(10000, "1234")
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
		assert.Equal(t, int64(50000), h.balance(t))
	})
}

func TestFailWithdrawalReversesDebit(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 50000)
	h.setPIN(t, "1234")
	w, err := h.withdraw(10000, "1234")
	require.NoError(t, err)

	admin := uuid.New()
	failed, err := h.svc.FailWithdrawal(context.Background(), admin, w.Transaction.ID, "bank rejected account")
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusFailed, failed.Status)
	assert.NotNil(t, failed.ProcessedAt)
	assert.Equal(t, int64(50000), h.balance(t))

	var refunds []models.Transaction
	require.NoError(t, h.conn.Where("user_id = ? AND type = ?", h.user, enums.TransactionTypeRefund).Find(&refunds).Error)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(10000), refunds[0].AmountCents)

	_, err = h.svc.FailWithdrawal(context.Background(), admin, w.Transaction.ID, "again")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, int64(50000), h.balance(t))
	require.NoError(t, h.ledger.Audit(context.Background(), h.user))
}

func TestCompleteWithdrawal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 50000)
	h.setPIN(t, "1234")
	w, err := h.withdraw(10000, "1234")
	require.NoError(t, err)

	done, err := h.svc.CompleteWithdrawal(context.Background(), uuid.New(), w.Transaction.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.TransactionStatusCompleted, done.Status)
	assert.Equal(t, int64(40000), h.balance(t))

	_, err = h.svc.FailWithdrawal(context.Background(), uuid.New(), w.Transaction.ID, "late")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, int64(40000), h.balance(t))
}

func TestResolveRejectsNonWithdrawal(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 5000)
	var earning models.Transaction
	require.NoError(t, h.conn.Where("user_id = ?", h.user).First(&earning).Error)

	_, err := h.svc.CompleteWithdrawal(context.Background(), uuid.New(), earning.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
