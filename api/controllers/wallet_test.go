package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/internal/ledger"
	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/internal/wallet"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
)

type stubWallet struct {
	withdrawal *wallet.WithdrawalInput
	failReason string
	err        error
}

func (s *stubWallet) Get(_ context.Context, userID uuid.UUID, _ enums.ActorRole) (*models.Wallet, error) {
	return &models.Wallet{UserID: userID}, s.err
}

func (s *stubWallet) Transactions(context.Context, uuid.UUID, pagination.Params) (*ledger.TransactionList, error) {
	return &ledger.TransactionList{}, s.err
}

func (s *stubWallet) SetPIN(context.Context, wallet.SetPINInput) error {
	return s.err
}

func (s *stubWallet) RequestWithdrawal(_ context.Context, input wallet.WithdrawalInput) (*wallet.Withdrawal, error) {
	s.withdrawal = &input
	if s.err != nil {
		return nil, s.err
	}
	return &wallet.Withdrawal{Transaction: &models.Transaction{ID: uuid.New()}}, nil
}

func (s *stubWallet) CompleteWithdrawal(_ context.Context, _, txID uuid.UUID) (*models.Transaction, error) {
	return &models.Transaction{ID: txID}, s.err
}

func (s *stubWallet) FailWithdrawal(_ context.Context, _, txID uuid.UUID, reason string) (*models.Transaction, error) {
	s.failReason = reason
	return &models.Transaction{ID: txID}, s.err
}

type stubSettlement struct {
	err error
}

func (s *stubSettlement) SettleEarnings(context.Context, uuid.UUID, enums.ActorRole) (*settlement.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &settlement.Result{AmountCents: 2500}, nil
}

func (s *stubSettlement) Sweep(context.Context) (*settlement.SweepSummary, error) {
	return &settlement.SweepSummary{}, s.err
}

func vendorRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleVendor))
}

func TestWalletWithdrawConvertsAmountToCents(t *testing.T) {
	svc := &stubWallet{}
	body := `{"amount":"125.50","pin":"1234","bank_account_id":"0123456789","bank_name":"First Bank","account_name":"Ada Kitchen"}`
	resp := httptest.NewRecorder()

	WalletWithdraw(svc, quietLogger())(resp, vendorRequest(http.MethodPost, "/api/v1/wallet/withdrawals", body))

	require.Equal(t, http.StatusCreated, resp.Code)
	require.NotNil(t, svc.withdrawal)
	assert.Equal(t, int64(12550), svc.withdrawal.AmountCents)
	assert.Equal(t, enums.ActorRoleVendor, svc.withdrawal.Role)
}

func TestWalletWithdrawRejectsBadAmounts(t *testing.T) {
	for _, amount := range []string{"0", "-5", "10.005", "ten"} {
		svc := &stubWallet{}
		body := `{"amount":"` + amount + `","pin":"1234","bank_account_id":"1","bank_name":"b","account_name":"a"}`
		resp := httptest.NewRecorder()

		WalletWithdraw(svc, quietLogger())(resp, vendorRequest(http.MethodPost, "/api/v1/wallet/withdrawals", body))

		assert.Equal(t, http.StatusBadRequest, resp.Code, amount)
		assert.Nil(t, svc.withdrawal, amount)
	}
}

func TestWalletWithdrawInsufficientFunds(t *testing.T) {
	svc := &stubWallet{err: pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance")}
	body := `{"amount":"10","pin":"1234","bank_account_id":"1","bank_name":"b","account_name":"a"}`
	resp := httptest.NewRecorder()

	WalletWithdraw(svc, quietLogger())(resp, vendorRequest(http.MethodPost, "/api/v1/wallet/withdrawals", body))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestWalletSetPINRejectsMalformedPIN(t *testing.T) {
	resp := httptest.NewRecorder()

	WalletSetPIN(&stubWallet{}, quietLogger())(resp, vendorRequest(http.MethodPost, "/api/v1/wallet/pin", `{"pin":"12ab"}`))

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestWalletSettleNothingEligible(t *testing.T) {
	svc := &stubSettlement{err: pkgerrors.New(pkgerrors.CodeStateConflict, "no earnings eligible for settlement").
		WithReason(pkgerrors.ReasonNothingEligible)}
	resp := httptest.NewRecorder()

	WalletSettle(svc, quietLogger())(resp, vendorRequest(http.MethodPost, "/api/v1/wallet/settle", ""))

	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Contains(t, resp.Body.String(), "NOTHING_ELIGIBLE")
}

func TestAdminFailWithdrawalPassesReason(t *testing.T) {
	svc := &stubWallet{}
	txID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/withdrawals/"+txID.String()+"/fail", strings.NewReader(`{"reason":"bank rejected"}`))
	req = req.WithContext(middleware.WithActor(req.Context(), uuid.New(), enums.ActorRoleAdmin))
	req = addRouteParam(req, "txId", txID.String())
	resp := httptest.NewRecorder()

	AdminFailWithdrawal(svc, quietLogger())(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "bank rejected", svc.failReason)
}
