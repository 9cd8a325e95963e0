package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/api/responses"
	"github.com/angelmondragon/prepmarket-backend/api/validators"
	"github.com/angelmondragon/prepmarket-backend/internal/settlement"
	"github.com/angelmondragon/prepmarket-backend/internal/wallet"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/money"
	"github.com/angelmondragon/prepmarket-backend/pkg/pagination"
)

type setPINRequest struct {
	PIN        string `json:"pin" validate:"required,pin"`
	CurrentPIN string `json:"current_pin" validate:"omitempty,pin"`
}

type withdrawalRequest struct {
	Amount        string `json:"amount" validate:"required"`
	PIN           string `json:"pin" validate:"required,pin"`
	BankAccountID string `json:"bank_account_id" validate:"required,max=64"`
	BankName      string `json:"bank_name" validate:"required,max=120"`
	AccountName   string `json:"account_name" validate:"required,max=120"`
}

type failWithdrawalRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// WalletGet returns the caller's wallet, opening one on first access.
func WalletGet(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, role, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		wlt, err := svc.Get(r.Context(), userID, role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, wlt)
	}
}

// WalletTransactions pages through the caller's ledger, newest first.
func WalletTransactions(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, _, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		list, err := svc.Transactions(r.Context(), userID, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, list)
	}
}

// WalletSetPIN sets or rotates the withdrawal PIN.
func WalletSetPIN(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, role, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		var req setPINRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.SetPIN(r.Context(), wallet.SetPINInput{
			UserID:     userID,
			Role:       role,
			PIN:        req.PIN,
			CurrentPIN: req.CurrentPIN,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// WalletWithdraw debits the available balance toward a bank payout.
func WalletWithdraw(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		userID, role, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		var req withdrawalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil || !amount.IsPositive() || amount.Exponent() < -2 {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a positive value with at most two decimals"))
			return
		}

		withdrawal, err := svc.RequestWithdrawal(r.Context(), wallet.WithdrawalInput{
			UserID:        userID,
			Role:          role,
			AmountCents:   money.ToCents(amount),
			PIN:           req.PIN,
			BankAccountID: strings.TrimSpace(req.BankAccountID),
			BankName:      validators.SanitizeString(req.BankName, 120),
			AccountName:   validators.SanitizeString(req.AccountName, 120),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, withdrawal)
	}
}

// WalletSettle moves the caller's eligible delivered-order earnings into the
// available balance.
func WalletSettle(svc settlement.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}
		userID, role, ok := middleware.ActorFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}
		result, err := svc.SettleEarnings(r.Context(), userID, role)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminCompleteWithdrawal records that the bank payout went through.
func AdminCompleteWithdrawal(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		adminID, txID, err := adminAndTransaction(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := svc.CompleteWithdrawal(r.Context(), adminID, txID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tx)
	}
}

// AdminFailWithdrawal marks the payout failed and returns the funds.
func AdminFailWithdrawal(svc wallet.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "wallet service unavailable"))
			return
		}
		adminID, txID, err := adminAndTransaction(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req failWithdrawalRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := svc.FailWithdrawal(r.Context(), adminID, txID, validators.SanitizeString(req.Reason, 500))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, tx)
	}
}

func adminAndTransaction(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	adminID, _, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return uuid.Nil, uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	txID, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "txId")))
	if err != nil {
		return uuid.Nil, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction id")
	}
	return adminID, txID, nil
}
