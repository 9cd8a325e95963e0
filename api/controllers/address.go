package controllers

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/api/responses"
	"github.com/angelmondragon/prepmarket-backend/api/validators"
	"github.com/angelmondragon/prepmarket-backend/internal/address"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

type saveAddressRequest struct {
	PlaceID     string `json:"place_id" validate:"required"`
	Label       string `json:"label" validate:"omitempty,max=60"`
	Line2       string `json:"line2" validate:"omitempty,max=120"`
	MakeDefault bool   `json:"make_default"`
}

// AddressSuggest returns autocomplete suggestions for the frontend.
func AddressSuggest(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "address service unavailable"))
			return
		}

		resp, err := svc.Suggest(ctx, address.SuggestRequest{
			Query:   strings.TrimSpace(r.URL.Query().Get("query")),
			Country: strings.TrimSpace(r.URL.Query().Get("country")),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]any{"suggestions": resp})
	}
}

// AddressSave resolves a place id and stores it in the caller's address book.
func AddressSave(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "address service unavailable"))
			return
		}
		customerID, _, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		var req saveAddressRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		addr, err := svc.Save(ctx, customerID, address.SaveRequest{
			PlaceID:     strings.TrimSpace(req.PlaceID),
			Label:       validators.SanitizeString(req.Label, 60),
			Line2:       validators.SanitizeString(req.Line2, 120),
			MakeDefault: req.MakeDefault,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, addr)
	}
}

func AddressList(svc address.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "address service unavailable"))
			return
		}
		customerID, _, ok := middleware.ActorFromContext(ctx)
		if !ok {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
			return
		}

		list, err := svc.List(ctx, customerID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"addresses": list})
	}
}
