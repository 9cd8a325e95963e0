package orders

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/api/middleware"
	"github.com/angelmondragon/prepmarket-backend/api/responses"
	"github.com/angelmondragon/prepmarket-backend/api/validators"
	"github.com/angelmondragon/prepmarket-backend/internal/checkout"
	internalorders "github.com/angelmondragon/prepmarket-backend/internal/orders"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/prepmarket-backend/pkg/errors"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
)

type createOrderRequest struct {
	VendorID            string    `json:"vendor_id" validate:"required,uuid"`
	AddressID           *string   `json:"address_id" validate:"omitempty,uuid"`
	ScheduledDeliveryAt time.Time `json:"scheduled_delivery_at" validate:"required"`
	PaymentMethodID     string    `json:"payment_method_id" validate:"required"`
	SpecialInstructions *string   `json:"special_instructions" validate:"omitempty,max=500"`
}

type createOrderResponse struct {
	Order        internalorders.OrderDTO `json:"order"`
	ClientSecret string                  `json:"client_secret,omitempty"`
}

type statusRequest struct {
	Status             enums.OrderStatus `json:"status" validate:"required"`
	DeliveryCode       string            `json:"delivery_code" validate:"omitempty,max=12"`
	Note               string            `json:"note" validate:"omitempty,max=500"`
	EstimatedArrivalAt *time.Time        `json:"estimated_arrival_at"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// Create checks out the caller's cart lines for one vendor.
func Create(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := currentActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkout.CreateOrderInput{
			CustomerID:          actor.ID,
			VendorID:            uuid.MustParse(req.VendorID),
			ScheduledDeliveryAt: req.ScheduledDeliveryAt,
			PaymentMethodRef:    strings.TrimSpace(req.PaymentMethodID),
		}
		if req.AddressID != nil {
			id := uuid.MustParse(*req.AddressID)
			input.AddressID = &id
		}
		if req.SpecialInstructions != nil {
			note := validators.SanitizeString(*req.SpecialInstructions, 500)
			input.SpecialInstructions = &note
		}

		result, err := svc.CreateOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, createOrderResponse{
			Order:        internalorders.NewOrderDTO(result.Order, actor),
			ClientSecret: result.ClientSecret,
		})
	}
}

// Detail returns the order to a participant or an admin.
func Detail(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), actor, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order, actor))
	}
}

// UpdateStatus moves the order one step along the lifecycle.
func UpdateStatus(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req statusRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !req.Status.IsValid() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status"))
			return
		}

		order, err := svc.TransitionStatus(r.Context(), internalorders.TransitionInput{
			OrderID:            orderID,
			Actor:              actor,
			Target:             req.Status,
			DeliveryCode:       strings.TrimSpace(req.DeliveryCode),
			Note:               validators.SanitizeString(req.Note, 500),
			EstimatedArrivalAt: req.EstimatedArrivalAt,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order, actor))
	}
}

// Cancel handles participant cancellation and the admin force-cancel; the
// service applies the window that fits the caller's role.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Cancel(r.Context(), internalorders.CancelInput{
			OrderID: orderID,
			Actor:   actor,
			Reason:  validators.SanitizeString(req.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order, actor))
	}
}

// Accept claims a ready order for the calling rider.
func Accept(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}
		actor, orderID, err := actorAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.AcceptDelivery(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalorders.NewOrderDTO(order, actor))
	}
}

func currentActor(r *http.Request) (internalorders.Actor, error) {
	id, role, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return internalorders.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return internalorders.Actor{ID: id, Role: role}, nil
}

func actorAndOrder(r *http.Request) (internalorders.Actor, uuid.UUID, error) {
	actor, err := currentActor(r)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, err
	}
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return internalorders.Actor{}, uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return internalorders.Actor{}, uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return actor, orderID, nil
}
