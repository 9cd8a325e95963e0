package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

// OrderDTO is the participant-facing view of an order.
type OrderDTO struct {
	ID            uuid.UUID             `json:"id"`
	OrderNumber   string                `json:"order_number"`
	CustomerID    uuid.UUID             `json:"customer_id"`
	VendorID      uuid.UUID             `json:"vendor_id"`
	RiderID       *uuid.UUID            `json:"rider_id,omitempty"`
	Status        enums.OrderStatus     `json:"status"`
	PaymentStatus enums.PaymentStatus   `json:"payment_status"`
	Currency      enums.Currency        `json:"currency"`
	Pricing       PricingDTO            `json:"pricing"`
	Items         []OrderItemDTO        `json:"items"`
	Timeline      []TimelineEntryDTO    `json:"timeline"`
	Delivery      DeliveryDTO           `json:"delivery"`
	Cancellation  *CancellationDTO      `json:"cancellation,omitempty"`
	Address       types.DeliveryAddress `json:"delivery_address"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
}

// PricingDTO is the snapshot taken at creation.
type PricingDTO struct {
	SubtotalCents    int64   `json:"subtotal_cents"`
	DeliveryFeeCents int64   `json:"delivery_fee_cents"`
	ServiceFeeCents  int64   `json:"service_fee_cents"`
	TaxCents         int64   `json:"tax_cents"`
	DiscountCents    int64   `json:"discount_cents"`
	TotalCents       int64   `json:"total_cents"`
	DistanceKm       float64 `json:"distance_km"`
}

type OrderItemDTO struct {
	MealID         uuid.UUID `json:"meal_id"`
	MealName       string    `json:"meal_name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

type TimelineEntryDTO struct {
	Sequence  int               `json:"sequence"`
	Status    enums.OrderStatus `json:"status"`
	ActorID   *uuid.UUID        `json:"actor_id,omitempty"`
	ActorRole enums.ActorRole   `json:"actor_role"`
	Note      string            `json:"note,omitempty"`
	At        time.Time         `json:"at"`
}

// DeliveryDTO carries the delivery code only when the viewer is the customer.
type DeliveryDTO struct {
	ScheduledAt         time.Time  `json:"scheduled_at"`
	EstimatedArrivalAt  *time.Time `json:"estimated_arrival_at,omitempty"`
	ActualDeliveryAt    *time.Time `json:"actual_delivery_at,omitempty"`
	SpecialInstructions *string    `json:"special_instructions,omitempty"`
	Code                string     `json:"delivery_code,omitempty"`
}

type CancellationDTO struct {
	Reason            *string          `json:"reason,omitempty"`
	CancelledByID     *uuid.UUID       `json:"cancelled_by_id,omitempty"`
	CancelledByRole   *enums.ActorRole `json:"cancelled_by_role,omitempty"`
	RefundAmountCents int64            `json:"refund_amount_cents"`
}

// NewOrderDTO maps an order for viewer. Only the customer sees the delivery code.
func NewOrderDTO(order *models.Order, viewer Actor) OrderDTO {
	dto := OrderDTO{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		VendorID:      order.VendorID,
		RiderID:       order.RiderID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Currency:      order.Currency,
		Pricing: PricingDTO{
			SubtotalCents:    order.SubtotalCents,
			DeliveryFeeCents: order.DeliveryFeeCents,
			ServiceFeeCents:  order.ServiceFeeCents,
			TaxCents:         order.TaxCents,
			DiscountCents:    order.DiscountCents,
			TotalCents:       order.TotalCents,
			DistanceKm:       order.DistanceKm,
		},
		Items:    make([]OrderItemDTO, 0, len(order.Items)),
		Timeline: make([]TimelineEntryDTO, 0, len(order.Timeline)),
		Delivery: DeliveryDTO{
			ScheduledAt:         order.ScheduledDeliveryAt,
			EstimatedArrivalAt:  order.EstimatedArrivalAt,
			ActualDeliveryAt:    order.ActualDeliveryAt,
			SpecialInstructions: order.SpecialInstructions,
		},
		Address:   order.DeliveryAddress,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	if viewer.Role == enums.ActorRoleCustomer && viewer.ID == order.CustomerID {
		dto.Delivery.Code = order.DeliveryCode
	}
	for _, item := range order.Items {
		dto.Items = append(dto.Items, OrderItemDTO{
			MealID:         item.MealID,
			MealName:       item.MealName,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
			LineTotalCents: item.LineTotalCents,
		})
	}
	for _, entry := range order.Timeline {
		dto.Timeline = append(dto.Timeline, TimelineEntryDTO{
			Sequence:  entry.Sequence,
			Status:    entry.Status,
			ActorID:   entry.ActorID,
			ActorRole: entry.ActorRole,
			Note:      entry.Note,
			At:        entry.CreatedAt,
		})
	}
	if order.Status == enums.OrderStatusCancelled {
		dto.Cancellation = &CancellationDTO{
			Reason:            order.CancellationReason,
			CancelledByID:     order.CancelledByID,
			CancelledByRole:   order.CancelledByRole,
			RefundAmountCents: order.RefundAmountCents,
		}
	}
	return dto
}
