package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

// Order is a single-vendor meal order. Pricing columns are written once at
// creation and never recomputed.
type Order struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber string     `gorm:"column:order_number;type:text;not null;uniqueIndex:orders_order_number_key"`
	CustomerID  uuid.UUID  `gorm:"column:customer_id;type:uuid;not null;index"`
	VendorID    uuid.UUID  `gorm:"column:vendor_id;type:uuid;not null;index"`
	RiderID     *uuid.UUID `gorm:"column:rider_id;type:uuid;index"`

	Status        enums.OrderStatus   `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	Currency      enums.Currency      `gorm:"column:currency;type:text;not null;default:'usd'"`

	SubtotalCents    int64   `gorm:"column:subtotal_cents;not null"`
	DeliveryFeeCents int64   `gorm:"column:delivery_fee_cents;not null"`
	ServiceFeeCents  int64   `gorm:"column:service_fee_cents;not null"`
	TaxCents         int64   `gorm:"column:tax_cents;not null;default:0"`
	DiscountCents    int64   `gorm:"column:discount_cents;not null;default:0"`
	TotalCents       int64   `gorm:"column:total_cents;not null"`
	DistanceKm       float64 `gorm:"column:distance_km;not null;default:0"`

	PaymentIntentID  *string       `gorm:"column:payment_intent_id;type:text;uniqueIndex:orders_payment_intent_id_key"`
	PaymentMethodRef string        `gorm:"column:payment_method_ref;type:text;not null"`
	PaymentMetadata  types.JSONMap `gorm:"column:payment_metadata;type:jsonb;serializer:json"`

	DeliveryCode        string                `gorm:"column:delivery_code;type:text;not null"`
	DeliveryAddress     types.DeliveryAddress `gorm:"column:delivery_address;type:jsonb;serializer:json"`
	SpecialInstructions *string               `gorm:"column:special_instructions;type:text"`
	ScheduledDeliveryAt time.Time             `gorm:"column:scheduled_delivery_at;not null"`
	EstimatedArrivalAt  *time.Time            `gorm:"column:estimated_arrival_at"`
	ActualDeliveryAt    *time.Time            `gorm:"column:actual_delivery_at"`

	CancellationReason *string          `gorm:"column:cancellation_reason;type:text"`
	CancelledByID      *uuid.UUID       `gorm:"column:cancelled_by_id;type:uuid"`
	CancelledByRole    *enums.ActorRole `gorm:"column:cancelled_by_role;type:text"`
	RefundAmountCents  int64            `gorm:"column:refund_amount_cents;not null;default:0"`

	Items    []OrderItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Timeline []OrderTimelineEntry `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderItem snapshots the meal price at order time. The withdrawn flags track
// settlement per earning side.
type OrderItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	MealID          uuid.UUID `gorm:"column:meal_id;type:uuid;not null"`
	MealName        string    `gorm:"column:meal_name;type:text;not null"`
	Quantity        int       `gorm:"column:quantity;not null"`
	UnitPriceCents  int64     `gorm:"column:unit_price_cents;not null"`
	LineTotalCents  int64     `gorm:"column:line_total_cents;not null"`
	VendorWithdrawn bool      `gorm:"column:vendor_withdrawn;not null;default:false"`
	RiderWithdrawn  bool      `gorm:"column:rider_withdrawn;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// OrderTimelineEntry is one append-only audit row. Sequence orders entries
// within an order.
type OrderTimelineEntry struct {
	ID        uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID   uuid.UUID         `gorm:"column:order_id;type:uuid;not null;uniqueIndex:order_timeline_order_seq_key,priority:1"`
	Sequence  int               `gorm:"column:sequence;not null;uniqueIndex:order_timeline_order_seq_key,priority:2"`
	Status    enums.OrderStatus `gorm:"column:status;type:text;not null"`
	ActorID   *uuid.UUID        `gorm:"column:actor_id;type:uuid"`
	ActorRole enums.ActorRole   `gorm:"column:actor_role;type:text;not null"`
	Note      string            `gorm:"column:note;type:text;not null;default:''"`
	CreatedAt time.Time         `gorm:"column:created_at;not null"`
}

func (OrderTimelineEntry) TableName() string {
	return "order_timeline_entries"
}

func (e *OrderTimelineEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
