package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vendor is the prepper profile with its delivery pricing policy.
type Vendor struct {
	ID                   uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BusinessName         string    `gorm:"column:business_name;type:text;not null"`
	Latitude             float64   `gorm:"column:latitude;not null"`
	Longitude            float64   `gorm:"column:longitude;not null"`
	DeliveryBaseFeeCents int64     `gorm:"column:delivery_base_fee_cents;not null"`
	DeliveryPerKmCents   int64     `gorm:"column:delivery_per_km_cents;not null"`
	IsActive             bool      `gorm:"column:is_active;not null"`
	OrdersCount          int64     `gorm:"column:orders_count;not null;default:0"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Vendor) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Meal is a catalog entry. OrderCount is a denormalized popularity metric.
type Meal struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VendorID    uuid.UUID `gorm:"column:vendor_id;type:uuid;not null;index"`
	Name        string    `gorm:"column:name;type:text;not null"`
	PriceCents  int64     `gorm:"column:price_cents;not null"`
	IsAvailable bool      `gorm:"column:is_available;not null"`
	OrderCount  int64     `gorm:"column:order_count;not null;default:0"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *Meal) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CartItem is one line of a customer's cart.
type CartItem struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	VendorID   uuid.UUID `gorm:"column:vendor_id;type:uuid;not null"`
	MealID     uuid.UUID `gorm:"column:meal_id;type:uuid;not null"`
	Quantity   int       `gorm:"column:quantity;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (c *CartItem) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Address is a saved customer delivery address.
type Address struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID uuid.UUID `gorm:"column:customer_id;type:uuid;not null;index"`
	Label      string    `gorm:"column:label;type:text;not null;default:''"`
	Line1      string    `gorm:"column:line1;type:text;not null"`
	Line2      *string   `gorm:"column:line2;type:text"`
	City       string    `gorm:"column:city;type:text;not null"`
	State      string    `gorm:"column:state;type:text;not null;default:''"`
	PostalCode string    `gorm:"column:postal_code;type:text;not null;default:''"`
	Country    string    `gorm:"column:country;type:text;not null;default:'US'"`
	Latitude   float64   `gorm:"column:latitude;not null"`
	Longitude  float64   `gorm:"column:longitude;not null"`
	IsDefault  bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (a *Address) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// CustomerProfile carries the lifetime counters updated after each order.
type CustomerProfile struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Email           string    `gorm:"column:email;type:text;not null;default:''"`
	OrdersCount     int64     `gorm:"column:orders_count;not null;default:0"`
	TotalSpentCents int64     `gorm:"column:total_spent_cents;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
