package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
)

// Wallet holds an actor's balances. Balance is withdrawable; Pending holds
// delivered-order earnings still inside the holding window.
type Wallet struct {
	UserID       uuid.UUID       `gorm:"column:user_id;type:uuid;primaryKey"`
	Role         enums.ActorRole `gorm:"column:role;type:text;not null"`
	BalanceCents int64           `gorm:"column:balance_cents;not null;default:0"`
	PendingCents int64           `gorm:"column:pending_cents;not null;default:0"`
	Currency     enums.Currency  `gorm:"column:currency;type:text;not null;default:'usd'"`
	IsActive     bool            `gorm:"column:is_active;not null"`
	PinHash      *string         `gorm:"column:pin_hash;type:text"`
	PinSet       bool            `gorm:"column:pin_set;not null;default:false"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
