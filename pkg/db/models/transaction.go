package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

// Transaction is an immutable wallet ledger entry. Only Status and
// ProcessedAt change after insert.
type Transaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	UserID             uuid.UUID               `gorm:"column:user_id;type:uuid;not null;index"`
	Type               enums.TransactionType   `gorm:"column:type;type:text;not null"`
	AmountCents        int64                   `gorm:"column:amount_cents;not null"`
	Currency           enums.Currency          `gorm:"column:currency;type:text;not null"`
	Status             enums.TransactionStatus `gorm:"column:status;type:text;not null"`
	Description        string                  `gorm:"column:description;type:text;not null"`
	Reference          *string                 `gorm:"column:reference;type:text;uniqueIndex:transactions_reference_key"`
	Metadata           types.JSONMap           `gorm:"column:metadata;type:jsonb;serializer:json"`
	BalanceBeforeCents int64                   `gorm:"column:balance_before_cents;not null"`
	BalanceAfterCents  int64                   `gorm:"column:balance_after_cents;not null"`
	ProcessedAt        *time.Time              `gorm:"column:processed_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *Transaction) BeforeCreate(*gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
