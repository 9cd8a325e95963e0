package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/types"
)

// Notification is an in-app message for a single recipient.
type Notification struct {
	ID          uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	RecipientID uuid.UUID     `gorm:"column:recipient_id;type:uuid;not null;index"`
	Title       string        `gorm:"column:title;type:text;not null"`
	Body        string        `gorm:"column:body;type:text;not null"`
	Data        types.JSONMap `gorm:"column:data;type:jsonb;serializer:json"`
	ReadAt      *time.Time    `gorm:"column:read_at"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
