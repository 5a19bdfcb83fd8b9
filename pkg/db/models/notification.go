package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// Notification stores in-app notifications. A nil UserID addresses the whole workspace.
type Notification struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID              `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	UserID      *uuid.UUID             `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Type        enums.NotificationType `gorm:"column:type;not null" json:"type"`
	Title       string                 `gorm:"column:title;not null" json:"title"`
	Message     string                 `gorm:"column:message;not null" json:"message"`
	Payload     map[string]any         `gorm:"column:payload;type:jsonb;serializer:json" json:"payload"`
	ReadAt      *time.Time             `gorm:"column:read_at" json:"read_at"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (n *Notification) BeforeCreate(*gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
