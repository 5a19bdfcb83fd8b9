package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// CreditHold tracks one open or settled reservation keyed by its owning record.
type CreditHold struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID   uuid.UUID                 `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	ReferenceType enums.CreditReferenceType `gorm:"column:reference_type;not null" json:"reference_type"`
	ReferenceID   uuid.UUID                 `gorm:"column:reference_id;type:uuid;not null;uniqueIndex" json:"reference_id"`
	Amount        int64                     `gorm:"column:amount;not null" json:"amount"`
	Status        enums.CreditHoldStatus    `gorm:"column:status;not null;index" json:"status"`
	ActualAmount  *int64                    `gorm:"column:actual_amount" json:"actual_amount"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	SettledAt     *time.Time                `gorm:"column:settled_at" json:"settled_at"`
}

func (h *CreditHold) BeforeCreate(*gorm.DB) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	return nil
}
