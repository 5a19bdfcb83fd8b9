package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// LedgerEntry is one append-only row of a wallet's credit journal.
type LedgerEntry struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID     uuid.UUID                   `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	JobID           *uuid.UUID                  `gorm:"column:job_id;type:uuid;index" json:"job_id"`
	TransactionType enums.LedgerTransactionType `gorm:"column:transaction_type;not null" json:"transaction_type"`
	Amount          int64                       `gorm:"column:amount;not null" json:"amount"`
	BalanceAfter    int64                       `gorm:"column:balance_after;not null" json:"balance_after"`
	HeldAfter       int64                       `gorm:"column:held_after;not null" json:"held_after"`
	ActualAmount    *int64                      `gorm:"column:actual_amount" json:"actual_amount"`
	Description     string                      `gorm:"column:description;not null;default:''" json:"description"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
