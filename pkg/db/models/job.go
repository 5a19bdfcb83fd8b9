package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// Job is one metered unit of generation work.
type Job struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID      uuid.UUID       `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	UserID           uuid.UUID       `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	JobType          enums.JobType   `gorm:"column:job_type;not null" json:"job_type"`
	Status           enums.JobStatus `gorm:"column:status;not null;index" json:"status"`
	Progress         int             `gorm:"column:progress;not null;default:0" json:"progress"`
	InputParams      map[string]any  `gorm:"column:input_params;type:jsonb;serializer:json" json:"input_params"`
	OutputData       map[string]any  `gorm:"column:output_data;type:jsonb;serializer:json" json:"output_data"`
	CreditsEstimated int64           `gorm:"column:credits_estimated;not null" json:"credits_estimated"`
	CreditsActual    *int64          `gorm:"column:credits_actual" json:"credits_actual"`
	StartedAt        *time.Time      `gorm:"column:started_at" json:"started_at"`
	CompletedAt      *time.Time      `gorm:"column:completed_at" json:"completed_at"`
	ErrorMessage     *string         `gorm:"column:error_message" json:"error_message"`
	AssetID          *uuid.UUID      `gorm:"column:asset_id;type:uuid" json:"asset_id"`
	ContentID        *uuid.UUID      `gorm:"column:content_id;type:uuid" json:"content_id"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (j *Job) BeforeCreate(*gorm.DB) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	return nil
}
