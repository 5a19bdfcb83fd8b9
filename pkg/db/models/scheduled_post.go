package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// PublishResult records the outcome of one provider target.
type PublishResult struct {
	Provider  enums.SocialProvider `json:"provider"`
	Success   bool                 `json:"success"`
	PublishID string               `json:"publish_id,omitempty"`
	Error     string               `json:"error,omitempty"`
	URL       string               `json:"url,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// ScheduledPost is a caption/media bundle queued for one or more providers.
type ScheduledPost struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID     uuid.UUID              `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	UserID          uuid.UUID              `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Caption         string                 `gorm:"column:caption;not null" json:"caption"`
	MediaURLs       []string               `gorm:"column:media_urls;type:jsonb;serializer:json" json:"media_urls"`
	ProviderTargets []enums.SocialProvider `gorm:"column:provider_targets;type:jsonb;serializer:json;not null" json:"provider_targets"`
	ScheduleAt      time.Time              `gorm:"column:schedule_at;not null;index" json:"schedule_at"`
	Status          enums.PostStatus       `gorm:"column:status;not null;index" json:"status"`
	CreditsHeld     int64                  `gorm:"column:credits_held;not null" json:"credits_held"`
	CreditsActual   *int64                 `gorm:"column:credits_actual" json:"credits_actual"`
	Results         []PublishResult        `gorm:"column:results;type:jsonb;serializer:json" json:"results"`
	ErrorMessage    *string                `gorm:"column:error_message" json:"error_message"`
	PublishedAt     *time.Time             `gorm:"column:published_at" json:"published_at"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (p *ScheduledPost) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
