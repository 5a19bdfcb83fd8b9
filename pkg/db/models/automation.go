package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
)

// FlowStep is one trigger, condition, or action definition of a flow.
type FlowStep struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config,omitempty"`
}

// AutomationFlow is a user-defined trigger → conditions → actions pipeline.
type AutomationFlow struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	WorkspaceID uuid.UUID  `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	Name        string     `gorm:"column:name;not null" json:"name"`
	Trigger     FlowStep   `gorm:"column:trigger_def;type:jsonb;serializer:json;not null" json:"trigger"`
	Conditions  []FlowStep `gorm:"column:conditions;type:jsonb;serializer:json" json:"conditions"`
	Actions     []FlowStep `gorm:"column:actions;type:jsonb;serializer:json" json:"actions"`
	Active      bool       `gorm:"column:active;not null" json:"active"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (f *AutomationFlow) BeforeCreate(*gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// RunStep is one executed entry of an automation run's step log.
type RunStep struct {
	Kind       enums.StepKind `json:"kind"`
	Type       string         `json:"type"`
	Index      int            `json:"index"`
	Result     *bool          `json:"result,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	ExecutedAt time.Time      `json:"executed_at"`
}

// AutomationRun is one execution instance of an AutomationFlow.
type AutomationRun struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	FlowID        uuid.UUID       `gorm:"column:flow_id;type:uuid;not null;index" json:"flow_id"`
	WorkspaceID   uuid.UUID       `gorm:"column:workspace_id;type:uuid;not null;index" json:"workspace_id"`
	UserID        uuid.UUID       `gorm:"column:user_id;type:uuid;not null" json:"user_id"`
	Status        enums.RunStatus `gorm:"column:status;not null;index" json:"status"`
	DryRun        bool            `gorm:"column:dry_run;not null;default:false" json:"dry_run"`
	CreditsHeld   int64           `gorm:"column:credits_held;not null" json:"credits_held"`
	CreditsActual *int64          `gorm:"column:credits_actual" json:"credits_actual"`
	Steps         []RunStep       `gorm:"column:steps;type:jsonb;serializer:json" json:"steps"`
	ErrorMessage  *string         `gorm:"column:error_message" json:"error_message"`
	StartedAt     time.Time       `gorm:"column:started_at;not null" json:"started_at"`
	FinishedAt    *time.Time      `gorm:"column:finished_at" json:"finished_at"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (r *AutomationRun) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
