package payloads

import (
	"time"

	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/google/uuid"
)

// JobSettledEvent is emitted when a generation job reaches a terminal state.
type JobSettledEvent struct {
	JobID            uuid.UUID       `json:"job_id"`
	WorkspaceID      uuid.UUID       `json:"workspace_id"`
	UserID           uuid.UUID       `json:"user_id"`
	JobType          enums.JobType   `json:"job_type"`
	Status           enums.JobStatus `json:"status"`
	CreditsEstimated int64           `json:"credits_estimated"`
	CreditsActual    int64           `json:"credits_actual"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	SettledAt        time.Time       `json:"settled_at"`
}

// PostSettledEvent summarizes a publish attempt across all targets.
type PostSettledEvent struct {
	PostID        uuid.UUID        `json:"post_id"`
	WorkspaceID   uuid.UUID        `json:"workspace_id"`
	UserID        uuid.UUID        `json:"user_id"`
	Status        enums.PostStatus `json:"status"`
	SuccessCount  int              `json:"success_count"`
	FailureCount  int              `json:"failure_count"`
	CreditsHeld   int64            `json:"credits_held"`
	CreditsActual int64            `json:"credits_actual"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	SettledAt     time.Time        `json:"settled_at"`
}

// AutomationSettledEvent is emitted when an automation run finishes.
type AutomationSettledEvent struct {
	RunID           uuid.UUID       `json:"run_id"`
	FlowID          uuid.UUID       `json:"flow_id"`
	FlowName        string          `json:"flow_name,omitempty"`
	WorkspaceID     uuid.UUID       `json:"workspace_id"`
	UserID          uuid.UUID       `json:"user_id"`
	Status          enums.RunStatus `json:"status"`
	ExecutedActions int             `json:"executed_actions"`
	CreditsHeld     int64           `json:"credits_held"`
	CreditsActual   int64           `json:"credits_actual"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	SettledAt       time.Time       `json:"settled_at"`
}

// CreditsLowEvent fires when a wallet's balance drops below its threshold.
type CreditsLowEvent struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
	Balance     int64     `json:"balance"`
	Threshold   int64     `json:"threshold"`
}

// CreditsGrantedEvent records a top-up applied to a wallet.
type CreditsGrantedEvent struct {
	WorkspaceID     uuid.UUID                   `json:"workspace_id"`
	Amount          int64                       `json:"amount"`
	TransactionType enums.LedgerTransactionType `json:"transaction_type"`
	BalanceAfter    int64                       `json:"balance_after"`
	Description     string                      `json:"description,omitempty"`
}
