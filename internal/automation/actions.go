package automation

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// ActionRequest is one action step handed to an executor.
type ActionRequest struct {
	RunID       uuid.UUID
	FlowID      uuid.UUID
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	Index       int
	Action      models.FlowStep
}

// ActionExecutor performs the external side effect of an action step.
type ActionExecutor interface {
	Execute(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionFunc adapts a function to ActionExecutor.
type ActionFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

func (f ActionFunc) Execute(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// NewLoggingExecutor returns an executor that records each action in the log
// and reports it as done. It stands in until real action adapters are wired.
func NewLoggingExecutor(logg *logger.Logger) ActionExecutor {
	return ActionFunc(func(ctx context.Context, req ActionRequest) (map[string]any, error) {
		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"run_id":      req.RunID.String(),
				"action":      req.Action.Type,
				"action_step": req.Index,
			}), "automation action executed")
		}
		return map[string]any{"action": req.Action.Type, "status": "done"}, nil
	})
}
