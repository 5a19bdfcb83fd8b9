package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	"github.com/angelmondragon/contentstudio-backend/api/validators"
	"github.com/angelmondragon/contentstudio-backend/internal/automation"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// AutomationService exposes flow and run operations to the API.
type AutomationService interface {
	CreateFlow(ctx context.Context, input automation.CreateFlowInput) (*models.AutomationFlow, error)
	GetFlow(ctx context.Context, workspaceID, flowID uuid.UUID) (*models.AutomationFlow, error)
	ListFlows(ctx context.Context, params automation.ListFlowsParams) (*automation.ListFlowsResult, error)
	Trigger(ctx context.Context, input automation.RunInput) (*models.AutomationRun, error)
	TestRun(ctx context.Context, input automation.RunInput) (*models.AutomationRun, error)
	ListRuns(ctx context.Context, workspaceID, flowID uuid.UUID) ([]models.AutomationRun, error)
	GetRun(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error)
	Cancel(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error)
}

var _ AutomationService = (*automation.Engine)(nil)

type flowStepRequest struct {
	Type   string         `json:"type" validate:"required,max=64"`
	Config map[string]any `json:"config"`
}

func (s flowStepRequest) model() models.FlowStep {
	return models.FlowStep{Type: strings.TrimSpace(s.Type), Config: s.Config}
}

type createFlowRequest struct {
	Name       string            `json:"name" validate:"required,max=120"`
	Trigger    flowStepRequest   `json:"trigger"`
	Conditions []flowStepRequest `json:"conditions" validate:"max=20,dive"`
	Actions    []flowStepRequest `json:"actions" validate:"max=20,dive"`
	Active     *bool             `json:"active"`
}

// CreateFlow stores a new automation flow. Flows are active unless the body
// says otherwise.
func CreateFlow(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body createFlowRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input := automation.CreateFlowInput{
			WorkspaceID: who.WorkspaceID,
			Name:        validators.SanitizeString(body.Name, 120),
			Trigger:     body.Trigger.model(),
			Active:      body.Active == nil || *body.Active,
		}
		for _, step := range body.Conditions {
			input.Conditions = append(input.Conditions, step.model())
		}
		for _, step := range body.Actions {
			input.Actions = append(input.Actions, step.model())
		}

		flow, err := svc.CreateFlow(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, flow)
	}
}

// ListFlows pages through the workspace's flows.
func ListFlows(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, cursor, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		result, err := svc.ListFlows(ctx, automation.ListFlowsParams{
			WorkspaceID: who.WorkspaceID,
			Limit:       limit,
			Cursor:      cursor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetFlow returns one flow definition.
func GetFlow(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flowID, err := uuidParam(r, "flowId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flow, err := svc.GetFlow(ctx, who.WorkspaceID, flowID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, flow)
	}
}

// TriggerFlow holds credits for a run and queues it. The response is the
// running run; the worker pool settles it.
func TriggerFlow(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return runFlow(svc, logg, http.StatusAccepted, func(ctx context.Context, input automation.RunInput) (*models.AutomationRun, error) {
		return svc.Trigger(ctx, input)
	})
}

// TestFlow dry-runs a flow without credits or side effects.
func TestFlow(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return runFlow(svc, logg, http.StatusOK, func(ctx context.Context, input automation.RunInput) (*models.AutomationRun, error) {
		return svc.TestRun(ctx, input)
	})
}

func runFlow(svc AutomationService, logg *logger.Logger, status int, fn func(context.Context, automation.RunInput) (*models.AutomationRun, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flowID, err := uuidParam(r, "flowId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		run, err := fn(ctx, automation.RunInput{
			WorkspaceID: who.WorkspaceID,
			UserID:      who.UserID,
			FlowID:      flowID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, status, run)
	}
}

// ListFlowRuns returns the latest runs of a flow.
func ListFlowRuns(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		flowID, err := uuidParam(r, "flowId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		runs, err := svc.ListRuns(ctx, who.WorkspaceID, flowID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if runs == nil {
			runs = []models.AutomationRun{}
		}
		responses.WriteSuccess(w, map[string]any{"items": runs})
	}
}

// GetRun returns one automation run with its step log.
func GetRun(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return runAction(svc, logg, func(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error) {
		return svc.GetRun(ctx, workspaceID, runID)
	})
}

// CancelRun stops a running automation run and refunds its hold.
func CancelRun(svc AutomationService, logg *logger.Logger) http.HandlerFunc {
	return runAction(svc, logg, func(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error) {
		return svc.Cancel(ctx, workspaceID, runID)
	})
}

func runAction(svc AutomationService, logg *logger.Logger, fn func(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "automation service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		runID, err := uuidParam(r, "runId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		run, err := fn(ctx, who.WorkspaceID, runID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, run)
	}
}
