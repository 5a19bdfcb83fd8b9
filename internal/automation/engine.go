package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox"
	"github.com/angelmondragon/contentstudio-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CreditLedger is the slice of the ledger automation runs need.
type CreditLedger interface {
	HoldTx(ctx context.Context, tx *gorm.DB, input ledger.HoldInput) (bool, error)
	FinalizeTx(ctx context.Context, tx *gorm.DB, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
}

// EngineParams wires the automation engine.
type EngineParams struct {
	DB      txRunner
	Repo    Repository
	Ledger  CreditLedger
	Queue   Queue
	Actions ActionExecutor
	Outbox  outbox.Emitter
	Logger  *logger.Logger
	Now     func() time.Time
}

// Engine triggers automation runs and executes queued ones.
type Engine struct {
	db      txRunner
	repo    Repository
	ledger  CreditLedger
	queue   Queue
	actions ActionExecutor
	outbox  outbox.Emitter
	logg    *logger.Logger
	now     func() time.Time
}

// CreateFlowInput defines a new flow.
type CreateFlowInput struct {
	WorkspaceID uuid.UUID
	Name        string
	Trigger     models.FlowStep
	Conditions  []models.FlowStep
	Actions     []models.FlowStep
	Active      bool
}

// RunInput identifies the flow and the member starting it.
type RunInput struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	FlowID      uuid.UUID
}

// ListFlowsParams configures flow pagination.
type ListFlowsParams struct {
	WorkspaceID uuid.UUID
	Limit       int
	Cursor      string
}

// ListFlowsResult wraps a page of flows.
type ListFlowsResult struct {
	Items  []models.AutomationFlow `json:"items"`
	Cursor string                  `json:"cursor"`
}

// NewEngine validates dependencies and returns an Engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "automation tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "automation repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger required")
	}
	if params.Queue == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "automation queue required")
	}
	if params.Actions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "action executor required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		db:      params.DB,
		repo:    params.Repo,
		ledger:  params.Ledger,
		queue:   params.Queue,
		actions: params.Actions,
		outbox:  params.Outbox,
		logg:    params.Logger,
		now:     now,
	}, nil
}

// CreateFlow validates and stores a flow definition.
func (e *Engine) CreateFlow(ctx context.Context, input CreateFlowInput) (*models.AutomationFlow, error) {
	if input.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "flow name required")
	}
	if strings.TrimSpace(input.Trigger.Type) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trigger type required")
	}
	for i, step := range input.Conditions {
		if strings.TrimSpace(step.Type) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("condition %d is missing a type", i+1))
		}
	}
	for i, step := range input.Actions {
		if strings.TrimSpace(step.Type) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("action %d is missing a type", i+1))
		}
	}

	now := e.now()
	flow := &models.AutomationFlow{
		WorkspaceID: input.WorkspaceID,
		Name:        name,
		Trigger:     input.Trigger,
		Conditions:  nonNilSteps(input.Conditions),
		Actions:     nonNilSteps(input.Actions),
		Active:      input.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.repo.CreateFlow(ctx, flow); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create flow")
	}
	return flow, nil
}

// GetFlow returns a flow owned by the workspace.
func (e *Engine) GetFlow(ctx context.Context, workspaceID, flowID uuid.UUID) (*models.AutomationFlow, error) {
	flow, err := e.repo.FindFlowForWorkspace(ctx, workspaceID, flowID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "flow not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load flow")
	}
	return flow, nil
}

// ListFlows pages through a workspace's flows, newest first.
func (e *Engine) ListFlows(ctx context.Context, params ListFlowsParams) (*ListFlowsResult, error) {
	if params.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	var cursor *pagination.Cursor
	if params.Cursor != "" {
		parsed, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		cursor = parsed
	}
	rows, next, err := e.repo.ListFlows(ctx, params.WorkspaceID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list flows")
	}
	return &ListFlowsResult{Items: rows, Cursor: pagination.EncodeCursor(next)}, nil
}

// GetRun returns a run owned by the workspace.
func (e *Engine) GetRun(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error) {
	run, err := e.repo.FindRunForWorkspace(ctx, workspaceID, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "run not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load run")
	}
	return run, nil
}

// ListRuns returns the latest runs of a flow.
func (e *Engine) ListRuns(ctx context.Context, workspaceID, flowID uuid.UUID) ([]models.AutomationRun, error) {
	if _, err := e.GetFlow(ctx, workspaceID, flowID); err != nil {
		return nil, err
	}
	runs, err := e.repo.ListRuns(ctx, workspaceID, flowID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list runs")
	}
	return runs, nil
}

// Trigger holds one credit for the trigger plus one per action, records a
// running run, and queues it for the worker pool.
func (e *Engine) Trigger(ctx context.Context, input RunInput) (*models.AutomationRun, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	flow, err := e.GetFlow(ctx, input.WorkspaceID, input.FlowID)
	if err != nil {
		return nil, err
	}
	if !flow.Active {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "flow is not active")
	}

	credits := int64(1 + len(flow.Actions))
	now := e.now()
	run := &models.AutomationRun{
		ID:          uuid.New(),
		FlowID:      flow.ID,
		WorkspaceID: flow.WorkspaceID,
		UserID:      input.UserID,
		Status:      enums.RunStatusRunning,
		CreditsHeld: credits,
		Steps:       []models.RunStep{},
		StartedAt:   now,
		CreatedAt:   now,
	}

	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		held, err := e.ledger.HoldTx(ctx, tx, ledger.HoldInput{
			WorkspaceID:   flow.WorkspaceID,
			Amount:        credits,
			JobID:         &run.ID,
			ReferenceType: enums.ReferenceAutomationRun,
			Description:   "Automation flow: " + flow.Name,
		})
		if err != nil {
			return err
		}
		if !held {
			return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
				WithDetails(map[string]any{"required": credits})
		}
		if err := e.repo.WithTx(tx).CreateRun(ctx, run); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create run")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"run_id":       run.ID.String(),
		"flow_id":      flow.ID.String(),
		"workspace_id": run.WorkspaceID.String(),
		"credits":      credits,
	})
	enqueueErr := e.queue.Enqueue(ctx, Task{
		RunID:       run.ID,
		WorkspaceID: run.WorkspaceID,
		CreditsHeld: credits,
		EnqueuedAt:  now,
	})
	if enqueueErr != nil {
		e.logg.Error(logCtx, "enqueue automation run failed", enqueueErr)
		cause := fmt.Errorf("enqueue run: %w", enqueueErr)
		if _, err := e.finish(ctx, run, &runRecord{}, enums.RunStatusFailed, cause); err != nil {
			e.logg.Error(logCtx, "failed to release hold after enqueue failure", err)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, enqueueErr, "queue automation run")
	}

	e.logg.Info(logCtx, "automation run queued")
	return run, nil
}

// TestRun walks a flow without holding credits or performing actions and
// stores the result as a completed dry run.
func (e *Engine) TestRun(ctx context.Context, input RunInput) (*models.AutomationRun, error) {
	if input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	flow, err := e.GetFlow(ctx, input.WorkspaceID, input.FlowID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	zero := int64(0)
	run := &models.AutomationRun{
		FlowID:        flow.ID,
		WorkspaceID:   flow.WorkspaceID,
		UserID:        input.UserID,
		Status:        enums.RunStatusCompleted,
		DryRun:        true,
		CreditsActual: &zero,
		StartedAt:     now,
		CreatedAt:     now,
	}
	rec := &runRecord{}
	e.runSteps(ctx, run, flow, rec, true)
	run.Steps = rec.list()
	finished := e.now()
	run.FinishedAt = &finished

	if err := e.repo.CreateRun(ctx, run); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create dry run")
	}
	return run, nil
}

// Execute runs a queued task to settlement. Whatever happens after the run is
// loaded, the deferred guard finalizes its hold before Execute returns, so a
// nil error means the task may be acked.
func (e *Engine) Execute(ctx context.Context, task Task) (err error) {
	logCtx := e.logg.WithField(ctx, "run_id", task.RunID.String())
	run, err := e.repo.FindRun(ctx, task.RunID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			e.logg.Warn(logCtx, "queued run not found; leaving hold to reconciliation")
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load run")
	}
	if run.Status != enums.RunStatusRunning {
		e.logg.Debug(logCtx, "run already settled; dropping task")
		return nil
	}

	rec := &runRecord{}
	defer func() {
		cause := rec.err
		if r := recover(); r != nil {
			cause = fmt.Errorf("automation panicked: %v", r)
		}
		to := enums.RunStatusCompleted
		if cause != nil {
			to = enums.RunStatusFailed
		}
		_, err = e.finish(ctx, run, rec, to, cause)
	}()

	flow, flowErr := e.repo.FindFlow(ctx, run.FlowID)
	if flowErr != nil {
		rec.err = fmt.Errorf("load flow: %w", flowErr)
		return nil
	}
	e.runSteps(ctx, run, flow, rec, false)
	return nil
}

// Cancel stops a running run and refunds its hold.
func (e *Engine) Cancel(ctx context.Context, workspaceID, runID uuid.UUID) (*models.AutomationRun, error) {
	run, err := e.GetRun(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != enums.RunStatusRunning {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("run is %s", run.Status)).
			WithDetails(map[string]any{"status": run.Status})
	}
	settled, err := e.finish(ctx, run, &runRecord{}, enums.RunStatusCancelled, nil)
	if err != nil {
		return nil, err
	}
	if !settled {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "run already settled")
	}
	return run, nil
}

// SettleStale resolves a hold whose run never settled. Running runs are failed
// with reason, settled runs are finalized with what they recorded, and a hold
// with no run is refunded.
func (e *Engine) SettleStale(ctx context.Context, hold models.CreditHold, reason string) (bool, error) {
	run, err := e.repo.FindRun(ctx, hold.ReferenceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load run")
	}
	if run != nil && run.Status == enums.RunStatusRunning {
		if _, err := e.finish(ctx, run, &runRecord{}, enums.RunStatusFailed, errors.New(reason)); err != nil {
			return false, err
		}
		return true, nil
	}

	input := ledger.FinalizeInput{
		WorkspaceID: hold.WorkspaceID,
		HeldAmount:  hold.Amount,
		JobID:       &hold.ReferenceID,
		Description: "reconciled: run missing",
	}
	if run != nil {
		if run.CreditsActual != nil {
			input.ActualAmount = *run.CreditsActual
		}
		input.Description = "reconciled: " + string(run.Status)
	}
	err = e.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := e.ledger.FinalizeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// runRecord accumulates the step log while a run executes.
type runRecord struct {
	flowName  string
	steps     []models.RunStep
	triggered bool
	executed  int
	err       error
}

func (r *runRecord) add(step models.RunStep) {
	r.steps = append(r.steps, step)
}

func (r *runRecord) list() []models.RunStep {
	if r.steps == nil {
		return []models.RunStep{}
	}
	return r.steps
}

// charge is one credit for the trigger plus one per executed action.
func (r *runRecord) charge() int64 {
	if !r.triggered {
		return 0
	}
	return 1 + int64(r.executed)
}

// runSteps evaluates the trigger, then every condition as satisfied, then the
// actions in order, stopping at the first action error.
func (e *Engine) runSteps(ctx context.Context, run *models.AutomationRun, flow *models.AutomationFlow, rec *runRecord, dryRun bool) {
	rec.flowName = flow.Name
	passed := true
	rec.add(models.RunStep{
		Kind:       enums.StepTrigger,
		Type:       flow.Trigger.Type,
		Result:     &passed,
		ExecutedAt: e.now(),
	})
	rec.triggered = true

	for i, cond := range flow.Conditions {
		satisfied := true
		rec.add(models.RunStep{
			Kind:       enums.StepCondition,
			Type:       cond.Type,
			Index:      i,
			Result:     &satisfied,
			ExecutedAt: e.now(),
		})
	}

	for i, action := range flow.Actions {
		step := models.RunStep{Kind: enums.StepAction, Type: action.Type, Index: i}
		if dryRun {
			step.Output = map[string]any{"dry_run": true}
			step.ExecutedAt = e.now()
			rec.add(step)
			continue
		}
		if err := ctx.Err(); err != nil {
			rec.err = fmt.Errorf("run interrupted before action %d: %w", i+1, err)
			return
		}
		output, err := e.actions.Execute(ctx, ActionRequest{
			RunID:       run.ID,
			FlowID:      flow.ID,
			WorkspaceID: run.WorkspaceID,
			UserID:      run.UserID,
			Index:       i,
			Action:      action,
		})
		step.Output = output
		step.ExecutedAt = e.now()
		if err != nil {
			step.Error = err.Error()
			rec.add(step)
			rec.err = fmt.Errorf("action %d (%s) failed: %w", i+1, action.Type, err)
			return
		}
		rec.add(step)
		rec.executed++
	}
}

// finish moves a running run to a terminal state, settles its hold, and queues
// the terminal event in one transaction. It reports false when the run had
// already left running.
func (e *Engine) finish(ctx context.Context, run *models.AutomationRun, rec *runRecord, to enums.RunStatus, cause error) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	actual := min(rec.charge(), run.CreditsHeld)
	now := e.now()
	update := &models.AutomationRun{
		Status:        to,
		Steps:         rec.list(),
		CreditsActual: &actual,
		FinishedAt:    &now,
	}
	if cause != nil {
		msg := cause.Error()
		update.ErrorMessage = &msg
	}

	settled := false
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := e.repo.WithTx(tx).TransitionRun(ctx, run.ID, enums.RunStatusRunning, update,
			"status", "steps", "credits_actual", "error_message", "finished_at")
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update run status")
		}
		if !ok {
			return nil
		}
		if _, err := e.ledger.FinalizeTx(ctx, tx, ledger.FinalizeInput{
			WorkspaceID:  run.WorkspaceID,
			HeldAmount:   run.CreditsHeld,
			ActualAmount: actual,
			JobID:        &run.ID,
			Description:  fmt.Sprintf("automation run %s: %d/%d credits", to, actual, run.CreditsHeld),
		}); err != nil {
			return err
		}
		run.Status = update.Status
		run.Steps = update.Steps
		run.CreditsActual = update.CreditsActual
		run.ErrorMessage = update.ErrorMessage
		run.FinishedAt = update.FinishedAt
		if to != enums.RunStatusCancelled {
			if err := e.emitSettled(ctx, tx, run, rec); err != nil {
				return err
			}
		}
		settled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	logCtx := e.logg.WithFields(ctx, map[string]any{
		"run_id":         run.ID.String(),
		"status":         to,
		"credits_actual": actual,
	})
	if !settled {
		e.logg.Warn(logCtx, "run settled elsewhere; skipping")
		return false, nil
	}
	e.logg.Info(logCtx, "automation run settled")
	return true, nil
}

func (e *Engine) emitSettled(ctx context.Context, tx *gorm.DB, run *models.AutomationRun, rec *runRecord) error {
	eventType := enums.EventAutomationCompleted
	if run.Status == enums.RunStatusFailed {
		eventType = enums.EventAutomationFailed
	}
	errMsg := ""
	if run.ErrorMessage != nil {
		errMsg = *run.ErrorMessage
	}
	actual := int64(0)
	if run.CreditsActual != nil {
		actual = *run.CreditsActual
	}
	workspaceID := run.WorkspaceID
	return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateAutomationRun,
		AggregateID:   run.ID,
		Actor:         &outbox.ActorRef{UserID: run.UserID, WorkspaceID: &workspaceID},
		Data: payloads.AutomationSettledEvent{
			RunID:           run.ID,
			FlowID:          run.FlowID,
			FlowName:        rec.flowName,
			WorkspaceID:     run.WorkspaceID,
			UserID:          run.UserID,
			Status:          run.Status,
			ExecutedActions: rec.executed,
			CreditsHeld:     run.CreditsHeld,
			CreditsActual:   actual,
			ErrorMessage:    errMsg,
			SettledAt:       e.now(),
		},
	})
}

func nonNilSteps(steps []models.FlowStep) []models.FlowStep {
	if steps == nil {
		return []models.FlowStep{}
	}
	return steps
}
