package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/internal/ledger"
	"github.com/angelmondragon/contentstudio-backend/internal/providers"
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

// CreditLedger is the slice of the ledger the job lifecycle needs.
type CreditLedger interface {
	HoldTx(ctx context.Context, tx *gorm.DB, input ledger.HoldInput) (bool, error)
	FinalizeTx(ctx context.Context, tx *gorm.DB, input ledger.FinalizeInput) (ledger.FinalizeResult, error)
}

// ManagerParams wires the job lifecycle manager.
type ManagerParams struct {
	DB         txRunner
	Repo       Repository
	Ledger     CreditLedger
	Generators providers.GenerationSet
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Now        func() time.Time
}

// Manager drives generation jobs from hold to settlement.
type Manager struct {
	db         txRunner
	repo       Repository
	ledger     CreditLedger
	generators providers.GenerationSet
	outbox     outbox.Emitter
	logg       *logger.Logger
	now        func() time.Time
}

// StartInput describes a new generation request.
type StartInput struct {
	WorkspaceID uuid.UUID
	UserID      uuid.UUID
	JobType     enums.JobType
	Params      map[string]any
}

// ListParams configures job pagination.
type ListParams struct {
	WorkspaceID uuid.UUID
	Status      *enums.JobStatus
	Limit       int
	Cursor      string
}

// ListResult wraps a page of jobs.
type ListResult struct {
	Items  []models.Job `json:"items"`
	Cursor string       `json:"cursor"`
}

// NewManager validates dependencies and returns a Manager.
func NewManager(params ManagerParams) (*Manager, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "jobs tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "jobs repository required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "credit ledger required")
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
	return &Manager{
		db:         params.DB,
		repo:       params.Repo,
		ledger:     params.Ledger,
		generators: params.Generators,
		outbox:     params.Outbox,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// Run starts a job, calls the generator, and settles it. A provider failure is
// recorded on the returned job rather than returned as an error.
func (m *Manager) Run(ctx context.Context, input StartInput) (*models.Job, error) {
	job, err := m.Start(ctx, input)
	if err != nil {
		return nil, err
	}

	generator, err := m.generators.For(job.JobType)
	if err != nil {
		return m.Fail(ctx, job.ID, err.Error())
	}
	output, err := generator.Generate(ctx, providers.GenerationRequest{
		JobID:       job.ID,
		WorkspaceID: job.WorkspaceID,
		JobType:     job.JobType,
		Params:      job.InputParams,
	})
	if err != nil {
		m.logg.Warn(m.logg.WithFields(ctx, map[string]any{
			"job_id": job.ID.String(),
			"error":  err.Error(),
		}), "generation failed")
		return m.Fail(ctx, job.ID, err.Error())
	}
	return m.Complete(ctx, job.ID, output)
}

// Start holds the estimated credits and creates the job in one transaction.
func (m *Manager) Start(ctx context.Context, input StartInput) (*models.Job, error) {
	if input.WorkspaceID == uuid.Nil || input.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace and user are required")
	}
	if !input.JobType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid job type %q", input.JobType))
	}
	estimate, err := EstimateCredits(input.JobType, input.Params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid generation parameters")
	}

	now := m.now()
	job := &models.Job{
		ID:               uuid.New(),
		WorkspaceID:      input.WorkspaceID,
		UserID:           input.UserID,
		JobType:          input.JobType,
		Status:           enums.JobStatusRunning,
		Progress:         0,
		InputParams:      input.Params,
		CreditsEstimated: estimate,
		StartedAt:        &now,
		CreatedAt:        now,
	}

	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		held, err := m.ledger.HoldTx(ctx, tx, ledger.HoldInput{
			WorkspaceID:   input.WorkspaceID,
			Amount:        estimate,
			JobID:         &job.ID,
			ReferenceType: enums.ReferenceJob,
			Description:   fmt.Sprintf("%s generation", input.JobType),
		})
		if err != nil {
			return err
		}
		if !held {
			return insufficientCredits(estimate)
		}
		if err := m.repo.WithTx(tx).Create(ctx, job); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create job")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"job_id":       job.ID.String(),
		"workspace_id": job.WorkspaceID.String(),
		"job_type":     job.JobType,
		"credits":      estimate,
	}), "job started")
	return job, nil
}

// Complete records the output and charges the estimate.
func (m *Manager) Complete(ctx context.Context, jobID uuid.UUID, output providers.GenerationOutput) (*models.Job, error) {
	return m.finish(ctx, jobID, enums.JobStatusCompleted, func(job *models.Job, now time.Time) (*models.Job, []string, int64) {
		charged := job.CreditsEstimated
		update := &models.Job{
			Status:        enums.JobStatusCompleted,
			Progress:      100,
			OutputData:    output.Data,
			CompletedAt:   &now,
			CreditsActual: &charged,
			AssetID:       output.AssetID,
			ContentID:     output.ContentID,
		}
		return update, []string{"status", "progress", "output_data", "completed_at", "credits_actual", "asset_id", "content_id"}, charged
	})
}

// Fail marks a running job failed and refunds it in full.
func (m *Manager) Fail(ctx context.Context, jobID uuid.UUID, reason string) (*models.Job, error) {
	return m.finish(ctx, jobID, enums.JobStatusFailed, func(_ *models.Job, now time.Time) (*models.Job, []string, int64) {
		zero := int64(0)
		msg := reason
		update := &models.Job{
			Status:        enums.JobStatusFailed,
			ErrorMessage:  &msg,
			CompletedAt:   &now,
			CreditsActual: &zero,
		}
		return update, []string{"status", "error_message", "completed_at", "credits_actual"}, 0
	})
}

// Cancel stops a running job owned by the workspace and refunds it in full.
func (m *Manager) Cancel(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error) {
	if _, err := m.Get(ctx, workspaceID, jobID); err != nil {
		return nil, err
	}
	return m.finish(ctx, jobID, enums.JobStatusCancelled, func(_ *models.Job, now time.Time) (*models.Job, []string, int64) {
		zero := int64(0)
		update := &models.Job{
			Status:        enums.JobStatusCancelled,
			CompletedAt:   &now,
			CreditsActual: &zero,
		}
		return update, []string{"status", "completed_at", "credits_actual"}, 0
	})
}

type terminalUpdate func(job *models.Job, now time.Time) (*models.Job, []string, int64)

// finish moves a running job to a terminal state, settles its hold, and queues
// the terminal event in one transaction.
func (m *Manager) finish(ctx context.Context, jobID uuid.UUID, to enums.JobStatus, build terminalUpdate) (*models.Job, error) {
	// A dropped request or a worker shutdown must not strand the hold.
	ctx = context.WithoutCancel(ctx)
	var settled *models.Job
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := m.repo.WithTx(tx)
		job, err := repo.FindByID(ctx, jobID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
		}
		if job.Status != enums.JobStatusRunning {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job is %s", job.Status)).
				WithDetails(map[string]any{"status": job.Status})
		}

		now := m.now()
		update, columns, charged := build(job, now)
		update.UpdatedAt = now
		ok, err := repo.Transition(ctx, job.ID, enums.JobStatusRunning, update, columns...)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update job status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "job already settled")
		}

		if _, err := m.ledger.FinalizeTx(ctx, tx, ledger.FinalizeInput{
			WorkspaceID:  job.WorkspaceID,
			HeldAmount:   job.CreditsEstimated,
			ActualAmount: charged,
			JobID:        &job.ID,
			Description:  fmt.Sprintf("%s generation %s", job.JobType, to),
		}); err != nil {
			return err
		}

		applyUpdate(job, update)
		if err := m.emitSettled(ctx, tx, job, charged); err != nil {
			return err
		}
		settled = job
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"job_id":         settled.ID.String(),
		"status":         settled.Status,
		"credits_actual": creditsActual(settled),
	}), "job settled")
	return settled, nil
}

// Get returns a job owned by the workspace.
func (m *Manager) Get(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error) {
	job, err := m.repo.FindForWorkspace(ctx, workspaceID, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	return job, nil
}

// List pages through a workspace's jobs, newest first.
func (m *Manager) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.WorkspaceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "workspace id required")
	}
	query := listJobsParams{
		WorkspaceID: params.WorkspaceID,
		Status:      params.Status,
		Limit:       params.Limit,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}
	rows, next, err := m.repo.List(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list jobs")
	}
	cursor := pagination.EncodeCursor(next)
	return &ListResult{Items: rows, Cursor: cursor}, nil
}

// SettleStale resolves a hold whose job never reached settlement. Running jobs are
// failed with reason, terminal jobs are finalized with what they recorded, and a
// hold with no job row is refunded.
func (m *Manager) SettleStale(ctx context.Context, hold models.CreditHold, reason string) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	job, err := m.repo.FindByID(ctx, hold.ReferenceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job")
	}
	if job != nil && !job.Status.IsTerminal() {
		if _, err := m.Fail(ctx, job.ID, reason); err != nil {
			return false, err
		}
		return true, nil
	}

	input := ledger.FinalizeInput{
		WorkspaceID: hold.WorkspaceID,
		HeldAmount:  hold.Amount,
		JobID:       &hold.ReferenceID,
		Description: "reconciled: job missing",
	}
	if job != nil {
		input.ActualAmount = creditsActual(job)
		input.Description = "reconciled: " + string(job.Status)
	}
	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := m.ledger.FinalizeTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) emitSettled(ctx context.Context, tx *gorm.DB, job *models.Job, charged int64) error {
	eventType := enums.EventJobCompleted
	switch job.Status {
	case enums.JobStatusFailed:
		eventType = enums.EventJobFailed
	case enums.JobStatusCancelled:
		eventType = enums.EventJobCancelled
	}
	errMsg := ""
	if job.ErrorMessage != nil {
		errMsg = *job.ErrorMessage
	}
	workspaceID := job.WorkspaceID
	return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateJob,
		AggregateID:   job.ID,
		Actor:         &outbox.ActorRef{UserID: job.UserID, WorkspaceID: &workspaceID},
		Data: payloads.JobSettledEvent{
			JobID:            job.ID,
			WorkspaceID:      job.WorkspaceID,
			UserID:           job.UserID,
			JobType:          job.JobType,
			Status:           job.Status,
			CreditsEstimated: job.CreditsEstimated,
			CreditsActual:    charged,
			ErrorMessage:     errMsg,
			SettledAt:        m.now(),
		},
	})
}

func applyUpdate(job *models.Job, update *models.Job) {
	job.Status = update.Status
	job.UpdatedAt = update.UpdatedAt
	if update.Progress != 0 {
		job.Progress = update.Progress
	}
	if update.OutputData != nil {
		job.OutputData = update.OutputData
	}
	if update.CompletedAt != nil {
		job.CompletedAt = update.CompletedAt
	}
	if update.CreditsActual != nil {
		job.CreditsActual = update.CreditsActual
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.AssetID != nil {
		job.AssetID = update.AssetID
	}
	if update.ContentID != nil {
		job.ContentID = update.ContentID
	}
}

func creditsActual(job *models.Job) int64 {
	if job.CreditsActual == nil {
		return 0
	}
	return *job.CreditsActual
}

func insufficientCredits(required int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits").
		WithDetails(map[string]any{"required": required})
}
