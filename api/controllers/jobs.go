package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/api/responses"
	"github.com/angelmondragon/contentstudio-backend/api/validators"
	"github.com/angelmondragon/contentstudio-backend/internal/jobs"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
	"github.com/angelmondragon/contentstudio-backend/pkg/logger"
)

// JobsService exposes job lifecycle operations to the API.
type JobsService interface {
	Run(ctx context.Context, input jobs.StartInput) (*models.Job, error)
	Get(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, params jobs.ListParams) (*jobs.ListResult, error)
	Cancel(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error)
}

var _ JobsService = (*jobs.Manager)(nil)

type startJobRequest struct {
	Type   enums.JobType  `json:"type" validate:"required,enum"`
	Params map[string]any `json:"params"`
}

// StartJob holds the estimated credits, runs the generator, and returns the
// settled job. Generator failures come back as a failed job, not an error.
func StartJob(svc JobsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var body startJobRequest
		if err := validators.DecodeJSONBody(w, r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		params := body.Params
		if params == nil {
			params = map[string]any{}
		}

		job, err := svc.Run(ctx, jobs.StartInput{
			WorkspaceID: who.WorkspaceID,
			UserID:      who.UserID,
			JobType:     body.Type,
			Params:      params,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, job)
	}
}

// ListJobs pages through the workspace's jobs.
func ListJobs(svc JobsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
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

		params := jobs.ListParams{
			WorkspaceID: who.WorkspaceID,
			Limit:       limit,
			Cursor:      cursor,
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseJobStatus(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
				return
			}
			params.Status = &status
		}

		result, err := svc.List(ctx, params)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// GetJob returns one job of the workspace.
func GetJob(svc JobsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		jobID, err := uuidParam(r, "jobId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		job, err := svc.Get(ctx, who.WorkspaceID, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}

// CancelJob cancels a running job and refunds its hold.
func CancelJob(svc JobsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "jobs service unavailable"))
			return
		}
		who, err := requireActor(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		jobID, err := uuidParam(r, "jobId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		job, err := svc.Cancel(ctx, who.WorkspaceID, jobID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
