package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/contentstudio-backend/internal/jobs"
	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/contentstudio-backend/pkg/errors"
)

type testJobsService struct {
	runFn    func(ctx context.Context, input jobs.StartInput) (*models.Job, error)
	getFn    func(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error)
	listFn   func(ctx context.Context, params jobs.ListParams) (*jobs.ListResult, error)
	cancelFn func(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error)
}

func (s *testJobsService) Run(ctx context.Context, input jobs.StartInput) (*models.Job, error) {
	return s.runFn(ctx, input)
}

func (s *testJobsService) Get(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error) {
	return s.getFn(ctx, workspaceID, jobID)
}

func (s *testJobsService) List(ctx context.Context, params jobs.ListParams) (*jobs.ListResult, error) {
	return s.listFn(ctx, params)
}

func (s *testJobsService) Cancel(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error) {
	return s.cancelFn(ctx, workspaceID, jobID)
}

func TestStartJobCreatesJob(t *testing.T) {
	workspaceID := uuid.New()
	userID := uuid.New()
	svc := &testJobsService{
		runFn: func(ctx context.Context, input jobs.StartInput) (*models.Job, error) {
			if input.WorkspaceID != workspaceID || input.UserID != userID {
				t.Fatalf("unexpected actor %+v", input)
			}
			if input.JobType != enums.JobTypeImage || input.Params["prompt"] != "a cat" {
				t.Fatalf("unexpected input %+v", input)
			}
			return &models.Job{ID: uuid.New(), WorkspaceID: workspaceID, JobType: input.JobType, Status: enums.JobStatusCompleted}, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"type":"image","params":{"prompt":"a cat"}}`))
	req = withActor(req, workspaceID, userID)
	resp := httptest.NewRecorder()
	StartJob(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), `"status":"completed"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestStartJobRejectsUnknownType(t *testing.T) {
	svc := &testJobsService{
		runFn: func(ctx context.Context, input jobs.StartInput) (*models.Job, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"type":"hologram"}`))
	req = withActor(req, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	StartJob(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestStartJobSurfacesInsufficientCredits(t *testing.T) {
	svc := &testJobsService{
		runFn: func(ctx context.Context, input jobs.StartInput) (*models.Job, error) {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientCredits, "insufficient credits")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(`{"type":"text"}`))
	req = withActor(req, uuid.New(), uuid.New())
	resp := httptest.NewRecorder()
	StartJob(svc, testLogger())(resp, req)
	if resp.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp.Body.Bytes()); code != string(pkgerrors.CodeInsufficientCredits) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestListJobsParsesStatusFilter(t *testing.T) {
	workspaceID := uuid.New()
	svc := &testJobsService{
		listFn: func(ctx context.Context, params jobs.ListParams) (*jobs.ListResult, error) {
			if params.WorkspaceID != workspaceID || params.Limit != 25 || params.Cursor != "abc" {
				t.Fatalf("unexpected params %+v", params)
			}
			if params.Status == nil || *params.Status != enums.JobStatusRunning {
				t.Fatalf("expected running filter, got %v", params.Status)
			}
			return &jobs.ListResult{}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=running&cursor=abc", nil)
	req = withActor(req, workspaceID, uuid.New())
	resp := httptest.NewRecorder()
	ListJobs(svc, testLogger())(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=paused", nil)
	req = withActor(req, workspaceID, uuid.New())
	resp = httptest.NewRecorder()
	ListJobs(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestGetJobRequiresValidID(t *testing.T) {
	svc := &testJobsService{
		getFn: func(ctx context.Context, workspaceID, jobID uuid.UUID) (*models.Job, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "job not found")
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/bad", nil)
	req = withActor(req, uuid.New(), uuid.New())
	req = addRouteParam(req, "jobId", "bad")
	resp := httptest.NewRecorder()
	GetJob(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}

	id := uuid.New()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+id.String(), nil)
	req = withActor(req, uuid.New(), uuid.New())
	req = addRouteParam(req, "jobId", id.String())
	resp = httptest.NewRecorder()
	GetJob(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestCancelJobMapsStateConflict(t *testing.T) {
	jobID := uuid.New()
	svc := &testJobsService{
		cancelFn: func(ctx context.Context, workspaceID, id uuid.UUID) (*models.Job, error) {
			if id != jobID {
				t.Fatalf("unexpected job %s", id)
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "job already finished")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID.String()+"/cancel", nil)
	req = withActor(req, uuid.New(), uuid.New())
	req = addRouteParam(req, "jobId", jobID.String())
	resp := httptest.NewRecorder()
	CancelJob(svc, testLogger())(resp, req)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestJobHandlersRequireWorkspace(t *testing.T) {
	svc := &testJobsService{}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	resp := httptest.NewRecorder()
	ListJobs(svc, testLogger())(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", resp.Code)
	}
}
