package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

// Repository persists generation jobs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, params listJobsParams) ([]models.Job, *pagination.Cursor, error)
	Transition(ctx context.Context, id uuid.UUID, from enums.JobStatus, update *models.Job, columns ...string) (bool, error)
}

type listJobsParams struct {
	WorkspaceID uuid.UUID
	Status      *enums.JobStatus
	Limit       int
	Cursor      *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a jobs repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) List(ctx context.Context, params listJobsParams) ([]models.Job, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.Job{}).Where("workspace_id = ?", params.WorkspaceID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	var rows []models.Job
	if err := pagination.Seek(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, jobKey)
	return rows, next, nil
}

func jobKey(j models.Job) pagination.Cursor {
	return pagination.Cursor{CreatedAt: j.CreatedAt, ID: j.ID}
}

// Transition writes the selected columns of update only while the job is still in
// the from state. Struct updates keep the json serializer on output_data.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.JobStatus, update *models.Job, columns ...string) (bool, error) {
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.Job{}).
		Where("id = ? AND status = ?", id, from).
		Select(append(columns, "updated_at")).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
