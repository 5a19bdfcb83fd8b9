package automation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

// runListLimit caps the run history returned for a flow.
const runListLimit = 50

// Repository persists automation flows and their runs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateFlow(ctx context.Context, flow *models.AutomationFlow) error
	FindFlow(ctx context.Context, id uuid.UUID) (*models.AutomationFlow, error)
	FindFlowForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.AutomationFlow, error)
	ListFlows(ctx context.Context, workspaceID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.AutomationFlow, *pagination.Cursor, error)
	CreateRun(ctx context.Context, run *models.AutomationRun) error
	FindRun(ctx context.Context, id uuid.UUID) (*models.AutomationRun, error)
	FindRunForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.AutomationRun, error)
	ListRuns(ctx context.Context, workspaceID, flowID uuid.UUID) ([]models.AutomationRun, error)
	TransitionRun(ctx context.Context, id uuid.UUID, from enums.RunStatus, update *models.AutomationRun, columns ...string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the automation repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateFlow(ctx context.Context, flow *models.AutomationFlow) error {
	return r.db.WithContext(ctx).Create(flow).Error
}

func (r *repository) FindFlow(ctx context.Context, id uuid.UUID) (*models.AutomationFlow, error) {
	var flow models.AutomationFlow
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&flow).Error; err != nil {
		return nil, err
	}
	return &flow, nil
}

func (r *repository) FindFlowForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.AutomationFlow, error) {
	var flow models.AutomationFlow
	if err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&flow).Error; err != nil {
		return nil, err
	}
	return &flow, nil
}

func (r *repository) ListFlows(ctx context.Context, workspaceID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.AutomationFlow, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.AutomationFlow{}).Where("workspace_id = ?", workspaceID)
	var rows []models.AutomationFlow
	if err := pagination.Seek(query, cursor, limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, limit, func(f models.AutomationFlow) pagination.Cursor {
		return pagination.Cursor{CreatedAt: f.CreatedAt, ID: f.ID}
	})
	return rows, next, nil
}

func (r *repository) CreateRun(ctx context.Context, run *models.AutomationRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *repository) FindRun(ctx context.Context, id uuid.UUID) (*models.AutomationRun, error) {
	var run models.AutomationRun
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) FindRunForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.AutomationRun, error) {
	var run models.AutomationRun
	if err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&run).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *repository) ListRuns(ctx context.Context, workspaceID, flowID uuid.UUID) ([]models.AutomationRun, error) {
	var rows []models.AutomationRun
	err := r.db.WithContext(ctx).
		Where("workspace_id = ? AND flow_id = ?", workspaceID, flowID).
		Order("started_at DESC, id DESC").
		Limit(runListLimit).
		Find(&rows).Error
	return rows, err
}

// TransitionRun writes the selected columns only while the run is still in from.
func (r *repository) TransitionRun(ctx context.Context, id uuid.UUID, from enums.RunStatus, update *models.AutomationRun, columns ...string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.AutomationRun{}).
		Where("id = ? AND status = ?", id, from).
		Select(columns).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
