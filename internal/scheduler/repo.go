package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

// Repository persists scheduled posts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, post *models.ScheduledPost) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledPost, error)
	FindForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.ScheduledPost, error)
	List(ctx context.Context, params listPostsParams) ([]models.ScheduledPost, *pagination.Cursor, error)
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.ScheduledPost, error)
	Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	Transition(ctx context.Context, id uuid.UUID, from enums.PostStatus, update *models.ScheduledPost, columns ...string) (bool, error)
}

type listPostsParams struct {
	WorkspaceID uuid.UUID
	Status      *enums.PostStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Cursor      *pagination.Cursor
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a scheduled post repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, post *models.ScheduledPost) error {
	return r.db.WithContext(ctx).Create(post).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *repository) FindForWorkspace(ctx context.Context, workspaceID, id uuid.UUID) (*models.ScheduledPost, error) {
	var post models.ScheduledPost
	if err := r.db.WithContext(ctx).
		Where("id = ? AND workspace_id = ?", id, workspaceID).
		First(&post).Error; err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *repository) List(ctx context.Context, params listPostsParams) ([]models.ScheduledPost, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.ScheduledPost{}).Where("workspace_id = ?", params.WorkspaceID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.From != nil {
		query = query.Where("schedule_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("schedule_at <= ?", *params.To)
	}

	var rows []models.ScheduledPost
	if err := pagination.Seek(query, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	rows, next := pagination.Trim(rows, params.Limit, func(p models.ScheduledPost) pagination.Cursor {
		return pagination.Cursor{CreatedAt: p.CreatedAt, ID: p.ID}
	})
	return rows, next, nil
}

// ListDue returns scheduled posts due at or before cutoff, earliest first.
func (r *repository) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]models.ScheduledPost, error) {
	var rows []models.ScheduledPost
	err := r.db.WithContext(ctx).
		Where("status = ? AND schedule_at <= ?", enums.PostStatusScheduled, cutoff).
		Order("schedule_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim flips a post from scheduled to publishing. False means another worker owns it.
func (r *repository) Claim(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, enums.PostStatusScheduled).
		Updates(map[string]any{
			"status":     enums.PostStatusPublishing,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.PostStatus, update *models.ScheduledPost, columns ...string) (bool, error) {
	if update.UpdatedAt.IsZero() {
		update.UpdatedAt = time.Now().UTC()
	}
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledPost{}).
		Where("id = ? AND status = ?", id, from).
		Select(append(columns, "updated_at")).
		Updates(update)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
