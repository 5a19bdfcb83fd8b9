package billing

import (
	"context"
	"errors"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository reads the credit catalog and records processed Stripe events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindCreditPack(ctx context.Context, id string) (*models.CreditPack, error)
	ListCreditPacks(ctx context.Context) ([]models.CreditPack, error)
	FindPlan(ctx context.Context, code string) (*models.BillingPlan, error)
	FindPlanByStripePrice(ctx context.Context, stripePriceID string) (*models.BillingPlan, error)
	RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindCreditPack returns an active pack, or nil when it does not exist or was retired.
func (r *repository) FindCreditPack(ctx context.Context, id string) (*models.CreditPack, error) {
	var pack models.CreditPack
	err := r.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&pack).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pack, nil
}

func (r *repository) ListCreditPacks(ctx context.Context) ([]models.CreditPack, error) {
	var packs []models.CreditPack
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("price_cents ASC, id ASC").
		Find(&packs).Error
	return packs, err
}

func (r *repository) FindPlan(ctx context.Context, code string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) FindPlanByStripePrice(ctx context.Context, stripePriceID string) (*models.BillingPlan, error) {
	var plan models.BillingPlan
	if err := r.db.WithContext(ctx).Where("stripe_price_id = ?", stripePriceID).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

// RecordStripeEvent inserts the event id and reports whether this call was the
// first to see it.
func (r *repository) RecordStripeEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(&models.StripeEvent{EventID: eventID, EventType: eventType})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
