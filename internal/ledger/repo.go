package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/enums"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

// Repository manages persistence for wallets, journal entries, and credit holds.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error)
	LockWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error)
	CreateWalletIfMissing(ctx context.Context, wallet *models.Wallet) error
	Reserve(ctx context.Context, workspaceID uuid.UUID, amount int64, now time.Time) (bool, error)
	Credit(ctx context.Context, workspaceID uuid.UUID, amount int64, now time.Time) error
	SetBalances(ctx context.Context, workspaceID uuid.UUID, balance, held int64, now time.Time) error
	AppendEntry(ctx context.Context, entry *models.LedgerEntry) error
	ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error)
	CreateHold(ctx context.Context, hold *models.CreditHold) error
	FindHold(ctx context.Context, referenceID uuid.UUID) (*models.CreditHold, error)
	SettleHold(ctx context.Context, referenceID uuid.UUID, actual int64, now time.Time) (bool, error)
	ListStaleHolds(ctx context.Context, olderThan time.Time, after *pagination.Cursor, limit int) ([]models.CreditHold, *pagination.Cursor, error)
	ListRenewalDue(ctx context.Context, cutoff time.Time, limit int) ([]models.Wallet, error)
	AdvanceCycle(ctx context.Context, workspaceID uuid.UUID, from, to, now time.Time) (bool, error)
	FindWalletByStripe(ctx context.Context, subscriptionID, customerID string) (*models.Wallet, error)
	UpdatePlan(ctx context.Context, workspaceID uuid.UUID, plan walletPlan, now time.Time) error
	RecordPayment(ctx context.Context, workspaceID uuid.UUID, paidAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

type listEntriesParams struct {
	WorkspaceID uuid.UUID
	Limit       int
	Cursor      *pagination.Cursor
	JobID       *uuid.UUID
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) LockWallet(ctx context.Context, workspaceID uuid.UUID) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("workspace_id = ?", workspaceID).
		First(&wallet).Error; err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *repository) CreateWalletIfMissing(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "workspace_id"}}, DoNothing: true}).
		Create(wallet).Error
}

// Reserve moves amount from balance into held_balance only when the balance covers it.
func (r *repository) Reserve(ctx context.Context, workspaceID uuid.UUID, amount int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ? AND balance >= ?", workspaceID, amount).
		Updates(map[string]any{
			"balance":      gorm.Expr("balance - ?", amount),
			"held_balance": gorm.Expr("held_balance + ?", amount),
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) Credit(ctx context.Context, workspaceID uuid.UUID, amount int64, now time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ?", workspaceID).
		Updates(map[string]any{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *repository) SetBalances(ctx context.Context, workspaceID uuid.UUID, balance, held int64, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("workspace_id = ?", workspaceID).
		Updates(map[string]any{
			"balance":      balance,
			"held_balance": held,
			"updated_at":   now,
		}).Error
}

func (r *repository) AppendEntry(ctx context.Context, entry *models.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListEntries(ctx context.Context, params listEntriesParams) ([]models.LedgerEntry, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("workspace_id = ?", params.WorkspaceID)
	if params.JobID != nil {
		query = query.Where("job_id = ?", *params.JobID)
	}

	var entries []models.LedgerEntry
	if err := pagination.Seek(query, params.Cursor, params.Limit).Find(&entries).Error; err != nil {
		return nil, nil, err
	}
	entries, next := pagination.Trim(entries, params.Limit, func(e models.LedgerEntry) pagination.Cursor {
		return pagination.Cursor{CreatedAt: e.CreatedAt, ID: e.ID}
	})
	return entries, next, nil
}

func (r *repository) CreateHold(ctx context.Context, hold *models.CreditHold) error {
	return r.db.WithContext(ctx).Create(hold).Error
}

// FindHold locks the hold row so concurrent settlements serialize on it.
func (r *repository) FindHold(ctx context.Context, referenceID uuid.UUID) (*models.CreditHold, error) {
	var hold models.CreditHold
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference_id = ?", referenceID).
		First(&hold).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &hold, nil
}

// SettleHold flips a hold from held to settled. False means another caller settled it first.
func (r *repository) SettleHold(ctx context.Context, referenceID uuid.UUID, actual int64, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CreditHold{}).
		Where("reference_id = ? AND status = ?", referenceID, enums.CreditHoldHeld).
		Updates(map[string]any{
			"status":        enums.CreditHoldSettled,
			"actual_amount": actual,
			"settled_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListStaleHolds pages through unsettled holds created before olderThan, newest first.
func (r *repository) ListStaleHolds(ctx context.Context, olderThan time.Time, after *pagination.Cursor, limit int) ([]models.CreditHold, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.CreditHoldHeld, olderThan)
	var holds []models.CreditHold
	if err := pagination.Seek(query, after, limit).Find(&holds).Error; err != nil {
		return nil, nil, err
	}
	holds, next := pagination.Trim(holds, limit, func(h models.CreditHold) pagination.Cursor {
		return pagination.Cursor{CreatedAt: h.CreatedAt, ID: h.ID}
	})
	return holds, next, nil
}
