package outbox

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
)

const maxLastErrorLen = 1024

var errTxRequired = errors.New("transaction required")

// Repository is the outbox_events table. Writers insert inside their domain
// transaction; the relay claims, marks, and retention prunes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Create(&event).Error
}

// FetchUnpublishedForPublish claims up to limit pending rows in commit order.
// SKIP LOCKED lets several relays drain the table without double sends.
func (r *Repository) FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errTxRequired
	}
	query := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := query.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error {
	return mark(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// MarkFailedTx records a retryable failure; the row stays pending.
func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, cause error) error {
	return mark(tx, id, map[string]any{
		"last_error":    lastError(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminalTx retires a dead-lettered row: its attempt budget is spent and
// it is stamped so retention eventually prunes it. DLQRepository.Requeue undoes both.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, cause error, terminalAttempts int) error {
	return mark(tx, id, map[string]any{
		"last_error":    lastError(cause),
		"attempt_count": gorm.Expr("CASE WHEN attempt_count + 1 > ? THEN attempt_count + 1 ELSE ? END", terminalAttempts, terminalAttempts),
		"published_at":  time.Now().UTC(),
	})
}

// DeletePublishedBefore prunes published rows older than cutoff.
func (r *Repository) DeletePublishedBefore(tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	res := tx.Where("published_at IS NOT NULL AND published_at < ?", cutoff).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

func mark(tx *gorm.DB, id uuid.UUID, columns map[string]any) error {
	if tx == nil {
		return errTxRequired
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(columns).Error
}

func lastError(err error) *string {
	if err == nil {
		return nil
	}
	msg := clip(err.Error(), maxLastErrorLen)
	return &msg
}
