package outbox

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/contentstudio-backend/pkg/db/models"
	"github.com/angelmondragon/contentstudio-backend/pkg/pagination"
)

const maxDLQErrorLen = 1024

// ErrNotDeadLettered is returned by Requeue for an event with no DLQ entry.
var ErrNotDeadLettered = errors.New("event is not dead-lettered")

// DLQRepository holds outbox rows the relay gave up on, for inspection and
// manual requeue.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx records a dead letter inside the relay's batch transaction.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage, maxDLQErrorLen)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// Recent lists dead letters, newest failure first.
func (r *DLQRepository) Recent(ctx context.Context, limit int) ([]models.OutboxDLQ, error) {
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Order("failed_at DESC, id DESC").
		Limit(pagination.NormalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// Requeue puts a dead-lettered event back in the pending set with a fresh
// attempt budget. Rows already pruned by retention are recreated from the
// DLQ copy under their original id so consumers still dedupe on it.
func (r *DLQRepository) Requeue(ctx context.Context, eventID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		err := tx.Where("event_id = ?", eventID).Order("failed_at DESC").First(&entry).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotDeadLettered
		}
		if err != nil {
			return err
		}

		res := tx.Model(&models.OutboxEvent{}).
			Where("id = ?", eventID).
			Updates(map[string]any{
				"published_at":  nil,
				"attempt_count": 0,
				"last_error":    nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			restored := models.OutboxEvent{
				ID:            eventID,
				EventType:     entry.EventType,
				AggregateType: entry.AggregateType,
				AggregateID:   entry.AggregateID,
				Payload:       entry.Payload,
			}
			if err := tx.Create(&restored).Error; err != nil {
				return err
			}
		}
		return tx.Where("event_id = ?", eventID).Delete(&models.OutboxDLQ{}).Error
	})
}

// clip truncates to at most n bytes without splitting a UTF-8 sequence.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
