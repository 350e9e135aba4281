package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parkez/parkez-backend/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// FetchUnpublished returns the oldest pending rows that still have attempts left.
func (r *Repository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	return r.fetch(r.db.WithContext(ctx), limit, maxAttempts)
}

// FetchForPublish is FetchUnpublished with the rows locked FOR UPDATE SKIP
// LOCKED, so concurrent publishers split the backlog. SQLite ignores the lock.
func (r *Repository) FetchForPublish(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	q := r.conn(tx).WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	return r.fetch(q, limit, maxAttempts)
}

func (r *Repository) fetch(q *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	q = q.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	err := q.Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.MarkPublishedTx(ctx, nil, id, at)
}

func (r *Repository) MarkPublishedTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return r.conn(tx).WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": at,
			"last_error":   nil,
		}).Error
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	return r.MarkFailedTx(ctx, nil, id, cause)
}

func (r *Repository) MarkFailedTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error {
	return r.conn(tx).WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    cause.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminalTx records cause and raises attempt_count to attempts so the
// row is never fetched again.
func (r *Repository) MarkTerminalTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, attempts int) error {
	return r.conn(tx).WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    cause.Error(),
			"attempt_count": attempts,
		}).Error
}

// PurgeBefore deletes rows created before cutoff that were published or, when
// maxAttempts is positive, have used up their attempts.
func (r *Repository) PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error) {
	q := r.conn(tx).WithContext(ctx).Where("created_at < ?", cutoff)
	if maxAttempts > 0 {
		q = q.Where("published_at IS NOT NULL OR attempt_count >= ?", maxAttempts)
	} else {
		q = q.Where("published_at IS NOT NULL")
	}
	res := q.Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
