package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	UserID *uuid.UUID
	LotID  *int64
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Detail is a reservation joined with its spot and lot.
type Detail struct {
	models.Reservation
	SpotNumber   string          `gorm:"column:spot_number"`
	LotID        int64           `gorm:"column:lot_id"`
	LotName      string          `gorm:"column:lot_name"`
	PricePerHour decimal.Decimal `gorm:"column:price_per_hour"`
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, res *models.Reservation) error {
	return r.db.WithContext(ctx).Create(res).Error
}

// FindByID returns gorm.ErrRecordNotFound when the reservation is absent.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.Reservation, error) {
	var res models.Reservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&res).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

// FindActiveByUser returns the user's open reservation or nil.
func (r *Repository) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND end_time IS NULL", userID).
		Take(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// FindActiveBySpot returns the spot's open reservation or nil.
func (r *Repository) FindActiveBySpot(ctx context.Context, spotID int64) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.WithContext(ctx).
		Where("spot_id = ? AND end_time IS NULL", spotID).
		Order("start_time DESC").
		Take(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// ListActiveByLot returns open reservations on the lot's spots.
func (r *Repository) ListActiveByLot(ctx context.Context, lotID int64) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Joins("JOIN parking_spots ON parking_spots.id = reservations.spot_id").
		Where("parking_spots.lot_id = ? AND reservations.end_time IS NULL", lotID).
		Find(&rows).Error
	return rows, err
}

// CloseOpen writes end_time, cost and notes in one conditional update so the
// end/cost check constraint always holds. It reports false if the reservation
// was already closed.
func (r *Repository) CloseOpen(ctx context.Context, id int64, end time.Time, cost decimal.Decimal, notes *string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ? AND end_time IS NULL", id).
		UpdateColumns(map[string]any{"end_time": end, "cost": cost, "notes": notes})
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) UpdateCostAndNotes(ctx context.Context, id int64, cost decimal.Decimal, notes *string) error {
	return r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{"cost": cost, "notes": notes}).Error
}

// List returns reservations matching f, newest start_time first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Detail, error) {
	q := r.db.WithContext(ctx).
		Table("reservations").
		Select("reservations.*, parking_spots.number AS spot_number, parking_spots.lot_id AS lot_id, " +
			"parking_lots.name AS lot_name, parking_lots.price_per_hour AS price_per_hour").
		Joins("JOIN parking_spots ON parking_spots.id = reservations.spot_id").
		Joins("JOIN parking_lots ON parking_lots.id = parking_spots.lot_id")
	if f.UserID != nil {
		q = q.Where("reservations.user_id = ?", *f.UserID)
	}
	if f.LotID != nil {
		q = q.Where("parking_spots.lot_id = ?", *f.LotID)
	}
	if f.From != nil {
		q = q.Where("reservations.start_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("reservations.start_time < ?", *f.To)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []Detail
	err := q.Order("reservations.start_time DESC").Order("reservations.id DESC").Scan(&rows).Error
	return rows, err
}

// LatestStartByUser returns each user's most recent start_time.
func (r *Repository) LatestStartByUser(ctx context.Context) (map[uuid.UUID]time.Time, error) {
	var rows []models.Reservation
	if err := r.db.WithContext(ctx).
		Select("user_id", "start_time").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]time.Time, len(rows))
	for _, row := range rows {
		if latest, ok := out[row.UserID]; !ok || row.StartTime.After(latest) {
			out[row.UserID] = row.StartTime
		}
	}
	return out, nil
}

func (r *Repository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.Reservation{})
	return res.RowsAffected, res.Error
}
