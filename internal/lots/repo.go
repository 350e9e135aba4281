package lots

import (
	"context"
	"errors"

	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"gorm.io/gorm"
)

// Repository persists parking lots. Spot rows are owned by internal/spots.
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

func (r *Repository) Create(ctx context.Context, lot *models.ParkingLot) error {
	return r.db.WithContext(ctx).Omit("Spots").Create(lot).Error
}

// FindByID returns the lot or gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.ParkingLot, error) {
	var lot models.ParkingLot
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&lot).Error; err != nil {
		return nil, err
	}
	return &lot, nil
}

// Exists reports whether a lot with id exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	_, err := r.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) List(ctx context.Context) ([]models.ParkingLot, error) {
	var lots []models.ParkingLot
	err := r.db.WithContext(ctx).Order("id ASC").Find(&lots).Error
	return lots, err
}

func (r *Repository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ParkingLot{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ErrSpotsInUse is returned by Delete when a spot of the lot is not
// Available at delete time. The caller's transaction must be rolled back.
var ErrSpotsInUse = errors.New("lot has spots in use")

// Delete removes the lot, its spots and their reservation history. Only
// Available spots are deleted; if any spot was claimed in the meantime the
// delete reports ErrSpotsInUse.
func (r *Repository) Delete(ctx context.Context, id int64) (bool, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ParkingSpot{}).Where("lot_id = ?", id).Count(&total).Error; err != nil {
		return false, err
	}
	spotIDs := r.db.Session(&gorm.Session{NewDB: true}).
		Model(&models.ParkingSpot{}).
		Select("id").
		Where("lot_id = ?", id)
	if err := r.db.WithContext(ctx).Where("spot_id IN (?)", spotIDs).Delete(&models.Reservation{}).Error; err != nil {
		return false, err
	}
	spots := r.db.WithContext(ctx).
		Where("lot_id = ? AND status = ?", id, enums.SpotStatusAvailable).
		Delete(&models.ParkingSpot{})
	if spots.Error != nil {
		return false, spots.Error
	}
	if spots.RowsAffected != total {
		return false, ErrSpotsInUse
	}
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ParkingLot{})
	return res.RowsAffected == 1, res.Error
}
