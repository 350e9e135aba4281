package spots

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"gorm.io/gorm"
)

// Store is the storage surface of the claim protocol. Status is only ever
// written by CompareAndSwapStatus or SetAvailable.
type Store interface {
	FirstAvailable(ctx context.Context, lotID int64) (*models.ParkingSpot, error)
	CompareAndSwapStatus(ctx context.Context, spotID int64, from, to enums.SpotStatus, at time.Time) (bool, error)
	SetAvailable(ctx context.Context, spotID int64, at time.Time) error
}

// StatusCounts is the available/occupied split of one lot.
type StatusCounts struct {
	LotID     int64 `json:"lot_id"`
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Occupied  int64 `json:"occupied"`
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

// FirstAvailable returns the Available spot with the lowest id, or nil when the lot is full.
func (r *Repository) FirstAvailable(ctx context.Context, lotID int64) (*models.ParkingSpot, error) {
	var spot models.ParkingSpot
	err := r.db.WithContext(ctx).
		Where("lot_id = ? AND status = ?", lotID, enums.SpotStatusAvailable).
		Order("id ASC").
		Limit(1).
		Take(&spot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &spot, nil
}

// CompareAndSwapStatus moves a spot from one status to another only if it
// still holds the expected status at write time.
func (r *Repository) CompareAndSwapStatus(ctx context.Context, spotID int64, from, to enums.SpotStatus, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("id = ? AND status = ?", spotID, from).
		UpdateColumns(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SetAvailable releases a spot unconditionally. Releasing a free spot is a no-op.
func (r *Repository) SetAvailable(ctx context.Context, spotID int64, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("id = ?", spotID).
		UpdateColumns(map[string]any{"status": enums.SpotStatusAvailable, "updated_at": at}).Error
}

func (r *Repository) FindByID(ctx context.Context, spotID int64) (*models.ParkingSpot, error) {
	var spot models.ParkingSpot
	if err := r.db.WithContext(ctx).Where("id = ?", spotID).Take(&spot).Error; err != nil {
		return nil, err
	}
	return &spot, nil
}

func (r *Repository) ListByLot(ctx context.Context, lotID int64) ([]models.ParkingSpot, error) {
	var spots []models.ParkingSpot
	err := r.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("id ASC").
		Find(&spots).Error
	return spots, err
}

func (r *Repository) CountByLot(ctx context.Context, lotID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ParkingSpot{}).Where("lot_id = ?", lotID).Count(&count).Error
	return count, err
}

// CountOccupied returns the number of Occupied spots in the lot.
func (r *Repository) CountOccupied(ctx context.Context, lotID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("lot_id = ? AND status = ?", lotID, enums.SpotStatusOccupied).
		Count(&count).Error
	return count, err
}

// StatusCounts aggregates per-lot totals for every lot that has spots.
func (r *Repository) StatusCounts(ctx context.Context) ([]StatusCounts, error) {
	var rows []StatusCounts
	err := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Select("lot_id, COUNT(*) AS total, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS available, "+
			"SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS occupied",
			enums.SpotStatusAvailable, enums.SpotStatusOccupied).
		Group("lot_id").
		Order("lot_id ASC").
		Scan(&rows).Error
	return rows, err
}

// CreateNumbered inserts Available spots labelled with the given numbers.
func (r *Repository) CreateNumbered(ctx context.Context, lotID int64, numbers []string, at time.Time) ([]models.ParkingSpot, error) {
	if len(numbers) == 0 {
		return nil, nil
	}
	spots := make([]models.ParkingSpot, 0, len(numbers))
	for _, n := range numbers {
		spots = append(spots, models.ParkingSpot{
			LotID:     lotID,
			Number:    n,
			Status:    enums.SpotStatusAvailable,
			UpdatedAt: at,
		})
	}
	if err := r.db.WithContext(ctx).Create(&spots).Error; err != nil {
		return nil, err
	}
	return spots, nil
}

// MaxNumericLabel returns the highest spot label that parses as an integer, or 0.
func (r *Repository) MaxNumericLabel(ctx context.Context, lotID int64) (int, error) {
	var labels []string
	if err := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("lot_id = ?", lotID).
		Pluck("number", &labels).Error; err != nil {
		return 0, err
	}
	highest := 0
	for _, label := range labels {
		if n, err := strconv.Atoi(label); err == nil && n > highest {
			highest = n
		}
	}
	return highest, nil
}

// NewestAvailableIDs returns up to limit Available spot ids, newest first.
func (r *Repository) NewestAvailableIDs(ctx context.Context, lotID int64, limit int) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("lot_id = ? AND status = ?", lotID, enums.SpotStatusAvailable).
		Order("id DESC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// DeleteIfAvailable removes the given spots that are still Available and
// returns how many were removed.
func (r *Repository) DeleteIfAvailable(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Where("id IN ? AND status = ?", ids, enums.SpotStatusAvailable).
		Delete(&models.ParkingSpot{})
	return res.RowsAffected, res.Error
}

func (r *Repository) UpdateNumber(ctx context.Context, lotID, spotID int64, number string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ParkingSpot{}).
		Where("id = ? AND lot_id = ?", spotID, lotID).
		UpdateColumn("number", number)
	return res.RowsAffected == 1, res.Error
}

// ReleaseOrphaned frees Occupied spots with no open reservation whose status
// has not changed since cutoff. It returns the ids of the lots it touched.
func (r *Repository) ReleaseOrphaned(ctx context.Context, cutoff, at time.Time) ([]int64, error) {
	var candidates []models.ParkingSpot
	if err := r.db.WithContext(ctx).
		Where("status = ? AND (updated_at IS NULL OR updated_at < ?)", enums.SpotStatusOccupied, cutoff).
		Where("NOT EXISTS (?)", r.openReservationFor()).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	lots := make([]int64, 0, len(candidates))
	seen := map[int64]struct{}{}
	for _, spot := range candidates {
		res := r.db.WithContext(ctx).
			Model(&models.ParkingSpot{}).
			Where("id = ? AND status = ? AND (updated_at IS NULL OR updated_at < ?)", spot.ID, enums.SpotStatusOccupied, cutoff).
			Where("NOT EXISTS (?)", r.openReservationFor()).
			UpdateColumns(map[string]any{"status": enums.SpotStatusAvailable, "updated_at": at})
		if res.Error != nil {
			return lots, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}
		if _, ok := seen[spot.LotID]; !ok {
			seen[spot.LotID] = struct{}{}
			lots = append(lots, spot.LotID)
		}
	}
	return lots, nil
}

func (r *Repository) openReservationFor() *gorm.DB {
	return r.db.Session(&gorm.Session{NewDB: true}).
		Model(&models.Reservation{}).
		Select("1").
		Where("reservations.spot_id = parking_spots.id AND reservations.end_time IS NULL")
}
