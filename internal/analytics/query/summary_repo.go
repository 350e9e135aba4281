package query

import (
	"context"
	"time"

	"github.com/parkez/parkez-backend/internal/analytics/types"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Repository runs the aggregate reads behind the admin summary.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// TotalRevenue sums the cost of every closed reservation.
func (r *Repository) TotalRevenue(ctx context.Context) (decimal.Decimal, error) {
	var row struct {
		Total decimal.NullDecimal `gorm:"column:total"`
	}
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Select("SUM(cost) AS total").
		Where("cost IS NOT NULL").
		Scan(&row).Error
	if err != nil || !row.Total.Valid {
		return decimal.Zero, err
	}
	return row.Total.Decimal, nil
}

// RevenueByLot returns revenue for every lot, highest first.
func (r *Repository) RevenueByLot(ctx context.Context) ([]types.LotRevenue, error) {
	var rows []types.LotRevenue
	err := r.db.WithContext(ctx).
		Table("parking_lots").
		Select("parking_lots.id AS lot_id, parking_lots.name AS lot_name, COALESCE(SUM(reservations.cost), 0) AS revenue").
		Joins("LEFT JOIN parking_spots ON parking_spots.lot_id = parking_lots.id").
		Joins("LEFT JOIN reservations ON reservations.spot_id = parking_spots.id").
		Group("parking_lots.id, parking_lots.name").
		Order("revenue DESC").
		Order("parking_lots.id ASC").
		Scan(&rows).Error
	return rows, err
}

// Occupancy returns the live spot split of every lot, including empty ones.
func (r *Repository) Occupancy(ctx context.Context) ([]types.LotOccupancy, error) {
	var rows []types.LotOccupancy
	err := r.db.WithContext(ctx).
		Table("parking_lots").
		Select("parking_lots.id AS lot_id, parking_lots.name AS lot_name, "+
			"COUNT(parking_spots.id) AS total_spots, "+
			"COALESCE(SUM(CASE WHEN parking_spots.status = ? THEN 1 ELSE 0 END), 0) AS occupied, "+
			"COALESCE(SUM(CASE WHEN parking_spots.status = ? THEN 1 ELSE 0 END), 0) AS available",
			enums.SpotStatusOccupied, enums.SpotStatusAvailable).
		Joins("LEFT JOIN parking_spots ON parking_spots.lot_id = parking_lots.id").
		Group("parking_lots.id, parking_lots.name").
		Order("parking_lots.id ASC").
		Scan(&rows).Error
	return rows, err
}

// StartsSince returns the start_time of every reservation starting at or after from.
func (r *Repository) StartsSince(ctx context.Context, from time.Time) ([]time.Time, error) {
	var starts []time.Time
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("start_time >= ?", from).
		Pluck("start_time", &starts).Error
	return starts, err
}

// Recent returns the newest reservations with whatever spot, lot and user
// details still resolve.
func (r *Repository) Recent(ctx context.Context, limit int) ([]types.RecentReservation, error) {
	var rows []types.RecentReservation
	err := r.db.WithContext(ctx).
		Table("reservations").
		Select("reservations.id, reservations.user_id, users.username, parking_lots.id AS lot_id, " +
			"parking_lots.name AS lot_name, parking_spots.number AS spot_number, reservations.start_time, " +
			"reservations.end_time, reservations.cost, reservations.notes").
		Joins("LEFT JOIN users ON users.id = reservations.user_id").
		Joins("LEFT JOIN parking_spots ON parking_spots.id = reservations.spot_id").
		Joins("LEFT JOIN parking_lots ON parking_lots.id = parking_spots.lot_id").
		Order("reservations.start_time DESC").
		Order("reservations.id DESC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}
