package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeSeriesPoint describes a single date/value pair.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"count"`
}

// LotRevenue is the summed cost of every closed reservation in one lot.
type LotRevenue struct {
	LotID   int64           `json:"lot_id" gorm:"column:lot_id"`
	LotName string          `json:"lot_name" gorm:"column:lot_name"`
	Revenue decimal.Decimal `json:"revenue" gorm:"column:revenue"`
}

// LotOccupancy is the live spot split of one lot.
type LotOccupancy struct {
	LotID      int64  `json:"lot_id" gorm:"column:lot_id"`
	LotName    string `json:"lot_name" gorm:"column:lot_name"`
	TotalSpots int64  `json:"total_spots" gorm:"column:total_spots"`
	Occupied   int64  `json:"occupied" gorm:"column:occupied"`
	Available  int64  `json:"available" gorm:"column:available"`
}

// RecentReservation is a reservation enriched for the admin dashboard.
type RecentReservation struct {
	ID         int64            `json:"id" gorm:"column:id"`
	UserID     uuid.UUID        `json:"user_id" gorm:"column:user_id"`
	Username   *string          `json:"username" gorm:"column:username"`
	LotID      *int64           `json:"lot_id" gorm:"column:lot_id"`
	LotName    *string          `json:"lot_name" gorm:"column:lot_name"`
	SpotNumber *string          `json:"spot_number" gorm:"column:spot_number"`
	StartTime  time.Time        `json:"start_time" gorm:"column:start_time"`
	EndTime    *time.Time       `json:"end_time" gorm:"column:end_time"`
	Cost       *decimal.Decimal `json:"cost" gorm:"column:cost"`
	Notes      *string          `json:"notes" gorm:"column:notes"`
}

// Summary is the admin analytics payload.
type Summary struct {
	TotalRevenue           decimal.Decimal     `json:"total_revenue"`
	RevenuePerLot          []LotRevenue        `json:"revenue_per_lot"`
	Occupancy              []LotOccupancy      `json:"occupancy"`
	ReservationsLast30Days []TimeSeriesPoint   `json:"reservations_last_30_days"`
	RecentReservations     []RecentReservation `json:"recent_reservations"`
	GeneratedAt            time.Time           `json:"generated_at"`
}
