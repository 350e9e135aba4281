package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActiveReservationIndex enforces one open reservation per user.
const ActiveReservationIndex = "ux_reservations_user_active"

// Reservation is a time-bounded claim by a user on one spot. EndTime and
// Cost are written together, exactly once, when the reservation closes.
type Reservation struct {
	ID        int64            `gorm:"primaryKey;autoIncrement"`
	UserID    uuid.UUID        `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_reservations_user_active,where:end_time IS NULL;index:ix_reservations_user_start,priority:1"`
	SpotID    int64            `gorm:"column:spot_id;not null;index"`
	StartTime time.Time        `gorm:"column:start_time;not null;index:ix_reservations_user_start,priority:2"`
	EndTime   *time.Time       `gorm:"column:end_time"`
	Cost      *decimal.Decimal `gorm:"column:cost;type:numeric(10,2)"`
	Notes     *string          `gorm:"column:notes;type:text"`
}

func (Reservation) TableName() string { return "reservations" }

// IsActive reports whether the reservation is still open.
func (r Reservation) IsActive() bool {
	return r.EndTime == nil
}
