package models

import (
	"time"

	"github.com/parkez/parkez-backend/pkg/enums"
)

// ParkingSpot is a single allocatable space. Status only changes through
// the conditional claim or the unconditional release in internal/spots.
type ParkingSpot struct {
	ID        int64            `gorm:"primaryKey;autoIncrement"`
	LotID     int64            `gorm:"column:lot_id;not null;uniqueIndex:ux_parking_spots_lot_number,priority:1;index:ix_parking_spots_lot_status,priority:1"`
	Number    string           `gorm:"column:number;type:text;not null;uniqueIndex:ux_parking_spots_lot_number,priority:2"`
	Status    enums.SpotStatus `gorm:"column:status;type:varchar(1);not null;default:'A';index:ix_parking_spots_lot_status,priority:2"`
	CreatedAt time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `gorm:"column:updated_at"`
}

func (ParkingSpot) TableName() string { return "parking_spots" }
