package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParkingLot groups spots that share an hourly rate.
type ParkingLot struct {
	ID           int64           `gorm:"primaryKey;autoIncrement"`
	Name         string          `gorm:"column:name;type:text;not null"`
	Address      string          `gorm:"column:address;type:text;not null;default:''"`
	PricePerHour decimal.Decimal `gorm:"column:price_per_hour;type:numeric(10,2);not null;default:0"`
	Capacity     int             `gorm:"column:capacity;not null;default:0"`
	CreatedAt    time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;autoUpdateTime"`
	Spots        []ParkingSpot   `gorm:"foreignKey:LotID;constraint:OnDelete:CASCADE"`
}

func (ParkingLot) TableName() string { return "parking_lots" }
