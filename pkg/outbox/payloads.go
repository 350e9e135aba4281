package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReservationCreated is the data of a reservation_created event.
type ReservationCreated struct {
	ReservationID int64     `json:"reservationId"`
	UserID        uuid.UUID `json:"userId"`
	LotID         int64     `json:"lotId"`
	SpotID        int64     `json:"spotId"`
	SpotNumber    string    `json:"spotNumber"`
	StartTime     time.Time `json:"startTime"`
}

// ReservationReleased is the data of a reservation_released event.
type ReservationReleased struct {
	ReservationID   int64           `json:"reservationId"`
	UserID          uuid.UUID       `json:"userId"`
	SpotID          int64           `json:"spotId"`
	EndTime         time.Time       `json:"endTime"`
	DurationSeconds int64           `json:"durationSeconds"`
	HoursCharged    int64           `json:"hoursCharged"`
	Cost            decimal.Decimal `json:"cost"`
	Recalculated    bool            `json:"recalculated"`
}

// ReminderRequested asks the notification pipeline to nudge an idle user.
type ReminderRequested struct {
	UserID          uuid.UUID  `json:"userId"`
	Email           string     `json:"email"`
	Username        string     `json:"username"`
	LastReservation *time.Time `json:"lastReservation,omitempty"`
	CutoffDays      int        `json:"cutoffDays"`
}
