package controllers

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/internal/analytics/types"
	"github.com/parkez/parkez-backend/internal/auth"
	"github.com/parkez/parkez-backend/internal/booking"
	"github.com/parkez/parkez-backend/internal/lots"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/users"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/pagination"
)

// AuthService is the account surface the auth handlers need.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*users.UserDTO, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.LoginResponse, error)
	Logout(ctx context.Context, accessID string) error
}

type PublicLotService interface {
	Summaries(ctx context.Context) ([]lots.Summary, error)
	PublicSpots(ctx context.Context, lotID int64) ([]lots.PublicSpot, error)
}

type AdminLotService interface {
	Create(ctx context.Context, in lots.CreateInput) (*models.ParkingLot, error)
	Update(ctx context.Context, id int64, in lots.UpdateInput) (*lots.UpdateResult, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*models.ParkingLot, error)
	Summaries(ctx context.Context) ([]lots.Summary, error)
	Spots(ctx context.Context, lotID int64) (*lots.LotSpots, error)
	RenameSpot(ctx context.Context, lotID, spotID int64, number string) error
}

type BookingService interface {
	Reserve(ctx context.Context, req booking.Requester, in booking.ReserveInput) (*booking.ReserveResult, error)
	Release(ctx context.Context, req booking.Requester, reservationID int64, in booking.ReleaseInput) (*booking.ReleaseResult, error)
}

type HistoryService interface {
	ForUser(ctx context.Context, userID uuid.UUID, q reservations.HistoryQuery) ([]reservations.Entry, error)
}

type ExportService interface {
	WriteUserCSV(ctx context.Context, w io.Writer, userID uuid.UUID) (int, error)
}

type UserAdminService interface {
	List(ctx context.Context, params pagination.Params) (*users.Page, error)
	Get(ctx context.Context, id uuid.UUID) (*users.UserDTO, error)
	Delete(ctx context.Context, actorID, targetID uuid.UUID) error
}

type AnalyticsService interface {
	Summary(ctx context.Context) (*types.Summary, error)
}
