// Package booking runs the reservation state machine: claim a spot, open a
// reservation, close it, price it and give the spot back.
package booking

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/internal/lots"
	"github.com/parkez/parkez-backend/internal/pricing"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/parkez/parkez-backend/pkg/outbox"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	opReserve = "reserve"
	opRelease = "release"

	spotReleaseTimeout = 5 * time.Second
)

// Requester is the authenticated principal calling the service.
type Requester struct {
	UserID uuid.UUID
	Role   enums.UserRole
}

func (r Requester) IsAdmin() bool {
	return r.Role == enums.UserRoleAdmin
}

// Owns reports whether res belongs to the requester.
func (r Requester) Owns(res *models.Reservation) bool {
	return res != nil && res.UserID == r.UserID
}

type spotAllocator interface {
	ClaimFirstAvailable(ctx context.Context, lotID int64) (*models.ParkingSpot, error)
	Release(ctx context.Context, spotID int64) error
}

type lotLoader interface {
	FindByID(ctx context.Context, id int64) (*models.ParkingLot, error)
}

type ReserveInput struct {
	LotID int64
	Notes *string
}

type ReserveResult struct {
	Reservation *models.Reservation `json:"reservation"`
	Spot        *models.ParkingSpot `json:"spot"`
}

type ReleaseInput struct {
	Notes       *string
	Recalculate bool
}

type ReleaseResult struct {
	Reservation     *models.Reservation `json:"reservation"`
	Cost            decimal.Decimal     `json:"cost"`
	DurationSeconds int64               `json:"duration_seconds"`
	HoursCharged    int64               `json:"hours_charged"`
	LotPricePerHour decimal.Decimal     `json:"lot_price_per_hour"`
	AlreadyReleased bool                `json:"already_released"`
}

type Params struct {
	DB      db.TxRunner
	Spots   spotAllocator
	Ledger  *reservations.Ledger
	Lots    lotLoader
	Outbox  outbox.Emitter
	Cache   *cache.Cache
	Metrics *metrics.ReservationMetrics
	Logger  *logger.Logger
}

// Service orchestrates reserve and release across the spot registry, the
// reservation ledger and the outbox.
type Service struct {
	db      db.TxRunner
	spots   spotAllocator
	ledger  *reservations.Ledger
	lots    lotLoader
	outbox  outbox.Emitter
	cache   *cache.Cache
	metrics *metrics.ReservationMetrics
	logg    *logger.Logger
}

func NewService(p Params) (*Service, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("tx runner required")
	case p.Spots == nil:
		return nil, errors.New("spot allocator required")
	case p.Ledger == nil:
		return nil, errors.New("reservation ledger required")
	case p.Lots == nil:
		return nil, errors.New("lot loader required")
	case p.Outbox == nil:
		return nil, errors.New("outbox emitter required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Service{
		db:      p.DB,
		spots:   p.Spots,
		ledger:  p.Ledger,
		lots:    p.Lots,
		outbox:  p.Outbox,
		cache:   p.Cache,
		metrics: p.Metrics,
		logg:    p.Logger,
	}, nil
}

// Reserve claims the lowest-id free spot in the lot and opens a reservation
// on it. If the reservation cannot be written the spot is released again.
func (s *Service) Reserve(ctx context.Context, req Requester, in ReserveInput) (result *ReserveResult, err error) {
	defer func() { s.metrics.ObserveOperation(opReserve, resultLabel(err)) }()

	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "requester required")
	}
	if in.LotID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lot_id must be positive")
	}
	ctx = s.logg.WithLotID(s.logg.WithUserID(ctx, req.UserID.String()), in.LotID)

	lot, err := s.lots.FindByID(ctx, in.LotID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeLotNotFound, "parking lot not found").
				WithDetails(map[string]any{"lot_id": in.LotID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parking lot")
	}

	active, err := s.ledger.Active(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, reservations.AlreadyActive(active.ID)
	}

	spot, err := s.spots.ClaimFirstAvailable(ctx, lot.ID)
	if err != nil {
		return nil, err
	}

	var created *models.Reservation
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		res, err := s.ledger.WithTx(tx).Create(ctx, req.UserID, spot.ID, in.Notes)
		if err != nil {
			return err
		}
		created = res
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationCreated,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservationAggregateID(res.ID),
			Actor:         actor(req),
			Data: outbox.ReservationCreated{
				ReservationID: res.ID,
				UserID:        res.UserID,
				LotID:         lot.ID,
				SpotID:        spot.ID,
				SpotNumber:    spot.Number,
				StartTime:     res.StartTime,
			},
		})
	})
	if err != nil {
		s.compensateClaim(ctx, spot.ID, err)
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "open reservation")
		}
		return nil, err
	}

	s.invalidate(ctx, lot.ID, req.UserID)
	s.logg.Info(s.logg.WithReservationID(ctx, created.ID), "reservation opened")
	return &ReserveResult{Reservation: created, Spot: spot}, nil
}

// Release closes the reservation, prices it and frees its spot. Releasing a
// closed reservation is a no-op unless an admin asks for a recalculation,
// which rewrites the cost and leaves the spot alone.
func (s *Service) Release(ctx context.Context, req Requester, reservationID int64, in ReleaseInput) (result *ReleaseResult, err error) {
	defer func() { s.metrics.ObserveOperation(opRelease, resultLabel(err)) }()

	if req.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "requester required")
	}
	if reservationID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id must be positive")
	}
	ctx = s.logg.WithReservationID(s.logg.WithUserID(ctx, req.UserID.String()), reservationID)

	current, err := s.ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !req.IsAdmin() && !req.Owns(current) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "reservation belongs to another user")
	}
	recalculate := in.Recalculate && req.IsAdmin()

	var (
		outcome reservations.CloseOutcome
		rate    rateInfo
	)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if rate, err = s.rateFor(ctx, tx, current.SpotID); err != nil {
			return err
		}
		outcome, err = s.ledger.WithTx(tx).Close(ctx, reservationID, in.Notes, recalculate, rate.coster())
		if err != nil {
			return err
		}
		if !outcome.CostWritten {
			return nil
		}
		return s.emitReleased(ctx, tx, req, outcome, rate.price)
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
		}
		return nil, err
	}

	res := outcome.Reservation
	charge, _ := pricing.Compute(&res.StartTime, res.EndTime, rate.price)
	if !outcome.AlreadyReleased {
		s.releaseSpot(ctx, res.SpotID)
		s.metrics.ObserveHoursCharged(charge.HoursCharged)
	}
	if outcome.CostWritten {
		s.invalidate(ctx, rate.lotID, res.UserID)
	}

	cost := charge.Cost
	if res.Cost != nil {
		cost = *res.Cost
	}
	return &ReleaseResult{
		Reservation:     res,
		Cost:            cost,
		DurationSeconds: charge.DurationSeconds,
		HoursCharged:    charge.HoursCharged,
		LotPricePerHour: rate.price,
		AlreadyReleased: outcome.AlreadyReleased,
	}, nil
}

type rateInfo struct {
	lotID int64
	price decimal.Decimal
}

func (r rateInfo) coster() reservations.Coster {
	return func(_ context.Context, res *models.Reservation) (decimal.Decimal, error) {
		charge, ok := pricing.Compute(&res.StartTime, res.EndTime, r.price)
		if !ok {
			return decimal.Zero, errors.New("reservation has no end time")
		}
		return charge.Cost, nil
	}
}

// rateFor resolves the hourly rate of the lot owning spotID. A spot or lot
// that no longer exists prices at zero so the reservation can still close.
func (s *Service) rateFor(ctx context.Context, tx *gorm.DB, spotID int64) (rateInfo, error) {
	spot, err := spots.NewRepository(tx).FindByID(ctx, spotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "spot_id", spotID), "spot missing at release, pricing at zero")
		return rateInfo{price: decimal.Zero}, nil
	}
	if err != nil {
		return rateInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load spot")
	}
	lot, err := lots.NewRepository(tx).FindByID(ctx, spot.LotID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logg.Warn(s.logg.WithLotID(ctx, spot.LotID), "lot missing at release, pricing at zero")
		return rateInfo{lotID: spot.LotID, price: decimal.Zero}, nil
	}
	if err != nil {
		return rateInfo{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load parking lot")
	}
	return rateInfo{lotID: lot.ID, price: lot.PricePerHour}, nil
}

func (s *Service) emitReleased(ctx context.Context, tx *gorm.DB, req Requester, outcome reservations.CloseOutcome, price decimal.Decimal) error {
	res := outcome.Reservation
	charge, _ := pricing.Compute(&res.StartTime, res.EndTime, price)
	var cost decimal.Decimal
	if res.Cost != nil {
		cost = *res.Cost
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReleased,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservationAggregateID(res.ID),
		Actor:         actor(req),
		Data: outbox.ReservationReleased{
			ReservationID:   res.ID,
			UserID:          res.UserID,
			SpotID:          res.SpotID,
			EndTime:         *res.EndTime,
			DurationSeconds: charge.DurationSeconds,
			HoursCharged:    charge.HoursCharged,
			Cost:            cost,
			Recalculated:    outcome.AlreadyReleased,
		},
	})
}

// freeSpot releases spotID on a context detached from the request, so a
// client disconnect cannot strand the spot Occupied.
func (s *Service) freeSpot(ctx context.Context, spotID int64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), spotReleaseTimeout)
	defer cancel()
	return s.spots.Release(ctx, spotID)
}

// compensateClaim gives a claimed spot back after the reservation write failed.
func (s *Service) compensateClaim(ctx context.Context, spotID int64, cause error) {
	logCtx := s.logg.WithFields(ctx, map[string]any{"spot_id": spotID, "cause": cause.Error()})
	if err := s.freeSpot(ctx, spotID); err != nil {
		s.logg.Error(logCtx, "spot compensation failed, spot left occupied", err)
		return
	}
	s.logg.Warn(logCtx, "reservation write failed, spot claim rolled back")
}

// releaseSpot frees the spot after the reservation closed. Failures are
// logged; the consistency sweep frees the spot later.
func (s *Service) releaseSpot(ctx context.Context, spotID int64) {
	if err := s.freeSpot(ctx, spotID); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "spot_id", spotID), "spot release failed after close", err)
	}
}

func (s *Service) invalidate(ctx context.Context, lotID int64, userID uuid.UUID) {
	keys := []string{
		pkgredis.LotsSummaryKey(),
		pkgredis.UserReservationsKey(userID.String()),
		pkgredis.AnalyticsSummaryKey(),
	}
	if lotID > 0 {
		keys = append(keys, pkgredis.LotSpotsKey(lotID))
	}
	s.cache.Invalidate(ctx, keys...)
}

func actor(req Requester) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: req.UserID, Role: string(req.Role)}
}

func reservationAggregateID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return string(pkgerrors.CodeInternal)
}
