package lots

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/internal/pricing"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type resizer interface {
	ResizeTx(ctx context.Context, tx *gorm.DB, lotID int64, target int) (spots.ResizeResult, error)
}

type CreateInput struct {
	Name         string
	Address      string
	PricePerHour decimal.Decimal
	Capacity     int
}

// UpdateInput carries a partial lot update; nil fields are left unchanged.
type UpdateInput struct {
	Name         *string
	Address      *string
	PricePerHour *decimal.Decimal
	Capacity     *int
}

type UpdateResult struct {
	Lot          *models.ParkingLot `json:"lot"`
	SpotsAdded   int                `json:"spots_added"`
	SpotsRemoved int64              `json:"spots_removed"`
}

// Summary is a lot with its live occupancy.
type Summary struct {
	ID           int64           `json:"id"`
	Name         string          `json:"name"`
	Address      string          `json:"address"`
	PricePerHour decimal.Decimal `json:"price_per_hour"`
	Capacity     int             `json:"capacity"`
	TotalSpots   int64           `json:"total_spots"`
	Occupied     int64           `json:"occupied"`
	Available    int64           `json:"available"`
}

// PublicSpot is the anonymous view of a spot.
type PublicSpot struct {
	ID     int64            `json:"id"`
	Number string           `json:"number"`
	Status enums.SpotStatus `json:"status"`
}

// SpotDetail is the admin view of a spot with its open reservation, if any.
type SpotDetail struct {
	ID          int64             `json:"id"`
	Number      string            `json:"number"`
	Status      enums.SpotStatus  `json:"status"`
	StatusLabel string            `json:"status_label"`
	Reservation *ActiveOccupation `json:"reservation,omitempty"`
}

// ActiveOccupation describes an open reservation and what it would cost if
// it ended now. The estimate is never stored.
type ActiveOccupation struct {
	ReservationID int64          `json:"reservation_id"`
	UserID        uuid.UUID      `json:"user_id"`
	StartTime     time.Time      `json:"start_time"`
	Estimate      pricing.Charge `json:"estimate"`
}

type LotSpots struct {
	Lot   *models.ParkingLot `json:"lot"`
	Spots []SpotDetail       `json:"spots"`
}

type ServiceParams struct {
	DB      db.TxRunner
	Repo    *Repository
	Spots   *spots.Repository
	Resizer resizer
	Ledger  *reservations.Repository
	Cache   *cache.Cache
	Logger  *logger.Logger
	Now     func() time.Time
}

// Service is the admin surface for lots and spots.
type Service struct {
	db      db.TxRunner
	repo    *Repository
	spots   *spots.Repository
	resizer resizer
	ledger  *reservations.Repository
	cache   *cache.Cache
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("tx runner required")
	case p.Repo == nil:
		return nil, errors.New("lot repository required")
	case p.Spots == nil:
		return nil, errors.New("spot repository required")
	case p.Resizer == nil:
		return nil, errors.New("spot resizer required")
	case p.Ledger == nil:
		return nil, errors.New("reservation repository required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Service{
		db:      p.DB,
		repo:    p.Repo,
		spots:   p.Spots,
		resizer: p.Resizer,
		ledger:  p.Ledger,
		cache:   p.Cache,
		logg:    p.Logger,
		now:     p.Now,
	}, nil
}

// Create inserts the lot with spots numbered 1..capacity, all Available.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.ParkingLot, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if in.PricePerHour.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_per_hour must be non-negative")
	}
	if in.Capacity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be non-negative")
	}

	lot := &models.ParkingLot{
		Name:         name,
		Address:      strings.TrimSpace(in.Address),
		PricePerHour: in.PricePerHour,
		Capacity:     in.Capacity,
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, lot); err != nil {
			return err
		}
		numbers := make([]string, 0, in.Capacity)
		for i := 1; i <= in.Capacity; i++ {
			numbers = append(numbers, strconv.Itoa(i))
		}
		_, err := s.spots.WithTx(tx).CreateNumbered(ctx, lot.ID, numbers, s.now().UTC())
		return err
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create parking lot")
	}

	s.logg.Info(s.logg.WithLotID(ctx, lot.ID), "parking lot created")
	s.invalidate(ctx, lot.ID)
	return lot, nil
}

// Update applies the patch. A capacity change resizes the spot set in the
// same transaction and fails as a whole when too few spots are free.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*UpdateResult, error) {
	updates := map[string]any{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "name must not be empty")
		}
		updates["name"] = name
	}
	if in.Address != nil {
		updates["address"] = strings.TrimSpace(*in.Address)
	}
	if in.PricePerHour != nil {
		if in.PricePerHour.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price_per_hour must be non-negative")
		}
		updates["price_per_hour"] = *in.PricePerHour
	}
	if in.Capacity != nil && *in.Capacity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be non-negative")
	}

	result := &UpdateResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, id); err != nil {
			return err
		}
		if in.Capacity != nil {
			resized, err := s.resizer.ResizeTx(ctx, tx, id, *in.Capacity)
			if err != nil {
				return err
			}
			result.SpotsAdded = len(resized.Added)
			result.SpotsRemoved = resized.Removed
			updates["capacity"] = *in.Capacity
		}
		if err := repo.Update(ctx, id, updates); err != nil {
			return err
		}
		lot, err := repo.FindByID(ctx, id)
		result.Lot = lot
		return err
	})
	if err != nil {
		return nil, s.mapLotError(err, id, "update parking lot")
	}

	s.invalidate(ctx, id)
	return result, nil
}

// Delete removes the lot unless a spot is still occupied.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, id); err != nil {
			return err
		}
		occupied, err := s.spots.WithTx(tx).CountOccupied(ctx, id)
		if err != nil {
			return err
		}
		if occupied > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "lot has occupied spots").
				WithDetails(map[string]any{"lot_id": id, "occupied": occupied})
		}
		_, err = repo.Delete(ctx, id)
		if errors.Is(err, ErrSpotsInUse) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "lot has occupied spots").
				WithDetails(map[string]any{"lot_id": id})
		}
		return err
	})
	if err != nil {
		return s.mapLotError(err, id, "delete parking lot")
	}

	s.logg.Info(s.logg.WithLotID(ctx, id), "parking lot deleted")
	s.invalidate(ctx, id)
	return nil
}

func (s *Service) Get(ctx context.Context, id int64) (*models.ParkingLot, error) {
	lot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapLotError(err, id, "load parking lot")
	}
	return lot, nil
}

func (s *Service) List(ctx context.Context) ([]models.ParkingLot, error) {
	lots, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list parking lots")
	}
	return lots, nil
}

// Summaries returns every lot with its occupancy, served from cache when warm.
func (s *Service) Summaries(ctx context.Context) ([]Summary, error) {
	return cache.Remember(ctx, s.cache, pkgredis.LotsSummaryKey(), s.loadSummaries)
}

func (s *Service) loadSummaries(ctx context.Context) ([]Summary, error) {
	lots, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list parking lots")
	}
	counts, err := s.spots.StatusCounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count spots")
	}
	byLot := make(map[int64]spots.StatusCounts, len(counts))
	for _, c := range counts {
		byLot[c.LotID] = c
	}

	out := make([]Summary, 0, len(lots))
	for _, lot := range lots {
		c := byLot[lot.ID]
		out = append(out, Summary{
			ID:           lot.ID,
			Name:         lot.Name,
			Address:      lot.Address,
			PricePerHour: lot.PricePerHour,
			Capacity:     lot.Capacity,
			TotalSpots:   c.Total,
			Occupied:     c.Occupied,
			Available:    c.Available,
		})
	}
	return out, nil
}

// PublicSpots lists spot numbers and statuses, served from cache when warm.
func (s *Service) PublicSpots(ctx context.Context, lotID int64) ([]PublicSpot, error) {
	return cache.Remember(ctx, s.cache, pkgredis.LotSpotsKey(lotID), func(ctx context.Context) ([]PublicSpot, error) {
		if _, err := s.Get(ctx, lotID); err != nil {
			return nil, err
		}
		rows, err := s.spots.ListByLot(ctx, lotID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list spots")
		}
		out := make([]PublicSpot, 0, len(rows))
		for _, spot := range rows {
			out = append(out, PublicSpot{ID: spot.ID, Number: spot.Number, Status: spot.Status})
		}
		return out, nil
	})
}

// Spots is the admin spot view. It is computed live because estimates move with the clock.
func (s *Service) Spots(ctx context.Context, lotID int64) (*LotSpots, error) {
	lot, err := s.Get(ctx, lotID)
	if err != nil {
		return nil, err
	}
	rows, err := s.spots.ListByLot(ctx, lotID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list spots")
	}
	active, err := s.ledger.ListActiveByLot(ctx, lotID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active reservations")
	}
	bySpot := make(map[int64]models.Reservation, len(active))
	for _, res := range active {
		bySpot[res.SpotID] = res
	}

	now := s.now().UTC()
	out := &LotSpots{Lot: lot, Spots: make([]SpotDetail, 0, len(rows))}
	for _, spot := range rows {
		detail := SpotDetail{
			ID:          spot.ID,
			Number:      spot.Number,
			Status:      spot.Status,
			StatusLabel: spot.Status.Label(),
		}
		if res, ok := bySpot[spot.ID]; ok {
			estimate, _ := pricing.Estimate(&res.StartTime, lot.PricePerHour, now)
			detail.Reservation = &ActiveOccupation{
				ReservationID: res.ID,
				UserID:        res.UserID,
				StartTime:     res.StartTime,
				Estimate:      estimate,
			}
		}
		out.Spots = append(out.Spots, detail)
	}
	return out, nil
}

// RenameSpot changes a spot label. Status is never touched here.
func (s *Service) RenameSpot(ctx context.Context, lotID, spotID int64, number string) error {
	number = strings.TrimSpace(number)
	if number == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "number is required")
	}
	ok, err := s.spots.UpdateNumber(ctx, lotID, spotID, number)
	if err != nil {
		if db.IsUniqueViolation(err, "ux_parking_spots_lot_number") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "spot number already used in this lot")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rename spot")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "spot not found").
			WithDetails(map[string]any{"lot_id": lotID, "spot_id": spotID})
	}
	s.invalidate(ctx, lotID)
	return nil
}

// InvalidateLots drops the summary and spot list of each lot.
func (s *Service) InvalidateLots(ctx context.Context, lotIDs ...int64) {
	keys := []string{pkgredis.LotsSummaryKey(), pkgredis.AnalyticsSummaryKey()}
	for _, id := range lotIDs {
		keys = append(keys, pkgredis.LotSpotsKey(id))
	}
	s.cache.Invalidate(ctx, keys...)
}

func (s *Service) invalidate(ctx context.Context, lotID int64) {
	s.InvalidateLots(ctx, lotID)
}

func (s *Service) mapLotError(err error, id int64, action string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeLotNotFound, "parking lot not found").
			WithDetails(map[string]any{"lot_id": id})
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, action)
}
