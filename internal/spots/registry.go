package spots

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"gorm.io/gorm"
)

// Registry owns spot allocation: the conditional claim, the unconditional
// release and capacity resizing.
type Registry struct {
	store   Store
	db      db.TxRunner
	retry   RetryStrategy
	metrics *metrics.ReservationMetrics
	logg    *logger.Logger
	now     func() time.Time
}

type RegistryParams struct {
	Store   Store
	DB      db.TxRunner
	Retry   RetryStrategy
	Metrics *metrics.ReservationMetrics
	Logger  *logger.Logger
	Now     func() time.Time
}

func NewRegistry(p RegistryParams) (*Registry, error) {
	if p.Store == nil {
		return nil, errors.New("spot store required")
	}
	if p.Retry.MaxAttempts == 0 && p.Retry.Backoff == nil {
		p.Retry = DefaultRetryStrategy()
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Registry{
		store:   p.Store,
		db:      p.DB,
		retry:   p.Retry,
		metrics: p.Metrics,
		logg:    p.Logger,
		now:     p.Now,
	}, nil
}

// ClaimFirstAvailable occupies the lowest-id Available spot of the lot.
// A lost race re-selects and retries within the retry budget.
func (r *Registry) ClaimFirstAvailable(ctx context.Context, lotID int64) (*models.ParkingSpot, error) {
	var claimed *models.ParkingSpot

	won, err := r.retry.Run(ctx, func(ctx context.Context, attempt int) (bool, error) {
		spot, err := r.store.FirstAvailable(ctx, lotID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select available spot")
		}
		if spot == nil {
			r.metrics.ObserveClaim(metrics.ClaimEmpty)
			return false, pkgerrors.New(pkgerrors.CodeNoSpotsAvailable, "no spots available in this lot").
				WithDetails(map[string]any{"lot_id": lotID})
		}

		at := r.now().UTC()
		ok, err := r.store.CompareAndSwapStatus(ctx, spot.ID, enums.SpotStatusAvailable, enums.SpotStatusOccupied, at)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim spot")
		}
		if !ok {
			r.metrics.ObserveClaim(metrics.ClaimLost)
			r.debug(ctx, lotID, spot.ID, attempt, "spot claim lost race")
			return false, nil
		}

		r.metrics.ObserveClaim(metrics.ClaimWon)
		spot.Status = enums.SpotStatusOccupied
		spot.UpdatedAt = at
		claimed = spot
		return true, nil
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim spot")
		}
		return nil, err
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeConcurrentConflict, "spot claim kept losing to concurrent requests").
			WithDetails(map[string]any{"lot_id": lotID, "attempts": r.retry.MaxAttempts})
	}
	return claimed, nil
}

// Release marks the spot Available. It is idempotent.
func (r *Registry) Release(ctx context.Context, spotID int64) error {
	if err := r.store.SetAvailable(ctx, spotID, r.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release spot")
	}
	return nil
}

// ResizeResult reports what a resize changed.
type ResizeResult struct {
	Added   []models.ParkingSpot
	Removed int64
}

// ResizeTx grows or shrinks the lot to target spots inside tx. Growth numbers
// new spots after the highest numeric label. Shrinking removes the newest
// Available spots and fails without removing anything when there are too few.
func (r *Registry) ResizeTx(ctx context.Context, tx *gorm.DB, lotID int64, target int) (ResizeResult, error) {
	if target < 0 {
		return ResizeResult{}, pkgerrors.New(pkgerrors.CodeValidation, "capacity must be non-negative")
	}
	repo := NewRepository(tx)

	current, err := repo.CountByLot(ctx, lotID)
	if err != nil {
		return ResizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count spots")
	}

	switch delta := int64(target) - current; {
	case delta > 0:
		highest, err := repo.MaxNumericLabel(ctx, lotID)
		if err != nil {
			return ResizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load spot labels")
		}
		numbers := make([]string, 0, delta)
		for i := int64(1); i <= delta; i++ {
			numbers = append(numbers, strconv.Itoa(highest+int(i)))
		}
		added, err := repo.CreateNumbered(ctx, lotID, numbers, r.now().UTC())
		if err != nil {
			return ResizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create spots")
		}
		return ResizeResult{Added: added}, nil

	case delta < 0:
		need := -delta
		ids, err := repo.NewestAvailableIDs(ctx, lotID, int(need))
		if err != nil {
			return ResizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select free spots")
		}
		if int64(len(ids)) < need {
			return ResizeResult{}, insufficientFree(lotID, need, int64(len(ids)))
		}
		removed, err := repo.DeleteIfAvailable(ctx, ids)
		if err != nil {
			return ResizeResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete spots")
		}
		if removed < need {
			return ResizeResult{}, insufficientFree(lotID, need, removed)
		}
		return ResizeResult{Removed: removed}, nil
	}
	return ResizeResult{}, nil
}

// Resize runs ResizeTx in its own transaction.
func (r *Registry) Resize(ctx context.Context, lotID int64, target int) (ResizeResult, error) {
	if r.db == nil {
		return ResizeResult{}, errors.New("resize requires a transaction runner")
	}
	var result ResizeResult
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = r.ResizeTx(ctx, tx, lotID, target)
		return err
	})
	return result, err
}

func insufficientFree(lotID, requested, free int64) error {
	return pkgerrors.New(pkgerrors.CodeInsufficientFreeSpots,
		fmt.Sprintf("cannot remove %d spots, only %d are free", requested, free)).
		WithDetails(map[string]any{"lot_id": lotID, "requested": requested, "free": free})
}

func (r *Registry) debug(ctx context.Context, lotID, spotID int64, attempt int, msg string) {
	if r.logg == nil {
		return
	}
	r.logg.Debug(r.logg.WithFields(ctx, map[string]any{
		"lot_id":  lotID,
		"spot_id": spotID,
		"attempt": attempt,
	}), msg)
}
