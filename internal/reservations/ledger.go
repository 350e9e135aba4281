package reservations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Coster prices a reservation whose end time is set.
type Coster func(ctx context.Context, res *models.Reservation) (decimal.Decimal, error)

// CloseOutcome describes what Close did.
type CloseOutcome struct {
	Reservation *models.Reservation
	// AlreadyReleased is set when the reservation was closed before this call.
	AlreadyReleased bool
	// CostWritten is set when this call stored a cost.
	CostWritten bool
}

// Ledger creates, queries and closes reservations while keeping at most one
// open reservation per user.
type Ledger struct {
	repo *Repository
	now  func() time.Time
}

func NewLedger(repo *Repository, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{repo: repo, now: now}
}

// WithTx binds the ledger to a transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{repo: l.repo.WithTx(tx), now: l.now}
}

// Active returns the user's open reservation, or nil.
func (l *Ledger) Active(ctx context.Context, userID uuid.UUID) (*models.Reservation, error) {
	res, err := l.repo.FindActiveByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active reservation")
	}
	return res, nil
}

func (l *Ledger) HasActiveReservation(ctx context.Context, userID uuid.UUID) (bool, error) {
	res, err := l.Active(ctx, userID)
	return res != nil, err
}

// Create opens a reservation starting now. The storage-level unique index on
// open reservations turns a lost check-then-insert race into UserAlreadyActive.
func (l *Ledger) Create(ctx context.Context, userID uuid.UUID, spotID int64, notes *string) (*models.Reservation, error) {
	active, err := l.Active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, AlreadyActive(active.ID)
	}

	res := &models.Reservation{
		UserID:    userID,
		SpotID:    spotID,
		StartTime: l.now().UTC(),
		Notes:     cleanNotes(notes),
	}
	if err := l.repo.Create(ctx, res); err != nil {
		if db.IsUniqueViolation(err, models.ActiveReservationIndex) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeUserAlreadyActive, err, "user already has an active reservation")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	return res, nil
}

// Get returns the reservation or ReservationNotFound.
func (l *Ledger) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	res, err := l.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeReservationNotFound, "reservation not found").
			WithDetails(map[string]any{"reservation_id": id})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	return res, nil
}

// Close sets end_time on an open reservation, appends notes and stores the
// cost from coster. A closed reservation is returned unchanged with
// AlreadyReleased set, unless recalculate asks for its cost to be rewritten.
func (l *Ledger) Close(ctx context.Context, id int64, notes *string, recalculate bool, coster Coster) (CloseOutcome, error) {
	res, err := l.Get(ctx, id)
	if err != nil {
		return CloseOutcome{}, err
	}

	if res.IsActive() {
		end := l.now().UTC()
		pending := *res
		pending.EndTime = &end
		pending.Notes = appendNotes(res.Notes, notes)
		cost, err := coster(ctx, &pending)
		if err != nil {
			return CloseOutcome{}, err
		}
		closed, err := l.repo.CloseOpen(ctx, id, end, cost, pending.Notes)
		if err != nil {
			return CloseOutcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close reservation")
		}
		if closed {
			pending.Cost = &cost
			return CloseOutcome{Reservation: &pending, CostWritten: true}, nil
		}
		// Lost to a concurrent close; continue from the winner's state.
		if res, err = l.Get(ctx, id); err != nil {
			return CloseOutcome{}, err
		}
	}

	out := CloseOutcome{Reservation: res, AlreadyReleased: true}
	if !recalculate {
		return out, nil
	}

	res.Notes = appendNotes(res.Notes, notes)
	cost, err := coster(ctx, res)
	if err != nil {
		return CloseOutcome{}, err
	}
	if err := l.repo.UpdateCostAndNotes(ctx, id, cost, res.Notes); err != nil {
		return CloseOutcome{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store reservation cost")
	}
	res.Cost = &cost
	out.CostWritten = true
	return out, nil
}

// List returns reservations matching f, newest first.
func (l *Ledger) List(ctx context.Context, f Filter) ([]Detail, error) {
	rows, err := l.repo.List(ctx, f)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	return rows, nil
}

// AlreadyActive reports that the user still holds the open reservation reservationID.
func AlreadyActive(reservationID int64) error {
	return pkgerrors.New(pkgerrors.CodeUserAlreadyActive, "user already has an active reservation").
		WithDetails(map[string]any{"reservation_id": reservationID})
}

func cleanNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*notes)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func appendNotes(existing, extra *string) *string {
	add := cleanNotes(extra)
	if add == nil {
		return existing
	}
	if existing == nil || *existing == "" {
		return add
	}
	joined := *existing + "\n" + *add
	return &joined
}
