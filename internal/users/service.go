package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/db"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/pagination"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"gorm.io/gorm"
)

type ServiceParams struct {
	DB           db.TxRunner
	Repo         *Repository
	Reservations *reservations.Repository
	Cache        *cache.Cache
	Logger       *logger.Logger
}

// Service is the admin surface for user accounts.
type Service struct {
	db           db.TxRunner
	repo         *Repository
	reservations *reservations.Repository
	cache        *cache.Cache
	logg         *logger.Logger
}

func NewService(p ServiceParams) (*Service, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("tx runner required")
	case p.Repo == nil:
		return nil, errors.New("user repository required")
	case p.Reservations == nil:
		return nil, errors.New("reservation repository required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	return &Service{db: p.DB, repo: p.Repo, reservations: p.Reservations, cache: p.Cache, logg: p.Logger}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*UserDTO, error) {
	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return FromModel(user), nil
}

func (s *Service) List(ctx context.Context, params pagination.Params) (*Page, error) {
	rows, next, err := s.repo.List(ctx, params)
	if err != nil {
		if errors.Is(err, pagination.ErrInvalidCursor) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list users")
	}
	page := &Page{Users: make([]UserDTO, 0, len(rows))}
	for i := range rows {
		page.Users = append(page.Users, *FromModel(&rows[i]))
	}
	if next != nil {
		page.NextCursor = pagination.EncodeCursor(*next)
	}
	return page, nil
}

// Delete removes a regular user together with their closed reservations.
// Admins cannot delete themselves or other admins, and a user holding an
// open reservation must release it first.
func (s *Service) Delete(ctx context.Context, actorID, targetID uuid.UUID) error {
	if actorID == targetID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "cannot delete your own account")
	}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		target, err := repo.FindByID(ctx, targetID)
		if err != nil {
			return err
		}
		if target.IsAdmin() {
			return pkgerrors.New(pkgerrors.CodeForbidden, "cannot delete an admin account")
		}
		resRepo := s.reservations.WithTx(tx)
		active, err := resRepo.FindActiveByUser(ctx, targetID)
		if err != nil {
			return err
		}
		if active != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "user has an active reservation").
				WithDetails(map[string]any{"reservation_id": active.ID})
		}
		if _, err := resRepo.DeleteByUser(ctx, targetID); err != nil {
			return err
		}
		_, err = repo.Delete(ctx, targetID)
		return err
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
		}
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete user")
	}

	s.logg.Info(s.logg.WithField(ctx, "deleted_user_id", targetID.String()), "user deleted")
	s.cache.Invalidate(ctx, pkgredis.UserReservationsKey(targetID.String()), pkgredis.AnalyticsSummaryKey())
	return nil
}
