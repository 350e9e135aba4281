package users

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/parkez/parkez-backend/pkg/pagination"
)

// Repository exposes user persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	if err := r.q(ctx).Where(query, args...).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *Repository) setColumn(ctx context.Context, id uuid.UUID, column string, value any) error {
	return r.q(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn(column, value).Error
}

func (r *Repository) Create(ctx context.Context, user *models.User) error {
	return r.q(ctx).Create(user).Error
}

// FindByID loads a user or returns gorm.ErrRecordNotFound.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByLogin matches a username exactly or an email case-insensitively.
func (r *Repository) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	return r.first(ctx, "username = ? OR email = ?", login, strings.ToLower(login))
}

func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.setColumn(ctx, id, "last_login_at", at)
}

// UpdatePasswordHash replaces the stored hash after a cost upgrade.
func (r *Repository) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return r.setColumn(ctx, id, "password_hash", hash)
}

// List returns users newest first, starting after the cursor.
func (r *Repository) List(ctx context.Context, params pagination.Params) ([]models.User, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}
	limit := pagination.NormalizeLimit(params.Limit)

	q := r.q(ctx).Order("created_at DESC").Order("id DESC").Limit(limit + 1)
	if cursor != nil {
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var rows []models.User
	if err := q.Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Split(rows, limit, func(u models.User) pagination.Cursor {
		return pagination.Cursor{CreatedAt: u.CreatedAt, ID: u.ID}
	})
	return page, next, nil
}

// ListByRole returns every user with the role, oldest first.
func (r *Repository) ListByRole(ctx context.Context, role enums.UserRole) ([]models.User, error) {
	var rows []models.User
	err := r.q(ctx).Where("role = ?", role).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.q(ctx).Where("id = ?", id).Delete(&models.User{})
	return res.RowsAffected == 1, res.Error
}
