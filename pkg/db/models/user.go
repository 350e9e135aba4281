package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/enums"
	"gorm.io/gorm"
)

// User is an account that can hold reservations or administer lots.
type User struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Username     string         `gorm:"column:username;type:text;not null;uniqueIndex"`
	Email        string         `gorm:"column:email;type:text;not null;uniqueIndex"`
	PasswordHash string         `gorm:"column:password_hash;not null"`
	Role         enums.UserRole `gorm:"column:role;type:text;not null;default:'user'"`
	LastLoginAt  *time.Time     `gorm:"column:last_login_at"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = enums.UserRoleUser
	}
	return nil
}

func (u User) IsAdmin() bool {
	return u.Role == enums.UserRoleAdmin
}
