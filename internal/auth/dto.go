package auth

import "github.com/parkez/parkez-backend/internal/users"

// RegisterRequest is the self-service signup payload.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64,username"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest accepts either a username or an email in Login.
type LoginRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse contains the access token and the authenticated user.
type LoginResponse struct {
	AccessToken string         `json:"access_token"`
	TokenType   string         `json:"token_type"`
	ExpiresIn   int64          `json:"expires_in"`
	User        *users.UserDTO `json:"user"`
}
