package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/internal/users"
	pkgAuth "github.com/parkez/parkez-backend/pkg/auth"
	"github.com/parkez/parkez-backend/pkg/auth/session"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/security"
	"gorm.io/gorm"
)

const (
	invalidCredentialsMessage = "invalid credentials"
	minPasswordLength         = 8

	loginAttemptLimit  = 10
	loginAttemptWindow = 15 * time.Minute
)

type userRepository interface {
	Create(ctx context.Context, user *models.User) error
	FindByLogin(ctx context.Context, login string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
}

type sessionManager interface {
	Start(ctx context.Context, accessID string, userID uuid.UUID) error
	Revoke(ctx context.Context, accessID string) error
}

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// ServiceParams bundles the dependencies required to build an auth service.
type ServiceParams struct {
	UserRepo       userRepository
	SessionManager sessionManager
	Limiter        rateLimiter
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	Now            func() time.Time
}

// Service registers users and issues, and revokes, access tokens.
type Service struct {
	users       userRepository
	session     sessionManager
	limiter     rateLimiter
	jwtCfg      config.JWTConfig
	passwordCfg config.PasswordConfig
	now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.UserRepo == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		users:       params.UserRepo,
		session:     params.SessionManager,
		limiter:     params.Limiter,
		jwtCfg:      params.JWTConfig,
		passwordCfg: params.PasswordConfig,
		now:         params.Now,
	}, nil
}

// Register creates a regular user account.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*users.UserDTO, error) {
	user, err := s.createUser(ctx, req.Username, req.Email, req.Password, enums.UserRoleUser)
	if err != nil {
		return nil, err
	}
	return users.FromModel(user), nil
}

// EnsureAdmin creates the bootstrap admin when no account uses username yet.
// It returns the generated password, or "" when the account already existed.
func (s *Service) EnsureAdmin(ctx context.Context, username, email string) (string, error) {
	if _, err := s.users.FindByLogin(ctx, strings.TrimSpace(username)); err == nil {
		return "", nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup admin")
	}

	password, err := security.GenerateTempPassword(16)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate password")
	}
	if _, err := s.createUser(ctx, username, email, password, enums.UserRoleAdmin); err != nil {
		return "", err
	}
	return password, nil
}

func (s *Service) createUser(ctx context.Context, username, email, password string, role enums.UserRole) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case username == "":
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "username is required")
	case email == "" || !strings.Contains(email, "@"):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a valid email is required")
	case len(password) < minPasswordLength:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}

	hash, err := security.HashPassword(password, s.passwordCfg)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash password")
	}
	user := &models.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "username or email already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create user")
	}
	return user, nil
}

// Login verifies credentials and starts a session keyed by the token's jti.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	login := strings.TrimSpace(req.Login)
	if login == "" || req.Password == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if err := s.checkRate(ctx, login); err != nil {
		return nil, err
	}

	user, err := s.authenticate(ctx, login, req.Password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update last login")
	}
	user.LastLoginAt = &now

	accessID := session.NewAccessID()
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		UserID: user.ID,
		Role:   user.Role,
		JTI:    accessID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	if err := s.session.Start(ctx, accessID, user.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store session")
	}

	return &LoginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtCfg.SessionTTL() / time.Second),
		User:        users.FromModel(user),
	}, nil
}

// Logout revokes the session behind accessID.
func (s *Service) Logout(ctx context.Context, accessID string) error {
	if err := s.session.Revoke(ctx, accessID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke session")
	}
	return nil
}

func (s *Service) authenticate(ctx context.Context, login, password string) (*models.User, error) {
	user, err := s.users.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user")
	}

	valid, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify password")
	}
	if !valid {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	if security.NeedsRehash(user.PasswordHash, s.passwordCfg) {
		s.upgradeHash(ctx, user, password)
	}
	return user, nil
}

// upgradeHash re-hashes with the current cost. Failures leave the old hash in
// place; the next login tries again.
func (s *Service) upgradeHash(ctx context.Context, user *models.User, password string) {
	hash, err := security.HashPassword(password, s.passwordCfg)
	if err != nil {
		return
	}
	if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		return
	}
	user.PasswordHash = hash
}

func (s *Service) checkRate(ctx context.Context, login string) error {
	if s.limiter == nil {
		return nil
	}
	allowed, _, err := s.limiter.FixedWindowAllow(ctx, "login:"+strings.ToLower(login), loginAttemptLimit, loginAttemptWindow)
	if err != nil {
		// Redis being down must not lock everyone out.
		return nil
	}
	if !allowed {
		return pkgerrors.New(pkgerrors.CodeRateLimit, "too many login attempts")
	}
	return nil
}
