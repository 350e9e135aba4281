package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	pkgAuth "github.com/parkez/parkez-backend/pkg/auth"
	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testPasswordCfg = config.PasswordConfig{
	ArgonMemoryKB:    8 * 1024,
	ArgonTime:        1,
	ArgonParallelism: 1,
	ArgonSaltLen:     16,
	ArgonKeyLen:      32,
}

var testJWTCfg = config.JWTConfig{Secret: "secret", Issuer: "parkez", ExpirationMinutes: 60}

type fakeUsers struct {
	byLogin   map[string]*models.User
	createErr error
	lastLogin map[uuid.UUID]time.Time
	rehashed  int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byLogin: map[string]*models.User{}, lastLogin: map[uuid.UUID]time.Time{}}
}

func (f *fakeUsers) Create(_ context.Context, user *models.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byLogin[user.Username]; ok {
		return errors.New("UNIQUE constraint failed: users.username")
	}
	user.ID = uuid.New()
	f.byLogin[user.Username] = user
	f.byLogin[user.Email] = user
	return nil
}

func (f *fakeUsers) FindByLogin(_ context.Context, login string) (*models.User, error) {
	if u, ok := f.byLogin[login]; ok {
		return u, nil
	}
	if u, ok := f.byLogin[strings.ToLower(login)]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	f.lastLogin[id] = at
	return nil
}

func (f *fakeUsers) UpdatePasswordHash(_ context.Context, id uuid.UUID, hash string) error {
	f.rehashed++
	for _, u := range f.byLogin {
		if u.ID == id {
			u.PasswordHash = hash
		}
	}
	return nil
}

type fakeSessions struct {
	started map[string]uuid.UUID
	revoked []string
}

func (f *fakeSessions) Start(_ context.Context, accessID string, userID uuid.UUID) error {
	f.started[accessID] = userID
	return nil
}

func (f *fakeSessions) Revoke(_ context.Context, accessID string) error {
	f.revoked = append(f.revoked, accessID)
	delete(f.started, accessID)
	return nil
}

type countingLimiter struct {
	limit int64
	hits  map[string]int64
	err   error
}

func (l *countingLimiter) FixedWindowAllow(_ context.Context, scope string, limit int64, _ time.Duration) (bool, int64, error) {
	if l.err != nil {
		return false, 0, l.err
	}
	l.hits[scope]++
	max := limit
	if l.limit > 0 {
		max = l.limit
	}
	return l.hits[scope] <= max, l.hits[scope], nil
}

type authHarness struct {
	svc      *Service
	users    *fakeUsers
	sessions *fakeSessions
	limiter  *countingLimiter
	now      time.Time
}

func newAuthHarness(t *testing.T) *authHarness {
	t.Helper()
	h := &authHarness{
		users:    newFakeUsers(),
		sessions: &fakeSessions{started: map[string]uuid.UUID{}},
		limiter:  &countingLimiter{hits: map[string]int64{}},
		now:      time.Now().UTC().Truncate(time.Second),
	}
	svc, err := NewService(ServiceParams{
		UserRepo:       h.users,
		SessionManager: h.sessions,
		Limiter:        h.limiter,
		JWTConfig:      testJWTCfg,
		PasswordConfig: testPasswordCfg,
		Now:            func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestRegisterHashesPassword(t *testing.T) {
	h := newAuthHarness(t)

	dto, err := h.svc.Register(context.Background(), RegisterRequest{
		Username: " alice ",
		Email:    "Alice@Example.com",
		Password: "correct-horse",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", dto.Username)
	assert.Equal(t, "alice@example.com", dto.Email)
	assert.Equal(t, enums.UserRoleUser, dto.Role)

	stored := h.users.byLogin["alice"]
	require.NotNil(t, stored)
	assert.NotEqual(t, "correct-horse", stored.PasswordHash)
	ok, err := security.VerifyPassword("correct-horse", stored.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRegisterValidation(t *testing.T) {
	h := newAuthHarness(t)
	cases := []RegisterRequest{
		{Username: "", Email: "a@b.c", Password: "longenough"},
		{Username: "bob", Email: "nope", Password: "longenough"},
		{Username: "bob", Email: "bob@example.com", Password: "short"},
	}
	for _, req := range cases {
		_, err := h.svc.Register(context.Background(), req)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "request %+v", req)
	}
}

func TestRegisterDuplicateIsConflict(t *testing.T) {
	h := newAuthHarness(t)
	req := RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"}

	_, err := h.svc.Register(context.Background(), req)
	require.NoError(t, err)
	_, err = h.svc.Register(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()
	_, err := h.svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	resp, err := h.svc.Login(ctx, LoginRequest{Login: "ALICE@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	require.NotNil(t, resp.User.LastLoginAt)
	assert.True(t, resp.User.LastLoginAt.Equal(h.now))

	claims, err := pkgAuth.ParseAccessToken(testJWTCfg, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.UserID)
	assert.Equal(t, enums.UserRoleUser, claims.Role)
	assert.Equal(t, resp.User.ID, h.sessions.started[claims.ID])

	assert.Zero(t, h.users.rehashed)

	require.NoError(t, h.svc.Logout(ctx, claims.ID))
	assert.Equal(t, []string{claims.ID}, h.sessions.revoked)
	assert.Empty(t, h.sessions.started)
}

func TestLoginUpgradesStaleHash(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()
	_, err := h.svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	h.svc.passwordCfg.ArgonTime = 2
	_, err = h.svc.Login(ctx, LoginRequest{Login: "alice", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, 1, h.users.rehashed)
	assert.Contains(t, h.users.byLogin["alice"].PasswordHash, ",t=2,")
	assert.False(t, security.NeedsRehash(h.users.byLogin["alice"].PasswordHash, h.svc.passwordCfg))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()
	_, err := h.svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, LoginRequest{Login: "alice", Password: "wrong-horse"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))

	_, err = h.svc.Login(ctx, LoginRequest{Login: "mallory", Password: "correct-horse"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	assert.Empty(t, h.sessions.started)
}

func TestLoginRateLimited(t *testing.T) {
	h := newAuthHarness(t)
	h.limiter.limit = 2
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := h.svc.Login(ctx, LoginRequest{Login: "Alice", Password: "guess"})
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
	}
	_, err := h.svc.Login(ctx, LoginRequest{Login: "alice", Password: "guess"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRateLimit))
	assert.Equal(t, int64(3), h.limiter.hits["login:alice"])
}

func TestLoginIgnoresLimiterOutage(t *testing.T) {
	h := newAuthHarness(t)
	h.limiter.err = errors.New("redis down")
	ctx := context.Background()
	_, err := h.svc.Register(ctx, RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, err = h.svc.Login(ctx, LoginRequest{Login: "alice", Password: "correct-horse"})
	require.NoError(t, err)
}

func TestEnsureAdminCreatesOnce(t *testing.T) {
	h := newAuthHarness(t)
	ctx := context.Background()

	password, err := h.svc.EnsureAdmin(ctx, "admin", "root@parking.local")
	require.NoError(t, err)
	require.Len(t, password, 16)
	admin := h.users.byLogin["admin"]
	require.NotNil(t, admin)
	assert.Equal(t, enums.UserRoleAdmin, admin.Role)

	resp, err := h.svc.Login(ctx, LoginRequest{Login: "admin", Password: password})
	require.NoError(t, err)
	assert.Equal(t, enums.UserRoleAdmin, resp.User.Role)

	again, err := h.svc.EnsureAdmin(ctx, "admin", "root@parking.local")
	require.NoError(t, err)
	assert.Empty(t, again)
}
