package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/parkez/parkez-backend/pkg/config"
)

// Tokens are HS256 only; anything else is rejected before the key is used.
var signingMethod = jwt.SigningMethodHS256

// clockSkew tolerates small drift between API replicas.
const clockSkew = 5 * time.Second

var (
	// ErrTokenExpired lets callers tell an expired token from a forged one.
	ErrTokenExpired = jwt.ErrTokenExpired
	ErrInvalidToken = errors.New("invalid access token")
)

func checkConfig(cfg config.JWTConfig) error {
	var missing []string
	if cfg.Secret == "" {
		missing = append(missing, "secret")
	}
	if cfg.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if cfg.ExpirationMinutes <= 0 {
		missing = append(missing, "positive expiration minutes")
	}
	if len(missing) > 0 {
		return fmt.Errorf("jwt config needs %s", strings.Join(missing, ", "))
	}
	return nil
}

// MintAccessToken signs a token for payload that expires one session TTL
// after now. The jti is payload.JTI, or a fresh UUID when blank.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	if err := checkConfig(cfg); err != nil {
		return "", err
	}
	switch {
	case payload.UserID == uuid.Nil:
		return "", errors.New("user id is required")
	case !payload.Role.IsValid():
		return "", fmt.Errorf("invalid user role %q", payload.Role)
	}

	jti := strings.TrimSpace(payload.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID: payload.UserID,
		Role:   payload.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.SessionTTL())),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and time claims. Every
// failure wraps ErrInvalidToken; expiry additionally matches ErrTokenExpired.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	claims := &AccessTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.UserID == uuid.Nil || claims.Subject != claims.UserID.String() {
		return nil, fmt.Errorf("%w: subject does not match user", ErrInvalidToken)
	}
	return claims, nil
}
