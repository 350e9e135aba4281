// Package security hashes account passwords with Argon2id and stores them in
// the PHC string format so cost parameters travel with every hash.
package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/parkez/parkez-backend/pkg/config"
	"golang.org/x/crypto/argon2"
)

const (
	phcPrefix    = "$argon2id$v=19$"
	tempAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz23456789"
)

var ErrInvalidHash = errors.New("invalid argon2id hash")

// Cost is the Argon2id tuning embedded in a stored hash.
type Cost struct {
	MemoryKB uint32
	Passes   uint32
	Lanes    uint8
	SaltLen  uint32
	KeyLen   uint32
}

// CostFromConfig clamps configured values into ranges argon2 accepts.
func CostFromConfig(cfg config.PasswordConfig) Cost {
	return Cost{
		MemoryKB: uint32(clamp(cfg.ArgonMemoryKB, 8, 512*1024)),
		Passes:   uint32(clamp(cfg.ArgonTime, 1, 10)),
		Lanes:    uint8(clamp(cfg.ArgonParallelism, 1, 255)),
		SaltLen:  uint32(clamp(cfg.ArgonSaltLen, 8, 64)),
		KeyLen:   uint32(clamp(cfg.ArgonKeyLen, 16, 64)),
	}
}

func HashPassword(password string, cfg config.PasswordConfig) (string, error) {
	if password == "" {
		return "", errors.New("password cannot be empty")
	}
	cost := CostFromConfig(cfg)
	salt := make([]byte, cost.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, cost.Passes, cost.MemoryKB, cost.Lanes, cost.KeyLen)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf("%sm=%d,t=%d,p=%d$%s$%s", phcPrefix, cost.MemoryKB, cost.Passes, cost.Lanes,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// VerifyPassword compares in constant time. A malformed hash is an error, a
// wrong password is not.
func VerifyPassword(password, encoded string) (bool, error) {
	cost, salt, key, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, cost.Passes, cost.MemoryKB, cost.Lanes, cost.KeyLen)
	return subtle.ConstantTimeCompare(key, got) == 1, nil
}

// NeedsRehash reports whether encoded was produced with a different cost than
// cfg currently asks for.
func NeedsRehash(encoded string, cfg config.PasswordConfig) bool {
	cost, _, _, err := parseHash(encoded)
	if err != nil {
		return true
	}
	return cost != CostFromConfig(cfg)
}

func parseHash(encoded string) (Cost, []byte, []byte, error) {
	rest, ok := strings.CutPrefix(encoded, phcPrefix)
	if !ok {
		return Cost{}, nil, nil, ErrInvalidHash
	}
	fields := strings.Split(rest, "$")
	if len(fields) != 3 {
		return Cost{}, nil, nil, ErrInvalidHash
	}

	var cost Cost
	var lanes uint32
	if n, err := fmt.Sscanf(fields[0], "m=%d,t=%d,p=%d", &cost.MemoryKB, &cost.Passes, &lanes); err != nil || n != 3 {
		return Cost{}, nil, nil, ErrInvalidHash
	}
	if lanes == 0 || lanes > 255 {
		return Cost{}, nil, nil, ErrInvalidHash
	}
	cost.Lanes = uint8(lanes)

	salt, err := base64.RawStdEncoding.DecodeString(fields[1])
	if err != nil || len(salt) == 0 {
		return Cost{}, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(fields[2])
	if err != nil || len(key) == 0 {
		return Cost{}, nil, nil, ErrInvalidHash
	}
	cost.SaltLen = uint32(len(salt))
	cost.KeyLen = uint32(len(key))
	return cost, salt, key, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// GenerateTempPassword returns a random password drawn from an alphabet
// without look-alike characters.
func GenerateTempPassword(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("length must be positive")
	}
	limit := big.NewInt(int64(len(tempAlphabet)))
	var b strings.Builder
	b.Grow(length)
	for range length {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(tempAlphabet[n.Int64()])
	}
	return b.String(), nil
}
