// Package pagination implements keyset paging for admin listings. A page is
// addressed by the (created_at, id) pair of the last row already served.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	cursorVersion = "k1"
)

// ErrInvalidCursor is returned for any token EncodeCursor could not have produced.
var ErrInvalidCursor = errors.New("invalid page cursor")

type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the keyset position: rows strictly older than (CreatedAt, ID) follow it.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Split trims a result fetched with limit+1 rows down to limit and reports
// the cursor for the next page, or nil when rows was the final page.
func Split[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	if limit <= 0 || len(rows) <= limit {
		return rows, nil
	}
	next := key(rows[limit-1])
	return rows[:limit], &next
}

// EncodeCursor renders the position as an opaque URL-safe token.
func EncodeCursor(c Cursor) string {
	raw := cursorVersion + "." + strconv.FormatInt(c.CreatedAt.UnixNano(), 36) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// ParseCursor returns nil for a blank token.
func ParseCursor(token string) (*Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	version, rest, ok := strings.Cut(string(raw), ".")
	if !ok || version != cursorVersion {
		return nil, ErrInvalidCursor
	}
	nanos, idPart, ok := strings.Cut(rest, ".")
	if !ok {
		return nil, ErrInvalidCursor
	}
	ns, err := strconv.ParseInt(nanos, 36, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, ns).UTC(), ID: id}, nil
}
