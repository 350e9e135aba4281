package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/cache"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/shopspring/decimal"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// HistoryQuery narrows a user's history. From is inclusive, To exclusive.
type HistoryQuery struct {
	From  *time.Time
	To    *time.Time
	Limit int
}

func (q HistoryQuery) unfiltered() bool {
	return q.From == nil && q.To == nil && q.Limit <= 0
}

// Entry is one reservation enriched with spot and lot details.
type Entry struct {
	ID              int64            `json:"id"`
	UserID          uuid.UUID        `json:"user_id"`
	SpotID          int64            `json:"spot_id"`
	SpotNumber      string           `json:"spot_number"`
	LotID           int64            `json:"lot_id"`
	LotName         string           `json:"lot_name"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         *time.Time       `json:"end_time"`
	DurationSeconds *int64           `json:"duration_seconds"`
	Cost            *decimal.Decimal `json:"cost"`
	Notes           *string          `json:"notes"`
}

// EntryFromDetail flattens a joined row. Duration is only set once closed.
func EntryFromDetail(d Detail) Entry {
	e := Entry{
		ID:         d.ID,
		UserID:     d.UserID,
		SpotID:     d.SpotID,
		SpotNumber: d.SpotNumber,
		LotID:      d.LotID,
		LotName:    d.LotName,
		StartTime:  d.StartTime,
		EndTime:    d.EndTime,
		Cost:       d.Cost,
		Notes:      d.Notes,
	}
	if d.EndTime != nil {
		secs := int64(d.EndTime.Sub(d.StartTime) / time.Second)
		e.DurationSeconds = &secs
	}
	return e
}

// History serves per-user reservation listings. The unfiltered listing is
// cached under the user's reservation key; writes drop that key.
type History struct {
	repo  *Repository
	cache *cache.Cache
}

func NewHistory(repo *Repository, c *cache.Cache) *History {
	return &History{repo: repo, cache: c}
}

func (h *History) ForUser(ctx context.Context, userID uuid.UUID, q HistoryQuery) ([]Entry, error) {
	if q.From != nil && q.To != nil && !q.From.Before(*q.To) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	}
	if !q.unfiltered() {
		return h.load(ctx, userID, q)
	}
	return cache.Remember(ctx, h.cache, pkgredis.UserReservationsKey(userID.String()), func(ctx context.Context) ([]Entry, error) {
		return h.load(ctx, userID, q)
	})
}

func (h *History) load(ctx context.Context, userID uuid.UUID, q HistoryQuery) ([]Entry, error) {
	limit := q.Limit
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	rows, err := h.repo.List(ctx, Filter{UserID: &userID, From: q.From, To: q.To, Limit: limit})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reservations")
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, EntryFromDetail(row))
	}
	return out, nil
}
