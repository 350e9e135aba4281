package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/parkez/parkez-backend/internal/analytics/query"
	"github.com/parkez/parkez-backend/internal/analytics/types"
	"github.com/parkez/parkez-backend/pkg/cache"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
)

const (
	summaryDays = 30
	recentLimit = 20
)

// Service builds the admin analytics summary.
type Service interface {
	Summary(ctx context.Context) (*types.Summary, error)
}

type service struct {
	repo  *query.Repository
	cache *cache.Cache
	now   func() time.Time
}

// NewService builds an analytics service over the relational store. The
// summary is cached under the analytics key until a write invalidates it.
func NewService(repo *query.Repository, c *cache.Cache, now func() time.Time) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("analytics repository required")
	}
	if now == nil {
		now = time.Now
	}
	return &service{repo: repo, cache: c, now: now}, nil
}

func (s *service) Summary(ctx context.Context) (*types.Summary, error) {
	return cache.Remember(ctx, s.cache, pkgredis.AnalyticsSummaryKey(), s.build)
}

func (s *service) build(ctx context.Context) (*types.Summary, error) {
	now := s.now().UTC()

	total, err := s.repo.TotalRevenue(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "total revenue")
	}
	perLot, err := s.repo.RevenueByLot(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revenue per lot")
	}
	occupancy, err := s.repo.Occupancy(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "occupancy")
	}
	starts, err := s.repo.StartsSince(ctx, windowStart(now, summaryDays))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "daily reservations")
	}
	recent, err := s.repo.Recent(ctx, recentLimit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recent reservations")
	}

	return &types.Summary{
		TotalRevenue:           total,
		RevenuePerLot:          nonNil(perLot),
		Occupancy:              nonNil(occupancy),
		ReservationsLast30Days: DailyCounts(now, summaryDays, starts),
		RecentReservations:     nonNil(recent),
		GeneratedAt:            now,
	}, nil
}

func nonNil[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
