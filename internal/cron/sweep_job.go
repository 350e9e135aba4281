package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/parkez/parkez-backend/pkg/logger"
)

const defaultSweepGrace = 10 * time.Minute

type orphanReleaser interface {
	ReleaseOrphaned(ctx context.Context, cutoff, at time.Time) ([]int64, error)
}

type lotCacheInvalidator interface {
	InvalidateLots(ctx context.Context, lotIDs ...int64)
}

type SweepJobParams struct {
	Logger *logger.Logger
	Spots  orphanReleaser
	Lots   lotCacheInvalidator
	Grace  time.Duration
}

// NewSpotSweepJob frees spots left Occupied without an open reservation,
// e.g. after a crash between claim and ledger write. Spots touched within
// the grace period are skipped so in-flight reserves are never undone.
func NewSpotSweepJob(params SweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Spots == nil {
		return nil, fmt.Errorf("spot repository required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultSweepGrace
	}
	return &spotSweepJob{
		logg:  params.Logger,
		spots: params.Spots,
		lots:  params.Lots,
		grace: grace,
		now:   time.Now,
	}, nil
}

type spotSweepJob struct {
	logg  *logger.Logger
	spots orphanReleaser
	lots  lotCacheInvalidator
	grace time.Duration
	now   func() time.Time
}

func (j *spotSweepJob) Name() string { return "spot-consistency-sweep" }

func (j *spotSweepJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	lotIDs, err := j.spots.ReleaseOrphaned(ctx, now.Add(-j.grace), now)
	if len(lotIDs) > 0 && j.lots != nil {
		j.lots.InvalidateLots(ctx, lotIDs...)
	}
	if err != nil {
		return fmt.Errorf("release orphaned spots: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"grace_seconds": int64(j.grace / time.Second),
		"lots_touched":  len(lotIDs),
	})
	j.logg.Info(logCtx, "spot consistency sweep complete")
	return nil
}
