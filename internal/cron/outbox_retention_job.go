package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/parkez/parkez-backend/pkg/logger"
)

const defaultOutboxRetention = 30 * 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	Retention  time.Duration
	// MaxAttempts matches the publisher's limit; rows that reached it are
	// dead and purged like published ones.
	MaxAttempts int
}

type outboxPurger interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, maxAttempts int) (int64, error)
}

// NewOutboxRetentionJob trims outbox_events so the publisher's scan stays small.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		maxAttempts: params.MaxAttempts,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPurger
	retention   time.Duration
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes published and dead rows older than the retention window.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var deleted int64
	if err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
		deleted, err = j.repo.PurgeBefore(ctx, tx, cutoff, j.maxAttempts)
		return err
	}); err != nil {
		return fmt.Errorf("purge outbox before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"max_attempts": j.maxAttempts,
		"rows_deleted": deleted,
	}), "outbox retention cleanup complete")
	return nil
}
