package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/outbox"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

const (
	defaultReminderCutoffDays = 7
	reminderMarkerTTL         = 26 * time.Hour
)

type userLister interface {
	ListByRole(ctx context.Context, role enums.UserRole) ([]models.User, error)
}

type latestStartReader interface {
	LatestStartByUser(ctx context.Context) (map[uuid.UUID]time.Time, error)
}

type dayMarker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
}

type ReminderJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Users        userLister
	Reservations latestStartReader
	Outbox       outboxEmitter
	Marker       dayMarker
	CutoffDays   int
}

// NewReminderJob queues a reminder_requested event for every regular user
// who has not reserved within the cutoff, at most once per UTC day.
func NewReminderJob(params ReminderJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Users == nil:
		return nil, fmt.Errorf("user repository required")
	case params.Reservations == nil:
		return nil, fmt.Errorf("reservation repository required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox service required")
	case params.Marker == nil:
		return nil, fmt.Errorf("redis marker required")
	}
	cutoff := params.CutoffDays
	if cutoff <= 0 {
		cutoff = defaultReminderCutoffDays
	}
	return &reminderJob{
		logg:         params.Logger,
		db:           params.DB,
		users:        params.Users,
		reservations: params.Reservations,
		outbox:       params.Outbox,
		marker:       params.Marker,
		cutoffDays:   cutoff,
		now:          time.Now,
	}, nil
}

type reminderJob struct {
	logg         *logger.Logger
	db           txRunner
	users        userLister
	reservations latestStartReader
	outbox       outboxEmitter
	marker       dayMarker
	cutoffDays   int
	now          func() time.Time
}

func (j *reminderJob) Name() string { return "daily-reminder" }

func (j *reminderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	day := now.Format("2006-01-02")
	first, err := j.marker.SetNX(ctx, pkgredis.ReminderMarkerKey(day), now.Format(time.RFC3339), reminderMarkerTTL)
	if err != nil {
		return fmt.Errorf("reminder marker: %w", err)
	}
	if !first {
		j.logg.Debug(j.logg.WithField(ctx, "day", day), "reminders already queued today")
		return nil
	}

	users, err := j.users.ListByRole(ctx, enums.UserRoleUser)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	latest, err := j.reservations.LatestStartByUser(ctx)
	if err != nil {
		return fmt.Errorf("latest reservations: %w", err)
	}

	cutoff := now.AddDate(0, 0, -j.cutoffDays)
	var errs error
	queued := 0
	for _, user := range users {
		last, ok := latest[user.ID]
		if ok && !last.Before(cutoff) {
			continue
		}
		var lastPtr *time.Time
		if ok {
			l := last.UTC()
			lastPtr = &l
		}
		if err := j.emit(ctx, user, lastPtr, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("user %s: %w", user.ID, err))
			continue
		}
		queued++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"day": day, "queued": queued, "candidates": len(users)})
	j.logg.Info(logCtx, "daily reminders queued")
	return errs
}

func (j *reminderJob) emit(ctx context.Context, user models.User, last *time.Time, now time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReminderRequested,
			AggregateType: enums.AggregateUser,
			AggregateID:   user.ID.String(),
			OccurredAt:    now,
			Data: outbox.ReminderRequested{
				UserID:          user.ID,
				Email:           user.Email,
				Username:        user.Username,
				LastReservation: last,
				CutoffDays:      j.cutoffDays,
			},
		})
	})
}
