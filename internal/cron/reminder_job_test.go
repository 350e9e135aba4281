package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/outbox"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type memoryMarker struct {
	keys map[string]bool
}

func (m *memoryMarker) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

type staticUsers []models.User

func (s staticUsers) ListByRole(_ context.Context, role enums.UserRole) ([]models.User, error) {
	var out []models.User
	for _, u := range s {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

type staticLatest map[uuid.UUID]time.Time

func (s staticLatest) LatestStartByUser(context.Context) (map[uuid.UUID]time.Time, error) {
	return s, nil
}

type capturingEmitter struct {
	events []outbox.DomainEvent
	failOn uuid.UUID
}

func (c *capturingEmitter) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	if data, ok := event.Data.(outbox.ReminderRequested); ok && data.UserID == c.failOn {
		return errors.New("insert failed")
	}
	c.events = append(c.events, event)
	return nil
}

func newReminderJob(t *testing.T, users staticUsers, latest staticLatest, emitter *capturingEmitter, marker *memoryMarker, now time.Time) *reminderJob {
	t.Helper()
	jobIface, err := NewReminderJob(ReminderJobParams{
		Logger:       logger.New(logger.Options{ServiceName: "test"}),
		DB:           passthroughTx{},
		Users:        users,
		Reservations: latest,
		Outbox:       emitter,
		Marker:       marker,
	})
	require.NoError(t, err)
	job := jobIface.(*reminderJob)
	job.now = func() time.Time { return now }
	return job
}

func TestReminderJobTargetsIdleUsersOncePerDay(t *testing.T) {
	now := time.Date(2026, 3, 20, 6, 0, 0, 0, time.UTC)
	idle := models.User{ID: uuid.New(), Username: "idle", Email: "idle@example.com", Role: enums.UserRoleUser}
	fresh := models.User{ID: uuid.New(), Username: "fresh", Email: "fresh@example.com", Role: enums.UserRoleUser}
	never := models.User{ID: uuid.New(), Username: "never", Email: "never@example.com", Role: enums.UserRoleUser}
	admin := models.User{ID: uuid.New(), Username: "admin", Email: "root@parking.local", Role: enums.UserRoleAdmin}
	latest := staticLatest{
		idle.ID:  now.AddDate(0, 0, -8),
		fresh.ID: now.AddDate(0, 0, -2),
		admin.ID: now.AddDate(0, 0, -30),
	}
	emitter := &capturingEmitter{}
	marker := &memoryMarker{keys: map[string]bool{}}
	job := newReminderJob(t, staticUsers{idle, fresh, never, admin}, latest, emitter, marker, now)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, emitter.events, 2)
	assert.True(t, marker.keys[pkgredis.ReminderMarkerKey("2026-03-20")])

	byUser := map[uuid.UUID]outbox.ReminderRequested{}
	for _, ev := range emitter.events {
		assert.Equal(t, enums.EventReminderRequested, ev.EventType)
		assert.Equal(t, enums.AggregateUser, ev.AggregateType)
		data := ev.Data.(outbox.ReminderRequested)
		assert.Equal(t, data.UserID.String(), ev.AggregateID)
		byUser[data.UserID] = data
	}
	require.Contains(t, byUser, idle.ID)
	require.NotNil(t, byUser[idle.ID].LastReservation)
	assert.Equal(t, 7, byUser[idle.ID].CutoffDays)
	require.Contains(t, byUser, never.ID)
	assert.Nil(t, byUser[never.ID].LastReservation)

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, emitter.events, 2)
}

func TestReminderJobAggregatesFailures(t *testing.T) {
	now := time.Date(2026, 3, 20, 6, 0, 0, 0, time.UTC)
	a := models.User{ID: uuid.New(), Username: "a", Email: "a@example.com", Role: enums.UserRoleUser}
	b := models.User{ID: uuid.New(), Username: "b", Email: "b@example.com", Role: enums.UserRoleUser}
	emitter := &capturingEmitter{failOn: a.ID}
	job := newReminderJob(t, staticUsers{a, b}, staticLatest{}, emitter, &memoryMarker{keys: map[string]bool{}}, now)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), a.ID.String())
	require.Len(t, emitter.events, 1)
	assert.Equal(t, b.ID.String(), emitter.events[0].AggregateID)
}
