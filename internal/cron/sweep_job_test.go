package cron

import (
	"context"
	"testing"
	"time"

	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/pkg/db/dbtest"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingInvalidator struct {
	lots []int64
}

func (r *recordingInvalidator) InvalidateLots(_ context.Context, lotIDs ...int64) {
	r.lots = append(r.lots, lotIDs...)
}

func TestSpotSweepFreesOnlyStaleOrphans(t *testing.T) {
	client := dbtest.Open(t, "sweep")
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lot := dbtest.SeedLot(t, client, "Harbor", "10", 4)
	user := dbtest.SeedUser(t, client, "alice", enums.UserRoleUser)
	s := dbtest.Spots(t, client, lot.ID)

	occupy := func(id int64, at time.Time) {
		require.NoError(t, client.DB().Model(&models.ParkingSpot{}).Where("id = ?", id).
			UpdateColumns(map[string]any{"status": enums.SpotStatusOccupied, "updated_at": at}).Error)
	}
	occupy(s[0].ID, now.Add(-time.Hour))
	occupy(s[1].ID, now.Add(-time.Hour))
	occupy(s[2].ID, now.Add(-time.Minute))
	require.NoError(t, client.DB().Create(&models.Reservation{UserID: user.ID, SpotID: s[1].ID, StartTime: now.Add(-time.Hour)}).Error)

	invalidator := &recordingInvalidator{}
	jobIface, err := NewSpotSweepJob(SweepJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Spots:  spots.NewRepository(client.DB()),
		Lots:   invalidator,
	})
	require.NoError(t, err)
	job := jobIface.(*spotSweepJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(ctx))

	after := dbtest.Spots(t, client, lot.ID)
	assert.Equal(t, enums.SpotStatusAvailable, after[0].Status)
	assert.Equal(t, enums.SpotStatusOccupied, after[1].Status)
	assert.Equal(t, enums.SpotStatusOccupied, after[2].Status)
	assert.Equal(t, enums.SpotStatusAvailable, after[3].Status)
	assert.Equal(t, []int64{lot.ID}, invalidator.lots)

	invalidator.lots = nil
	require.NoError(t, job.Run(ctx))
	assert.Empty(t, invalidator.lots)
}
