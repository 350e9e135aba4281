package lots

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parkez/parkez-backend/internal/reservations"
	"github.com/parkez/parkez-backend/internal/spots"
	"github.com/parkez/parkez-backend/pkg/cache"
	"github.com/parkez/parkez-backend/pkg/db"
	"github.com/parkez/parkez-backend/pkg/db/dbtest"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	pkgredis "github.com/parkez/parkez-backend/pkg/redis"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mapStore struct {
	mu     sync.Mutex
	values map[string]string
	gets   int
}

func newMapStore() *mapStore { return &mapStore{values: map[string]string{}} }

func (m *mapStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.values[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *mapStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = fmt.Sprint(value)
	return nil
}

func (m *mapStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *mapStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

type lotsFixture struct {
	client *db.Client
	svc    *Service
	store  *mapStore
	now    time.Time
}

func newLotsFixture(t *testing.T, name string) *lotsFixture {
	t.Helper()
	client := dbtest.Open(t, name)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	registry, err := spots.NewRegistry(spots.RegistryParams{
		Store: spots.NewRepository(client.DB()),
		DB:    client,
		Now:   clock,
	})
	require.NoError(t, err)
	store := newMapStore()
	svc, err := NewService(ServiceParams{
		DB:      client,
		Repo:    NewRepository(client.DB()),
		Spots:   spots.NewRepository(client.DB()),
		Resizer: registry,
		Ledger:  reservations.NewRepository(client.DB()),
		Cache:   cache.New(store, time.Minute, nil),
		Now:     clock,
	})
	require.NoError(t, err)
	return &lotsFixture{client: client, svc: svc, store: store, now: now}
}

func (f *lotsFixture) occupy(t *testing.T, spotID int64) {
	t.Helper()
	ok, err := spots.NewRepository(f.client.DB()).
		CompareAndSwapStatus(context.Background(), spotID, enums.SpotStatusAvailable, enums.SpotStatusOccupied, f.now)
	require.NoError(t, err)
	require.True(t, ok)
}

func numbers(list []models.ParkingSpot) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Number)
	}
	return out
}

func intPtr(v int) *int { return &v }

func TestCreateLotNumbersSpots(t *testing.T) {
	f := newLotsFixture(t, "create")
	lot, err := f.svc.Create(context.Background(), CreateInput{
		Name:         "  Central ",
		Address:      "1 Main St",
		PricePerHour: decimal.RequireFromString("2.50"),
		Capacity:     3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Central", lot.Name)

	list := dbtest.Spots(t, f.client, lot.ID)
	assert.Equal(t, []string{"1", "2", "3"}, numbers(list))
	for _, s := range list {
		assert.Equal(t, enums.SpotStatusAvailable, s.Status)
	}
}

func TestCreateLotValidation(t *testing.T) {
	f := newLotsFixture(t, "createinvalid")
	cases := map[string]CreateInput{
		"blank name":     {Name: " ", Capacity: 1},
		"negative price": {Name: "x", PricePerHour: decimal.NewFromInt(-1)},
		"negative size":  {Name: "x", Capacity: -2},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), in)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestUpdateGrowsAfterHighestLabel(t *testing.T) {
	f := newLotsFixture(t, "grow")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "East", "1", 2)
	list := dbtest.Spots(t, f.client, lot.ID)
	require.NoError(t, f.svc.RenameSpot(ctx, lot.ID, list[1].ID, "7"))

	out, err := f.svc.Update(ctx, lot.ID, UpdateInput{Capacity: intPtr(4)})
	require.NoError(t, err)
	assert.Equal(t, 2, out.SpotsAdded)
	assert.Equal(t, 4, out.Lot.Capacity)
	assert.Equal(t, []string{"1", "7", "8", "9"}, numbers(dbtest.Spots(t, f.client, lot.ID)))
}

func TestUpdateShrinksNewestFreeSpots(t *testing.T) {
	f := newLotsFixture(t, "shrink")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "West", "1", 5)
	list := dbtest.Spots(t, f.client, lot.ID)
	f.occupy(t, list[4].ID)

	out, err := f.svc.Update(ctx, lot.ID, UpdateInput{Capacity: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.SpotsRemoved)
	assert.Equal(t, 2, out.Lot.Capacity)

	left := dbtest.Spots(t, f.client, lot.ID)
	require.Len(t, left, 2)
	assert.Equal(t, list[0].ID, left[0].ID)
	assert.Equal(t, enums.SpotStatusAvailable, left[0].Status)
	assert.Equal(t, list[4].ID, left[1].ID)
	assert.Equal(t, enums.SpotStatusOccupied, left[1].Status)
}

func TestUpdateShrinkFailsAtomically(t *testing.T) {
	f := newLotsFixture(t, "shrinkfail")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "South", "1", 5)
	list := dbtest.Spots(t, f.client, lot.ID)
	for _, s := range list[:3] {
		f.occupy(t, s.ID)
	}

	name := "Renamed"
	_, err := f.svc.Update(ctx, lot.ID, UpdateInput{Name: &name, Capacity: intPtr(1)})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFreeSpots), "got %v", err)

	assert.Len(t, dbtest.Spots(t, f.client, lot.ID), 5)
	reloaded, err := f.svc.Get(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, "South", reloaded.Name)
	assert.Equal(t, 5, reloaded.Capacity)
}

func TestUpdateUnknownLot(t *testing.T) {
	f := newLotsFixture(t, "updatemissing")
	_, err := f.svc.Update(context.Background(), 42, UpdateInput{Capacity: intPtr(1)})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLotNotFound), "got %v", err)
}

func TestDeleteRefusesOccupiedLot(t *testing.T) {
	f := newLotsFixture(t, "delete")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "North", "1", 2)
	list := dbtest.Spots(t, f.client, lot.ID)
	f.occupy(t, list[0].ID)

	err := f.svc.Delete(ctx, lot.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	require.NoError(t, spots.NewRepository(f.client.DB()).SetAvailable(ctx, list[0].ID, f.now))
	require.NoError(t, f.svc.Delete(ctx, lot.ID))
	assert.Empty(t, dbtest.Spots(t, f.client, lot.ID))

	err = f.svc.Delete(ctx, lot.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLotNotFound), "got %v", err)
}

func TestDeleteRollsBackWhenSpotClaimedDuringDelete(t *testing.T) {
	f := newLotsFixture(t, "deleterace")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "Ridge", "1", 2)
	list := dbtest.Spots(t, f.client, lot.ID)

	// Occupy a spot right after the occupancy check reads the spot table,
	// the way a concurrent claim would.
	var armed atomic.Bool
	armed.Store(true)
	require.NoError(t, f.client.DB().Callback().Query().After("gorm:query").Register("test:claim_spot", func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Table != "parking_spots" || !armed.CompareAndSwap(true, false) {
			return
		}
		_, err := tx.Statement.ConnPool.ExecContext(tx.Statement.Context,
			"UPDATE parking_spots SET status = ? WHERE id = ?", enums.SpotStatusOccupied, list[1].ID)
		require.NoError(t, err)
	}))

	err := f.svc.Delete(ctx, lot.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
	assert.False(t, armed.Load())

	left := dbtest.Spots(t, f.client, lot.ID)
	require.Len(t, left, 2)
	assert.Equal(t, enums.SpotStatusAvailable, left[1].Status, "claim inside the rolled back tx is undone")
	_, err = f.svc.Get(ctx, lot.ID)
	require.NoError(t, err)
}

func TestSummariesAreCachedAndInvalidated(t *testing.T) {
	f := newLotsFixture(t, "summary")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "Garage", "3", 3)
	f.occupy(t, dbtest.Spots(t, f.client, lot.ID)[0].ID)

	first, err := f.svc.Summaries(ctx)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, int64(3), first[0].TotalSpots)
	assert.Equal(t, int64(1), first[0].Occupied)
	assert.Equal(t, int64(2), first[0].Available)
	assert.True(t, f.store.has(pkgredis.LotsSummaryKey()))

	second, err := f.svc.Summaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, first[0].Occupied, second[0].Occupied)
	assert.True(t, first[0].PricePerHour.Equal(second[0].PricePerHour))

	_, err = f.svc.Update(ctx, lot.ID, UpdateInput{Capacity: intPtr(4)})
	require.NoError(t, err)
	assert.False(t, f.store.has(pkgredis.LotsSummaryKey()))

	third, err := f.svc.Summaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), third[0].TotalSpots)
}

func TestPublicSpotsCachedPerLot(t *testing.T) {
	f := newLotsFixture(t, "public")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "Market", "1", 2)

	list, err := f.svc.PublicSpots(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, f.store.has(pkgredis.LotSpotsKey(lot.ID)))

	_, err = f.svc.PublicSpots(ctx, 999)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLotNotFound), "got %v", err)
}

func TestSpotsViewEstimatesOpenReservations(t *testing.T) {
	f := newLotsFixture(t, "estimate")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "Harbor", "4", 2)
	user := dbtest.SeedUser(t, f.client, "alice", enums.UserRoleUser)
	list := dbtest.Spots(t, f.client, lot.ID)
	f.occupy(t, list[0].ID)

	start := f.now.Add(-75 * time.Minute)
	res := &models.Reservation{UserID: user.ID, SpotID: list[0].ID, StartTime: start}
	require.NoError(t, reservations.NewRepository(f.client.DB()).Create(ctx, res))

	view, err := f.svc.Spots(ctx, lot.ID)
	require.NoError(t, err)
	require.Len(t, view.Spots, 2)

	busy := view.Spots[0]
	require.NotNil(t, busy.Reservation)
	assert.Equal(t, res.ID, busy.Reservation.ReservationID)
	assert.Equal(t, int64(4500), busy.Reservation.Estimate.DurationSeconds)
	assert.Equal(t, int64(2), busy.Reservation.Estimate.HoursCharged)
	assert.Equal(t, "8", busy.Reservation.Estimate.Cost.String())
	assert.Nil(t, view.Spots[1].Reservation)

	stored, err := reservations.NewRepository(f.client.DB()).FindByID(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Cost, "estimates are never persisted")
}

func TestRenameSpot(t *testing.T) {
	f := newLotsFixture(t, "rename")
	ctx := context.Background()
	lot := dbtest.SeedLot(t, f.client, "Depot", "1", 2)
	list := dbtest.Spots(t, f.client, lot.ID)

	require.NoError(t, f.svc.RenameSpot(ctx, lot.ID, list[0].ID, "A1"))
	err := f.svc.RenameSpot(ctx, lot.ID, list[1].ID, "A1")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)

	err = f.svc.RenameSpot(ctx, lot.ID, 999, "B")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "got %v", err)

	err = f.svc.RenameSpot(ctx, lot.ID, list[1].ID, "  ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}
