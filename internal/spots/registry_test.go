package spots

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/parkez/parkez-backend/pkg/db/dbtest"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/enums"
	pkgerrors "github.com/parkez/parkez-backend/pkg/errors"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is a mutex-guarded spot table with a hook that lets tests
// simulate another claimant winning between select and update.
type memoryStore struct {
	mu           sync.Mutex
	spots        map[int64]*models.ParkingSpot
	order        []int64
	beforeSwap   func(spotID int64)
	selectCalls  int
	swapFailures int
}

func newMemoryStore(lotID int64, n int) *memoryStore {
	s := &memoryStore{spots: map[int64]*models.ParkingSpot{}}
	for i := 1; i <= n; i++ {
		id := int64(i)
		s.spots[id] = &models.ParkingSpot{ID: id, LotID: lotID, Status: enums.SpotStatusAvailable}
		s.order = append(s.order, id)
	}
	return s
}

func (s *memoryStore) FirstAvailable(_ context.Context, lotID int64) (*models.ParkingSpot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectCalls++
	for _, id := range s.order {
		spot := s.spots[id]
		if spot.LotID == lotID && spot.Status == enums.SpotStatusAvailable {
			cp := *spot
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) CompareAndSwapStatus(_ context.Context, spotID int64, from, to enums.SpotStatus, at time.Time) (bool, error) {
	if s.beforeSwap != nil {
		s.beforeSwap(spotID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	spot, ok := s.spots[spotID]
	if !ok || spot.Status != from {
		s.swapFailures++
		return false, nil
	}
	spot.Status = to
	spot.UpdatedAt = at
	return true, nil
}

func (s *memoryStore) SetAvailable(_ context.Context, spotID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spot, ok := s.spots[spotID]; ok {
		spot.Status = enums.SpotStatusAvailable
		spot.UpdatedAt = at
	}
	return nil
}

// steal occupies a spot out from under the caller.
func (s *memoryStore) steal(spotID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spots[spotID].Status = enums.SpotStatusOccupied
}

func newTestRegistry(t *testing.T, store Store, retry RetryStrategy) *Registry {
	t.Helper()
	reg, err := NewRegistry(RegistryParams{Store: store, Retry: retry})
	require.NoError(t, err)
	return reg
}

func noWait(attempts int) RetryStrategy {
	return RetryStrategy{
		MaxAttempts: attempts,
		Backoff:     ConstantBackoff(time.Millisecond),
		Sleep: func(context.Context, time.Duration) error {
			runtime.Gosched()
			return nil
		},
	}
}

func TestClaimFirstAvailableTakesLowestID(t *testing.T) {
	store := newMemoryStore(1, 3)
	reg := newTestRegistry(t, store, noWait(3))

	spot, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), spot.ID)
	assert.Equal(t, enums.SpotStatusOccupied, spot.Status)

	spot, err = reg.ClaimFirstAvailable(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), spot.ID)
}

func TestClaimFailsImmediatelyWhenLotIsFull(t *testing.T) {
	store := newMemoryStore(1, 0)
	var waits int
	retry := RetryStrategy{MaxAttempts: 3, Backoff: ConstantBackoff(time.Millisecond), Sleep: func(context.Context, time.Duration) error {
		waits++
		return nil
	}}
	reg := newTestRegistry(t, store, retry)

	_, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoSpotsAvailable), "got %v", err)
	assert.Equal(t, 1, store.selectCalls)
	assert.Zero(t, waits)
}

func TestClaimRetriesAfterLosingRace(t *testing.T) {
	store := newMemoryStore(1, 3)
	losses := 0
	store.beforeSwap = func(spotID int64) {
		if losses < 2 {
			losses++
			store.steal(spotID)
		}
	}
	reg := newTestRegistry(t, store, noWait(3))

	spot, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), spot.ID, "spots 1 and 2 were taken by competing claimants")
	assert.Equal(t, 3, store.selectCalls)
}

func TestClaimGivesUpWithConcurrentConflict(t *testing.T) {
	store := newMemoryStore(1, 10)
	store.beforeSwap = store.steal
	var waits []time.Duration
	retry := RetryStrategy{MaxAttempts: 3, Backoff: ConstantBackoff(50 * time.Millisecond), Sleep: recordingSleep(&waits)}
	reg := newTestRegistry(t, store, retry)

	_, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrentConflict), "got %v", err)
	assert.Equal(t, 3, store.selectCalls)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, waits)
}

func TestClaimWrapsStoreFailures(t *testing.T) {
	reg := newTestRegistry(t, failingStore{err: errors.New("connection reset")}, noWait(3))
	_, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency), "got %v", err)
}

func TestConcurrentClaimsNeverShareASpot(t *testing.T) {
	const claimants = 24
	store := newMemoryStore(1, claimants)
	reg := newTestRegistry(t, store, noWait(claimants))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		got   []int64
		fails []error
	)
	start := make(chan struct{})
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			spot, err := reg.ClaimFirstAvailable(context.Background(), 1)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fails = append(fails, err)
				return
			}
			got = append(got, spot.ID)
		}()
	}
	close(start)
	wg.Wait()

	require.Empty(t, fails)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, id := range got {
		require.Equal(t, int64(i+1), id, "every spot must be claimed exactly once")
	}
}

func TestConcurrentClaimsOnSmallLotHaveOneWinnerPerSpot(t *testing.T) {
	const spots, claimants = 3, 12
	store := newMemoryStore(1, spots)
	reg := newTestRegistry(t, store, noWait(3))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins = map[int64]int{}
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spot, err := reg.ClaimFirstAvailable(context.Background(), 1)
			if err != nil {
				code := pkgerrors.As(err).Code()
				if code != pkgerrors.CodeNoSpotsAvailable && code != pkgerrors.CodeConcurrentConflict {
					t.Errorf("unexpected error %v", err)
				}
				return
			}
			mu.Lock()
			wins[spot.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, wins, spots)
	for id, n := range wins {
		assert.Equal(t, 1, n, "spot %d claimed %d times", id, n)
	}
}

func TestClaimMetricsRecordOutcomes(t *testing.T) {
	store := newMemoryStore(1, 2)
	first := true
	store.beforeSwap = func(spotID int64) {
		if first {
			first = false
			store.steal(spotID)
		}
	}
	promReg := prometheus.NewRegistry()
	reg, err := NewRegistry(RegistryParams{Store: store, Retry: noWait(3), Metrics: metrics.NewReservationMetrics(promReg)})
	require.NoError(t, err)

	_, err = reg.ClaimFirstAvailable(context.Background(), 1)
	require.NoError(t, err)
	_, err = reg.ClaimFirstAvailable(context.Background(), 1)
	require.Error(t, err)

	mfs, err := promReg.Gather()
	require.NoError(t, err)
	counts := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != "parkez_spot_claim_attempts_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			counts[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, map[string]float64{"lost": 1, "won": 1, "empty": 1}, counts)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store := newMemoryStore(1, 1)
	reg := newTestRegistry(t, store, noWait(3))

	spot, err := reg.ClaimFirstAvailable(context.Background(), 1)
	require.NoError(t, err)
	require.NoError(t, reg.Release(context.Background(), spot.ID))
	require.NoError(t, reg.Release(context.Background(), spot.ID))
	assert.Equal(t, enums.SpotStatusAvailable, store.spots[spot.ID].Status)
}

type failingStore struct{ err error }

func (f failingStore) FirstAvailable(context.Context, int64) (*models.ParkingSpot, error) {
	return nil, f.err
}

func (f failingStore) CompareAndSwapStatus(context.Context, int64, enums.SpotStatus, enums.SpotStatus, time.Time) (bool, error) {
	return false, f.err
}

func (f failingStore) SetAvailable(context.Context, int64, time.Time) error {
	return f.err
}

// SQLite-backed tests exercise the real conditional updates.

func newSQLRegistry(t *testing.T, name string) (*Registry, *Repository, func() []models.ParkingSpot, int64) {
	t.Helper()
	client := dbtest.Open(t, name)
	lot := dbtest.SeedLot(t, client, "Central", "10", 5)
	repo := NewRepository(client.DB())
	reg, err := NewRegistry(RegistryParams{Store: repo, DB: client, Retry: noWait(3)})
	require.NoError(t, err)
	return reg, repo, func() []models.ParkingSpot { return dbtest.Spots(t, client, lot.ID) }, lot.ID
}

func occupy(t *testing.T, reg *Registry, lotID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := reg.ClaimFirstAvailable(context.Background(), lotID)
		require.NoError(t, err)
	}
}

func TestSQLCompareAndSwapOnlyFromExpectedStatus(t *testing.T) {
	_, repo, spots, _ := newSQLRegistry(t, "cas")
	id := spots()[0].ID
	ctx := context.Background()

	ok, err := repo.CompareAndSwapStatus(ctx, id, enums.SpotStatusAvailable, enums.SpotStatusOccupied, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.CompareAndSwapStatus(ctx, id, enums.SpotStatusAvailable, enums.SpotStatusOccupied, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "second claim of the same spot must not succeed")
}

func TestSQLClaimUntilFull(t *testing.T) {
	reg, _, spots, lotID := newSQLRegistry(t, "claimfull")
	occupy(t, reg, lotID, 5)

	_, err := reg.ClaimFirstAvailable(context.Background(), lotID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNoSpotsAvailable), "got %v", err)
	for _, s := range spots() {
		assert.Equal(t, enums.SpotStatusOccupied, s.Status)
	}
}

func TestSQLResizeDecreaseRemovesNewestFreeSpots(t *testing.T) {
	reg, _, spots, lotID := newSQLRegistry(t, "shrink")
	occupy(t, reg, lotID, 1)

	res, err := reg.Resize(context.Background(), lotID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Removed)

	left := spots()
	require.Len(t, left, 2)
	assert.Equal(t, "1", left[0].Number)
	assert.Equal(t, enums.SpotStatusOccupied, left[0].Status)
	assert.Equal(t, "2", left[1].Number)
	assert.Equal(t, enums.SpotStatusAvailable, left[1].Status)
}

func TestSQLResizeDecreaseFailsWithoutRemovingAnything(t *testing.T) {
	reg, _, spots, lotID := newSQLRegistry(t, "shrinkfail")
	occupy(t, reg, lotID, 3)

	_, err := reg.Resize(context.Background(), lotID, 1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFreeSpots), "got %v", err)
	assert.Len(t, spots(), 5)
}

func TestSQLResizeIncreaseNumbersAfterHighestLabel(t *testing.T) {
	reg, repo, spots, lotID := newSQLRegistry(t, "grow")
	last := spots()[4]
	ok, err := repo.UpdateNumber(context.Background(), lotID, last.ID, "9")
	require.NoError(t, err)
	require.True(t, ok)

	res, err := reg.Resize(context.Background(), lotID, 7)
	require.NoError(t, err)
	require.Len(t, res.Added, 2)
	assert.Equal(t, "10", res.Added[0].Number)
	assert.Equal(t, "11", res.Added[1].Number)
	assert.Len(t, spots(), 7)
}

func TestSQLResizeRejectsNegativeTarget(t *testing.T) {
	reg, _, _, lotID := newSQLRegistry(t, "negative")
	_, err := reg.Resize(context.Background(), lotID, -1)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestSQLStatusCounts(t *testing.T) {
	reg, repo, _, lotID := newSQLRegistry(t, "counts")
	occupy(t, reg, lotID, 2)

	rows, err := repo.StatusCounts(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusCounts{LotID: lotID, Total: 5, Available: 3, Occupied: 2}, rows[0])
}
