package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-monitor/chartengine/internal/apiclient"
	"github.com/iot-monitor/chartengine/internal/cache"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/source"
	"github.com/iot-monitor/chartengine/internal/storage"
	"github.com/iot-monitor/chartengine/internal/testutil"
	"github.com/iot-monitor/chartengine/internal/visibility"
)

// spyCache counts every cache access.
type spyCache struct {
	inner cache.Store

	mu   sync.Mutex
	gets int
	puts int
}

func (s *spyCache) Get(deviceID string, rng models.DateRangeKey) ([]models.LogRecord, bool) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.inner.Get(deviceID, rng)
}

func (s *spyCache) Put(deviceID string, rng models.DateRangeKey, records []models.LogRecord) {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	s.inner.Put(deviceID, rng, records)
}

func (s *spyCache) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

type fixture struct {
	src     *testutil.FakeSource
	clock   *testutil.Clock
	store   *storage.MemoryStore
	cache   *cache.TimeRangeCache
	spy     *spyCache
	manager *Manager
}

var (
	today     = time.Date(2024, 6, 10, 12, 0, 0, 0, time.Local)
	pastRange = models.DateRangeKey{From: "2024-06-08", To: "2024-06-08"}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		src:   testutil.NewFakeSource(),
		clock: testutil.NewClock(today),
		store: storage.NewMemoryStore(),
	}
	f.cache = cache.New(f.store, cache.Options{Now: f.clock.Now, Logger: zerolog.Nop()})
	f.spy = &spyCache{inner: f.cache}

	m, err := NewManager(Options{
		Probe:           f.src,
		Fetcher:         f.src,
		Storage:         f.store,
		Cache:           f.spy,
		RefreshInterval: 10 * time.Second,
		// background ticks never fire during a test; tests drive Tick directly
		TickRate: time.Hour,
		Location: time.Local,
		Now:      f.clock.Now,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	f.manager = m
	t.Cleanup(func() { m.Shutdown() })

	// two variables every hour since midnight, and a full day two days ago
	midnight := models.StartOfDay(today)
	f.src.Add("dev-1", testutil.Series("dev-1", "temperature", midnight, time.Hour, 12, nil)...)
	f.src.Add("dev-1", testutil.Series("dev-1", "humidity", midnight, time.Hour, 12, nil)...)
	past := testutil.Day(2024, 6, 8)
	f.src.Add("dev-1", testutil.Series("dev-1", "temperature", past, time.Hour, 24, nil)...)
	f.src.Add("dev-1", testutil.Series("dev-1", "humidity", past, time.Hour, 24, nil)...)
	return f
}

func tickUntilCycle(t *testing.T, v *View) {
	t.Helper()
	for i := 0; i < 10; i++ {
		if v.Scheduler().Tick(context.Background()) {
			return
		}
	}
	t.Fatal("scheduler did not run a cycle within its interval")
}

func TestNewManagerRequiresProbeAndFetcher(t *testing.T) {
	_, err := NewManager(Options{})
	assert.Error(t, err)
}

func TestConfiguredRefreshBounds(t *testing.T) {
	src := testutil.NewFakeSource()
	m, err := NewManager(Options{
		Probe:              src,
		Fetcher:            src,
		RefreshInterval:    5 * time.Second,
		MinRefreshInterval: 5 * time.Second,
		MaxRefreshInterval: time.Minute,
		TickRate:           time.Hour,
		Now:                testutil.NewClock(today).Now,
		Logger:             zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })

	v, err := m.OpenView(context.Background(), "dev-1", pastRange)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, v.Scheduler().Status().Interval)

	v.Scheduler().SetInterval(45 * time.Second)
	assert.Equal(t, 45*time.Second, v.Scheduler().Status().Interval)
}

func TestTodayNeverTouchesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", models.DateRangeKey{})
	require.NoError(t, err)
	assert.True(t, v.Live())
	assert.Equal(t, 24, v.Buffer().Len())

	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	ch, ok := v.Charts().Chart(id)
	require.True(t, ok)
	assert.Len(t, ch.Data, 12)

	f.clock.Advance(15 * time.Second)
	f.src.Add("dev-1", testutil.Series("dev-1", "temperature", today.Add(5*time.Second), time.Second, 1, nil)...)
	tickUntilCycle(t, v)

	ch, _ = v.Charts().Chart(id)
	assert.Len(t, ch.Data, 13)

	gets, puts := f.spy.counts()
	assert.Zero(t, gets)
	assert.Zero(t, puts)
}

func TestUnchangedTokenSkipsFetch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", models.TodayRange(today))
	require.NoError(t, err)
	require.Len(t, f.src.Fetches(), 1)
	state := v.RefreshState()

	f.clock.Advance(10 * time.Second)
	tickUntilCycle(t, v)
	f.clock.Advance(10 * time.Second)
	tickUntilCycle(t, v)

	assert.Equal(t, 3, f.src.Probes())
	assert.Len(t, f.src.Fetches(), 1)
	assert.Equal(t, state, v.RefreshState())

	f.src.Add("dev-1", testutil.Series("dev-1", "humidity", today.Add(15*time.Second), time.Second, 1, nil)...)
	f.clock.Advance(10 * time.Second)
	tickUntilCycle(t, v)

	fetches := f.src.Fetches()
	require.Len(t, fetches, 2)
	assert.Equal(t, state.LastFetchBoundary, fetches[1].From)
	assert.Equal(t, f.clock.Now(), v.RefreshState().LastFetchBoundary)
	assert.Equal(t, 25, v.Buffer().Len())
}

func TestLiveRangeAfterMidnightDropsPreviousDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", models.DateRangeKey{})
	require.NoError(t, err)
	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)

	// a late reading of the old day arrives, then the clock passes midnight
	late := today.Add(11 * time.Hour)
	f.src.Add("dev-1", testutil.Series("dev-1", "temperature", late, time.Second, 1, nil)...)
	f.clock.Advance(24 * time.Hour)
	tomorrow := models.TodayRange(f.clock.Now())
	assert.False(t, v.Live())

	require.NoError(t, v.SetRange(ctx, tomorrow))
	assert.True(t, v.Live())
	assert.Zero(t, v.Buffer().Len(), "previous day's readings are discarded")
	assert.Equal(t, f.clock.Now(), v.RefreshState().LastFetchBoundary)

	ch, ok := v.Charts().Chart(id)
	require.True(t, ok)
	assert.Empty(t, ch.Data)

	f.src.Add("dev-1", testutil.Series("dev-1", "temperature", f.clock.Now().Add(5*time.Second), time.Second, 1, nil)...)
	f.clock.Advance(15 * time.Second)
	tickUntilCycle(t, v)

	ch, _ = v.Charts().Chart(id)
	require.Len(t, ch.Data, 1)
	assert.Equal(t, tomorrow.From, ch.Data[0].Timestamp.Format(models.DateLayout))
	for _, r := range v.Buffer().Records() {
		assert.Equal(t, tomorrow.From, r.Timestamp.Format(models.DateLayout))
	}
}

func TestHistoricalRangeReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	assert.False(t, v.Live())
	assert.Empty(t, f.src.Fetches(), "historical views do not prime the live buffer")

	t1, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	t2, err := v.AddChart(ctx, "humidity")
	require.NoError(t, err)

	fetches := f.src.Fetches()
	require.Len(t, fetches, 1, "one request per range, shared by every chart")
	assert.Nil(t, fetches[0].Keys)

	ch1, _ := v.Charts().Chart(t1)
	ch2, _ := v.Charts().Chart(t2)
	assert.Len(t, ch1.Data, 24)
	assert.Len(t, ch2.Data, 24)
	for _, r := range ch1.Data {
		assert.Equal(t, "temperature", r.Key)
	}

	t.Run("scenario A fresh entry served without network", func(t *testing.T) {
		f.clock.Advance(3 * time.Minute)
		require.NoError(t, v.Charts().Reload(ctx))
		assert.Len(t, f.src.Fetches(), 1)
	})

	t.Run("scenario B expired entry absent, empty result not cached", func(t *testing.T) {
		// a single chart keeps the fetch count deterministic
		require.NoError(t, v.RemoveChart(t2))

		f.clock.Advance(8 * time.Minute)
		_, ok := f.cache.Get("dev-1", pastRange)
		assert.False(t, ok)

		empty := models.DateRangeKey{From: "2024-06-01", To: "2024-06-01"}
		require.NoError(t, v.SetRange(ctx, empty))
		assert.Len(t, f.src.Fetches(), 2)
		_, ok = f.cache.Get("dev-1", empty)
		assert.False(t, ok)

		require.NoError(t, v.SetRange(ctx, empty))
		assert.Len(t, f.src.Fetches(), 3, "empty ranges are fetched again")

		require.NoError(t, v.SetRange(ctx, pastRange))
		assert.Len(t, f.src.Fetches(), 4)
		_, ok = f.cache.Get("dev-1", pastRange)
		assert.True(t, ok)
	})
}

func TestConcurrentChartsCoalesceColdRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)

	// build the chart set on the live range, then switch to the cold one
	require.NoError(t, v.SetRange(ctx, models.TodayRange(f.clock.Now())))
	for _, key := range []string{"temperature", "humidity", "temperature", "humidity"} {
		_, err := v.AddChart(ctx, key)
		require.NoError(t, err)
	}
	before := len(f.src.Fetches())

	require.NoError(t, v.SetRange(ctx, pastRange))

	assert.Len(t, f.src.Fetches(), before+1)
	for _, ch := range v.Charts().Charts() {
		assert.Len(t, ch.Data, 24)
	}
}

func TestRangeIncludingTodayIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rng := models.DateRangeKey{From: "2024-06-08", To: "2024-06-10"}
	v, err := f.manager.OpenView(ctx, "dev-1", rng)
	require.NoError(t, err)

	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)

	fetches := f.src.Fetches()
	require.Len(t, fetches, 1)
	assert.Equal(t, []string{"temperature"}, fetches[0].Keys)
	assert.Equal(t, f.clock.Now(), fetches[0].To, "upper bound is clamped to now")

	ch, _ := v.Charts().Chart(id)
	assert.Len(t, ch.Data, 36)

	_, puts := f.spy.counts()
	assert.Zero(t, puts)
}

func TestFailedRangeSwitchClearsData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", models.DateRangeKey{})
	require.NoError(t, err)
	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)

	f.src.FailFetch(errors.New("gateway timeout"))
	err = v.SetRange(ctx, pastRange)
	require.Error(t, err)

	ch, ok := v.Charts().Chart(id)
	require.True(t, ok)
	assert.Equal(t, pastRange, v.Range())
	assert.Empty(t, ch.Data, "today's readings are not shown for another range")
	assert.Error(t, ch.LoadErr)

	f.src.FailFetch(nil)
	require.NoError(t, v.Charts().Reload(ctx))
	ch, _ = v.Charts().Chart(id)
	assert.NoError(t, ch.LoadErr)
	assert.Len(t, ch.Data, 24)
}

func TestCloseAndReopenRestoresView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	id1, err := v.AddChart(ctx, "temperature", "humidity")
	require.NoError(t, err)
	id2, err := v.AddChart(ctx, "voltage")
	require.NoError(t, err)
	require.NoError(t, v.RemoveChart(id2))
	v.SetCategory("climate")
	v.Zoom(models.ZoomRange{Min: 1000, Max: 2000})
	require.NoError(t, v.SetAxisOverride(id1, "humidity", models.AxisOverride{CustomRange: true, Min: 0, Max: 100}))

	require.NoError(t, f.manager.CloseView("dev-1"))
	assert.Empty(t, f.manager.Devices())
	assert.False(t, v.RefreshState().Initialized())

	reopened, err := f.manager.OpenView(ctx, "dev-1", models.DateRangeKey{})
	require.NoError(t, err)
	assert.NotSame(t, v, reopened)
	assert.Equal(t, pastRange, reopened.Range())
	assert.Equal(t, "climate", reopened.Category())
	assert.Len(t, reopened.AvailableVariables(), 2)
	assert.Equal(t, &models.ZoomRange{Min: 1000, Max: 2000}, reopened.Charts().Zoom().Current())
	assert.Equal(t, id2+1, reopened.Charts().NextID(), "ids are never reused")

	charts := reopened.Charts().Charts()
	require.Len(t, charts, 1)
	assert.Equal(t, id1, charts[0].ID)
	assert.Equal(t, []string{"temperature", "humidity"}, charts[0].Keys())
	assert.True(t, charts[0].Override("humidity").CustomRange)
	assert.Len(t, charts[0].Data, 48)
}

func TestForgetViewStartsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	_, err = v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	require.NoError(t, f.manager.CloseView("dev-1"))

	require.NoError(t, f.manager.ForgetView("dev-1"))
	_, ok := f.manager.ViewState().Load("dev-1")
	assert.False(t, ok)

	reopened, err := f.manager.OpenView(ctx, "dev-1", models.DateRangeKey{})
	require.NoError(t, err)
	assert.Equal(t, models.TodayRange(today), reopened.Range())
	assert.Zero(t, reopened.Charts().Len())
}

func TestFramesOnlyForShownCharts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	for _, key := range []string{"temperature", "humidity", "temperature"} {
		_, err := v.AddChart(ctx, key)
		require.NoError(t, err)
	}

	for _, fr := range v.Frames() {
		assert.True(t, fr.Placeholder)
		assert.Nil(t, fr.Data.Series)
	}

	shown := v.Layout(visibility.Rect{W: 800, H: 600}, 800, 400, 20)
	assert.Equal(t, []int{1, 2}, shown)

	frames := v.Frames()
	require.Len(t, frames, 3)
	assert.False(t, frames[0].Placeholder)
	assert.Len(t, frames[0].Data.Timestamps, 24)
	assert.False(t, frames[1].Placeholder)
	assert.True(t, frames[2].Placeholder)

	// scrolling back up never hides a shown chart
	assert.Empty(t, v.Layout(visibility.Rect{Y: -5000, W: 800, H: 600}, 800, 400, 20))
	assert.False(t, v.Frames()[0].Placeholder)

	assert.True(t, v.Observe(3, true))
	assert.False(t, v.Frames()[2].Placeholder)
}

func TestRemovingLastVariableDropsChartAndGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	id, err := v.AddChart(ctx, "temperature", "humidity")
	require.NoError(t, err)
	v.Observe(id, true)

	removed, err := v.RemoveVariable(id, "humidity")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = v.RemoveVariable(id, "temperature")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Zero(t, v.Charts().Len())
	assert.False(t, v.Gates().Shown(id))
}

func TestCleanupIdleViews(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	_, err = v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	require.Equal(t, 1, f.cache.Len())
	_, err = f.manager.OpenView(ctx, "dev-2", pastRange)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)
	assert.True(t, f.manager.TouchView("dev-2"))
	f.clock.Advance(15 * time.Minute)

	assert.Equal(t, 1, f.manager.CleanupIdleViews(30*time.Minute))
	assert.Equal(t, []string{"dev-2"}, f.manager.Devices())

	_, ok := f.manager.ViewState().Load("dev-1")
	assert.True(t, ok, "idle views persist their state")
	assert.Zero(t, f.cache.Len(), "expired cache entries purged")
}

func TestShutdownClearsSessionStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v, err := f.manager.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	_, err = v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	require.NotZero(t, f.cache.Len())

	require.NoError(t, f.manager.Shutdown())

	keys, err := f.store.Keys("")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.Empty(t, f.manager.Devices())
}

func TestStorageFailuresAreAbsorbed(t *testing.T) {
	src := testutil.NewFakeSource()
	clock := testutil.NewClock(today)
	src.Add("dev-1", testutil.Series("dev-1", "temperature", testutil.Day(2024, 6, 8), time.Hour, 24, nil)...)

	m, err := NewManager(Options{
		Probe:    src,
		Fetcher:  src,
		Storage:  testutil.FailingStorage{},
		TickRate: time.Hour,
		Now:      clock.Now,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	ctx := context.Background()

	v, err := m.OpenView(ctx, "dev-1", pastRange)
	require.NoError(t, err)
	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	require.NoError(t, v.Charts().Reload(ctx))

	ch, _ := v.Charts().Chart(id)
	assert.Len(t, ch.Data, 24)
	assert.Len(t, src.Fetches(), 2, "every load misses a broken cache")

	err = m.CloseView("dev-1")
	assert.ErrorIs(t, err, testutil.ErrStorageDown)
}

func TestLiveViewOverHTTP(t *testing.T) {
	store := source.NewMemoryStore()
	client := apiclient.NewClient(testutil.NewAPIServer(t, store), apiclient.Options{Logger: zerolog.Nop()})

	m, err := NewManager(Options{
		Probe:    client,
		Fetcher:  client,
		TickRate: time.Hour,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { m.Shutdown() })
	ctx := context.Background()

	now := time.Now()
	first := now.Add(-time.Minute)
	if first.Before(models.StartOfDay(now)) {
		first = models.StartOfDay(now)
	}
	_, err = client.Ingest(ctx, "dev-http", []models.WireLog{
		{LogKey: "temperature", LogValue: 21.5, LoggedAt: first.Format(time.RFC3339Nano)},
	})
	require.NoError(t, err)

	v, err := m.OpenView(ctx, "dev-http", models.DateRangeKey{})
	require.NoError(t, err)
	id, err := v.AddChart(ctx, "temperature")
	require.NoError(t, err)
	ch, _ := v.Charts().Chart(id)
	require.Len(t, ch.Data, 1)

	require.NoError(t, v.Refresh(ctx))
	assert.Equal(t, 1, v.Buffer().Len(), "unchanged token fetches nothing")

	_, err = client.Ingest(ctx, "dev-http", []models.WireLog{
		{LogKey: "temperature", LogValue: 22, LoggedAt: time.Now().Format(time.RFC3339Nano)},
	})
	require.NoError(t, err)
	require.NoError(t, v.Refresh(ctx))

	ch, _ = v.Charts().Chart(id)
	assert.Len(t, ch.Data, 2)
	assert.Equal(t, 22.0, ch.Data[1].Value)
}
