package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iot-monitor/chartengine/internal/livebuffer"
	"github.com/iot-monitor/chartengine/internal/models"
)

type fakeProbe struct {
	token string
	err   error
	calls int
}

func (p *fakeProbe) CheckUpdated(ctx context.Context, deviceID string) (string, error) {
	p.calls++
	return p.token, p.err
}

type fetchCall struct{ from, to time.Time }

type fakeFetcher struct {
	records []models.LogRecord
	err     error
	calls   []fetchCall
}

func (f *fakeFetcher) FetchAll(ctx context.Context, deviceID string, from, to time.Time, keys []string) ([]models.LogRecord, error) {
	f.calls = append(f.calls, fetchCall{from, to})
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func rec(id string, ts time.Time) models.LogRecord {
	return models.LogRecord{ID: id, DeviceID: "dev-1", Key: "temp", Value: 1, Numeric: true, Timestamp: ts}
}

func setup(t *testing.T) (*Refresher, *fakeProbe, *fakeFetcher, *livebuffer.Buffer, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 6, 1, 10, 0, 0, 0, time.Local)}
	p := &fakeProbe{token: "T1"}
	f := &fakeFetcher{records: []models.LogRecord{rec("a", clk.t.Add(-time.Hour))}}
	buf := livebuffer.New()
	r := NewRefresher("dev-1", p, f, buf, clk.Now, zerolog.Nop())
	return r, p, f, buf, clk
}

func TestRefresher_Initialize(t *testing.T) {
	r, _, f, buf, clk := setup(t)

	require.NoError(t, r.Initialize(context.Background()))

	require.Len(t, f.calls, 1)
	assert.Equal(t, models.StartOfDay(clk.t), f.calls[0].from)
	assert.Equal(t, clk.t, f.calls[0].to)
	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, models.RefreshState{LastFetchBoundary: clk.t, LastKnownUpdate: "T1"}, r.State())
}

func TestRefresher_UnchangedTokenSkipsFetch(t *testing.T) {
	r, p, f, _, clk := setup(t)
	require.NoError(t, r.Initialize(context.Background()))
	before := r.State()

	clk.t = clk.t.Add(15 * time.Second)
	res, err := r.Refresh(context.Background())
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Len(t, f.calls, 1, "no fetch when the token is unchanged")
	assert.Equal(t, 2, p.calls)
	assert.Equal(t, before, r.State())
}

func TestRefresher_ChangedTokenFetchesIncrement(t *testing.T) {
	r, p, f, buf, clk := setup(t)
	require.NoError(t, r.Initialize(context.Background()))
	t0 := clk.t

	p.token = "T2"
	clk.t = t0.Add(15 * time.Second)
	f.records = []models.LogRecord{rec("a", t0.Add(-time.Hour)), rec("b", t0.Add(5*time.Second))}

	res, err := r.Refresh(context.Background())
	require.NoError(t, err)

	assert.True(t, res.Changed)
	assert.Equal(t, 1, res.Added, "overlap is deduplicated")
	require.Len(t, f.calls, 2)
	assert.Equal(t, fetchCall{from: t0, to: clk.t}, f.calls[1])
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, models.RefreshState{LastFetchBoundary: clk.t, LastKnownUpdate: "T2"}, r.State())
}

func TestRefresher_FailuresLeaveStateUnchanged(t *testing.T) {
	t.Run("probe failure", func(t *testing.T) {
		r, p, f, _, clk := setup(t)
		require.NoError(t, r.Initialize(context.Background()))
		before := r.State()

		p.err = errors.New("network down")
		clk.t = clk.t.Add(15 * time.Second)
		_, err := r.Refresh(context.Background())

		assert.Error(t, err)
		assert.Len(t, f.calls, 1)
		assert.Equal(t, before, r.State())
	})

	t.Run("fetch failure", func(t *testing.T) {
		r, p, f, buf, clk := setup(t)
		require.NoError(t, r.Initialize(context.Background()))
		before := r.State()

		p.token = "T2"
		f.err = errors.New("502")
		clk.t = clk.t.Add(15 * time.Second)
		_, err := r.Refresh(context.Background())

		assert.Error(t, err)
		assert.Equal(t, before, r.State())
		assert.Equal(t, 1, buf.Len())

		// retry next cycle fetches from the old boundary
		f.err = nil
		_, err = r.Refresh(context.Background())
		require.NoError(t, err)
		assert.Equal(t, before.LastFetchBoundary, f.calls[len(f.calls)-1].from)
	})

	t.Run("initialize failure", func(t *testing.T) {
		r, p, _, _, _ := setup(t)
		p.err = errors.New("offline")

		_, err := r.Refresh(context.Background())
		assert.Error(t, err)
		assert.False(t, r.State().Initialized())
	})
}

func TestRefresher_RefreshInitializesLazily(t *testing.T) {
	r, _, f, buf, _ := setup(t)

	res, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Len(t, f.calls, 1)

	r.Reset()
	assert.False(t, r.State().Initialized())
	assert.Zero(t, buf.Len())
}

func TestRefresher_DayRollover(t *testing.T) {
	r, p, f, buf, clk := setup(t)
	require.NoError(t, r.Initialize(context.Background()))
	require.Equal(t, 1, buf.Len())
	assert.True(t, r.Current(clk.t))
	assert.Equal(t, "2024-06-01", r.Day())

	// next day: the old buffer must not be extended with a boundary from yesterday
	clk.t = clk.t.Add(24 * time.Hour)
	assert.False(t, r.Current(clk.t))
	p.token = "T2"
	f.records = []models.LogRecord{rec("b", clk.t.Add(-time.Minute))}

	res, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, f.calls, 2)
	assert.Equal(t, fetchCall{from: models.StartOfDay(clk.t), to: clk.t}, f.calls[1])
	require.Equal(t, 1, buf.Len())
	assert.Equal(t, "b", buf.Records()[0].ID)
	assert.Equal(t, "2024-06-02", r.Day())
}

func TestRefresher_FailedRolloverClearsStaleDay(t *testing.T) {
	r, p, _, buf, clk := setup(t)
	require.NoError(t, r.Initialize(context.Background()))

	clk.t = clk.t.Add(24 * time.Hour)
	p.err = errors.New("offline")

	assert.Error(t, r.Rollover(context.Background()))
	assert.Zero(t, buf.Len())
	assert.False(t, r.State().Initialized())
	assert.Empty(t, r.Day())
}
