package testutil

import (
	"context"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/api"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/source"
)

// FetchCall records one FetchAll invocation on a FakeSource.
type FetchCall struct {
	DeviceID string
	From     time.Time
	To       time.Time
	Keys     []string
}

// FakeSource is an in-memory probe and fetcher. Add bumps the device token
// the way the real data source does on ingest.
type FakeSource struct {
	mu       sync.Mutex
	records  map[string][]models.LogRecord
	tokens   map[string]int
	probes   int
	fetches  []FetchCall
	probeErr error
	fetchErr error
	// Gate, when set, blocks every FetchAll until it is closed.
	Gate chan struct{}
}

// NewFakeSource creates an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		records: make(map[string][]models.LogRecord),
		tokens:  make(map[string]int),
	}
}

// Add stores records for deviceID and changes its freshness token.
func (s *FakeSource) Add(deviceID string, records ...models.LogRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := append(s.records[deviceID], records...)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Timestamp.Before(recs[j].Timestamp) })
	s.records[deviceID] = recs
	s.tokens[deviceID]++
}

// FailProbe makes CheckUpdated return err until cleared with nil.
func (s *FakeSource) FailProbe(err error) {
	s.mu.Lock()
	s.probeErr = err
	s.mu.Unlock()
}

// FailFetch makes FetchAll return err until cleared with nil.
func (s *FakeSource) FailFetch(err error) {
	s.mu.Lock()
	s.fetchErr = err
	s.mu.Unlock()
}

// CheckUpdated implements refresh.Probe.
func (s *FakeSource) CheckUpdated(ctx context.Context, deviceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes++
	if s.probeErr != nil {
		return "", s.probeErr
	}
	return strconv.Itoa(s.tokens[deviceID]), nil
}

// FetchAll implements refresh.Fetcher. The window is inclusive on both ends.
func (s *FakeSource) FetchAll(ctx context.Context, deviceID string, from, to time.Time, keys []string) ([]models.LogRecord, error) {
	s.mu.Lock()
	s.fetches = append(s.fetches, FetchCall{DeviceID: deviceID, From: from, To: to, Keys: keys})
	gate := s.Gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var want map[string]bool
	if len(keys) > 0 {
		want = make(map[string]bool, len(keys))
		for _, k := range keys {
			want[k] = true
		}
	}
	var out []models.LogRecord
	for _, r := range s.records[deviceID] {
		if r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		if want != nil && !want[r.Key] {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Probes returns how many times CheckUpdated was called.
func (s *FakeSource) Probes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probes
}

// Fetches returns a copy of every FetchAll call so far.
func (s *FakeSource) Fetches() []FetchCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FetchCall(nil), s.fetches...)
}

// NewAPIServer serves the data source API over src for the test's lifetime.
// The returned URL is the API base, e.g. "http://127.0.0.1:1234/api".
func NewAPIServer(t testing.TB, src source.Store) string {
	t.Helper()
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.NewErrorHandler(zerolog.Nop(), true)
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Source:   src,
		Location: time.Local,
		Version:  "test",
		Logger:   zerolog.Nop(),
	}))
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL + "/api"
}
