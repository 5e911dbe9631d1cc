package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/livebuffer"
	"github.com/iot-monitor/chartengine/internal/logging"
	"github.com/iot-monitor/chartengine/internal/models"
)

// Result describes the outcome of one refresh cycle.
type Result struct {
	Changed bool
	Added   int
}

// Refresher runs the probe-then-fetch protocol for one device and feeds the live buffer.
type Refresher struct {
	deviceID string
	probe    Probe
	fetcher  Fetcher
	buffer   *livebuffer.Buffer
	now      func() time.Time
	log      zerolog.Logger

	mu    sync.Mutex
	state models.RefreshState
	day   string // calendar day the buffer holds
}

// NewRefresher creates a Refresher for deviceID. now defaults to time.Now.
func NewRefresher(deviceID string, probe Probe, fetcher Fetcher, buffer *livebuffer.Buffer, now func() time.Time, log zerolog.Logger) *Refresher {
	if now == nil {
		now = time.Now
	}
	return &Refresher{
		deviceID: deviceID,
		probe:    probe,
		fetcher:  fetcher,
		buffer:   buffer,
		now:      now,
		log:      logging.Device(logging.Component(log, "refresh"), deviceID),
	}
}

// State returns a copy of the current refresh state.
func (r *Refresher) State() models.RefreshState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current reports whether the refresher is initialized for the calendar day of now.
func (r *Refresher) Current(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Initialized() && r.day == now.Format(models.DateLayout)
}

// Initialize loads today's records from local midnight and records the boundary and token.
// The buffer is replaced. On failure the state is left as it was.
func (r *Refresher) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.probe.CheckUpdated(ctx, r.deviceID)
	if err != nil {
		return fmt.Errorf("initial probe: %w", err)
	}

	now := r.now()
	records, err := r.fetcher.FetchAll(ctx, r.deviceID, models.StartOfDay(now), now, nil)
	if err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}

	added := r.buffer.Reset(records)
	r.state = models.RefreshState{LastFetchBoundary: now, LastKnownUpdate: token}
	r.day = now.Format(models.DateLayout)
	r.log.Debug().Int("records", added).Str("token", token).Msg("live view initialized")
	return nil
}

// Refresh runs one cycle. An unchanged token means no fetch and no state change.
// A changed token fetches the window since the last boundary, merges it into the
// buffer and advances the state. Any failure leaves the state untouched.
// After midnight the previous day's buffer is discarded and today is loaded afresh.
func (r *Refresher) Refresh(ctx context.Context) (Result, error) {
	if !r.Current(r.now()) {
		if err := r.Rollover(ctx); err != nil {
			return Result{}, err
		}
		return Result{Changed: true, Added: r.buffer.Len()}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	token, err := r.probe.CheckUpdated(ctx, r.deviceID)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}
	if token == r.state.LastKnownUpdate {
		r.log.Debug().Msg("no new data")
		return Result{}, nil
	}

	now := r.now()
	records, err := r.fetcher.FetchAll(ctx, r.deviceID, r.state.LastFetchBoundary, now, nil)
	if err != nil {
		return Result{}, fmt.Errorf("incremental fetch: %w", err)
	}

	added := r.buffer.Merge(records)
	r.state = models.RefreshState{LastFetchBoundary: now, LastKnownUpdate: token}
	r.log.Debug().Int("added", added).Str("token", token).Msg("merged new records")
	return Result{Changed: true, Added: added}, nil
}

// Rollover reloads today when the refresher is uninitialized or holds an
// earlier day. A stale day is discarded even if the reload fails.
func (r *Refresher) Rollover(ctx context.Context) error {
	if r.Current(r.now()) {
		return nil
	}
	if r.State().Initialized() {
		r.log.Info().Str("day", r.Day()).Msg("day changed, discarding live buffer")
		r.Reset()
	}
	return r.Initialize(ctx)
}

// Day returns the calendar day the live buffer was loaded for, empty before
// the first Initialize.
func (r *Refresher) Day() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.day
}

// Reset discards the refresh state and the live buffer; the next Refresh
// re-initializes.
func (r *Refresher) Reset() {
	r.mu.Lock()
	r.state = models.RefreshState{}
	r.day = ""
	r.buffer.Reset(nil)
	r.mu.Unlock()
}
