// Package session owns the device views of one engine session together with
// the session-scoped storage, range cache and view state persistence.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/iot-monitor/chartengine/internal/cache"
	"github.com/iot-monitor/chartengine/internal/catalog"
	"github.com/iot-monitor/chartengine/internal/charts"
	"github.com/iot-monitor/chartengine/internal/livebuffer"
	"github.com/iot-monitor/chartengine/internal/logging"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/refresh"
	"github.com/iot-monitor/chartengine/internal/storage"
	"github.com/iot-monitor/chartengine/internal/viewstate"
	"github.com/iot-monitor/chartengine/internal/visibility"
)

// MaxViews limits concurrently open device views.
const MaxViews = 32

// ErrTooManyViews is returned by OpenView when MaxViews views are open.
var ErrTooManyViews = errors.New("too many open views")

// Options configures a Manager. Probe and Fetcher are required.
type Options struct {
	Probe   refresh.Probe
	Fetcher refresh.Fetcher

	// Storage backs the cache and view state. Defaults to an in-memory store.
	Storage storage.SessionStorage
	// KeepStorage leaves Storage intact on Shutdown.
	KeepStorage bool
	// Cache overrides the range cache built over Storage.
	Cache   cache.Store
	Catalog *catalog.Catalog

	CacheTTL             time.Duration
	RefreshInterval      time.Duration
	MinRefreshInterval   time.Duration
	MaxRefreshInterval   time.Duration
	TickRate             time.Duration
	MaxConcurrentFetches int
	LeadMargin           float64

	Location *time.Location
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Manager handles the open device views of one session.
type Manager struct {
	views map[string]*View
	mu    sync.RWMutex

	opts      Options
	storage   storage.SessionStorage
	cache     cache.Store
	viewState *viewstate.Store
	catalog   *catalog.Catalog
	group     singleflight.Group
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a session manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Probe == nil || opts.Fetcher == nil {
		return nil, fmt.Errorf("session manager requires a probe and a fetcher")
	}
	if opts.Storage == nil {
		opts.Storage = storage.NewMemoryStore()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	if opts.LeadMargin <= 0 {
		opts.LeadMargin = visibility.DefaultLeadMargin
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(opts.Storage, cache.Options{
			TTL:    opts.CacheTTL,
			Now:    opts.Now,
			Logger: opts.Logger,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		views:     make(map[string]*View),
		opts:      opts,
		storage:   opts.Storage,
		cache:     opts.Cache,
		viewState: viewstate.New(opts.Storage, opts.Now, opts.Logger),
		catalog:   opts.Catalog,
		log:       logging.Component(opts.Logger, "session"),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Cache returns the session's range cache.
func (m *Manager) Cache() cache.Store {
	return m.cache
}

// Catalog returns the variable catalog.
func (m *Manager) Catalog() *catalog.Catalog {
	return m.catalog
}

// ViewState returns the session's view state store.
func (m *Manager) ViewState() *viewstate.Store {
	return m.viewState
}

// OpenView opens the view of deviceID, or returns it if already open.
// A persisted snapshot is restored when present; otherwise the view starts
// empty on rng, or on today's range when rng is zero. Chart load failures are
// recorded per chart and do not fail the open.
func (m *Manager) OpenView(ctx context.Context, deviceID string, rng models.DateRangeKey) (*View, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("open view: empty device id")
	}

	m.mu.Lock()
	if v, ok := m.views[deviceID]; ok {
		m.mu.Unlock()
		v.touch()
		return v, nil
	}
	if len(m.views) >= MaxViews {
		m.mu.Unlock()
		return nil, fmt.Errorf("open view %s: %w", deviceID, ErrTooManyViews)
	}
	v := m.newView(deviceID)
	m.views[deviceID] = v
	m.mu.Unlock()

	now := m.opts.Now()
	state, restored := m.viewState.Load(deviceID)
	if !restored || state.Range().IsZero() {
		if rng.IsZero() {
			rng = models.TodayRange(now)
		}
		if err := rng.Validate(); err != nil {
			m.discard(deviceID, v)
			return nil, fmt.Errorf("open view %s: %w", deviceID, err)
		}
		state.DateFrom, state.DateTo = rng.From, rng.To
	}
	v.charts.Restore(state)
	v.SetCategory(state.ActiveCategory)

	if v.Live() {
		if err := v.refresher.Initialize(ctx); err != nil {
			v.log.Warn().Err(err).Msg("initial live load failed")
		}
	}
	if err := v.charts.Reload(ctx); err != nil {
		v.log.Warn().Err(err).Msg("some charts failed to load")
	}

	v.scheduler.Start(m.ctx)
	v.touch()

	v.log.Info().
		Str("view", logging.ShortID(v.ID)).
		Str("range", v.Range().Key()).
		Int("charts", v.charts.Len()).
		Bool("restored", restored).
		Msg("view opened")
	return v, nil
}

func (m *Manager) newView(deviceID string) *View {
	log := logging.Device(logging.Component(m.opts.Logger, "view"), deviceID)
	buffer := livebuffer.New()

	v := &View{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		buffer:    buffer,
		refresher: refresh.NewRefresher(deviceID, m.opts.Probe, m.opts.Fetcher, buffer, m.opts.Now, m.opts.Logger),
		gates:     visibility.NewRegistry(m.opts.LeadMargin),
		catalog:   m.catalog,
		now:       m.opts.Now,
		log:       log,
	}

	loader := &resolver{
		deviceID: deviceID,
		buffer:   buffer,
		cache:    m.cache,
		fetcher:  m.opts.Fetcher,
		group:    &m.group,
		loc:      m.opts.Location,
		now:      m.opts.Now,
		log:      log,
	}
	v.charts = charts.NewCollection(loader, models.TodayRange(m.opts.Now()), charts.Options{
		MaxConcurrentFetches: m.opts.MaxConcurrentFetches,
		Logger:               log,
	})
	v.scheduler = refresh.NewScheduler(v.cycle, refresh.SchedulerOptions{
		Interval:    m.opts.RefreshInterval,
		MinInterval: m.opts.MinRefreshInterval,
		MaxInterval: m.opts.MaxRefreshInterval,
		TickRate:    m.opts.TickRate,
		Now:         m.opts.Now,
		Logger:      log,
	})
	return v
}

// View returns the open view of deviceID and marks it as accessed.
func (m *Manager) View(deviceID string) (*View, bool) {
	m.mu.RLock()
	v, ok := m.views[deviceID]
	m.mu.RUnlock()
	if ok {
		v.touch()
	}
	return v, ok
}

// TouchView marks a view as accessed so idle cleanup keeps it.
func (m *Manager) TouchView(deviceID string) bool {
	_, ok := m.View(deviceID)
	return ok
}

// Devices lists devices with an open view.
func (m *Manager) Devices() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.views))
	for id := range m.views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloseView persists the view's snapshot, stops its scheduler and discards
// its refresh state. Closing a device without an open view is a no-op.
func (m *Manager) CloseView(deviceID string) error {
	m.mu.Lock()
	v, ok := m.views[deviceID]
	delete(m.views, deviceID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.closeView(v)
}

func (m *Manager) closeView(v *View) error {
	state := v.Snapshot()
	if !v.shutdown() {
		return nil
	}
	if err := m.viewState.Save(v.DeviceID, state); err != nil {
		return fmt.Errorf("close view %s: %w", v.DeviceID, err)
	}
	v.log.Info().Str("view", logging.ShortID(v.ID)).Int("charts", len(state.Charts)).Msg("view closed")
	return nil
}

// ForgetView closes the view of deviceID without persisting it and clears
// its saved snapshot, so the next open starts empty.
func (m *Manager) ForgetView(deviceID string) error {
	m.mu.Lock()
	v, ok := m.views[deviceID]
	m.mu.Unlock()
	if ok {
		m.discard(deviceID, v)
	}
	if err := m.viewState.Clear(deviceID); err != nil {
		return fmt.Errorf("forget view %s: %w", deviceID, err)
	}
	return nil
}

// discard drops a half-opened view without persisting it.
func (m *Manager) discard(deviceID string, v *View) {
	m.mu.Lock()
	if m.views[deviceID] == v {
		delete(m.views, deviceID)
	}
	m.mu.Unlock()
	v.shutdown()
}

// CleanupIdleViews closes views not accessed within maxIdle and purges
// expired cache entries. It returns the number of views closed.
func (m *Manager) CleanupIdleViews(maxIdle time.Duration) int {
	cutoff := m.opts.Now().Add(-maxIdle)

	m.mu.Lock()
	var idle []*View
	for id, v := range m.views {
		if v.idleSince().Before(cutoff) {
			idle = append(idle, v)
			delete(m.views, id)
		}
	}
	m.mu.Unlock()

	for _, v := range idle {
		if err := m.closeView(v); err != nil {
			m.log.Warn().Err(err).Str("device", v.DeviceID).Msg("failed to persist idle view")
		}
		m.log.Info().Str("device", v.DeviceID).Msg("closed idle view")
	}

	if p, ok := m.cache.(interface{ Purge() int }); ok {
		if n := p.Purge(); n > 0 {
			m.log.Debug().Int("entries", n).Msg("purged expired cache entries")
		}
	}
	return len(idle)
}

// StartCleanup runs CleanupIdleViews every interval until ctx is done or the
// manager shuts down.
func (m *Manager) StartCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.CleanupIdleViews(maxIdle)
			}
		}
	}()
}

// Shutdown closes every view and ends the session. Session storage is
// cleared unless KeepStorage is set.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	views := make([]*View, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	m.views = make(map[string]*View)
	m.mu.Unlock()

	var errs []error
	for _, v := range views {
		if err := m.closeView(v); err != nil {
			errs = append(errs, err)
		}
	}
	m.cancel()

	if !m.opts.KeepStorage {
		if err := m.storage.Clear(); err != nil {
			errs = append(errs, fmt.Errorf("clear session storage: %w", err))
		}
	}
	return errors.Join(errs...)
}
