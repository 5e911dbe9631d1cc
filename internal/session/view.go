package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/catalog"
	"github.com/iot-monitor/chartengine/internal/charts"
	"github.com/iot-monitor/chartengine/internal/livebuffer"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/refresh"
	"github.com/iot-monitor/chartengine/internal/visibility"
)

// View is the open chart view of one device: its charts, live buffer,
// refresh scheduler and visibility gates.
type View struct {
	ID       string
	DeviceID string

	buffer    *livebuffer.Buffer
	refresher *refresh.Refresher
	scheduler *refresh.Scheduler
	charts    *charts.Collection
	gates     *visibility.Registry
	catalog   *catalog.Catalog
	now       func() time.Time
	log       zerolog.Logger

	mu           sync.Mutex
	category     string
	lastAccessed time.Time
	closed       bool
}

// Charts returns the view's chart collection.
func (v *View) Charts() *charts.Collection {
	return v.charts
}

// Scheduler returns the view's refresh scheduler.
func (v *View) Scheduler() *refresh.Scheduler {
	return v.scheduler
}

// Gates returns the view's visibility gates.
func (v *View) Gates() *visibility.Registry {
	return v.gates
}

// RefreshState returns the live refresh state.
func (v *View) RefreshState() models.RefreshState {
	return v.refresher.State()
}

// Buffer returns the live buffer.
func (v *View) Buffer() *livebuffer.Buffer {
	return v.buffer
}

// Range returns the active date range.
func (v *View) Range() models.DateRangeKey {
	return v.charts.ActiveRange()
}

// Live reports whether the view shows today's live range.
func (v *View) Live() bool {
	return v.Range().IsToday(v.now())
}

// SetRange switches the view to rng. Selecting today's range primes the live
// buffer first so live charts derive from a loaded buffer; a buffer left over
// from an earlier day is discarded.
func (v *View) SetRange(ctx context.Context, rng models.DateRangeKey) error {
	v.touch()
	if rng.IsToday(v.now()) {
		if err := v.refresher.Rollover(ctx); err != nil {
			v.log.Warn().Err(err).Msg("live buffer not primed")
		}
	}
	return v.charts.SetActiveRange(ctx, rng)
}

// AddChart adds a chart for the given variable keys, resolved against the catalog.
func (v *View) AddChart(ctx context.Context, keys ...string) (int, error) {
	v.touch()
	return v.charts.AddChart(ctx, v.catalog.Resolve(keys))
}

// AddVariable adds key to a chart.
func (v *View) AddVariable(ctx context.Context, chartID int, key string) error {
	v.touch()
	vars := v.catalog.Resolve([]string{key})
	if len(vars) == 0 {
		return fmt.Errorf("add variable to chart %d: empty key", chartID)
	}
	return v.charts.AddVariable(ctx, chartID, vars[0])
}

// RemoveVariable drops key from a chart, deleting the chart with its last variable.
func (v *View) RemoveVariable(chartID int, key string) (bool, error) {
	v.touch()
	removed, err := v.charts.RemoveVariable(chartID, key)
	if removed {
		v.gates.Remove(chartID)
	}
	return removed, err
}

// RemoveChart deletes a chart.
func (v *View) RemoveChart(chartID int) error {
	v.touch()
	if err := v.charts.RemoveChart(chartID); err != nil {
		return err
	}
	v.gates.Remove(chartID)
	return nil
}

// SetAxisOverride stores Y axis settings for one variable of a chart.
func (v *View) SetAxisOverride(chartID int, key string, o models.AxisOverride) error {
	v.touch()
	return v.charts.SetAxisOverride(chartID, key, o)
}

// SetCategory selects the variable category offered for new charts.
func (v *View) SetCategory(name string) {
	v.mu.Lock()
	v.category = name
	v.mu.Unlock()
}

// Category returns the active variable category.
func (v *View) Category() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.category
}

// AvailableVariables lists catalog variables of the active category.
func (v *View) AvailableVariables() []models.Variable {
	return v.catalog.ByCategory(v.Category())
}

// Zoom sets the shared zoom window of every chart.
func (v *View) Zoom(r models.ZoomRange) {
	v.touch()
	v.charts.Zoom().Set(r)
}

// ResetZoom returns every chart to full extent.
func (v *View) ResetZoom() {
	v.touch()
	v.charts.Zoom().Reset()
}

// Observe feeds a visibility observation for one chart container.
func (v *View) Observe(chartID int, visible bool) bool {
	return v.gates.Gate(chartID).Observe(visible)
}

// Layout observes the chart containers stacked in display order against viewport.
// It returns the ids that became shown.
func (v *View) Layout(viewport visibility.Rect, width, height, gap float64) []int {
	specs := v.charts.Charts()
	ids := make([]int, len(specs))
	for i, ch := range specs {
		ids[i] = ch.ID
	}
	return v.gates.Layout(viewport, ids, width, height, gap)
}

// Frames renders every chart in display order. Charts whose gate has not
// been shown get a placeholder and no series.
func (v *View) Frames() []charts.Frame {
	v.touch()
	specs := v.charts.Charts()
	frames := make([]charts.Frame, len(specs))
	for i, ch := range specs {
		if v.gates.Shown(ch.ID) {
			frames[i] = charts.BuildFrame(ch)
		} else {
			frames[i] = charts.PlaceholderFrame(ch)
		}
	}
	return frames
}

// Refresh runs a refresh cycle now.
func (v *View) Refresh(ctx context.Context) error {
	v.touch()
	return v.scheduler.TriggerNow(ctx)
}

// Snapshot captures the persisted form of the view.
func (v *View) Snapshot() models.PersistedViewState {
	state := v.charts.Snapshot()
	state.ActiveCategory = v.Category()
	return state
}

// cycle is the scheduler's refresh step. Historical views skip the probe
// entirely; live views re-derive charts only when new data arrived.
func (v *View) cycle(ctx context.Context) error {
	now := v.now()
	if !v.Range().IsToday(now) {
		return nil
	}

	res, err := v.refresher.Refresh(ctx)
	if err != nil {
		return err
	}
	if !res.Changed {
		return nil
	}
	v.log.Debug().Int("added", res.Added).Msg("live data changed")
	return v.charts.RederiveLive(ctx, now)
}

func (v *View) touch() {
	v.mu.Lock()
	v.lastAccessed = v.now()
	v.mu.Unlock()
}

func (v *View) idleSince() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastAccessed
}

// shutdown stops refreshing and releases the view. It reports false if the
// view was already closed.
func (v *View) shutdown() bool {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return false
	}
	v.closed = true
	v.mu.Unlock()

	v.scheduler.Stop()
	v.refresher.Reset()
	v.charts.Close()
	return true
}
