package charts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/iot-monitor/chartengine/internal/models"
)

// Loader resolves records for a date range and set of variable keys.
type Loader interface {
	Load(ctx context.Context, rng models.DateRangeKey, keys []string) ([]models.LogRecord, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, rng models.DateRangeKey, keys []string) ([]models.LogRecord, error)

func (f LoaderFunc) Load(ctx context.Context, rng models.DateRangeKey, keys []string) ([]models.LogRecord, error) {
	return f(ctx, rng, keys)
}

// Options configures a Collection.
type Options struct {
	// MaxConcurrentFetches bounds parallel per-chart loads. Defaults to 4.
	MaxConcurrentFetches int
	// OnZoom, when set, is called for each chart whenever the shared window changes.
	OnZoom func(chartID int, r *models.ZoomRange)
	Logger zerolog.Logger
}

// Collection is the ordered set of charts of one device view.
type Collection struct {
	loader Loader
	zoom   *ZoomCoordinator
	limit  int
	onZoom func(int, *models.ZoomRange)
	log    zerolog.Logger

	mu     sync.Mutex
	charts []*ChartSpec
	nextID int
	rng    models.DateRangeKey
}

// NewCollection creates an empty collection showing rng.
func NewCollection(loader Loader, rng models.DateRangeKey, opts Options) *Collection {
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = 4
	}
	return &Collection{
		loader: loader,
		zoom:   NewZoomCoordinator(),
		limit:  opts.MaxConcurrentFetches,
		onZoom: opts.OnZoom,
		log:    opts.Logger.With().Str("component", "charts").Logger(),
		rng:    rng,
	}
}

// Zoom returns the coordinator shared by every chart.
func (c *Collection) Zoom() *ZoomCoordinator {
	return c.zoom
}

// ActiveRange returns the date range charts are showing.
func (c *Collection) ActiveRange() models.DateRangeKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng
}

// NextID returns the id the next chart will receive.
func (c *Collection) NextID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextID + 1
}

// Charts returns snapshots of every chart in order.
func (c *Collection) Charts() []ChartSpec {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChartSpec, len(c.charts))
	for i, ch := range c.charts {
		out[i] = ch.snapshot()
	}
	return out
}

// Chart returns a snapshot of one chart.
func (c *Collection) Chart(id int) (ChartSpec, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := c.find(id)
	if ch == nil {
		return ChartSpec{}, false
	}
	return ch.snapshot(), true
}

// Len returns the number of charts.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.charts)
}

// AddChart appends a chart for vars and loads its data for the active range.
// The returned id is valid even when the load fails; the failure is also
// recorded on the chart's LoadErr.
func (c *Collection) AddChart(ctx context.Context, vars []models.Variable) (int, error) {
	vars = uniqueVariables(vars)
	if len(vars) == 0 {
		return 0, ErrNoVariables
	}

	c.mu.Lock()
	c.nextID++
	ch := &ChartSpec{
		ID:        c.nextID,
		Variables: vars,
		Zoom:      c.zoom,
	}
	c.subscribe(ch)
	c.charts = append(c.charts, ch)
	c.mu.Unlock()

	c.log.Debug().Int("chart", ch.ID).Strs("keys", ch.Keys()).Msg("chart added")
	return ch.ID, c.load(ctx, []int{ch.ID})
}

// RemoveChart deletes a chart. The shared zoom window is left untouched.
func (c *Collection) RemoveChart(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(id)
}

// AddVariable adds v to a chart and reloads that chart. Adding a key that is
// already charted is a no-op.
func (c *Collection) AddVariable(ctx context.Context, chartID int, v models.Variable) error {
	if v.Key == "" {
		return fmt.Errorf("add variable to chart %d: empty key", chartID)
	}

	c.mu.Lock()
	ch := c.find(chartID)
	if ch == nil {
		c.mu.Unlock()
		return fmt.Errorf("add variable to chart %d: %w", chartID, ErrChartNotFound)
	}
	if ch.HasVariable(v.Key) {
		c.mu.Unlock()
		return nil
	}
	ch.Variables = append(ch.Variables, v)
	c.mu.Unlock()

	return c.load(ctx, []int{chartID})
}

// RemoveVariable drops key from a chart. Removing the last variable removes
// the chart; removed reports whether that happened.
func (c *Collection) RemoveVariable(chartID int, key string) (removed bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.find(chartID)
	if ch == nil {
		return false, fmt.Errorf("remove variable from chart %d: %w", chartID, ErrChartNotFound)
	}
	i := ch.variableIndex(key)
	if i < 0 {
		return false, fmt.Errorf("remove %q from chart %d: %w", key, chartID, ErrVariableNotFound)
	}

	if len(ch.Variables) == 1 {
		c.log.Debug().Int("chart", chartID).Msg("last variable removed, dropping chart")
		return true, c.removeLocked(chartID)
	}

	vars := make([]models.Variable, 0, len(ch.Variables)-1)
	vars = append(vars, ch.Variables[:i]...)
	vars = append(vars, ch.Variables[i+1:]...)
	ch.Variables = vars
	delete(ch.AxisOverrides, key)
	ch.Data = models.FilterKeys(ch.Data, ch.Keys())
	return false, nil
}

// SetAxisOverride stores the Y axis settings for one variable of a chart.
func (c *Collection) SetAxisOverride(chartID int, key string, o models.AxisOverride) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.find(chartID)
	if ch == nil {
		return fmt.Errorf("set axis on chart %d: %w", chartID, ErrChartNotFound)
	}
	if !ch.HasVariable(key) {
		return fmt.Errorf("set axis %q on chart %d: %w", key, chartID, ErrVariableNotFound)
	}
	if ch.AxisOverrides == nil {
		ch.AxisOverrides = make(map[string]models.AxisOverride)
	}
	ch.AxisOverrides[key] = o
	return nil
}

// SetActiveRange switches every chart to rng and re-derives their data.
// Chart ids and configuration survive; the shared zoom resets to full extent.
// Per-chart failures are joined into the returned error.
func (c *Collection) SetActiveRange(ctx context.Context, rng models.DateRangeKey) error {
	if err := rng.Validate(); err != nil {
		return fmt.Errorf("set active range: %w", err)
	}

	c.mu.Lock()
	changed := c.rng != rng
	c.rng = rng
	ids := c.idsLocked()
	c.mu.Unlock()

	if changed {
		c.zoom.Reset()
	}
	return c.load(ctx, ids)
}

// RederiveLive reloads every chart when the active range is today's live
// range at now. It is a no-op for historical ranges.
func (c *Collection) RederiveLive(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	live := c.rng.IsToday(now)
	ids := c.idsLocked()
	c.mu.Unlock()

	if !live {
		return nil
	}
	return c.load(ctx, ids)
}

// Reload re-derives data for every chart.
func (c *Collection) Reload(ctx context.Context) error {
	c.mu.Lock()
	ids := c.idsLocked()
	c.mu.Unlock()
	return c.load(ctx, ids)
}

// Restore replaces the collection contents from a persisted snapshot without
// loading data. Call Reload afterwards to populate charts.
func (c *Collection) Restore(state models.PersistedViewState) {
	c.mu.Lock()
	for _, ch := range c.charts {
		ch.unsub()
	}
	c.charts = nil
	c.rng = state.Range()

	maxID := 0
	for _, pc := range state.Charts {
		vars := uniqueVariables(pc.Variables)
		if len(vars) == 0 {
			continue
		}
		ch := &ChartSpec{ID: pc.ID, Variables: vars, Zoom: c.zoom}
		if overrides := state.YAxisSettings[fmt.Sprint(pc.ID)]; len(overrides) > 0 {
			ch.AxisOverrides = make(map[string]models.AxisOverride, len(overrides))
			for k, o := range overrides {
				if ch.HasVariable(k) {
					ch.AxisOverrides[k] = o
				}
			}
		}
		c.subscribe(ch)
		c.charts = append(c.charts, ch)
		if pc.ID > maxID {
			maxID = pc.ID
		}
	}
	// ids are never reused, even if the counter was persisted too low
	c.nextID = state.ChartIDCounter
	if c.nextID < maxID {
		c.nextID = maxID
	}
	c.mu.Unlock()

	if z := state.SharedZoomRange; z != nil {
		c.zoom.Set(*z)
	} else {
		c.zoom.Reset()
	}
}

// Snapshot captures the persisted form of the collection. Data payloads are omitted.
func (c *Collection) Snapshot() models.PersistedViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	zoom := c.zoom.Current()
	state := models.PersistedViewState{
		DateFrom:        c.rng.From,
		DateTo:          c.rng.To,
		Charts:          make([]models.PersistedChart, 0, len(c.charts)),
		ChartIDCounter:  c.nextID,
		SharedZoomRange: zoom,
		YAxisSettings:   make(map[string]map[string]models.AxisOverride),
	}
	for _, ch := range c.charts {
		state.Charts = append(state.Charts, models.PersistedChart{
			ID:        ch.ID,
			Variables: append([]models.Variable(nil), ch.Variables...),
			ZoomRange: zoom,
		})
		if len(ch.AxisOverrides) > 0 {
			m := make(map[string]models.AxisOverride, len(ch.AxisOverrides))
			for k, o := range ch.AxisOverrides {
				m[k] = o
			}
			state.YAxisSettings[fmt.Sprint(ch.ID)] = m
		}
	}
	return state
}

// Close unsubscribes every chart from the shared zoom.
func (c *Collection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.charts {
		ch.unsub()
	}
}

type loadJob struct {
	id   int
	seq  uint64
	keys []string
}

// load fetches data for the given charts concurrently and applies results
// that are still current.
func (c *Collection) load(ctx context.Context, ids []int) error {
	c.mu.Lock()
	rng := c.rng
	jobs := make([]loadJob, 0, len(ids))
	for _, id := range ids {
		ch := c.find(id)
		if ch == nil {
			continue
		}
		ch.seq++
		ch.Loading = true
		jobs = append(jobs, loadJob{id: id, seq: ch.seq, keys: ch.Keys()})
	}
	c.mu.Unlock()

	if len(jobs) == 0 {
		return nil
	}

	var (
		g     errgroup.Group
		errMu sync.Mutex
		errs  []error
	)
	g.SetLimit(c.limit)
	for _, job := range jobs {
		g.Go(func() error {
			records, err := c.loader.Load(ctx, rng, job.keys)
			if err = c.apply(job, rng, records, err); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// apply commits a load result when the chart still exists, the job is the
// latest issued for it and the range is still active. A failed load keeps the
// chart's data only when that data belongs to the same range. It returns the
// load error for results that were applied.
func (c *Collection) apply(job loadJob, rng models.DateRangeKey, records []models.LogRecord, loadErr error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := c.find(job.id)
	if ch == nil || ch.seq != job.seq || c.rng != rng {
		c.log.Debug().Int("chart", job.id).Str("range", rng.Key()).Msg("discarding stale load")
		return nil
	}

	ch.Loading = false
	if loadErr != nil {
		ch.LoadErr = loadErr
		// previous data survives a failed refresh of the same range only
		if ch.dataRange != rng {
			ch.Data = nil
			ch.dataRange = rng
		}
		c.log.Warn().Err(loadErr).Int("chart", job.id).Str("range", rng.Key()).Msg("chart load failed")
		return fmt.Errorf("chart %d: %w", job.id, loadErr)
	}
	ch.LoadErr = nil
	// the variable set may have shrunk while the load was in flight
	ch.Data = models.FilterKeys(records, ch.Keys())
	ch.dataRange = rng
	return nil
}

func (c *Collection) subscribe(ch *ChartSpec) {
	if c.onZoom == nil {
		ch.unsub = func() {}
		return
	}
	id, fn := ch.ID, c.onZoom
	ch.unsub = c.zoom.Subscribe(func(r *models.ZoomRange) { fn(id, r) })
}

func (c *Collection) removeLocked(id int) error {
	for i, ch := range c.charts {
		if ch.ID == id {
			ch.unsub()
			c.charts = append(c.charts[:i:i], c.charts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("remove chart %d: %w", id, ErrChartNotFound)
}

func (c *Collection) find(id int) *ChartSpec {
	for _, ch := range c.charts {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

func (c *Collection) idsLocked() []int {
	ids := make([]int, len(c.charts))
	for i, ch := range c.charts {
		ids[i] = ch.ID
	}
	return ids
}
