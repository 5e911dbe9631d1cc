// Package charts holds the multi-chart state model for a device view.
package charts

import (
	"errors"

	"github.com/iot-monitor/chartengine/internal/models"
)

// Sentinel errors returned by Collection operations.
var (
	ErrChartNotFound    = errors.New("chart not found")
	ErrNoVariables      = errors.New("chart requires at least one variable")
	ErrVariableNotFound = errors.New("variable not in chart")
)

// ChartSpec is one chart: an ordered set of variables, its data for the
// active range and per-variable axis overrides.
type ChartSpec struct {
	ID            int
	Variables     []models.Variable
	Data          []models.LogRecord
	AxisOverrides map[string]models.AxisOverride
	Zoom          *ZoomCoordinator
	Loading       bool
	LoadErr       error

	seq       uint64
	dataRange models.DateRangeKey // range Data was loaded for
	unsub     func()
}

// Keys returns the variable keys in chart order.
func (c *ChartSpec) Keys() []string {
	keys := make([]string, len(c.Variables))
	for i, v := range c.Variables {
		keys[i] = v.Key
	}
	return keys
}

// HasVariable reports whether key is charted.
func (c *ChartSpec) HasVariable(key string) bool {
	return c.variableIndex(key) >= 0
}

// Variable returns the variable for key.
func (c *ChartSpec) Variable(key string) (models.Variable, bool) {
	if i := c.variableIndex(key); i >= 0 {
		return c.Variables[i], true
	}
	return models.Variable{}, false
}

// ZoomRange returns the shared zoom window this chart observes.
func (c *ChartSpec) ZoomRange() *models.ZoomRange {
	if c.Zoom == nil {
		return nil
	}
	return c.Zoom.Current()
}

// Override returns the axis override for key, or the zero override.
func (c *ChartSpec) Override(key string) models.AxisOverride {
	return c.AxisOverrides[key]
}

func (c *ChartSpec) variableIndex(key string) int {
	for i, v := range c.Variables {
		if v.Key == key {
			return i
		}
	}
	return -1
}

// snapshot returns a copy detached from collection internals.
func (c *ChartSpec) snapshot() ChartSpec {
	out := ChartSpec{
		ID:        c.ID,
		Variables: append([]models.Variable(nil), c.Variables...),
		Data:      c.Data,
		Zoom:      c.Zoom,
		Loading:   c.Loading,
		LoadErr:   c.LoadErr,
	}
	if len(c.AxisOverrides) > 0 {
		out.AxisOverrides = make(map[string]models.AxisOverride, len(c.AxisOverrides))
		for k, v := range c.AxisOverrides {
			out.AxisOverrides[k] = v
		}
	}
	return out
}

// uniqueVariables drops empty and repeated keys, keeping first occurrence order.
func uniqueVariables(vars []models.Variable) []models.Variable {
	seen := make(map[string]struct{}, len(vars))
	out := make([]models.Variable, 0, len(vars))
	for _, v := range vars {
		if v.Key == "" {
			continue
		}
		if _, dup := seen[v.Key]; dup {
			continue
		}
		seen[v.Key] = struct{}{}
		out = append(out, v)
	}
	return out
}
