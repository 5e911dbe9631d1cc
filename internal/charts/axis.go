package charts

import (
	"math"

	"github.com/iot-monitor/chartengine/internal/models"
)

// AxisScale is the resolved Y range of one variable.
type AxisScale struct {
	Min        float64   `json:"min"`
	Max        float64   `json:"max"`
	Auto       bool      `json:"auto"`
	Thresholds []float64 `json:"thresholds,omitempty"`
}

const autoPadding = 0.05

// ResolveAxis computes the Y scale for a variable. A valid custom range wins;
// otherwise the scale fits the data with padding, widened to include alarm
// thresholds when they are displayed. ok is false when there is nothing to fit.
func ResolveAxis(values []*float64, v models.Variable, o models.AxisOverride) (AxisScale, bool) {
	thresholds := AlarmLines(v, o)

	if o.CustomRange && o.Max > o.Min {
		return AxisScale{Min: o.Min, Max: o.Max, Thresholds: thresholds}, true
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range values {
		if p == nil {
			continue
		}
		lo = math.Min(lo, *p)
		hi = math.Max(hi, *p)
	}
	for _, t := range thresholds {
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}
	if math.IsInf(lo, 1) {
		return AxisScale{}, false
	}

	span := hi - lo
	if span == 0 {
		span = math.Max(math.Abs(hi), 1)
	}
	pad := span * autoPadding
	return AxisScale{Min: lo - pad, Max: hi + pad, Auto: true, Thresholds: thresholds}, true
}

// AlarmLines returns the threshold values to draw for a variable, if any.
func AlarmLines(v models.Variable, o models.AxisOverride) []float64 {
	if !o.ShowAlarmThresholds || !v.AlarmEnabled {
		return nil
	}
	var lines []float64
	if v.MinAlarm != nil {
		lines = append(lines, *v.MinAlarm)
	}
	if v.MaxAlarm != nil {
		lines = append(lines, *v.MaxAlarm)
	}
	return lines
}
