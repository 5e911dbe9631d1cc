package models

// Variable is a sensor variable selected into a chart.
type Variable struct {
	Key          string   `json:"key" yaml:"key"`
	Label        string   `json:"label" yaml:"label"`
	Color        string   `json:"color" yaml:"color"`
	Unit         string   `json:"unit,omitempty" yaml:"unit,omitempty"`
	AlarmEnabled bool     `json:"alarmEnabled" yaml:"alarm_enabled"`
	MinAlarm     *float64 `json:"minAlarm,omitempty" yaml:"min_alarm,omitempty"`
	MaxAlarm     *float64 `json:"maxAlarm,omitempty" yaml:"max_alarm,omitempty"`
}

// AxisOverride holds per-variable Y axis display settings for one chart.
type AxisOverride struct {
	CustomRange         bool    `json:"customRange"`
	Min                 float64 `json:"min"`
	Max                 float64 `json:"max"`
	ShowAlarmThresholds bool    `json:"showAlarmThresholds"`
}

// ZoomRange is a window in the chart time domain (unix seconds).
// A nil *ZoomRange means full extent.
type ZoomRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Valid reports whether the window is non-empty.
func (z ZoomRange) Valid() bool {
	return z.Max > z.Min
}

// Contains reports whether ts lies inside the window, bounds included.
func (z ZoomRange) Contains(ts float64) bool {
	return ts >= z.Min && ts <= z.Max
}
