// Package models contains domain types for the sensor chart engine.
package models

import "time"

// RecordStatus is the alarm status reported for a reading.
type RecordStatus string

const (
	StatusNone     RecordStatus = ""
	StatusNormal   RecordStatus = "normal"
	StatusWarning  RecordStatus = "warning"
	StatusCritical RecordStatus = "critical"
	StatusUnknown  RecordStatus = "unknown"
)

// Known reports whether the status carries a usable server verdict.
func (s RecordStatus) Known() bool {
	switch s {
	case StatusNormal, StatusWarning, StatusCritical:
		return true
	}
	return false
}

// LogRecord is a single sensor reading received from the data source.
// Records are immutable once received; ID is the de-duplication identity.
type LogRecord struct {
	ID        string       `json:"id" msgpack:"id"`
	DeviceID  string       `json:"deviceId" msgpack:"device_id"`
	Key       string       `json:"key" msgpack:"key"`
	Value     float64      `json:"value" msgpack:"value"`
	Numeric   bool         `json:"numeric" msgpack:"numeric"` // false when the raw value is not a number
	Raw       string       `json:"raw,omitempty" msgpack:"raw,omitempty"`
	Timestamp time.Time    `json:"timestamp" msgpack:"timestamp"`
	Unit      string       `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Status    RecordStatus `json:"status,omitempty" msgpack:"status,omitempty"`
}

// FilterKeys returns the records whose key is in keys, preserving order.
// A nil or empty keys slice returns nil.
func FilterKeys(records []LogRecord, keys []string) []LogRecord {
	if len(keys) == 0 || len(records) == 0 {
		return nil
	}
	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}
	out := make([]LogRecord, 0, len(records))
	for _, r := range records {
		if _, ok := want[r.Key]; ok {
			out = append(out, r)
		}
	}
	return out
}
