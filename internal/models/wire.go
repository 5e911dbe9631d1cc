package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// recordNamespace seeds deterministic ids for wire records that arrive without one.
var recordNamespace = uuid.MustParse("6f1c2a52-4a0e-4d7a-9a3b-2f4b8c1d9e70")

// WireLog is a log record as exchanged with the HTTP API.
type WireLog struct {
	ID       string `json:"id,omitempty" msgpack:"id,omitempty"`
	DeviceID string `json:"device_id,omitempty" msgpack:"device_id,omitempty"`
	LogKey   string `json:"log_key" msgpack:"log_key"`
	LogValue any    `json:"log_value" msgpack:"log_value"`
	LoggedAt string `json:"logged_at" msgpack:"logged_at"`
	Unit     string `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Status   string `json:"status,omitempty" msgpack:"status,omitempty"`
}

// LogsRangeResponse is the body of logs_range.
type LogsRangeResponse struct {
	Success bool      `json:"success" msgpack:"success"`
	Logs    []WireLog `json:"logs" msgpack:"logs"`
	Total   int       `json:"total" msgpack:"total"`
	HasMore bool      `json:"has_more" msgpack:"has_more"`
	Error   string    `json:"error,omitempty" msgpack:"error,omitempty"`
}

// LastUpdateResponse is the body of last_update.
type LastUpdateResponse struct {
	Success    bool   `json:"success" msgpack:"success"`
	LastUpdate string `json:"last_update" msgpack:"last_update"`
	Error      string `json:"error,omitempty" msgpack:"error,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseLoggedAt parses the wire timestamp: RFC3339, naive local datetime, or epoch milliseconds.
func ParseLoggedAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty logged_at")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).In(loc), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized logged_at %q", s)
}

// CoerceValue converts a wire value to a number. ok is false when the value
// has no numeric reading; raw always holds the textual form.
func CoerceValue(v any) (value float64, raw string, ok bool) {
	switch x := v.(type) {
	case nil:
		return 0, "", false
	case float64:
		return x, strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return float64(x), strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return float64(x), strconv.Itoa(x), true
	case int8:
		return float64(x), strconv.FormatInt(int64(x), 10), true
	case int16:
		return float64(x), strconv.FormatInt(int64(x), 10), true
	case int32:
		return float64(x), strconv.FormatInt(int64(x), 10), true
	case int64:
		return float64(x), strconv.FormatInt(x, 10), true
	case uint8:
		return float64(x), strconv.FormatUint(uint64(x), 10), true
	case uint16:
		return float64(x), strconv.FormatUint(uint64(x), 10), true
	case uint32:
		return float64(x), strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return float64(x), strconv.FormatUint(x, 10), true
	case json.Number:
		f, err := x.Float64()
		return f, x.String(), err == nil
	case bool:
		if x {
			return 1, "true", true
		}
		return 0, "false", true
	case string:
		s := strings.TrimSpace(x)
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, x, false
		}
		return f, x, true
	default:
		return 0, fmt.Sprint(x), false
	}
}

// RecordFromWire maps a wire record onto a LogRecord for deviceID.
// log_key becomes Key, log_value the numeric-coerced Value and logged_at the Timestamp.
func RecordFromWire(deviceID string, w WireLog, loc *time.Location) (LogRecord, error) {
	if w.LogKey == "" {
		return LogRecord{}, fmt.Errorf("record without log_key")
	}
	ts, err := ParseLoggedAt(w.LoggedAt, loc)
	if err != nil {
		return LogRecord{}, err
	}
	value, raw, numeric := CoerceValue(w.LogValue)

	id := w.ID
	if id == "" {
		name := deviceID + "|" + w.LogKey + "|" + strconv.FormatInt(ts.UnixMilli(), 10) + "|" + raw
		id = uuid.NewSHA1(recordNamespace, []byte(name)).String()
	}

	return LogRecord{
		ID:        id,
		DeviceID:  deviceID,
		Key:       w.LogKey,
		Value:     value,
		Numeric:   numeric,
		Raw:       raw,
		Timestamp: ts,
		Unit:      w.Unit,
		Status:    RecordStatus(strings.ToLower(w.Status)),
	}, nil
}

// ToWire converts a record to its wire form.
func (r LogRecord) ToWire() WireLog {
	var value any = r.Value
	if !r.Numeric {
		value = r.Raw
	}
	return WireLog{
		ID:       r.ID,
		DeviceID: r.DeviceID,
		LogKey:   r.Key,
		LogValue: value,
		LoggedAt: r.Timestamp.Format(time.RFC3339Nano),
		Unit:     r.Unit,
		Status:   string(r.Status),
	}
}
