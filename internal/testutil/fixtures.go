package testutil

import (
	"fmt"
	"strconv"
	"time"

	"github.com/iot-monitor/chartengine/internal/models"
)

// Series builds n numeric records for one key, step apart starting at start.
// Ids are "<device>-<key>-<unix ms>" so repeated builds are stable.
func Series(deviceID, key string, start time.Time, step time.Duration, n int, value func(i int) float64) []models.LogRecord {
	out := make([]models.LogRecord, n)
	for i := range out {
		ts := start.Add(time.Duration(i) * step)
		v := float64(i)
		if value != nil {
			v = value(i)
		}
		out[i] = models.LogRecord{
			ID:        fmt.Sprintf("%s-%s-%d", deviceID, key, ts.UnixMilli()),
			DeviceID:  deviceID,
			Key:       key,
			Value:     v,
			Numeric:   true,
			Raw:       strconv.FormatFloat(v, 'f', -1, 64),
			Timestamp: ts,
		}
	}
	return out
}

// Day returns local midnight of the given date.
func Day(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.Local)
}
