// Package refresh implements the smart refresh protocol for live device views.
package refresh

import (
	"context"
	"time"

	"github.com/iot-monitor/chartengine/internal/models"
)

// Probe reports a device's freshness token. The token is opaque and only
// compared for equality.
type Probe interface {
	CheckUpdated(ctx context.Context, deviceID string) (string, error)
}

// Fetcher retrieves records for a device in a time window.
type Fetcher interface {
	FetchAll(ctx context.Context, deviceID string, from, to time.Time, keys []string) ([]models.LogRecord, error)
}

// ProbeFunc adapts a function to Probe.
type ProbeFunc func(ctx context.Context, deviceID string) (string, error)

func (f ProbeFunc) CheckUpdated(ctx context.Context, deviceID string) (string, error) {
	return f(ctx, deviceID)
}
