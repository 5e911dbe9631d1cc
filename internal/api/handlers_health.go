// handlers_health.go - Health check handlers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iot-monitor/chartengine/internal/source"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	source  source.Store
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, src source.Store) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		source:  src,
		started: time.Now(),
	}
}

// HandleHealth returns server health status. The data source is probed
// with a short deadline; a failing store reports 503.
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	devices, err := h.source.Devices(ctx)
	if err != nil {
		return NewServiceUnavailableError("data source unavailable")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"devices": len(devices),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
