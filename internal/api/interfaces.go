// interfaces.go - Handler interface definitions
package api

import (
	"github.com/labstack/echo/v4"
)

// LogsHandler serves device readings and freshness tokens
type LogsHandler interface {
	HandleLogsRange(c echo.Context) error
	HandleLastUpdate(c echo.Context) error
	HandleIngest(c echo.Context) error
	HandleListDevices(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}
