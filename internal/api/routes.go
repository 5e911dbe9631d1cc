// routes.go - Route registration helpers
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/source"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Source   source.Store
	Location *time.Location
	Version  string
	Logger   zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Logs   LogsHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health: NewHealthHandler(deps.Version, deps.Source),
		Logs:   NewLogsHandler(deps.Source, deps.Location, deps.Logger),
	}
}

// RegisterRoutes registers all API routes under /api
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	apiGroup.GET("/devices", handlers.Logs.HandleListDevices)

	deviceGroup := apiGroup.Group("/devices/:id")
	deviceGroup.GET("/logs/range", handlers.Logs.HandleLogsRange)
	deviceGroup.GET("/logs/last-update", handlers.Logs.HandleLastUpdate)
	deviceGroup.POST("/logs", handlers.Logs.HandleIngest)
}

// MiddlewareConfig configures SetupMiddleware.
type MiddlewareConfig struct {
	EnableRequestLogging bool
	EnableCORS           bool
	AllowOrigins         string
	BodyLimit            string
	Timeout              time.Duration
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg MiddlewareConfig) {
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.EnableRequestLogging {
				return true
			}
			// Freshness probes fire every few seconds per open view
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/last-update") || path == "/api/health"
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))

	if cfg.Timeout > 0 {
		e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
			Timeout:      cfg.Timeout,
			ErrorMessage: "Request timeout - query took too long",
		}))
	}

	if cfg.BodyLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodyLimit))
	}

	if cfg.EnableCORS {
		origins := strings.Split(cfg.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
