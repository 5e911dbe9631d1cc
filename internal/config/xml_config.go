// Package config provides XML-based configuration for the chart engine and its reference server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"ChartEngine"`

	Server     ServerConfig     `xml:"Server"`
	Storage    StorageConfig    `xml:"Storage"`
	DataSource DataSourceConfig `xml:"DataSource"`
	Refresh    RefreshConfig    `xml:"Refresh"`
	Cache      CacheConfig      `xml:"Cache"`
	Viewport   ViewportConfig   `xml:"Viewport"`
	Session    SessionConfig    `xml:"Session"`
	Advanced   AdvancedConfig   `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings for the reference data source
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains file locations
type StorageConfig struct {
	DataDirectory         string `xml:"DataDirectory"`
	SessionDirectory      string `xml:"SessionDirectory"`
	DatabasePath          string `xml:"DatabasePath"`
	CatalogFile           string `xml:"CatalogFile"`
	PersistSessionStorage bool   `xml:"PersistSessionStorage"`
}

// DataSourceConfig describes how the engine reaches the HTTP API
type DataSourceConfig struct {
	BaseURL               string `xml:"BaseURL"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds"`
	Encoding              string `xml:"Encoding"` // "json" or "msgpack"
	PageSize              int    `xml:"PageSize"`
}

// RefreshConfig contains smart refresh settings
type RefreshConfig struct {
	IntervalSeconds      int `xml:"IntervalSeconds"`
	MinIntervalSeconds   int `xml:"MinIntervalSeconds"`
	MaxIntervalSeconds   int `xml:"MaxIntervalSeconds"`
	MaxConcurrentFetches int `xml:"MaxConcurrentFetches"`
}

// CacheConfig contains time range cache settings
type CacheConfig struct {
	TTLMinutes int `xml:"TTLMinutes"`
}

// ViewportConfig contains visibility gate settings
type ViewportConfig struct {
	LeadMarginPx int `xml:"LeadMarginPx"`
}

// SessionConfig contains device view lifecycle settings
type SessionConfig struct {
	IdleTimeoutMinutes     int `xml:"IdleTimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "16M",
		},
		Storage: StorageConfig{
			DataDirectory:         "./data",
			SessionDirectory:      "./data/session",
			DatabasePath:          "./data/readings.duckdb",
			CatalogFile:           "./data/catalog.yaml",
			PersistSessionStorage: false,
		},
		DataSource: DataSourceConfig{
			BaseURL:               "http://localhost:8090/api",
			RequestTimeoutSeconds: 15,
			Encoding:              "json",
			PageSize:              5000,
		},
		Refresh: RefreshConfig{
			IntervalSeconds:      15,
			MinIntervalSeconds:   10,
			MaxIntervalSeconds:   30,
			MaxConcurrentFetches: 4,
		},
		Cache: CacheConfig{
			TTLMinutes: 10,
		},
		Viewport: ViewportConfig{
			LeadMarginPx: 200,
		},
		Session: SessionConfig{
			IdleTimeoutMinutes:     30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			DuckDBThreads:        4,
			DuckDBMemoryLimit:    "512MB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		config.Validate()
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))
	config.Validate()

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Chart Engine Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate clamps values that would break the refresh and cache contracts.
func (c *AppConfig) Validate() {
	r := &c.Refresh
	if r.MinIntervalSeconds <= 0 {
		r.MinIntervalSeconds = 10
	}
	if r.MaxIntervalSeconds < r.MinIntervalSeconds {
		r.MaxIntervalSeconds = r.MinIntervalSeconds
	}
	r.IntervalSeconds = ClampInterval(r.IntervalSeconds, r.MinIntervalSeconds, r.MaxIntervalSeconds)
	if r.MaxConcurrentFetches <= 0 {
		r.MaxConcurrentFetches = 1
	}
	if c.Cache.TTLMinutes <= 0 {
		c.Cache.TTLMinutes = 10
	}
	if c.DataSource.PageSize <= 0 {
		c.DataSource.PageSize = 5000
	}
	if c.DataSource.Encoding != "msgpack" {
		c.DataSource.Encoding = "json"
	}
	if c.Viewport.LeadMarginPx < 0 {
		c.Viewport.LeadMarginPx = 0
	}
}

// ClampInterval bounds a refresh interval in seconds to [lo, hi].
func ClampInterval(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if url := os.Getenv("CHART_API_URL"); url != "" {
		c.DataSource.BaseURL = url
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	paths := []*string{
		&c.Storage.DataDirectory,
		&c.Storage.SessionDirectory,
		&c.Storage.DatabasePath,
		&c.Storage.CatalogFile,
	}
	for _, p := range paths {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// RefreshInterval returns the scheduler countdown length.
func (c *AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalSeconds) * time.Second
}

// RefreshBounds returns the allowed range of the scheduler countdown.
func (c *AppConfig) RefreshBounds() (lo, hi time.Duration) {
	return time.Duration(c.Refresh.MinIntervalSeconds) * time.Second,
		time.Duration(c.Refresh.MaxIntervalSeconds) * time.Second
}

// CacheTTL returns the time range cache entry lifetime.
func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// RequestTimeout returns the per-request HTTP timeout.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.DataSource.RequestTimeoutSeconds) * time.Second
}

// IdleTimeout returns how long an untouched device view is kept.
func (c *AppConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutMinutes) * time.Minute
}

// CleanupInterval returns the idle view sweep period.
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Session.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		filepath.Dir(c.Storage.DatabasePath),
	}
	if c.Storage.PersistSessionStorage {
		dirs = append(dirs, c.Storage.SessionDirectory)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
