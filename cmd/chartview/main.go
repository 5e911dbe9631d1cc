// Package main runs a device chart view without a browser: it opens the view,
// keeps it refreshed and prints the rendered chart frames as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/iot-monitor/chartengine/internal/apiclient"
	"github.com/iot-monitor/chartengine/internal/catalog"
	"github.com/iot-monitor/chartengine/internal/config"
	"github.com/iot-monitor/chartengine/internal/logging"
	"github.com/iot-monitor/chartengine/internal/models"
	"github.com/iot-monitor/chartengine/internal/session"
	"github.com/iot-monitor/chartengine/internal/storage"
	"github.com/iot-monitor/chartengine/internal/visibility"
)

type options struct {
	configPath string
	from       string
	to         string
	charts     []string
	category   string
	viewportH  float64
	chartH     float64
	interval   time.Duration
	fresh      bool
}

func main() {
	if len(os.Args) < 2 {
		showUsage()
		return
	}

	switch os.Args[1] {
	case "vars":
		opts := parseFlags("vars", os.Args[2:])
		listVariables(opts)
	case "once", "watch":
		fs := os.Args[1]
		if len(os.Args) < 3 || strings.HasPrefix(os.Args[2], "-") {
			fmt.Println("Error: device id required")
			fmt.Printf("Usage: chartview %s <device> [flags]\n", fs)
			os.Exit(1)
		}
		opts := parseFlags(fs, os.Args[3:])
		run(os.Args[2], opts, fs == "watch")
	default:
		showUsage()
	}
}

func showUsage() {
	fmt.Println("Usage:")
	fmt.Println("  chartview vars [flags]            - List catalog variables")
	fmt.Println("  chartview once <device> [flags]   - Load the view and print chart frames")
	fmt.Println("  chartview watch <device> [flags]  - Keep the view live, printing frames after each change")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config PATH     XML configuration (default: ChartEngine.config next to the binary)")
	fmt.Println("  -from DATE       first day of the range, YYYY-MM-DD (default: today)")
	fmt.Println("  -to DATE         last day of the range (default: -from)")
	fmt.Println("  -chart KEYS      comma separated variable keys for one chart; repeatable")
	fmt.Println("  -category NAME   variable category")
	fmt.Println("  -viewport PX     viewport height used for visibility (default 900)")
	fmt.Println("  -interval DUR    refresh countdown, clamped to the configured bounds")
	fmt.Println("  -fresh           discard the saved view state before opening")
	fmt.Println()
	fmt.Println("Environment variables:")
	fmt.Println("  CHART_API_URL    data source base URL")
	fmt.Println("  LOG_LEVEL        debug, info, warn, error")
}

type chartFlags []string

func (c *chartFlags) String() string { return strings.Join(*c, ";") }

func (c *chartFlags) Set(v string) error {
	*c = append(*c, v)
	return nil
}

func parseFlags(name string, args []string) options {
	defaultConfig := "ChartEngine.config"
	if exe, err := os.Executable(); err == nil {
		defaultConfig = filepath.Join(filepath.Dir(exe), defaultConfig)
	}

	var opts options
	var charts chartFlags
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", defaultConfig, "XML configuration file")
	fs.StringVar(&opts.from, "from", "", "first day of the range")
	fs.StringVar(&opts.to, "to", "", "last day of the range")
	fs.Var(&charts, "chart", "comma separated variable keys for one chart")
	fs.StringVar(&opts.category, "category", "", "variable category")
	fs.Float64Var(&opts.viewportH, "viewport", 900, "viewport height in px")
	fs.Float64Var(&opts.chartH, "chart-height", 320, "chart container height in px")
	fs.DurationVar(&opts.interval, "interval", 0, "refresh countdown within the configured bounds (default from config)")
	fs.BoolVar(&opts.fresh, "fresh", false, "discard the saved view state before opening")
	fs.Parse(args)
	opts.charts = charts
	return opts
}

func loadCatalog(cfg *config.AppConfig, log zerolog.Logger) *catalog.Catalog {
	if cfg.Storage.CatalogFile == "" {
		return catalog.Default()
	}
	cat, err := catalog.Parse(cfg.Storage.CatalogFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", cfg.Storage.CatalogFile).Msg("using built-in catalog")
		}
		return catalog.Default()
	}
	return cat
}

func listVariables(opts options) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cat := loadCatalog(cfg, logging.New(cfg.Advanced.LogLevel, nil))
	for _, name := range cat.Categories() {
		if opts.category != "" && !strings.EqualFold(opts.category, name) {
			continue
		}
		fmt.Printf("%s\n", name)
		for _, v := range cat.ByCategory(name) {
			fmt.Printf("  %-16s %-20s %s\n", v.Key, v.Label, v.Unit)
		}
	}
}

func run(deviceID string, opts options, watch bool) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Printf("Failed to create directories: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Advanced.LogLevel, nil)

	client := apiclient.NewClient(cfg.DataSource.BaseURL, apiclient.Options{
		Timeout:  cfg.RequestTimeout(),
		Encoding: cfg.DataSource.Encoding,
		PageSize: cfg.DataSource.PageSize,
		Logger:   log,
	})

	var store storage.SessionStorage = storage.NewMemoryStore()
	if cfg.Storage.PersistSessionStorage {
		local, err := storage.NewLocalStore(cfg.Storage.SessionDirectory)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open session storage")
		}
		store = local
	}

	minRefresh, maxRefresh := cfg.RefreshBounds()
	mgr, err := session.NewManager(session.Options{
		Probe:                client,
		Fetcher:              client,
		Storage:              store,
		KeepStorage:          cfg.Storage.PersistSessionStorage,
		Catalog:              loadCatalog(cfg, log),
		CacheTTL:             cfg.CacheTTL(),
		RefreshInterval:      cfg.RefreshInterval(),
		MinRefreshInterval:   minRefresh,
		MaxRefreshInterval:   maxRefresh,
		MaxConcurrentFetches: cfg.Refresh.MaxConcurrentFetches,
		LeadMargin:           float64(cfg.Viewport.LeadMarginPx),
		Logger:               log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			log.Warn().Err(err).Msg("session shutdown")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rng models.DateRangeKey
	if opts.from != "" {
		to := opts.to
		if to == "" {
			to = opts.from
		}
		rng = models.DateRangeKey{From: opts.from, To: to}
	}

	if opts.fresh {
		if err := mgr.ForgetView(deviceID); err != nil {
			log.Warn().Err(err).Msg("failed to clear saved view")
		}
	}

	view, err := mgr.OpenView(ctx, deviceID, rng)
	if err != nil {
		log.Error().Err(err).Msg("failed to open view")
		return
	}
	if !rng.IsZero() && view.Range() != rng {
		if err := view.SetRange(ctx, rng); err != nil {
			log.Warn().Err(err).Msg("some charts failed to load")
		}
	}
	if opts.category != "" {
		view.SetCategory(opts.category)
	}
	for _, keys := range opts.charts {
		if _, err := view.AddChart(ctx, strings.Split(keys, ",")...); err != nil {
			log.Warn().Err(err).Str("chart", keys).Msg("chart not loaded")
		}
	}

	viewport := visibility.Rect{W: 1200, H: opts.viewportH}
	view.Layout(viewport, viewport.W, opts.chartH, 16)
	printFrames(os.Stdout, view)

	if !watch {
		if err := mgr.CloseView(deviceID); err != nil {
			log.Warn().Err(err).Msg("failed to persist view")
		}
		return
	}

	if opts.interval > 0 {
		view.Scheduler().SetInterval(opts.interval)
	}
	mgr.StartCleanup(ctx, cfg.CleanupInterval(), cfg.IdleTimeout())
	fmt.Fprintln(os.Stderr, "Watching. Press Ctrl+C to stop")
	watchView(ctx, view, viewport, opts.chartH)

	fmt.Fprintln(os.Stderr, "\nStopping...")
	if err := mgr.CloseView(deviceID); err != nil {
		log.Warn().Err(err).Msg("failed to persist view")
	}
}

// watchView prints frames after every refresh cycle that ran.
func watchView(ctx context.Context, view *session.View, viewport visibility.Rect, chartH float64) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastCycles := view.Scheduler().Status().Cycles
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := view.Scheduler().Status()
			fmt.Fprintf(os.Stderr, "\rnext refresh in %2ds", st.Remaining)
			if st.Cycles == lastCycles {
				continue
			}
			lastCycles = st.Cycles
			if st.LastError != nil {
				fmt.Fprintf(os.Stderr, "\rrefresh failed: %v\n", st.LastError)
				continue
			}
			view.Layout(viewport, viewport.W, chartH, 16)
			fmt.Fprintln(os.Stderr)
			printFrames(os.Stdout, view)
		}
	}
}

func printFrames(w io.Writer, view *session.View) {
	out := struct {
		Device string      `json:"device"`
		Range  string      `json:"range"`
		Live   bool        `json:"live"`
		Frames interface{} `json:"frames"`
	}{
		Device: view.DeviceID,
		Range:  view.Range().Key(),
		Live:   view.Live(),
		Frames: view.Frames(),
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode frames: %v\n", err)
	}
}
