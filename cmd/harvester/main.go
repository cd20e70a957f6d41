package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-specs/cache"
	"github.com/aluiziolira/go-scrape-specs/config"
	"github.com/aluiziolira/go-scrape-specs/fetch"
	"github.com/aluiziolira/go-scrape-specs/harvest"
	"github.com/aluiziolira/go-scrape-specs/models"
	"github.com/aluiziolira/go-scrape-specs/progress"
	"github.com/aluiziolira/go-scrape-specs/store"
)

func main() {
	defaultCfg := config.DefaultConfig()
	concurrencyDefault := defaultCfg.MaxConcurrentRequests
	if value, ok, err := config.EnvInt("HARVESTER_CONCURRENCY"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid HARVESTER_CONCURRENCY: %v\n", err)
		os.Exit(1)
	} else if ok {
		concurrencyDefault = value
	}
	storeDefault := defaultCfg.StorePath
	if value, ok := config.EnvString("HARVESTER_STORE"); ok {
		storeDefault = value
	}
	reportDefault := defaultCfg.ReportDir
	if value, ok := config.EnvString("HARVESTER_REPORT_DIR"); ok {
		reportDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("HARVESTER_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	configPath := flag.String("config", "", "YAML configuration file (flags override it)")
	baseURL := flag.String("base-url", defaultCfg.BaseURL, "Catalog base URL")
	concurrency := flag.Int("concurrency", concurrencyDefault, "Maximum concurrent requests")
	intervalMs := flag.Int("interval", 0, "Minimum delay between requests (milliseconds)")
	cacheTTLSeconds := flag.Int("cache-ttl", 0, "Page cache TTL (seconds)")
	retryLimit := flag.Int("retry-limit", -1, "Maximum retries per fetch task")
	maxPages := flag.Int("max-pages", 0, "Maximum listing pages per brand")
	brands := flag.String("brands", "", "Comma-separated brand allowlist (canonical IDs)")
	storePath := flag.String("store", storeDefault, "Directory for the device store")
	reportDir := flag.String("report-dir", reportDefault, "Directory for run artifacts")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("loading configuration", slog.Any("error", err))
		os.Exit(1)
	}
	applyFlags(cfg, *baseURL, *concurrency, *intervalMs, *cacheTTLSeconds, *retryLimit,
		*maxPages, *brands, *storePath, *reportDir, *metricsAddr, *verbose)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting harvest",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("concurrency", cfg.MaxConcurrentRequests),
		slog.Duration("min_interval", cfg.MinRequestInterval),
		slog.String("store", cfg.StorePath),
	)

	pageCache, err := cache.New(cfg.CacheMaxEntries)
	if err != nil {
		slog.Error("initialising cache", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := fetch.NewMetrics()
	fetcher, err := fetch.New(cfg, pageCache, metrics)
	if err != nil {
		slog.Error("initialising fetcher", slog.Any("error", err))
		os.Exit(1)
	}
	storage, err := store.Open(cfg.StorePath)
	if err != nil {
		slog.Error("opening store", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := storage.Close(); err != nil {
			slog.Error("close store", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	emitter := progress.NewEmitter()
	defer emitter.Close()
	events, cancelEvents := emitter.Subscribe(256)
	defer cancelEvents()
	go logProgress(events)

	runner := harvest.NewRunner(cfg, fetcher, storage, emitter)

	startTime := time.Now()
	runID, err := runner.Start(ctx)
	if err != nil {
		slog.Error("starting run", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, draining in-flight work")
		if err := runner.Cancel(runID); err != nil {
			slog.Error("cancel run", slog.Any("error", err))
		}
	}()

	summary, err := runner.Wait(runID)
	if err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	status, err := runner.Status(runID)
	if err != nil {
		slog.Error("read run status", slog.Any("error", err))
		os.Exit(1)
	}

	printSummary(summary, status.State, time.Since(startTime), cfg.ReportDir)
	if status.State == harvest.RunFailed {
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func applyFlags(cfg *config.Config, baseURL string, concurrency, intervalMs, cacheTTLSeconds, retryLimit, maxPages int, brands, storePath, reportDir, metricsAddr string, verbose bool) {
	cfg.BaseURL = baseURL
	cfg.MaxConcurrentRequests = concurrency
	if intervalMs > 0 {
		cfg.MinRequestInterval = time.Duration(intervalMs) * time.Millisecond
	}
	if cacheTTLSeconds > 0 {
		cfg.CacheTTL = time.Duration(cacheTTLSeconds) * time.Second
	}
	if retryLimit >= 0 {
		cfg.RetryLimit = retryLimit
	}
	if maxPages > 0 {
		cfg.MaxListingPages = maxPages
	}
	if brands != "" {
		var allowlist []string
		for _, brand := range strings.Split(brands, ",") {
			if trimmed := strings.TrimSpace(brand); trimmed != "" {
				allowlist = append(allowlist, models.BrandIDFromName(trimmed))
			}
		}
		cfg.BrandAllowlist = allowlist
	}
	cfg.StorePath = storePath
	cfg.ReportDir = reportDir
	cfg.MetricsAddr = metricsAddr
	cfg.Verbose = verbose
}

func logProgress(events <-chan progress.Event) {
	for ev := range events {
		slog.Debug("progress",
			slog.String("phase", string(ev.Phase)),
			slog.String("brand", ev.Brand),
			slog.Int("completed", ev.Completed),
			slog.Int("total", ev.Total),
			slog.Int("errors", ev.Errors),
		)
	}
}

func printSummary(summary *models.RunSummary, state harvest.RunState, duration time.Duration, reportDir string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Harvest %s\n", state)
	fmt.Printf("  Run ID:        %s\n", summary.RunID)
	fmt.Printf("  Brands:        %d scanned, %d processed\n", summary.BrandsScanned, summary.BrandsProcessed)
	fmt.Printf("  Added:         %d\n", summary.Added)
	fmt.Printf("  Changed:       %d\n", summary.Changed)
	fmt.Printf("  Unchanged:     %d\n", summary.Unchanged)
	fmt.Printf("  Removed:       %d\n", summary.Removed)
	fmt.Printf("  Failed:        %d\n", summary.Failed)
	if len(summary.Errors) > 0 {
		limit := len(summary.Errors)
		if limit > 5 {
			limit = 5
		}
		fmt.Printf("  Errors (first %d of %d):\n", limit, len(summary.Errors))
		for _, message := range summary.Errors[:limit] {
			fmt.Printf("    - %s\n", message)
		}
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Artifacts:     %s\n", reportDir)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
