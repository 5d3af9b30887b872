package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"raicat/internal/api"
	"raicat/internal/backend"
	"raicat/internal/config"
	"raicat/internal/coordinator"
	"raicat/internal/dateutil"
	"raicat/internal/entity"
	"raicat/internal/model"
	"raicat/internal/series"
	"raicat/internal/server"
	"raicat/internal/snapshot"
	"raicat/internal/storage"
	"raicat/internal/telemetry"
	"raicat/web"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)

	logConfig(logger, cfg)

	features := cfg.Features()

	palettes, err := config.LoadPalettes(cfg.PaletteFile)
	if err != nil {
		logger.Error("failed to load palettes", "file", cfg.PaletteFile, "err", err)
		os.Exit(2)
	}

	lookup, err := loadLookup(cfg.GeoJSONFile)
	if err != nil {
		logger.Error("failed to load geojson", "file", cfg.GeoJSONFile, "err", err)
		os.Exit(2)
	}

	client, err := backend.NewClient(cfg.BackendURL, cfg.BackendTimeout)
	if err != nil {
		logger.Error("failed to create backend client", "err", err)
		os.Exit(2)
	}

	var store storage.Store
	if features.Storage {
		store, err = openStore(cfg, logger)
		if err != nil {
			logger.Error("failed to open storage", "storage", string(cfg.Storage), "err", err)
			os.Exit(2)
		}
		defer store.Close()
	}

	var (
		eventBus      *telemetry.EventBus
		metrics       *telemetry.Metrics
		healthChecker *telemetry.HealthChecker
	)
	if features.Events {
		eventBus = telemetry.NewEventBus(1000)
		defer eventBus.Shutdown()
	}
	if features.Metrics {
		metrics = telemetry.NewMetrics()
	}
	if features.Health {
		healthChecker = telemetry.NewHealthChecker(client, cfg.HealthCheckPath, cfg.HealthCheckInterval, cfg.HealthCheckTimeout, metrics, eventBus, logger)
		defer healthChecker.Shutdown()
	}
	var tracker *telemetry.Tracker
	if cfg.Mode != config.ModeOff {
		tracker = telemetry.NewTracker(cfg.RecentBuffer, eventBus, metrics, store, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coords := make(map[model.Metric]*coordinator.Coordinator, len(cfg.Metrics))
	for _, m := range cfg.Metrics {
		opts := coordinator.Options{
			Metric: m,
			Clock:  dateutil.SystemClock{},
			Logger: logger,
			Snapshot: snapshot.Options{
				Source:            client,
				Lookup:            lookup,
				Palette:           config.Palette(palettes, m),
				Comparison:        cfg.Comparison,
				CompareOffsetDays: cfg.CompareOffsetDays,
			},
			Series: series.Options{
				Source:          client,
				Lookup:          lookup,
				SpanDays:        cfg.SeriesSpanDays,
				DefaultEntities: cfg.DefaultEntities,
			},
		}
		if tracker != nil {
			opts.Snapshot.Observer = tracker
			opts.Series.Observer = tracker
			opts.OnTransition = tracker.RecordTransition
		}
		c := coordinator.New(ctx, opts)
		defer c.Close()
		coords[m] = c
	}

	apiServer := api.NewServer(api.Options{
		Coordinators: coords,
		Order:        cfg.Metrics,
		Lookup:       lookup,
		Store:        store,
		Tracker:      tracker,
		Metrics:      metrics,
		Config:       cfg,
		Logger:       logger,
	})

	var dashboardFS fs.FS
	if features.Dashboard {
		dashboardFS, err = web.Assets()
		if err != nil {
			logger.Warn("dashboard assets not available", "err", err)
		}
	}

	h := server.NewHandler(server.Options{
		Config:        cfg,
		APIServer:     apiServer,
		EventBus:      eventBus,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		DashboardFS:   dashboardFS,
		Logger:        logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting raicat", "listen", cfg.ListenAddr, "backend", cfg.BackendURL, "mode", string(cfg.Mode))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelInfo)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}

func loadLookup(path string) (*entity.Lookup, error) {
	if path == "" {
		return entity.Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return entity.FromGeoJSON(f)
}

func openStore(cfg config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		return storage.NewSQLiteStore(cfg.StoragePath, cfg.StorageMaxRows, logger)
	default:
		return storage.NewMemoryStore(cfg.StorageMaxRows), nil
	}
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	metrics := make([]string, len(cfg.Metrics))
	for i, m := range cfg.Metrics {
		metrics[i] = string(m)
	}

	logger.Info("configuration",
		"mode", string(cfg.Mode),
		"listen_addr", cfg.ListenAddr,
		"backend_url", cfg.BackendURL,
		"backend_timeout", cfg.BackendTimeout,
		"metrics", strings.Join(metrics, ","),
		"comparison", cfg.Comparison,
		"compare_offset_days", cfg.CompareOffsetDays,
		"series_span_days", cfg.SeriesSpanDays,
		"default_entities", strings.Join(cfg.DefaultEntities, ","),
		"geojson_file", cfg.GeoJSONFile,
		"palette_file", cfg.PaletteFile,
		"storage", string(cfg.Storage),
		"storage_path", cfg.StoragePath,
		"storage_max_rows", cfg.StorageMaxRows,
		"health_check_interval", cfg.HealthCheckInterval,
		"cors_allow_origin", cfg.CORSAllowOrigin,
		"log_level", cfg.LogLevel,
	)
}
