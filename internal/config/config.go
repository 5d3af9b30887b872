package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"raicat/internal/model"
)

// Mode controls which features are enabled.
// - off: controllers + API only, no dashboard/events/metrics/storage
// - monitor (default): everything, including fetch telemetry
type Mode string

const (
	ModeOff     Mode = "off"
	ModeMonitor Mode = "monitor"
)

// StorageType controls the fetch log backend.
type StorageType string

const (
	StorageSQLite StorageType = "sqlite"
	StorageMemory StorageType = "memory"
	StorageOff    StorageType = "off"
)

// Features derived from MODE - centralized feature gating.
type Features struct {
	Dashboard bool
	Events    bool
	Metrics   bool
	Storage   bool
	Health    bool
}

// Config contains all runtime configuration.
type Config struct {
	// Core
	Mode           Mode
	ListenAddr     string
	BackendURL     string
	BackendTimeout time.Duration
	LogLevel       string

	// Dashboard behaviour
	Metrics           []model.Metric
	Comparison        bool
	CompareOffsetDays int
	SeriesSpanDays    int
	DefaultEntities   []string
	GeoJSONFile       string
	PaletteFile       string

	// Storage (enabled when MODE != off unless explicitly disabled)
	Storage        StorageType
	StoragePath    string
	StorageMaxRows int

	// Telemetry
	RecentBuffer        int
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	HealthCheckPath     string

	// HTTP
	CORSAllowOrigin string
	ChartWidth      int
	ChartHeight     int
}

// Features returns the feature flags derived from the current MODE.
func (c *Config) Features() Features {
	if c.Mode == ModeOff {
		return Features{}
	}
	return Features{
		Dashboard: true,
		Events:    true,
		Metrics:   true,
		Storage:   c.Storage != StorageOff,
		Health:    true,
	}
}

// Load reads the optional ENV_FILE, then parses env vars and returns a
// validated Config. Variables already set in the environment win over the
// file.
func Load() (Config, error) {
	if path := os.Getenv("ENV_FILE"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return Config{}, fmt.Errorf("load ENV_FILE %s: %w", path, err)
		}
	}

	metrics, err := parseMetrics(getEnvStringList("METRICS", []string{"dns", "ipv6"}))
	if err != nil {
		return Config{}, err
	}

	mode := Mode(getEnvString("MODE", string(ModeMonitor)))
	storageDefault := StorageMemory
	if mode == ModeOff {
		storageDefault = StorageOff
	}

	cfg := Config{
		Mode:           mode,
		ListenAddr:     getEnvString("LISTEN_ADDR", ":8085"),
		BackendURL:     getEnvString("BACKEND_URL", "http://127.0.0.1:8000"),
		BackendTimeout: getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
		LogLevel:       getEnvString("LOG_LEVEL", "info"),

		Metrics:           metrics,
		Comparison:        getEnvBool("COMPARISON", false),
		CompareOffsetDays: getEnvInt("COMPARE_OFFSET_DAYS", 7),
		SeriesSpanDays:    getEnvInt("SERIES_DEFAULT_SPAN_DAYS", 2),
		DefaultEntities:   getEnvStringList("DEFAULT_ENTITIES", []string{"ISR"}),
		GeoJSONFile:       getEnvString("GEOJSON_FILE", ""),
		PaletteFile:       getEnvString("PALETTE_FILE", ""),

		Storage:        StorageType(getEnvString("STORAGE", string(storageDefault))),
		StoragePath:    getEnvString("STORAGE_PATH", ":memory:"),
		StorageMaxRows: getEnvInt("STORAGE_MAX_ROWS", 1000),

		RecentBuffer:        getEnvInt("RECENT_BUFFER", 200),
		HealthCheckInterval: getEnvDuration("HEALTH_CHECK_INTERVAL", 30*time.Second),
		HealthCheckTimeout:  getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		HealthCheckPath:     getEnvString("HEALTH_CHECK_PATH", "/"),

		CORSAllowOrigin: getEnvString("CORS_ALLOW_ORIGIN", "*"),
		ChartWidth:      getEnvInt("CHART_WIDTH", 1024),
		ChartHeight:     getEnvInt("CHART_HEIGHT", 400),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration constraints.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeOff, ModeMonitor:
	default:
		return fmt.Errorf("invalid MODE: %q (must be off|monitor)", c.Mode)
	}

	switch c.Storage {
	case StorageSQLite, StorageMemory, StorageOff:
	default:
		return fmt.Errorf("invalid STORAGE: %q (must be sqlite|memory|off)", c.Storage)
	}
	if c.StorageMaxRows < 10 {
		return fmt.Errorf("STORAGE_MAX_ROWS must be >= 10")
	}

	u, err := url.Parse(c.BackendURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", c.BackendURL)
	}
	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}

	if len(c.Metrics) == 0 {
		return fmt.Errorf("METRICS must name at least one metric")
	}
	if c.CompareOffsetDays < 1 {
		return fmt.Errorf("COMPARE_OFFSET_DAYS must be >= 1")
	}
	if c.SeriesSpanDays < 0 {
		return fmt.Errorf("SERIES_DEFAULT_SPAN_DAYS must be >= 0")
	}

	if c.RecentBuffer < 0 {
		return fmt.Errorf("RECENT_BUFFER must be >= 0")
	}
	if c.HealthCheckInterval <= 0 {
		return fmt.Errorf("HEALTH_CHECK_INTERVAL must be > 0")
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be > 0")
	}
	if !strings.HasPrefix(c.HealthCheckPath, "/") {
		return fmt.Errorf("HEALTH_CHECK_PATH must start with /")
	}

	if c.ChartWidth < 100 || c.ChartHeight < 100 {
		return fmt.Errorf("CHART_WIDTH and CHART_HEIGHT must be >= 100")
	}
	return nil
}

func parseMetrics(names []string) ([]model.Metric, error) {
	var out []model.Metric
	seen := make(map[model.Metric]bool)
	for _, n := range names {
		m, err := model.ParseMetric(n)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS: %w", err)
		}
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out, nil
}

// Helper functions for parsing environment variables

func getEnvString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func getEnvStringList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
