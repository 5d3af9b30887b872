// Package api provides the versioned REST API the rendering layer talks to.
// All endpoints are under /raicat/api/v1/.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"raicat/internal/config"
	"raicat/internal/coordinator"
	"raicat/internal/entity"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/storage"
	"raicat/internal/telemetry"
)

const (
	// APIPrefix is the base path for all API endpoints.
	APIPrefix = "/raicat/api/v1"

	// Cache duration for overview responses (prevents refresh storms).
	overviewCacheDuration = 2 * time.Second

	maxBodyBytes = 64 << 10
)

// Options wires the server to the running dashboard.
type Options struct {
	Coordinators map[model.Metric]*coordinator.Coordinator
	Order        []model.Metric // metric order for /state; defaults to dns, ipv6
	Lookup       *entity.Lookup
	Store        storage.Store      // optional
	Tracker      *telemetry.Tracker // optional
	Metrics      *telemetry.Metrics // optional
	Config       config.Config
	Logger       *slog.Logger
}

// Server handles API requests.
type Server struct {
	coords  map[model.Metric]*coordinator.Coordinator
	order   []model.Metric
	lookup  *entity.Lookup
	store   storage.Store
	tracker *telemetry.Tracker
	metrics *telemetry.Metrics
	cfg     config.Config
	logger  *slog.Logger

	overviewCache   map[string]*cachedOverview
	overviewCacheMu sync.RWMutex
}

type cachedOverview struct {
	data      *OverviewResponse
	expiresAt time.Time
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	order := opts.Order
	if len(order) == 0 {
		for _, m := range []model.Metric{model.MetricDNS, model.MetricIPv6} {
			if _, ok := opts.Coordinators[m]; ok {
				order = append(order, m)
			}
		}
	}
	lookup := opts.Lookup
	if lookup == nil {
		lookup = entity.Default()
	}
	return &Server{
		coords:        opts.Coordinators,
		order:         order,
		lookup:        lookup,
		store:         opts.Store,
		tracker:       opts.Tracker,
		metrics:       opts.Metrics,
		cfg:           opts.Config,
		logger:        logger,
		overviewCache: make(map[string]*cachedOverview),
	}
}

// ServeHTTP handles API requests.
// It expects paths starting with /raicat/api/v1/.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, APIPrefix)
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}

	switch {
	case path == "/state":
		if s.allow(w, r, http.MethodGet) {
			s.handleState(w, r)
		}
	case path == "/entities":
		if s.allow(w, r, http.MethodGet) {
			s.handleEntities(w, r)
		}
	case path == "/overview":
		if s.allow(w, r, http.MethodGet) {
			s.handleOverview(w, r)
		}
	case path == "/fetches":
		if s.allow(w, r, http.MethodGet) {
			s.handleListFetches(w, r)
		}
	case strings.HasPrefix(path, "/fetches/"):
		if s.allow(w, r, http.MethodGet) {
			s.handleGetFetch(w, r, strings.TrimPrefix(path, "/fetches/"))
		}
	case path == "/recent":
		if s.allow(w, r, http.MethodGet) {
			s.handleRecent(w, r)
		}
	case path == "/config":
		if s.allow(w, r, http.MethodGet) {
			s.handleConfig(w, r)
		}
	default:
		s.routeMetric(w, r, strings.TrimPrefix(path, "/"))
	}
}

// routeMetric dispatches /{metric}/... paths.
func (s *Server) routeMetric(w http.ResponseWriter, r *http.Request, path string) {
	name, rest, _ := strings.Cut(path, "/")
	m, err := model.ParseMetric(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	c, ok := s.coords[m]
	if !ok {
		s.writeError(w, http.StatusNotFound, "metric "+string(m)+" is not enabled")
		return
	}

	type route struct {
		method string
		handle func(http.ResponseWriter, *http.Request, model.Metric, *coordinator.Coordinator)
	}
	routes := map[string]route{
		"state":             {http.MethodGet, s.handleMetricState},
		"snapshot/entities": {http.MethodGet, s.handleSnapshotEntities},
		"snapshot/date":     {http.MethodPost, s.handleSnapshotDate},
		"snapshot/select":   {http.MethodPost, s.handleSnapshotSelect},
		"snapshot/hover":    {http.MethodPost, s.handleSnapshotHover},
		"snapshot/leave":    {http.MethodPost, s.handleSnapshotLeave},
		"snapshot/refresh":  {http.MethodPost, s.handleSnapshotRefresh},
		"series/range":      {http.MethodPost, s.handleSeriesRange},
		"series/entities":   {http.MethodPost, s.handleSeriesEntities},
		"series/point":      {http.MethodPost, s.handleSeriesPoint},
		"series/refresh":    {http.MethodPost, s.handleSeriesRefresh},
		"series/lines":      {http.MethodGet, s.handleSeriesLines},
		"series/chart.png":  {http.MethodGet, s.handleSeriesChart},
		"mode/toggle":       {http.MethodPost, s.handleToggle},
	}
	rt, ok := routes[rest]
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !s.allow(w, r, rt.method) {
		return
	}
	rt.handle(w, r, m, c)
}

// Handles reports whether path belongs to the API.
func (s *Server) Handles(path string) bool {
	return strings.HasPrefix(path, APIPrefix)
}

// Helper functions

func (s *Server) allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeIntentError maps a rejected intent onto a status code: validation
// errors are 400, intents for an inactive view are 409.
func (s *Server) writeIntentError(w http.ResponseWriter, m model.Metric, op string, err error) {
	switch {
	case errs.IsValidation(err):
		s.metrics.RecordValidationError(string(m), op)
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errs.ErrInactive):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("intent failed", "metric", string(m), "op", op, "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func parseWindow(r *http.Request) time.Duration {
	w := r.URL.Query().Get("window")
	switch w {
	case "1h":
		return time.Hour
	case "7d":
		return 7 * 24 * time.Hour
	case "24h", "":
		return 24 * time.Hour
	default:
		if d, err := time.ParseDuration(w); err == nil && d > 0 {
			return d
		}
		return 24 * time.Hour
	}
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
