// Package server is the root HTTP handler: API delegation plus the
// operational endpoints (metrics, health, events, dashboard).
package server

import (
	"encoding/json"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"raicat/internal/api"
	"raicat/internal/config"
	"raicat/internal/telemetry"
)

// Handler routes every request the process serves.
type Handler struct {
	cfg           config.Config
	features      config.Features
	apiServer     *api.Server
	eventBus      *telemetry.EventBus
	metrics       *telemetry.Metrics
	healthChecker *telemetry.HealthChecker
	dashboardFS   fs.FS
	logger        *slog.Logger
}

// Options wires the handler. Everything except APIServer may be nil; the
// matching endpoints then answer 503 or are not routed.
type Options struct {
	Config        config.Config
	APIServer     *api.Server
	EventBus      *telemetry.EventBus
	Metrics       *telemetry.Metrics
	HealthChecker *telemetry.HealthChecker
	DashboardFS   fs.FS
	Logger        *slog.Logger
}

// NewHandler creates the root handler.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:           opts.Config,
		features:      opts.Config.Features(),
		apiServer:     opts.APIServer,
		eventBus:      opts.EventBus,
		metrics:       opts.Metrics,
		healthChecker: opts.HealthChecker,
		dashboardFS:   opts.DashboardFS,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.cfg.CORSAllowOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.CORSAllowOrigin)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	if h.apiServer != nil && h.apiServer.Handles(r.URL.Path) {
		h.apiServer.ServeHTTP(w, r)
		return
	}

	switch {
	case h.features.Metrics && r.URL.Path == "/metrics" && r.Method == http.MethodGet:
		h.handleMetrics(w, r)
	case r.URL.Path == "/healthz":
		h.handleHealthz(w, r)
	case r.URL.Path == "/healthz/backend":
		h.handleHealthzBackend(w, r)
	case h.features.Dashboard && r.Method == http.MethodGet && (r.URL.Path == "/dashboard" || strings.HasPrefix(r.URL.Path, "/dashboard/")):
		h.handleDashboard(w, r)
	case h.features.Events && r.URL.Path == "/events" && r.Method == http.MethodGet:
		h.handleSSEEvents(w, r)
	case r.URL.Path == "/" && h.features.Dashboard:
		http.Redirect(w, r, "/dashboard/", http.StatusTemporaryRedirect)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	if h.eventBus == nil {
		http.Error(w, "event bus not available", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := h.eventBus.Subscribe()
	defer h.eventBus.Unsubscribe(eventCh)

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sseData, err := telemetry.FormatSSEEvent(event)
			if err != nil {
				h.logger.Debug("failed to format event", "type", string(event.Type), "err", err)
				continue
			}
			if _, err := w.Write([]byte(sseData)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	promhttp.Handler().ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.healthChecker != nil && !h.healthChecker.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend unhealthy"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) handleHealthzBackend(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.healthChecker == nil {
		json.NewEncoder(w).Encode(map[string]any{
			"healthy": true,
			"checked": false,
		})
		return
	}

	healthy := h.healthChecker.Healthy()
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]any{
		"healthy": healthy,
		"checked": true,
	}
	if lc := h.healthChecker.LastCheck(); !lc.IsZero() {
		response["last_check"] = lc.Format(time.RFC3339)
	}
	if lastError := h.healthChecker.LastError(); lastError != "" {
		response["last_error"] = lastError
	}
	json.NewEncoder(w).Encode(response)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if h.dashboardFS == nil {
		http.Error(w, "Dashboard assets not available", http.StatusServiceUnavailable)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/dashboard")
	if path == "" || path == "/" {
		path = "/index.html"
	}
	path = strings.TrimPrefix(path, "/")

	file, err := h.dashboardFS.Open(path)
	if err != nil {
		// SPA fallback
		path = "index.html"
		file, err = h.dashboardFS.Open(path)
		if err != nil {
			http.Error(w, "Dashboard not found", http.StatusNotFound)
			return
		}
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil || stat.IsDir() {
		http.Error(w, "Dashboard not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", contentType(path))
	w.Header().Set("Content-Length", strconv.FormatInt(stat.Size(), 10))
	if !strings.HasSuffix(path, ".html") {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	if seeker, ok := file.(io.ReadSeeker); ok {
		http.ServeContent(w, r, path, stat.ModTime(), seeker)
	} else {
		io.Copy(w, file)
	}
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".json"), strings.HasSuffix(path, ".geojson"):
		return "application/json"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".ico"):
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
