package api

import (
	"net/http"
	"time"

	"raicat/internal/storage"
)

// OverviewResponse contains summary statistics and time series data.
type OverviewResponse struct {
	Summary SummaryData          `json:"summary"`
	Series  SeriesData           `json:"series"`
	Metrics []storage.MetricStat `json:"metrics"`
}

// SummaryData contains aggregate statistics.
type SummaryData struct {
	TotalFetches    int     `json:"total_fetches"`
	AppliedRate     float64 `json:"applied_rate"`
	StaleCount      int     `json:"stale_count"`
	FailedCount     int     `json:"failed_count"`
	AvgDurationMs   int     `json:"avg_duration_ms"`
	P95DurationMs   int     `json:"p95_duration_ms"`
	TransportErrors int     `json:"transport_errors"`
	MalformedErrors int     `json:"malformed_errors"`
	InFlight        int     `json:"in_flight"`
}

// SeriesData contains time-binned chart data.
type SeriesData struct {
	FetchCount  []storage.DataPoint `json:"fetch_count"`
	StaleCount  []storage.DataPoint `json:"stale_count"`
	FailedCount []storage.DataPoint `json:"failed_count"`
	DurationP95 []storage.DataPoint `json:"duration_p95"`
}

// handleOverview returns fetch log statistics.
// GET /raicat/api/v1/overview?window=1h|24h|7d&controller=
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	window := parseWindow(r)
	controller := r.URL.Query().Get("controller")
	cacheKey := window.String() + "/" + controller

	s.overviewCacheMu.RLock()
	if cached, ok := s.overviewCache[cacheKey]; ok && time.Now().Before(cached.expiresAt) {
		s.overviewCacheMu.RUnlock()
		s.writeJSON(w, cached.data)
		return
	}
	s.overviewCacheMu.RUnlock()

	overview, err := s.store.Overview(window)
	if err != nil {
		s.logger.Error("failed to get overview", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}
	stats, err := s.store.MetricStats(window)
	if err != nil {
		s.logger.Error("failed to get metric stats", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get overview")
		return
	}
	inFlight, _ := s.store.InFlightCount()

	series := func(metric string) []storage.DataPoint {
		pts, err := s.store.Series(storage.SeriesOptions{Window: window, Metric: metric, Controller: controller})
		if err != nil {
			s.logger.Warn("failed to get series", "metric", metric, "err", err)
		}
		return pts
	}

	resp := &OverviewResponse{
		Summary: SummaryData{
			TotalFetches:    overview.TotalFetches,
			AppliedRate:     overview.AppliedRate,
			StaleCount:      overview.StaleCount,
			FailedCount:     overview.FailedCount,
			AvgDurationMs:   overview.AvgDurationMs,
			P95DurationMs:   overview.P95DurationMs,
			TransportErrors: overview.TransportErrors,
			MalformedErrors: overview.MalformedErrors,
			InFlight:        inFlight,
		},
		Series: SeriesData{
			FetchCount:  series("fetch_count"),
			StaleCount:  series("stale_count"),
			FailedCount: series("failed_count"),
			DurationP95: series("duration_p95"),
		},
		Metrics: stats,
	}

	s.overviewCacheMu.Lock()
	s.overviewCache[cacheKey] = &cachedOverview{
		data:      resp,
		expiresAt: time.Now().Add(overviewCacheDuration),
	}
	s.overviewCacheMu.Unlock()

	s.writeJSON(w, resp)
}

// FetchListResponse contains a page of the fetch log.
type FetchListResponse struct {
	Fetches []storage.Fetch `json:"fetches"`
	Count   int             `json:"count"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// handleListFetches returns a page of the fetch log, newest first.
// GET /raicat/api/v1/fetches?limit=50&offset=0&status=&controller=&metric=&window=24h
func (s *Server) handleListFetches(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}

	q := r.URL.Query()
	limit := parseInt(q.Get("limit"), 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := parseInt(q.Get("offset"), 0)

	opts := storage.ListOptions{
		Limit:      limit,
		Offset:     offset,
		Controller: q.Get("controller"),
		Metric:     q.Get("metric"),
		Window:     parseWindow(r),
	}
	if status := q.Get("status"); status != "" {
		st, ok := storage.ParseStatus(status)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "invalid status: "+status)
			return
		}
		opts.Status = &st
	}

	fetches, err := s.store.List(opts)
	if err != nil {
		s.logger.Error("failed to list fetches", "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list fetches")
		return
	}
	if fetches == nil {
		fetches = []storage.Fetch{}
	}

	s.writeJSON(w, FetchListResponse{
		Fetches: fetches,
		Count:   len(fetches),
		Limit:   limit,
		Offset:  offset,
	})
}

// handleGetFetch returns one fetch log record.
// GET /raicat/api/v1/fetches/{id}
func (s *Server) handleGetFetch(w http.ResponseWriter, r *http.Request, id string) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage not available")
		return
	}
	f, err := s.store.GetByID(id)
	if err != nil {
		s.logger.Error("failed to get fetch", "id", id, "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get fetch")
		return
	}
	if f == nil {
		s.writeError(w, http.StatusNotFound, "fetch not found")
		return
	}
	s.writeJSON(w, f)
}

// handleRecent returns the tracker's in-flight and recent fetches.
// GET /raicat/api/v1/recent
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "telemetry not enabled")
		return
	}
	s.writeJSON(w, s.tracker.Snapshot())
}

// ConfigResponse contains the effective dashboard configuration.
type ConfigResponse struct {
	Mode              string   `json:"mode"`
	BackendURL        string   `json:"backend_url"`
	Metrics           []string `json:"metrics"`
	Comparison        bool     `json:"comparison"`
	CompareOffsetDays int      `json:"compare_offset_days"`
	SeriesSpanDays    int      `json:"series_span_days"`
	DefaultEntities   []string `json:"default_entities"`
	Storage           string   `json:"storage"`
	StorageMaxRows    int      `json:"storage_max_rows"`
}

// handleConfig returns the effective configuration.
// GET /raicat/api/v1/config
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	metrics := make([]string, len(s.cfg.Metrics))
	for i, m := range s.cfg.Metrics {
		metrics[i] = string(m)
	}
	s.writeJSON(w, ConfigResponse{
		Mode:              string(s.cfg.Mode),
		BackendURL:        s.cfg.BackendURL,
		Metrics:           metrics,
		Comparison:        s.cfg.Comparison,
		CompareOffsetDays: s.cfg.CompareOffsetDays,
		SeriesSpanDays:    s.cfg.SeriesSpanDays,
		DefaultEntities:   s.cfg.DefaultEntities,
		Storage:           string(s.cfg.Storage),
		StorageMaxRows:    s.cfg.StorageMaxRows,
	})
}
