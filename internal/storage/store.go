// Package storage keeps a bounded log of dashboard fetches for diagnostics.
// It stores request metadata only - never dataset payloads.
package storage

import (
	"sort"
	"time"
)

// MemoryDSN keeps the SQLite database in process memory.
const MemoryDSN = ":memory:"

// Status is the lifecycle state of a logged fetch.
type Status string

const (
	StatusInFlight Status = "in_flight"
	StatusApplied  Status = "applied"
	StatusFailed   Status = "failed"
	StatusStale    Status = "stale"
)

// ParseStatus accepts the Status names; ok is false for anything else.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusInFlight, StatusApplied, StatusFailed, StatusStale:
		return st, true
	default:
		return "", false
	}
}

// Fetch is one controller request and how it settled.
type Fetch struct {
	ID         string `json:"id"`
	TSStart    int64  `json:"ts_start"` // unix ms
	TSEnd      *int64 `json:"ts_end"`   // nullable until settled
	Status     Status `json:"status"`
	Controller string `json:"controller"` // snapshot|series
	Metric     string `json:"metric"`     // dns|ipv6
	Key        string `json:"key"`
	Token      uint64 `json:"token"`
	DurationMs int    `json:"duration_ms"`
	ErrorClass string `json:"error_class,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FetchUpdate contains fields that can be updated after insert.
type FetchUpdate struct {
	TSEnd      *int64
	Status     *Status
	DurationMs *int
	ErrorClass *string
	Error      *string
}

// ListOptions filters for listing fetches.
type ListOptions struct {
	Limit      int
	Offset     int
	Status     *Status
	Controller string
	Metric     string
	Window     time.Duration // only fetches within this window
}

// Overview contains summary statistics for a time window.
type Overview struct {
	TotalFetches    int     `json:"total_fetches"`
	AppliedCount    int     `json:"applied_count"`
	FailedCount     int     `json:"failed_count"`
	StaleCount      int     `json:"stale_count"`
	InFlightCount   int     `json:"in_flight_count"`
	AppliedRate     float64 `json:"applied_rate"`
	AvgDurationMs   int     `json:"avg_duration_ms"`
	P95DurationMs   int     `json:"p95_duration_ms"`
	TransportErrors int     `json:"transport_errors"`
	MalformedErrors int     `json:"malformed_errors"`
}

// MetricStat is a per (metric, controller) rollup.
type MetricStat struct {
	Metric        string  `json:"metric"`
	Controller    string  `json:"controller"`
	FetchCount    int     `json:"fetch_count"`
	AppliedRate   float64 `json:"applied_rate"`
	StaleRate     float64 `json:"stale_rate"`
	DurationP95Ms int     `json:"duration_p95_ms"`
}

// DataPoint represents a single point in a time series.
type DataPoint struct {
	Timestamp int64   `json:"ts"` // unix ms (bin start)
	Value     float64 `json:"value"`
}

// SeriesOptions configures time series queries.
type SeriesOptions struct {
	Window     time.Duration
	Metric     string // fetch_count, stale_count, failed_count, duration_p95
	Controller string // optional filter
}

// Store is the interface for fetch log storage.
type Store interface {
	// Insert creates a new record when a fetch is issued.
	Insert(f *Fetch) error

	// Update modifies an existing record when the fetch settles.
	Update(id string, upd FetchUpdate) error

	// GetByID retrieves a single record by ID.
	GetByID(id string) (*Fetch, error)

	// List retrieves records with filtering and pagination, newest first.
	List(opts ListOptions) ([]Fetch, error)

	// Overview returns aggregate statistics for a time window.
	Overview(window time.Duration) (*Overview, error)

	// MetricStats returns per metric and controller rollups.
	MetricStats(window time.Duration) ([]MetricStat, error)

	// Series returns time-binned data for charts.
	Series(opts SeriesOptions) ([]DataPoint, error)

	// InFlightCount returns the number of unsettled fetches.
	InFlightCount() (int, error)

	// Close releases resources.
	Close() error
}

// GetBinConfig returns the number of bins and interval for a time window.
func GetBinConfig(window time.Duration) (bins int, interval time.Duration) {
	switch {
	case window <= time.Hour:
		return 60, time.Minute
	case window <= 24*time.Hour:
		return 96, 15 * time.Minute
	default:
		return 168, time.Hour
	}
}

func newBins(window time.Duration, now time.Time) ([]DataPoint, time.Time, time.Duration) {
	bins, interval := GetBinConfig(window)
	cutoff := now.Add(-window)
	points := make([]DataPoint, bins)
	for i := 0; i < bins; i++ {
		points[i] = DataPoint{Timestamp: cutoff.Add(time.Duration(i) * interval).UnixMilli()}
	}
	return points, cutoff, interval
}

// seriesValue reports the value a record contributes to metric, or false
// when it does not contribute.
func seriesValue(metric string, f Fetch) (float64, bool) {
	switch metric {
	case "fetch_count":
		return 1, true
	case "stale_count":
		return 1, f.Status == StatusStale
	case "failed_count":
		return 1, f.Status == StatusFailed
	case "duration_p95":
		return float64(f.DurationMs), f.Status != StatusInFlight
	default:
		return 0, false
	}
}

func aggregateBins(metric string, points []DataPoint, binValues [][]float64) {
	for i, vals := range binValues {
		if len(vals) == 0 {
			continue
		}
		switch metric {
		case "duration_p95":
			points[i].Value = float64(percentile95(vals))
		default:
			points[i].Value = float64(len(vals))
		}
	}
}

func percentile95(vals []float64) int {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	idx := int(float64(len(sorted)) * 0.95)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return int(sorted[idx])
}
