package storage

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store using an in-memory ring buffer.
// This is used when STORAGE=memory or as a fallback.
type MemoryStore struct {
	mu      sync.RWMutex
	fetches []Fetch
	byID    map[string]int // ID -> index in fetches
	maxRows int
	head    int // next write position
	count   int
}

// NewMemoryStore creates a new in-memory store holding at most maxRows records.
func NewMemoryStore(maxRows int) *MemoryStore {
	if maxRows <= 0 {
		maxRows = 1
	}
	return &MemoryStore{
		fetches: make([]Fetch, maxRows),
		byID:    make(map[string]int),
		maxRows: maxRows,
	}
}

// Insert adds a record, overwriting the oldest once full.
func (s *MemoryStore) Insert(f *Fetch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == s.maxRows {
		delete(s.byID, s.fetches[s.head].ID)
	}
	s.fetches[s.head] = *f
	s.byID[f.ID] = s.head

	s.head = (s.head + 1) % s.maxRows
	if s.count < s.maxRows {
		s.count++
	}
	return nil
}

// Update modifies an existing record. Unknown IDs are ignored.
func (s *MemoryStore) Update(id string, upd FetchUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil // evicted or never inserted
	}
	f := &s.fetches[idx]
	if upd.TSEnd != nil {
		f.TSEnd = upd.TSEnd
	}
	if upd.Status != nil {
		f.Status = *upd.Status
	}
	if upd.DurationMs != nil {
		f.DurationMs = *upd.DurationMs
	}
	if upd.ErrorClass != nil {
		f.ErrorClass = *upd.ErrorClass
	}
	if upd.Error != nil {
		f.Error = *upd.Error
	}
	return nil
}

// GetByID retrieves a single record, or nil when absent.
func (s *MemoryStore) GetByID(id string) (*Fetch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	f := s.fetches[idx]
	return &f, nil
}

// List returns records matching opts, newest first.
func (s *MemoryStore) List(opts ListOptions) ([]Fetch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := int64(0)
	if opts.Window > 0 {
		cutoff = time.Now().UnixMilli() - opts.Window.Milliseconds()
	}

	var filtered []Fetch
	for _, f := range s.collectOrdered() {
		if opts.Status != nil && f.Status != *opts.Status {
			continue
		}
		if opts.Controller != "" && f.Controller != opts.Controller {
			continue
		}
		if opts.Metric != "" && f.Metric != opts.Metric {
			continue
		}
		if cutoff > 0 && f.TSStart < cutoff {
			continue
		}
		filtered = append(filtered, f)
	}

	if opts.Offset >= len(filtered) {
		return nil, nil
	}
	filtered = filtered[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}
	return filtered, nil
}

// Overview returns aggregate statistics for the window.
func (s *MemoryStore) Overview(window time.Duration) (*Overview, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	var o Overview
	var durations []float64
	sum := 0

	for _, f := range s.collectOrdered() {
		if f.TSStart < cutoff {
			continue
		}
		o.TotalFetches++
		switch f.Status {
		case StatusApplied:
			o.AppliedCount++
		case StatusFailed:
			o.FailedCount++
		case StatusStale:
			o.StaleCount++
		case StatusInFlight:
			o.InFlightCount++
		}
		switch f.ErrorClass {
		case "transport":
			o.TransportErrors++
		case "malformed":
			o.MalformedErrors++
		}
		if f.Status != StatusInFlight {
			durations = append(durations, float64(f.DurationMs))
			sum += f.DurationMs
		}
	}

	if o.TotalFetches > 0 {
		o.AppliedRate = float64(o.AppliedCount) / float64(o.TotalFetches)
	}
	if len(durations) > 0 {
		o.AvgDurationMs = sum / len(durations)
		o.P95DurationMs = percentile95(durations)
	}
	return &o, nil
}

// MetricStats returns per metric and controller rollups, busiest first.
func (s *MemoryStore) MetricStats(window time.Duration) ([]MetricStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ metric, controller string }
	cutoff := time.Now().UnixMilli() - window.Milliseconds()
	groups := make(map[key][]Fetch)
	for _, f := range s.collectOrdered() {
		if f.TSStart < cutoff {
			continue
		}
		k := key{f.Metric, f.Controller}
		groups[k] = append(groups[k], f)
	}

	stats := make([]MetricStat, 0, len(groups))
	for k, fs := range groups {
		ms := MetricStat{Metric: k.metric, Controller: k.controller, FetchCount: len(fs)}
		var applied, stale int
		var durations []float64
		for _, f := range fs {
			switch f.Status {
			case StatusApplied:
				applied++
			case StatusStale:
				stale++
			}
			if f.Status != StatusInFlight {
				durations = append(durations, float64(f.DurationMs))
			}
		}
		ms.AppliedRate = float64(applied) / float64(len(fs))
		ms.StaleRate = float64(stale) / float64(len(fs))
		ms.DurationP95Ms = percentile95(durations)
		stats = append(stats, ms)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].FetchCount != stats[j].FetchCount {
			return stats[i].FetchCount > stats[j].FetchCount
		}
		if stats[i].Metric != stats[j].Metric {
			return stats[i].Metric < stats[j].Metric
		}
		return stats[i].Controller < stats[j].Controller
	})
	return stats, nil
}

// Series returns time-binned data for charts.
func (s *MemoryStore) Series(opts SeriesOptions) ([]DataPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, cutoff, interval := newBins(opts.Window, time.Now())
	binValues := make([][]float64, len(points))

	for _, f := range s.collectOrdered() {
		if f.TSStart < cutoff.UnixMilli() {
			continue
		}
		if opts.Controller != "" && f.Controller != opts.Controller {
			continue
		}
		v, ok := seriesValue(opts.Metric, f)
		if !ok {
			continue
		}
		binIdx := int((f.TSStart - cutoff.UnixMilli()) / interval.Milliseconds())
		if binIdx < 0 || binIdx >= len(points) {
			continue
		}
		binValues[binIdx] = append(binValues[binIdx], v)
	}

	aggregateBins(opts.Metric, points, binValues)
	return points, nil
}

// InFlightCount returns the number of unsettled fetches.
func (s *MemoryStore) InFlightCount() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		if s.fetches[idx].Status == StatusInFlight {
			count++
		}
	}
	return count, nil
}

// Close is a no-op for memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// collectOrdered returns all records newest first.
func (s *MemoryStore) collectOrdered() []Fetch {
	if s.count == 0 {
		return nil
	}
	result := make([]Fetch, 0, s.count)
	for i := 0; i < s.count; i++ {
		idx := (s.head - 1 - i + s.maxRows) % s.maxRows
		result = append(result, s.fetches[idx])
	}
	return result
}
