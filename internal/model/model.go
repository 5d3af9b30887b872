// Package model holds the data shapes shared by the dashboard controllers.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"raicat/internal/dateutil"
)

// Metric identifies which per-country measurement a dashboard tab shows.
type Metric string

const (
	MetricDNS  Metric = "dns"
	MetricIPv6 Metric = "ipv6"
)

// ParseMetric accepts the metric names used in config and URLs.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricDNS, MetricIPv6:
		return m, nil
	default:
		return "", fmt.Errorf("unknown metric %q (must be dns|ipv6)", s)
	}
}

// Unit is the display suffix for values of m.
func (m Metric) Unit() string {
	switch m {
	case MetricDNS:
		return "ms"
	case MetricIPv6:
		return "%"
	default:
		return ""
	}
}

// Title is a human label for charts and logs.
func (m Metric) Title() string {
	switch m {
	case MetricDNS:
		return "DNS reachability latency"
	case MetricIPv6:
		return "IPv6 adoption"
	default:
		return string(m)
	}
}

// EntityCode is an ISO 3166 alpha-3 country code.
type EntityCode string

// Value is a metric reading that may be absent.
type Value struct {
	N     float64
	Valid bool
}

// Some wraps a present value.
func Some(n float64) Value { return Value{N: n, Valid: true} }

// None is the absent value.
func None() Value { return Value{} }

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.N)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value{}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		*v = Value{}
		return nil
	}
	*v = Some(n)
	return nil
}

// SnapshotResult is the all-entities dataset for one reference date.
type SnapshotResult struct {
	PerEntity map[EntityCode]Value `json:"data"`
	Min       float64              `json:"min"`
	Average   float64              `json:"average"`
	Max       float64              `json:"max"`
}

// HasData reports whether any entity carries a value.
func (r SnapshotResult) HasData() bool {
	for _, v := range r.PerEntity {
		if v.Valid {
			return true
		}
	}
	return false
}

// Lookup returns the value for code, absent when missing.
func (r SnapshotResult) Lookup(code EntityCode) Value {
	if r.PerEntity == nil {
		return None()
	}
	return r.PerEntity[code]
}

// Codes returns the entity codes present in the result, sorted.
func (r SnapshotResult) Codes() []EntityCode {
	out := make([]EntityCode, 0, len(r.PerEntity))
	for c := range r.PerEntity {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ComparisonSnapshot pairs the reference-date result with an optional
// compare-date result. Secondary is nil unless a compare date was requested.
type ComparisonSnapshot struct {
	Primary   SnapshotResult  `json:"primary"`
	Secondary *SnapshotResult `json:"secondary,omitempty"`
}

// Compared reports whether the snapshot carries a secondary result.
func (c ComparisonSnapshot) Compared() bool { return c.Secondary != nil }

// SeriesPoint is one sampled date of a series.
type SeriesPoint struct {
	Label  string                `json:"name"`
	Values map[EntityCode]Value `json:"values"`
}

// SeriesResult is ordered by date ascending.
type SeriesResult struct {
	Points []SeriesPoint `json:"points"`
}

// Column returns the values for code across all points, absent where the
// server had no data.
func (r SeriesResult) Column(code EntityCode) []Value {
	out := make([]Value, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Values[code]
	}
	return out
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start dateutil.Date `json:"start"`
	End   dateutil.Date `json:"end"`
}

// DefaultRange ends at pivot and starts span days earlier.
func DefaultRange(pivot dateutil.Date, span int) DateRange {
	return DateRange{Start: pivot.DaysBefore(span), End: pivot}
}

func (r DateRange) String() string {
	return r.Start.String() + ".." + r.End.String()
}

// ViewMode selects which data controller is active.
type ViewMode int

const (
	ModeSnapshot ViewMode = iota
	ModeSeries
)

func (m ViewMode) String() string {
	switch m {
	case ModeSnapshot:
		return "snapshot"
	case ModeSeries:
		return "series"
	default:
		return fmt.Sprintf("ViewMode(%d)", int(m))
	}
}

func (m ViewMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *ViewMode) UnmarshalText(b []byte) error {
	switch string(b) {
	case "snapshot":
		*m = ModeSnapshot
	case "series":
		*m = ModeSeries
	default:
		return fmt.Errorf("unknown view mode %q", b)
	}
	return nil
}

// Handoff is the context carried across a mode switch. It is passed by value.
type Handoff struct {
	Entity    EntityCode    `json:"entity,omitempty"`
	PivotDate dateutil.Date `json:"pivot_date"`
}

// SnapshotQuery is the logical snapshot request.
type SnapshotQuery struct {
	Metric        Metric
	ReferenceDate dateutil.Date
	CompareDate   dateutil.Date // zero when not comparing
}

// Key identifies the query in logs and fetch records.
func (q SnapshotQuery) Key() string {
	if q.CompareDate.IsZero() {
		return fmt.Sprintf("%s/snapshot?date=%s", q.Metric, q.ReferenceDate)
	}
	return fmt.Sprintf("%s/snapshot?date=%s&compare=%s", q.Metric, q.ReferenceDate, q.CompareDate)
}

// SeriesQuery is the logical series request.
type SeriesQuery struct {
	Metric   Metric
	Range    DateRange
	Entities []EntityCode
}

func (q SeriesQuery) Key() string {
	codes := make([]string, len(q.Entities))
	for i, c := range q.Entities {
		codes[i] = string(c)
	}
	return fmt.Sprintf("%s/series?start=%s&end=%s&countries=%s", q.Metric, q.Range.Start, q.Range.End, strings.Join(codes, ","))
}
