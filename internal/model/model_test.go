package model

import (
	"encoding/json"
	"testing"

	"raicat/internal/dateutil"
)

func TestValueJSON(t *testing.T) {
	var got map[EntityCode]Value
	if err := json.Unmarshal([]byte(`{"ISR": 42, "USA": null}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v := got["ISR"]; !v.Valid || v.N != 42 {
		t.Errorf("ISR = %+v, want 42", v)
	}
	if v := got["USA"]; v.Valid {
		t.Errorf("USA = %+v, want absent", v)
	}
	b, _ := json.Marshal(None())
	if string(b) != "null" {
		t.Errorf("None() marshals to %s", b)
	}
}

func TestDefaultRange(t *testing.T) {
	r := DefaultRange(dateutil.MustParse("2024-03-01"), 2)
	if r.Start.String() != "2024-02-28" || r.End.String() != "2024-03-01" {
		t.Fatalf("DefaultRange = %s", r)
	}
}

func TestParseMetric(t *testing.T) {
	if m, err := ParseMetric(" IPv6 "); err != nil || m != MetricIPv6 {
		t.Fatalf("ParseMetric = %v, %v", m, err)
	}
	if _, err := ParseMetric("bgp"); err == nil {
		t.Fatal("expected error for unknown metric")
	}
	if MetricDNS.Unit() != "ms" || MetricIPv6.Unit() != "%" {
		t.Fatal("unexpected units")
	}
}

func TestHasData(t *testing.T) {
	r := SnapshotResult{PerEntity: map[EntityCode]Value{"ISR": None()}}
	if r.HasData() {
		t.Error("all-absent result should report no data")
	}
	r.PerEntity["USA"] = Some(1)
	if !r.HasData() {
		t.Error("expected data")
	}
}

func TestSeriesQueryKeyKeepsSelectionOrder(t *testing.T) {
	q := SeriesQuery{
		Metric:   MetricDNS,
		Range:    DefaultRange(dateutil.MustParse("2024-03-01"), 2),
		Entities: []EntityCode{"USA", "ISR"},
	}
	want := "dns/series?start=2024-02-28&end=2024-03-01&countries=USA,ISR"
	if got := q.Key(); got != want {
		t.Fatalf("Key() = %s, want %s", got, want)
	}
}
