package storage

import (
	"testing"
	"time"
)

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

func TestGetBinConfig(t *testing.T) {
	tests := []struct {
		window       time.Duration
		wantBins     int
		wantInterval time.Duration
	}{
		{30 * time.Minute, 60, time.Minute},
		{time.Hour, 60, time.Minute},
		{2 * time.Hour, 96, 15 * time.Minute},
		{24 * time.Hour, 96, 15 * time.Minute},
		{48 * time.Hour, 168, time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.window.String(), func(t *testing.T) {
			bins, interval := GetBinConfig(tt.window)
			if bins != tt.wantBins {
				t.Errorf("bins = %d, want %d", bins, tt.wantBins)
			}
			if interval != tt.wantInterval {
				t.Errorf("interval = %v, want %v", interval, tt.wantInterval)
			}
		})
	}
}

// exerciseStore runs the same lifecycle against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	now := time.Now().UnixMilli()

	records := []Fetch{
		{ID: "a", TSStart: now - 3000, Status: StatusInFlight, Controller: "snapshot", Metric: "dns", Key: "dns/snapshot?date=2024-03-01", Token: 1},
		{ID: "b", TSStart: now - 2000, Status: StatusInFlight, Controller: "snapshot", Metric: "dns", Key: "dns/snapshot?date=2024-03-02", Token: 2},
		{ID: "c", TSStart: now - 1000, Status: StatusInFlight, Controller: "series", Metric: "ipv6", Key: "ipv6/series", Token: 1},
	}
	for i := range records {
		if err := s.Insert(&records[i]); err != nil {
			t.Fatalf("Insert(%s): %v", records[i].ID, err)
		}
	}

	if n, err := s.InFlightCount(); err != nil || n != 3 {
		t.Fatalf("InFlightCount = %d, %v", n, err)
	}

	settle := func(id string, st Status, dur int, class, msg string) {
		end := now
		if err := s.Update(id, FetchUpdate{TSEnd: &end, Status: &st, DurationMs: &dur, ErrorClass: &class, Error: &msg}); err != nil {
			t.Fatalf("Update(%s): %v", id, err)
		}
	}
	settle("a", StatusStale, 120, "", "")
	settle("b", StatusApplied, 80, "", "")
	settle("c", StatusFailed, 40, "transport", "connection refused")

	got, err := s.GetByID("c")
	if err != nil || got == nil {
		t.Fatalf("GetByID(c) = %v, %v", got, err)
	}
	if got.Status != StatusFailed || got.ErrorClass != "transport" || got.TSEnd == nil || got.Token != 1 {
		t.Errorf("record c = %+v", got)
	}
	if missing, err := s.GetByID("nope"); err != nil || missing != nil {
		t.Errorf("GetByID(nope) = %v, %v", missing, err)
	}

	all, err := s.List(ListOptions{})
	if err != nil || len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("List = %+v, %v", all, err)
	}
	stale := StatusStale
	if l, _ := s.List(ListOptions{Status: &stale}); len(l) != 1 || l[0].ID != "a" {
		t.Errorf("List(stale) = %+v", l)
	}
	if l, _ := s.List(ListOptions{Controller: "snapshot", Limit: 1}); len(l) != 1 || l[0].ID != "b" {
		t.Errorf("List(snapshot, limit 1) = %+v", l)
	}
	if l, _ := s.List(ListOptions{Offset: 2}); len(l) != 1 || l[0].ID != "a" {
		t.Errorf("List(offset 2) = %+v", l)
	}

	o, err := s.Overview(time.Hour)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if o.TotalFetches != 3 || o.AppliedCount != 1 || o.StaleCount != 1 || o.FailedCount != 1 || o.TransportErrors != 1 {
		t.Errorf("Overview = %+v", o)
	}
	if o.AvgDurationMs != 80 || o.P95DurationMs != 120 {
		t.Errorf("durations avg=%d p95=%d", o.AvgDurationMs, o.P95DurationMs)
	}

	stats, err := s.MetricStats(time.Hour)
	if err != nil || len(stats) != 2 {
		t.Fatalf("MetricStats = %+v, %v", stats, err)
	}
	if stats[0].Metric != "dns" || stats[0].FetchCount != 2 || stats[0].StaleRate != 0.5 {
		t.Errorf("dns snapshot stat = %+v", stats[0])
	}

	points, err := s.Series(SeriesOptions{Window: time.Hour, Metric: "fetch_count"})
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	total := 0.0
	for _, p := range points {
		total += p.Value
	}
	if len(points) != 60 || total != 3 {
		t.Errorf("Series bins=%d total=%v", len(points), total)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(10))
}

func TestMemoryStoreEvictsOldest(t *testing.T) {
	s := NewMemoryStore(2)
	for i, id := range []string{"a", "b", "c"} {
		if err := s.Insert(&Fetch{ID: id, TSStart: int64(i), Status: StatusApplied}); err != nil {
			t.Fatal(err)
		}
	}
	if got, _ := s.GetByID("a"); got != nil {
		t.Fatalf("oldest record should be evicted, got %+v", got)
	}
	list, _ := s.List(ListOptions{})
	if len(list) != 2 || list[0].ID != "c" || list[1].ID != "b" {
		t.Fatalf("List = %+v", list)
	}
	// Updating an evicted record is not an error.
	st := StatusFailed
	if err := s.Update("a", FetchUpdate{Status: &st}); err != nil {
		t.Fatalf("Update(evicted): %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if st, ok := ParseStatus("stale"); !ok || st != StatusStale {
		t.Errorf("ParseStatus(stale) = %v, %v", st, ok)
	}
	if _, ok := ParseStatus("success"); ok {
		t.Error("unknown status accepted")
	}
}
