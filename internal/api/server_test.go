package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"raicat/internal/config"
	"raicat/internal/coordinator"
	"raicat/internal/dateutil"
	"raicat/internal/entity"
	"raicat/internal/model"
	"raicat/internal/series"
	"raicat/internal/snapshot"
	"raicat/internal/storage"
	"raicat/internal/telemetry"
)

// fakeSource answers immediately with fixed data.
type fakeSource struct {
	mu        sync.Mutex
	snapshots []model.SnapshotQuery
	series    []model.SeriesQuery
}

func (f *fakeSource) Snapshot(ctx context.Context, q model.SnapshotQuery) (model.ComparisonSnapshot, error) {
	f.mu.Lock()
	f.snapshots = append(f.snapshots, q)
	f.mu.Unlock()
	return model.ComparisonSnapshot{Primary: model.SnapshotResult{
		PerEntity: map[model.EntityCode]model.Value{"ISR": model.Some(42), "FRA": model.None()},
		Min:       10, Average: 30, Max: 50,
	}}, nil
}

func (f *fakeSource) Series(ctx context.Context, q model.SeriesQuery) (model.SeriesResult, error) {
	f.mu.Lock()
	f.series = append(f.series, q)
	f.mu.Unlock()
	var pts []model.SeriesPoint
	for d := q.Range.Start; !d.After(q.Range.End); d = dateutil.FromTime(d.Time().AddDate(0, 0, 1)) {
		vals := make(map[model.EntityCode]model.Value)
		for _, e := range q.Entities {
			vals[e] = model.Some(40)
		}
		pts = append(pts, model.SeriesPoint{Label: d.String(), Values: vals})
	}
	return model.SeriesResult{Points: pts}, nil
}

func (f *fakeSource) snapshotCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snapshots)
}

type fixture struct {
	srv   *Server
	src   *fakeSource
	coord *coordinator.Coordinator
	store *storage.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lookup := entity.NewLookup([]entity.Entity{
		{Code: "ISR", Label: "Israel"},
		{Code: "FRA", Label: "France"},
		{Code: "USA", Label: "United States"},
	})
	src := &fakeSource{}
	store := storage.NewMemoryStore(100)
	tracker := telemetry.NewTracker(10, nil, nil, store, logger)

	coord := coordinator.New(context.Background(), coordinator.Options{
		Metric:   model.MetricDNS,
		Clock:    dateutil.FixedDay(dateutil.MustParse("2024-03-10")),
		Logger:   logger,
		Snapshot: snapshot.Options{Source: src, Lookup: lookup, Observer: tracker},
		Series:   series.Options{Source: src, Lookup: lookup, Observer: tracker},
	})
	t.Cleanup(coord.Close)
	coord.Wait()

	srv := NewServer(Options{
		Coordinators: map[model.Metric]*coordinator.Coordinator{model.MetricDNS: coord},
		Lookup:       lookup,
		Store:        store,
		Tracker:      tracker,
		Config:       config.Config{Mode: config.ModeMonitor, ChartWidth: 300, ChartHeight: 200},
		Logger:       logger,
	})
	return &fixture{srv: srv, src: src, coord: coord, store: store}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, APIPrefix+path, rd)
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	f.coord.Wait()
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/state", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Metrics []struct {
			Metric   string `json:"metric"`
			Mode     string `json:"mode"`
			Snapshot *struct {
				ReferenceDate string `json:"reference_date"`
				HasResult     bool   `json:"has_result"`
			} `json:"snapshot"`
		} `json:"metrics"`
	}
	decode(t, rec, &resp)
	if len(resp.Metrics) != 1 || resp.Metrics[0].Mode != "snapshot" || resp.Metrics[0].Snapshot == nil {
		t.Fatalf("state = %s", rec.Body.String())
	}
	if s := resp.Metrics[0].Snapshot; s.ReferenceDate != "2024-03-10" || !s.HasResult {
		t.Errorf("snapshot view = %+v", s)
	}
}

func TestUnknownMetric(t *testing.T) {
	f := newFixture(t)

	if rec := f.do(t, http.MethodGet, "/latency/state", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown metric status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/ipv6/state", ""); rec.Code != http.StatusNotFound {
		t.Errorf("disabled metric status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/dns/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/dns/snapshot/date", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q", rec.Header().Get("Allow"))
	}
}

func TestSnapshotEntities(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/dns/snapshot/entities?code=il", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var ev snapshot.EntityView
	decode(t, rec, &ev)
	if ev.Code != "ISR" || ev.Tooltip != "Israel: 42ms" || ev.NoData {
		t.Errorf("entity = %+v", ev)
	}

	rec = f.do(t, http.MethodGet, "/dns/snapshot/entities", "")
	var all []snapshot.EntityView
	decode(t, rec, &all)
	if len(all) != 3 {
		t.Fatalf("entities = %d, want 3", len(all))
	}

	if rec := f.do(t, http.MethodGet, "/dns/snapshot/entities?code=ZZZ", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown code status = %d, want 400", rec.Code)
	}
}

func TestSnapshotDate(t *testing.T) {
	f := newFixture(t)
	before := f.src.snapshotCount()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"future", `{"date": "2030-01-01"}`, http.StatusBadRequest},
		{"malformed", `{"date": "01/03/2024"}`, http.StatusBadRequest},
		{"not json", `{"date":`, http.StatusBadRequest},
		{"empty", `{}`, http.StatusBadRequest},
		{"compare outside comparison mode", `{"date": "2024-03-01", "compare_date": "2024-02-20"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, http.MethodPost, "/dns/snapshot/date", tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
	if n := f.src.snapshotCount(); n != before {
		t.Fatalf("rejected dates issued %d fetches", n-before)
	}

	rec := f.do(t, http.MethodPost, "/dns/snapshot/date", `{"date": "2024-03-01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var v snapshot.View
	decode(t, rec, &v)
	if v.ReferenceDate.String() != "2024-03-01" {
		t.Errorf("reference date = %s", v.ReferenceDate)
	}
	if n := f.src.snapshotCount(); n != before+1 {
		t.Errorf("fetches = %d, want one more", n-before)
	}
}

func TestSelectThenSeriesFlow(t *testing.T) {
	f := newFixture(t)

	f.do(t, http.MethodPost, "/dns/snapshot/date", `{"date": "2024-03-01"}`)
	rec := f.do(t, http.MethodPost, "/dns/snapshot/select", `{"code": "ISR"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("select status = %d: %s", rec.Code, rec.Body.String())
	}
	var mode ModeResponse
	decode(t, rec, &mode)
	if mode.Mode != model.ModeSeries || mode.Handoff.Entity != "ISR" || mode.Handoff.PivotDate.String() != "2024-03-01" {
		t.Fatalf("mode response = %s", rec.Body.String())
	}

	// The snapshot is gone; its intents conflict.
	if rec := f.do(t, http.MethodPost, "/dns/snapshot/date", `{"date": "2024-03-02"}`); rec.Code != http.StatusConflict {
		t.Errorf("snapshot intent in series mode = %d, want 409", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/dns/series/lines", "")
	var lines []series.LineView
	decode(t, rec, &lines)
	if len(lines) != 1 || lines[0].Code != "ISR" || lines[0].DataKey != "ISR" {
		t.Fatalf("lines = %s", rec.Body.String())
	}

	if rec := f.do(t, http.MethodPost, "/dns/series/range", `{"start": "2024-03-05", "end": "2024-03-01"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("inverted range = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/dns/series/range", `{"start": "2024-02-20", "end": "2024-03-01"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("range status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/dns/series/entities", `{"codes": ["ISR", "us"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("entities status = %d: %s", rec.Code, rec.Body.String())
	}
	var sv series.View
	decode(t, rec, &sv)
	if len(sv.Lines) != 2 || sv.Lines[1].Code != "USA" {
		t.Errorf("lines after selection = %+v", sv.Lines)
	}
	if rec := f.do(t, http.MethodPost, "/dns/series/entities", `{"codes": "ISR"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("non-array codes = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/dns/series/chart.png", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("chart status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("chart body is not a PNG")
	}

	rec = f.do(t, http.MethodPost, "/dns/series/point", `{"date": "2024-02-25"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("point status = %d: %s", rec.Code, rec.Body.String())
	}
	decode(t, rec, &mode)
	if mode.Mode != model.ModeSnapshot || mode.Handoff.PivotDate.String() != "2024-02-25" {
		t.Errorf("point response = %s", rec.Body.String())
	}
}

func TestHoverAndLeave(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/dns/snapshot/hover", `{"code": "FRA"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("hover status = %d", rec.Code)
	}
	var ev snapshot.EntityView
	decode(t, rec, &ev)
	if ev.Tooltip != "France: NA" || !ev.NoData {
		t.Errorf("hover = %+v", ev)
	}

	if rec := f.do(t, http.MethodPost, "/dns/snapshot/hover", `{}`); rec.Code != http.StatusBadRequest {
		t.Errorf("hover without code = %d, want 400", rec.Code)
	}
	if rec := f.do(t, http.MethodPost, "/dns/snapshot/leave", ""); rec.Code != http.StatusNoContent {
		t.Errorf("leave = %d, want 204", rec.Code)
	}
	if st := f.coord.State(); st.Snapshot == nil || st.Snapshot.Hover != nil {
		t.Errorf("hover not cleared: %+v", st.Snapshot)
	}
}

func TestToggle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/dns/mode/toggle", "")
	var mode ModeResponse
	decode(t, rec, &mode)
	if mode.Mode != model.ModeSeries {
		t.Fatalf("toggle -> %s", rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/dns/snapshot/entities", ""); rec.Code != http.StatusConflict {
		t.Errorf("snapshot entities in series mode = %d, want 409", rec.Code)
	}
}

func TestFetchLog(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/dns/snapshot/date", `{"date": "2024-03-01"}`)

	rec := f.do(t, http.MethodGet, "/fetches?controller=snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var list FetchListResponse
	decode(t, rec, &list)
	if list.Count != 2 {
		t.Fatalf("fetches = %d, want 2", list.Count)
	}
	if list.Fetches[0].Key != "dns/snapshot?date=2024-03-01" || list.Fetches[0].Status != storage.StatusApplied {
		t.Errorf("newest fetch = %+v", list.Fetches[0])
	}

	rec = f.do(t, http.MethodGet, "/fetches/"+list.Fetches[0].ID, "")
	if rec.Code != http.StatusOK {
		t.Errorf("get fetch status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/fetches/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing fetch status = %d, want 404", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/fetches?status=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/overview?window=1h", "")
	var ov OverviewResponse
	decode(t, rec, &ov)
	if ov.Summary.TotalFetches != 2 || ov.Summary.AppliedRate != 1 {
		t.Errorf("overview summary = %+v", ov.Summary)
	}

	rec = f.do(t, http.MethodGet, "/recent", "")
	var snap telemetry.Snapshot
	decode(t, rec, &snap)
	if len(snap.Recent) != 2 {
		t.Errorf("recent = %d, want 2", len(snap.Recent))
	}
}

func TestEntitiesAndConfig(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/entities", "")
	var all []entity.Entity
	decode(t, rec, &all)
	if len(all) != 3 {
		t.Errorf("entities = %d", len(all))
	}

	rec = f.do(t, http.MethodGet, "/config", "")
	var cfg ConfigResponse
	decode(t, rec, &cfg)
	if cfg.Mode != "monitor" {
		t.Errorf("config mode = %q", cfg.Mode)
	}
}

func TestNoStorage(t *testing.T) {
	srv := NewServer(Options{})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, APIPrefix+"/fetches", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 7},
		{"25", 25},
		{"abc", 7},
		{"-3", 7},
		{"99999999999999999999999999", 7},
	}
	for _, tt := range tests {
		if got := parseInt(tt.in, 7); got != tt.want {
			t.Errorf("parseInt(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFetchLogOverflowingPaging(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/fetches?limit=99999999999999999999999&offset=99999999999999999999999", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	var resp FetchListResponse
	decode(t, rec, &resp)
	if resp.Limit != 50 || resp.Offset != 0 {
		t.Fatalf("limit/offset = %d/%d, want 50/0", resp.Limit, resp.Offset)
	}
}
