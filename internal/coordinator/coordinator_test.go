package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"raicat/internal/dateutil"
	"raicat/internal/entity"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/series"
	"raicat/internal/snapshot"
)

// instantSource answers every query immediately and remembers it.
type instantSource struct {
	mu        sync.Mutex
	snapshots []model.SnapshotQuery
	series    []model.SeriesQuery
	block     chan struct{} // when set, snapshot queries wait on it
}

func (s *instantSource) Snapshot(ctx context.Context, q model.SnapshotQuery) (model.ComparisonSnapshot, error) {
	s.mu.Lock()
	s.snapshots = append(s.snapshots, q)
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return model.ComparisonSnapshot{Primary: model.SnapshotResult{
		PerEntity: map[model.EntityCode]model.Value{"ISR": model.Some(42)},
		Min:       42, Average: 42, Max: 42,
	}}, nil
}

func (s *instantSource) Series(ctx context.Context, q model.SeriesQuery) (model.SeriesResult, error) {
	s.mu.Lock()
	s.series = append(s.series, q)
	s.mu.Unlock()
	return model.SeriesResult{Points: []model.SeriesPoint{{Label: q.Range.End.String()}}}, nil
}

func (s *instantSource) lastSeries() model.SeriesQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.series[len(s.series)-1]
}

func (s *instantSource) lastSnapshot() model.SnapshotQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots[len(s.snapshots)-1]
}

func newCoordinator(src *instantSource, onTransition func(Transition)) *Coordinator {
	lookup := entity.NewLookup([]entity.Entity{{Code: "ISR", Label: "Israel"}, {Code: "USA", Label: "United States"}})
	return New(context.Background(), Options{
		Metric:       model.MetricDNS,
		Clock:        dateutil.FixedDay(dateutil.MustParse("2024-03-10")),
		Snapshot:     snapshot.Options{Source: src, Lookup: lookup},
		Series:       series.Options{Source: src, Lookup: lookup},
		OnTransition: onTransition,
	})
}

func TestInitialState(t *testing.T) {
	src := &instantSource{}
	c := newCoordinator(src, nil)
	defer c.Close()
	c.Wait()

	if c.Mode() != model.ModeSnapshot {
		t.Fatalf("initial mode = %s", c.Mode())
	}
	if got := c.Handoff().PivotDate.String(); got != "2024-03-10" {
		t.Fatalf("initial pivot = %s, want today", got)
	}
	if got := src.lastSnapshot().ReferenceDate.String(); got != "2024-03-10" {
		t.Fatalf("initial snapshot query date = %s", got)
	}
	if _, err := c.Series(); !errors.Is(err, errs.ErrInactive) {
		t.Fatalf("Series() in snapshot mode: %v", err)
	}
}

func TestSelectEntityHandsOffToSeries(t *testing.T) {
	src := &instantSource{}
	var transitions []Transition
	c := newCoordinator(src, func(tr Transition) { transitions = append(transitions, tr) })
	defer c.Close()

	snap, err := c.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if err := snap.SetReferenceDate(dateutil.MustParse("2024-03-01")); err != nil {
		t.Fatal(err)
	}
	if _, err := c.SelectEntity("ISR"); err != nil {
		t.Fatalf("SelectEntity: %v", err)
	}
	c.Wait()

	if c.Mode() != model.ModeSeries {
		t.Fatalf("mode = %s, want series", c.Mode())
	}
	ser, err := c.Series()
	if err != nil {
		t.Fatal(err)
	}
	rng := ser.Range()
	if rng.Start.String() != "2024-02-28" || rng.End.String() != "2024-03-01" {
		t.Fatalf("range = %s", rng)
	}
	if sel := ser.Selection().Codes(); len(sel) != 1 || sel[0] != "ISR" {
		t.Fatalf("selection = %v", sel)
	}
	if q := src.lastSeries(); q.Range != rng {
		t.Fatalf("series query range = %s", q.Range)
	}
	if len(transitions) != 1 || transitions[0].Reason != "select_entity" || transitions[0].Handoff.Entity != "ISR" {
		t.Fatalf("transitions = %+v", transitions)
	}

	// The old snapshot controller is disposed and can no longer switch modes.
	if _, err := snap.SelectEntity("USA"); !errors.Is(err, errs.ErrInactive) {
		t.Fatalf("disposed snapshot accepted an intent: %v", err)
	}
}

func TestPointActivationReturnsToSnapshot(t *testing.T) {
	src := &instantSource{}
	c := newCoordinator(src, nil)
	defer c.Close()

	if _, err := c.SelectEntity("ISR"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.ActivatePoint("2024-03-08"); err != nil {
		t.Fatalf("ActivatePoint: %v", err)
	}
	c.Wait()

	if c.Mode() != model.ModeSnapshot {
		t.Fatalf("mode = %s", c.Mode())
	}
	if got := src.lastSnapshot().ReferenceDate.String(); got != "2024-03-08" {
		t.Fatalf("snapshot pivot = %s", got)
	}
	h := c.Handoff()
	if h.Entity != "" || h.PivotDate.String() != "2024-03-08" {
		t.Fatalf("handoff = %+v", h)
	}
}

func TestToggleReusesLastEntity(t *testing.T) {
	src := &instantSource{}
	c := newCoordinator(src, nil)
	defer c.Close()

	if _, err := c.SelectEntity("USA"); err != nil {
		t.Fatal(err)
	}
	if mode, err := c.Toggle(); err != nil || mode != model.ModeSnapshot {
		t.Fatalf("Toggle -> %s, %v", mode, err)
	}
	if mode, err := c.Toggle(); err != nil || mode != model.ModeSeries {
		t.Fatalf("Toggle -> %s, %v", mode, err)
	}
	c.Wait()
	if q := src.lastSeries(); len(q.Entities) != 1 || q.Entities[0] != "USA" {
		t.Fatalf("toggled series entities = %v", q.Entities)
	}
}

func TestInflightSnapshotIgnoredAfterSwitch(t *testing.T) {
	src := &instantSource{block: make(chan struct{})}
	c := newCoordinator(src, nil)
	defer c.Close()

	snap, _ := c.Snapshot()
	if _, err := c.SelectEntity("ISR"); err != nil {
		t.Fatal(err)
	}
	close(src.block)
	snap.Wait()

	if snap.FetchState().HasResult {
		t.Fatal("response for a disposed controller was applied")
	}
	if c.Mode() != model.ModeSeries {
		t.Fatalf("mode = %s", c.Mode())
	}
}
