package telemetry

import (
	"errors"
	"testing"
	"time"

	"raicat/internal/coordinator"
	"raicat/internal/dateutil"
	"raicat/internal/errs"
	"raicat/internal/fetch"
	"raicat/internal/model"
	"raicat/internal/storage"
)

func request(guard string, tok fetch.Token) fetch.Request {
	return fetch.Request{
		Guard:      guard,
		Controller: "snapshot",
		Metric:     "dns",
		Key:        "dns/snapshot?date=2024-03-01",
		Token:      tok,
	}
}

func TestTracker_Lifecycle(t *testing.T) {
	store := storage.NewMemoryStore(10)
	tracker := NewTracker(10, nil, nil, store, nil)

	tracker.FetchStarted(request("g1", 1))

	snap := tracker.Snapshot()
	if len(snap.InFlight) != 1 {
		t.Fatalf("expected 1 in-flight fetch, got %d", len(snap.InFlight))
	}
	id := snap.InFlight[0].ID
	if id == "" {
		t.Fatal("expected a fetch ID")
	}

	rec, err := store.GetByID(id)
	if err != nil || rec == nil {
		t.Fatalf("fetch not logged: %v", err)
	}
	if rec.Status != storage.StatusInFlight || rec.Key != "dns/snapshot?date=2024-03-01" {
		t.Errorf("logged record = %+v", rec)
	}

	tracker.FetchSettled(fetch.Settlement{
		Request: request("g1", 1),
		Outcome: fetch.OutcomeApplied,
		Elapsed: 25 * time.Millisecond,
	})

	snap = tracker.Snapshot()
	if len(snap.InFlight) != 0 {
		t.Errorf("expected no in-flight fetches, got %d", len(snap.InFlight))
	}
	if len(snap.Recent) != 1 || snap.Recent[0].Status != "applied" {
		t.Fatalf("recent = %+v", snap.Recent)
	}

	rec, _ = store.GetByID(id)
	if rec.Status != storage.StatusApplied || rec.DurationMs != 25 || rec.TSEnd == nil {
		t.Errorf("settled record = %+v", rec)
	}
}

func TestTracker_FailureRecordsErrorClass(t *testing.T) {
	store := storage.NewMemoryStore(10)
	tracker := NewTracker(10, nil, nil, store, nil)

	tracker.FetchStarted(request("g1", 3))
	tracker.FetchSettled(fetch.Settlement{
		Request: request("g1", 3),
		Outcome: fetch.OutcomeFailed,
		Err:     &errs.TransportError{Op: "snapshot", Status: 503, Err: errors.New("unavailable")},
	})

	recent := tracker.Snapshot().Recent
	if len(recent) != 1 || recent[0].ErrorClass != errs.ClassTransport {
		t.Fatalf("recent = %+v", recent)
	}
	rec, _ := store.GetByID(recent[0].ID)
	if rec.Status != storage.StatusFailed || rec.ErrorClass != errs.ClassTransport || rec.Error == "" {
		t.Errorf("settled record = %+v", rec)
	}
}

func TestTracker_SameTokenDifferentGuards(t *testing.T) {
	tracker := NewTracker(10, nil, nil, nil, nil)

	tracker.FetchStarted(request("old", 1))
	tracker.FetchStarted(request("new", 1))
	if n := len(tracker.Snapshot().InFlight); n != 2 {
		t.Fatalf("expected 2 in-flight fetches, got %d", n)
	}

	tracker.FetchSettled(fetch.Settlement{Request: request("old", 1), Outcome: fetch.OutcomeStale})
	snap := tracker.Snapshot()
	if len(snap.InFlight) != 1 || len(snap.Recent) != 1 || snap.Recent[0].Status != "stale" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestTracker_UnknownSettlementIgnored(t *testing.T) {
	tracker := NewTracker(10, nil, nil, nil, nil)
	tracker.FetchSettled(fetch.Settlement{Request: request("g", 9), Outcome: fetch.OutcomeApplied})
	if n := len(tracker.Snapshot().Recent); n != 0 {
		t.Errorf("expected no recent fetches, got %d", n)
	}
}

func TestTracker_RecentBufferWraps(t *testing.T) {
	tracker := NewTracker(3, nil, nil, nil, nil)

	for i := 1; i <= 5; i++ {
		tracker.FetchStarted(request("g", fetch.Token(i)))
		tracker.FetchSettled(fetch.Settlement{Request: request("g", fetch.Token(i)), Outcome: fetch.OutcomeStale})
	}

	recent := tracker.Snapshot().Recent
	if len(recent) != 3 {
		t.Fatalf("expected 3 recent fetches, got %d", len(recent))
	}
	for i, want := range []uint64{3, 4, 5} {
		if recent[i].Token != want {
			t.Errorf("recent[%d].Token = %d, want %d", i, recent[i].Token, want)
		}
	}
}

func TestTracker_PublishesEvents(t *testing.T) {
	bus := NewEventBus(10)
	defer bus.Shutdown()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	tracker := NewTracker(10, bus, NewMetrics(), nil, nil)
	tracker.FetchStarted(request("g", 1))
	tracker.FetchSettled(fetch.Settlement{Request: request("g", 1), Outcome: fetch.OutcomeStale})
	tracker.RecordTransition(coordinator.Transition{
		Metric:  model.MetricDNS,
		From:    model.ModeSnapshot,
		To:      model.ModeSeries,
		Handoff: model.Handoff{Entity: "ISR", PivotDate: dateutil.MustParse("2024-03-01")},
		Reason:  "select_entity",
	})

	want := []EventType{EventFetchStart, EventFetchStale, EventModeSwitch}
	for i, w := range want {
		select {
		case ev := <-sub:
			if ev.Type != w {
				t.Fatalf("event %d type = %s, want %s", i, ev.Type, w)
			}
			if ev.Type == EventModeSwitch && (ev.Entity != "ISR" || ev.PivotDate != "2024-03-01" || ev.To != "series") {
				t.Errorf("mode switch event = %+v", ev)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("did not receive event %d", i)
		}
	}
}
