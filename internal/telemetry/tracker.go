package telemetry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"raicat/internal/coordinator"
	"raicat/internal/errs"
	"raicat/internal/fetch"
	"raicat/internal/storage"
)

// FetchInfo tracks the lifecycle of a single fetch.
type FetchInfo struct {
	ID         string     `json:"id"`
	Controller string     `json:"controller"`
	Metric     string     `json:"metric"`
	Key        string     `json:"key"`
	Token      uint64     `json:"token"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Status     string     `json:"status"`
	ErrorClass string     `json:"error_class,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Tracker maintains in-flight and recent fetches. It implements
// fetch.Observer, so guards report to it directly.
type Tracker struct {
	mu          sync.RWMutex
	inFlight    map[string]*FetchInfo // guard/token -> fetch
	recent      []FetchInfo           // circular buffer
	recentHead  int
	recentCount int
	maxRecent   int
	eventBus    *EventBus
	metrics     *Metrics
	store       storage.Store
	logger      *slog.Logger
}

var _ fetch.Observer = (*Tracker)(nil)

// NewTracker creates a tracker. Any of eventBus, metrics and store may be nil.
func NewTracker(maxRecent int, eventBus *EventBus, metrics *Metrics, store storage.Store, logger *slog.Logger) *Tracker {
	if maxRecent < 0 {
		maxRecent = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		inFlight:  make(map[string]*FetchInfo),
		recent:    make([]FetchInfo, maxRecent),
		maxRecent: maxRecent,
		eventBus:  eventBus,
		metrics:   metrics,
		store:     store,
		logger:    logger,
	}
}

func trackKey(guard string, tok fetch.Token) string {
	return fmt.Sprintf("%s/%d", guard, tok)
}

// FetchStarted registers a new fetch as in-flight.
func (t *Tracker) FetchStarted(req fetch.Request) {
	now := time.Now()
	info := &FetchInfo{
		ID:         uuid.NewString(),
		Controller: req.Controller,
		Metric:     req.Metric,
		Key:        req.Key,
		Token:      uint64(req.Token),
		StartTime:  now,
		Status:     string(storage.StatusInFlight),
	}

	t.mu.Lock()
	t.inFlight[trackKey(req.Guard, req.Token)] = info
	inFlightCount := len(t.inFlight)
	t.mu.Unlock()

	t.metrics.UpdateInFlight(inFlightCount)

	if t.store != nil {
		rec := &storage.Fetch{
			ID:         info.ID,
			TSStart:    now.UnixMilli(),
			Status:     storage.StatusInFlight,
			Controller: info.Controller,
			Metric:     info.Metric,
			Key:        info.Key,
			Token:      info.Token,
		}
		if err := t.store.Insert(rec); err != nil {
			t.logger.Warn("fetch log insert failed", "id", info.ID, "error", err)
		}
	}

	if t.eventBus != nil {
		t.eventBus.Publish(Event{
			Type:       EventFetchStart,
			ID:         info.ID,
			Timestamp:  now,
			Controller: info.Controller,
			Metric:     info.Metric,
			Key:        info.Key,
			Token:      info.Token,
		})
	}
}

// FetchSettled moves a fetch to the recent buffer and records its outcome.
// Settlements without a matching start are ignored.
func (t *Tracker) FetchSettled(s fetch.Settlement) {
	k := trackKey(s.Guard, s.Token)

	t.mu.Lock()
	info, ok := t.inFlight[k]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.inFlight, k)

	now := time.Now()
	info.EndTime = &now
	info.Status = string(s.Outcome)
	if s.Err != nil {
		info.ErrorClass = errs.Class(s.Err)
		info.Error = s.Err.Error()
	}
	if t.maxRecent > 0 {
		t.recent[t.recentHead] = *info
		t.recentHead = (t.recentHead + 1) % t.maxRecent
		if t.recentCount < t.maxRecent {
			t.recentCount++
		}
	}
	inFlightCount := len(t.inFlight)
	t.mu.Unlock()

	t.metrics.RecordFetch(info.Metric, info.Controller, info.Status, s.Elapsed)
	t.metrics.UpdateInFlight(inFlightCount)

	if t.store != nil {
		tsEnd := now.UnixMilli()
		status := storage.Status(info.Status)
		duration := int(s.Elapsed.Milliseconds())
		upd := storage.FetchUpdate{TSEnd: &tsEnd, Status: &status, DurationMs: &duration}
		if info.ErrorClass != "" {
			upd.ErrorClass = &info.ErrorClass
			upd.Error = &info.Error
		}
		if err := t.store.Update(info.ID, upd); err != nil {
			t.logger.Warn("fetch log update failed", "id", info.ID, "error", err)
		}
	}

	if t.eventBus != nil {
		var eventType EventType
		switch s.Outcome {
		case fetch.OutcomeApplied:
			eventType = EventFetchApplied
		case fetch.OutcomeFailed:
			eventType = EventFetchFailed
		default:
			eventType = EventFetchStale
		}
		t.eventBus.Publish(Event{
			Type:       eventType,
			ID:         info.ID,
			Timestamp:  now,
			Controller: info.Controller,
			Metric:     info.Metric,
			Key:        info.Key,
			Token:      info.Token,
			DurationMs: s.Elapsed.Milliseconds(),
			ErrorClass: info.ErrorClass,
			Error:      info.Error,
		})
	}
}

// RecordTransition counts and publishes a coordinator mode switch.
func (t *Tracker) RecordTransition(tr coordinator.Transition) {
	t.metrics.RecordModeSwitch(string(tr.Metric), tr.To.String(), tr.Reason)
	if t.eventBus == nil {
		return
	}
	ev := Event{
		Type:      EventModeSwitch,
		Timestamp: time.Now(),
		Metric:    string(tr.Metric),
		From:      tr.From.String(),
		To:        tr.To.String(),
		Entity:    string(tr.Handoff.Entity),
		Reason:    tr.Reason,
	}
	if !tr.Handoff.PivotDate.IsZero() {
		ev.PivotDate = tr.Handoff.PivotDate.String()
	}
	t.eventBus.Publish(ev)
}

// Snapshot is a copy of the tracker state.
type Snapshot struct {
	InFlight []FetchInfo `json:"in_flight"`
	Recent   []FetchInfo `json:"recent"`
}

// Snapshot returns in-flight fetches and recent ones, oldest first.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		InFlight: make([]FetchInfo, 0, len(t.inFlight)),
		Recent:   make([]FetchInfo, 0, t.recentCount),
	}
	for _, info := range t.inFlight {
		snap.InFlight = append(snap.InFlight, *info)
	}
	start := 0
	if t.recentCount == t.maxRecent {
		start = t.recentHead
	}
	for i := 0; i < t.recentCount; i++ {
		snap.Recent = append(snap.Recent, t.recent[(start+i)%t.maxRecent])
	}
	return snap
}
