// Package coordinator switches one metric's dashboard between the snapshot
// (map) and series (chart) controllers and carries the handoff between them.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"raicat/internal/dateutil"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/series"
	"raicat/internal/snapshot"
)

// Transition describes one mode switch.
type Transition struct {
	Metric  model.Metric   `json:"metric"`
	From    model.ViewMode `json:"from"`
	To      model.ViewMode `json:"to"`
	Handoff model.Handoff  `json:"handoff"`
	Reason  string         `json:"reason"`
}

// Options configures a Coordinator. Snapshot and Series are templates for
// the child controllers; their callbacks are owned by the coordinator.
type Options struct {
	Metric   model.Metric
	Clock    dateutil.Clock
	Logger   *slog.Logger
	Snapshot snapshot.Options
	Series   series.Options

	// OnTransition is called under the coordinator lock after every switch.
	// It must not call back into the coordinator.
	OnTransition func(Transition)
}

// Coordinator exclusively owns the view mode and the handoff payload. Only
// one child controller exists at a time; the previous one is disposed on
// every switch so its in-flight responses are dropped.
type Coordinator struct {
	ctx    context.Context
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	mode       model.ViewMode
	handoff    model.Handoff
	lastEntity model.EntityCode
	gen        uint64
	snap       *snapshot.Controller
	ser        *series.Controller
	closed     bool
}

// New starts in snapshot mode pivoting on today.
func New(ctx context.Context, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	opts.Snapshot.Metric = opts.Metric
	opts.Snapshot.Clock = opts.Clock
	opts.Snapshot.Logger = logger
	opts.Series.Metric = opts.Metric
	opts.Series.Clock = opts.Clock
	opts.Series.Logger = logger

	c := &Coordinator{
		ctx:    ctx,
		opts:   opts,
		logger: logger.With("component", "coordinator", "metric", string(opts.Metric)),
	}
	c.mu.Lock()
	c.handoff = model.Handoff{PivotDate: dateutil.Today(opts.Clock)}
	c.mode = model.ModeSnapshot
	c.startLocked(model.ModeSnapshot, c.handoff)
	c.mu.Unlock()
	return c
}

// Mode returns the active view mode.
func (c *Coordinator) Mode() model.ViewMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Handoff returns a copy of the last handoff payload.
func (c *Coordinator) Handoff() model.Handoff {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handoff
}

// Snapshot returns the active snapshot controller, or an ErrInactive error
// when the coordinator is in series mode.
func (c *Coordinator) Snapshot() (*snapshot.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != model.ModeSnapshot || c.snap == nil {
		return nil, fmt.Errorf("%s is in %s mode: %w", c.opts.Metric, c.mode, errs.ErrInactive)
	}
	return c.snap, nil
}

// Series returns the active series controller, or an ErrInactive error when
// the coordinator is in snapshot mode.
func (c *Coordinator) Series() (*series.Controller, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != model.ModeSeries || c.ser == nil {
		return nil, fmt.Errorf("%s is in %s mode: %w", c.opts.Metric, c.mode, errs.ErrInactive)
	}
	return c.ser, nil
}

// SelectEntity forwards an entity click to the snapshot controller, which
// triggers the switch to series mode.
func (c *Coordinator) SelectEntity(code string) (model.Handoff, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return model.Handoff{}, err
	}
	return snap.SelectEntity(code)
}

// ActivatePoint forwards a chart point click to the series controller, which
// triggers the switch back to snapshot mode.
func (c *Coordinator) ActivatePoint(label string) (model.Handoff, error) {
	ser, err := c.Series()
	if err != nil {
		return model.Handoff{}, err
	}
	return ser.ActivatePoint(label)
}

// Toggle flips the mode without a click: snapshot -> series reuses the last
// selected entity (or the series defaults) at the current reference date;
// series -> snapshot pivots on the end of the current range.
func (c *Coordinator) Toggle() (model.ViewMode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.mode, errs.ErrInactive
	}
	var (
		to model.ViewMode
		h  model.Handoff
	)
	switch c.mode {
	case model.ModeSnapshot:
		ref, _ := c.snap.Dates()
		to, h = model.ModeSeries, model.Handoff{Entity: c.lastEntity, PivotDate: ref}
	case model.ModeSeries:
		to, h = model.ModeSnapshot, model.Handoff{PivotDate: c.ser.Range().End}
	default:
		return c.mode, fmt.Errorf("unknown view mode %d", int(c.mode))
	}
	c.switchLocked(to, h, "toggle")
	return c.mode, nil
}

// transition is the child controllers' callback. Requests from a controller
// generation that is no longer active are ignored.
func (c *Coordinator) transition(gen uint64, to model.ViewMode, h model.Handoff, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || gen != c.gen {
		c.logger.Debug("transition from inactive controller ignored", "to", to.String(), "reason", reason)
		return
	}
	c.switchLocked(to, h, reason)
}

func (c *Coordinator) switchLocked(to model.ViewMode, h model.Handoff, reason string) {
	from := c.mode
	c.disposeLocked()

	// The handoff is a value; each side gets its own copy.
	c.handoff = h
	if h.Entity != "" {
		c.lastEntity = h.Entity
	}
	c.startLocked(to, h)
	c.mode = to

	t := Transition{Metric: c.opts.Metric, From: from, To: to, Handoff: h, Reason: reason}
	c.logger.Info("mode switched", "from", from.String(), "to", to.String(), "entity", string(h.Entity), "pivot_date", h.PivotDate.String(), "reason", reason)
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(t)
	}
}

func (c *Coordinator) startLocked(mode model.ViewMode, h model.Handoff) {
	c.gen++
	gen := c.gen
	switch mode {
	case model.ModeSnapshot:
		opts := c.opts.Snapshot
		opts.OnSelect = func(next model.Handoff) { c.transition(gen, model.ModeSeries, next, "select_entity") }
		c.snap = snapshot.New(c.ctx, h, opts)
	case model.ModeSeries:
		opts := c.opts.Series
		opts.OnActivate = func(next model.Handoff) { c.transition(gen, model.ModeSnapshot, next, "point_activated") }
		c.ser = series.New(c.ctx, h, opts)
	default:
		panic(fmt.Sprintf("coordinator: unknown view mode %d", int(mode)))
	}
}

func (c *Coordinator) disposeLocked() {
	switch c.mode {
	case model.ModeSnapshot:
		if c.snap != nil {
			c.snap.Dispose()
			c.snap = nil
		}
	case model.ModeSeries:
		if c.ser != nil {
			c.ser.Dispose()
			c.ser = nil
		}
	}
}

// State is a coordinator snapshot for the API. Exactly one of Snapshot and
// Series is set.
type State struct {
	Metric   model.Metric   `json:"metric"`
	Mode     model.ViewMode `json:"mode"`
	Handoff  model.Handoff  `json:"handoff"`
	Snapshot *snapshot.View `json:"snapshot,omitempty"`
	Series   *series.View   `json:"series,omitempty"`
}

// State returns the mode, handoff and active controller view.
func (c *Coordinator) State() State {
	c.mu.Lock()
	st := State{Metric: c.opts.Metric, Mode: c.mode, Handoff: c.handoff}
	snap, ser := c.snap, c.ser
	mode := c.mode
	c.mu.Unlock()

	switch mode {
	case model.ModeSnapshot:
		if snap != nil {
			v := snap.View()
			st.Snapshot = &v
		}
	case model.ModeSeries:
		if ser != nil {
			v := ser.View()
			st.Series = &v
		}
	}
	return st
}

// Wait joins the active controller's fetch goroutines.
func (c *Coordinator) Wait() {
	c.mu.Lock()
	snap, ser := c.snap, c.ser
	c.mu.Unlock()
	if snap != nil {
		snap.Wait()
	}
	if ser != nil {
		ser.Wait()
	}
}

// Close disposes the active controller. Further intents fail.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.disposeLocked()
	c.mu.Unlock()
}
