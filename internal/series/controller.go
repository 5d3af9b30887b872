// Package series implements the chart-mode data controller: a date range and
// an entity selection, and the per-date dataset fetched for them.
package series

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"raicat/internal/colorscale"
	"raicat/internal/dateutil"
	"raicat/internal/entity"
	"raicat/internal/errs"
	"raicat/internal/fetch"
	"raicat/internal/model"
)

// DefaultSpanDays is how far before the pivot date the default range starts.
const DefaultSpanDays = 2

// Source performs series queries.
type Source interface {
	Series(ctx context.Context, q model.SeriesQuery) (model.SeriesResult, error)
}

// Options configures a Controller.
type Options struct {
	Metric model.Metric
	Source Source
	Lookup *entity.Lookup
	Clock  dateutil.Clock

	SpanDays        int      // default range length before the pivot; 0 means DefaultSpanDays
	DefaultEntities []string // used when the handoff carries no entity

	Observer fetch.Observer // optional
	Logger   *slog.Logger   // optional

	// OnActivate is called, outside the controller lock, when a plotted point
	// is activated. It carries the point's date as the pivot.
	OnActivate func(model.Handoff)
	OnChange   func()
}

// Controller owns the series FetchState. It is safe for concurrent use.
type Controller struct {
	opts   Options
	ctx    context.Context
	logger *slog.Logger
	guard  *fetch.Guard[model.SeriesResult]

	mu        sync.Mutex
	rng       model.DateRange
	selection entity.Selection
	disposed  bool
}

// New creates a controller seeded from h: the range ends at the pivot date
// and starts SpanDays earlier; the selection is the handoff entity, or the
// configured defaults when there is none. The initial fetch is issued.
func New(ctx context.Context, h model.Handoff, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lookup == nil {
		opts.Lookup = entity.Default()
	}
	if opts.SpanDays <= 0 {
		opts.SpanDays = DefaultSpanDays
	}
	if opts.DefaultEntities == nil {
		opts.DefaultEntities = []string{"ISR"}
	}

	c := &Controller{
		opts:   opts,
		ctx:    ctx,
		logger: logger.With("controller", "series", "metric", string(opts.Metric)),
	}
	c.guard = fetch.NewGuard[model.SeriesResult](fetch.Options{
		Controller: "series",
		Metric:     string(opts.Metric),
		Observer:   opts.Observer,
		Logger:     logger,
		OnChange:   opts.OnChange,
	})

	today := dateutil.Today(opts.Clock)
	pivot := h.PivotDate
	if pivot.IsZero() || pivot.After(today) {
		pivot = today
	}

	codes := opts.DefaultEntities
	if h.Entity != "" {
		codes = []string{string(h.Entity)}
	}
	sel, err := opts.Lookup.Select(codes)
	if err != nil {
		c.logger.Warn("initial selection rejected, starting empty", "codes", codes, "err", err)
		sel = entity.Selection{}
	}

	c.mu.Lock()
	c.rng = model.DefaultRange(pivot, opts.SpanDays)
	c.selection = sel
	c.issueLocked()
	c.mu.Unlock()
	return c
}

// SetDateRange validates r and fetches. An inverted range or a future bound
// is rejected without touching state or issuing a fetch.
func (c *Controller) SetDateRange(r model.DateRange) error {
	if err := c.validateRange(r); err != nil {
		c.logger.Debug("range rejected", "range", r.String(), "err", err)
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	c.rng = r
	c.issueLocked()
	return nil
}

func (c *Controller) validateRange(r model.DateRange) error {
	switch {
	case r.Start.IsZero():
		return errs.Invalid("start", "start date is required")
	case r.End.IsZero():
		return errs.Invalid("end", "end date is required")
	case r.Start.After(r.End):
		return errs.Invalid("range", "start %s is after end %s", r.Start, r.End)
	case dateutil.IsFuture(c.opts.Clock, r.Start):
		return errs.Invalid("start", "%s is in the future", r.Start)
	case dateutil.IsFuture(c.opts.Clock, r.End):
		return errs.Invalid("end", "%s is in the future", r.End)
	}
	return nil
}

// SetEntitySelection replaces the selection and fetches. An empty selection
// is valid and still queries. Unknown codes reject the whole selection.
func (c *Controller) SetEntitySelection(codes []string) error {
	sel, err := c.opts.Lookup.Select(codes)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	c.selection = sel
	c.issueLocked()
	return nil
}

// Refresh re-issues the current query.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	c.issueLocked()
	return nil
}

func (c *Controller) issueLocked() {
	q := model.SeriesQuery{Metric: c.opts.Metric, Range: c.rng, Entities: c.selection.Codes()}
	src := c.opts.Source
	c.guard.Run(c.ctx, q.Key(), func(ctx context.Context) (model.SeriesResult, error) {
		return src.Series(ctx, q)
	})
}

// ActivatePoint signals a switch back to snapshot mode pivoting on the
// point's date label.
func (c *Controller) ActivatePoint(label string) (model.Handoff, error) {
	d, err := dateutil.Parse(label)
	if err != nil {
		return model.Handoff{}, errs.Invalid("date", "point label %q is not a date", label)
	}
	if dateutil.IsFuture(c.opts.Clock, d) {
		return model.Handoff{}, errs.Invalid("date", "%s is in the future", d)
	}
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	if disposed {
		return model.Handoff{}, errDisposed
	}

	h := model.Handoff{PivotDate: d}
	c.logger.Info("point activated", "pivot_date", d.String())
	if c.opts.OnActivate != nil {
		c.opts.OnActivate(h)
	}
	return h, nil
}

// Dispose drops any in-flight response and refuses further intents.
func (c *Controller) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	c.guard.Dispose()
}

// Wait joins outstanding fetch goroutines.
func (c *Controller) Wait() { c.guard.Wait() }

// FetchState returns the raw fetch state.
func (c *Controller) FetchState() fetch.State[model.SeriesResult] {
	return c.guard.State()
}

// Range returns the current date range.
func (c *Controller) Range() model.DateRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rng
}

// Selection returns a copy of the current selection.
func (c *Controller) Selection() entity.Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(entity.Selection(nil), c.selection...)
}

// Line returns the stroke color and data key for code. ok is false when code
// is not part of the selection.
func (c *Controller) Line(code model.EntityCode) (LineView, bool) {
	sel := c.Selection()
	for i, e := range sel {
		if e.Code == code {
			return lineView(i, e), true
		}
	}
	return LineView{}, false
}

// Lines returns a line per selected entity, in selection order.
func (c *Controller) Lines() []LineView {
	sel := c.Selection()
	out := make([]LineView, len(sel))
	for i, e := range sel {
		out[i] = lineView(i, e)
	}
	return out
}

func lineView(i int, e entity.Entity) LineView {
	return LineView{
		Code:    e.Code,
		Label:   e.Label,
		Color:   colorscale.Hex(colorscale.LineColor(i)),
		DataKey: string(e.Code),
	}
}

var errDisposed = fmt.Errorf("series: %w", errs.ErrInactive)
