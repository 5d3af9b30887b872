// Package snapshot implements the map-mode data controller: one reference
// date (optionally paired with a compare date) and the all-entities dataset
// fetched for it.
package snapshot

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

// Source performs snapshot queries.
type Source interface {
	Snapshot(ctx context.Context, q model.SnapshotQuery) (model.ComparisonSnapshot, error)
}

// Options configures a Controller.
type Options struct {
	Metric  model.Metric
	Source  Source
	Lookup  *entity.Lookup
	Palette colorscale.Palette
	Clock   dateutil.Clock

	// Comparison pairs every reference date with a compare date, defaulting
	// to CompareOffsetDays before the reference date.
	Comparison        bool
	CompareOffsetDays int

	Observer fetch.Observer // optional
	Logger   *slog.Logger   // optional

	// OnSelect is called, outside the controller lock, when an entity is
	// clicked. It carries the selected entity and the current reference date.
	OnSelect func(model.Handoff)
	// OnChange is called whenever a response is applied or fails.
	OnChange func()
}

// Controller owns the snapshot FetchState. It is safe for concurrent use;
// all mutations are serialized by its own lock.
type Controller struct {
	opts   Options
	ctx    context.Context
	logger *slog.Logger
	guard  *fetch.Guard[model.ComparisonSnapshot]

	mu       sync.Mutex
	ref      dateutil.Date
	cmp      dateutil.Date
	hover    model.EntityCode
	disposed bool
}

// New creates a controller seeded from h and issues the initial fetch. A
// zero or future pivot date falls back to today.
func New(ctx context.Context, h model.Handoff, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Lookup == nil {
		opts.Lookup = entity.Default()
	}
	if len(opts.Palette.Colors) == 0 {
		opts.Palette = colorscale.DefaultPalette(opts.Metric)
	}
	if opts.CompareOffsetDays <= 0 {
		opts.CompareOffsetDays = 7
	}

	c := &Controller{
		opts:   opts,
		ctx:    ctx,
		logger: logger.With("controller", "snapshot", "metric", string(opts.Metric)),
	}
	c.guard = fetch.NewGuard[model.ComparisonSnapshot](fetch.Options{
		Controller: "snapshot",
		Metric:     string(opts.Metric),
		Observer:   opts.Observer,
		Logger:     logger,
		OnChange:   opts.OnChange,
	})

	today := dateutil.Today(opts.Clock)
	ref := h.PivotDate
	if ref.IsZero() || ref.After(today) {
		ref = today
	}

	c.mu.Lock()
	c.ref = ref
	if opts.Comparison {
		c.cmp = ref.DaysBefore(opts.CompareOffsetDays)
	}
	c.issueLocked()
	c.mu.Unlock()
	return c
}

// SetReferenceDate replaces the reference date and fetches. The compare date
// is kept. A zero or future date is rejected and nothing changes.
func (c *Controller) SetReferenceDate(d dateutil.Date) error {
	return c.update(func(ref, _ *dateutil.Date) { *ref = d })
}

// SetCompareDate replaces the compare date and fetches. Only valid when the
// controller runs in comparison mode.
func (c *Controller) SetCompareDate(d dateutil.Date) error {
	return c.update(func(_, cmp *dateutil.Date) { *cmp = d })
}

// SetDates validates and applies both dates at once, issuing a single fetch.
// cmp must be zero outside comparison mode and set inside it.
func (c *Controller) SetDates(ref, cmp dateutil.Date) error {
	return c.update(func(r, cp *dateutil.Date) { *r, *cp = ref, cmp })
}

func (c *Controller) update(fn func(ref, cmp *dateutil.Date)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	ref, cmp := c.ref, c.cmp
	fn(&ref, &cmp)
	if err := c.validate(ref, cmp); err != nil {
		c.logger.Debug("date rejected", "date", ref.String(), "compare_date", cmp.String(), "err", err)
		return err
	}
	c.ref, c.cmp = ref, cmp
	c.issueLocked()
	return nil
}

// Refresh re-issues the current query. This is the only retry path after a
// failed fetch.
func (c *Controller) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return errDisposed
	}
	c.issueLocked()
	return nil
}

func (c *Controller) validate(ref, cmp dateutil.Date) error {
	if ref.IsZero() {
		return errs.Invalid("date", "reference date is required")
	}
	if dateutil.IsFuture(c.opts.Clock, ref) {
		return errs.Invalid("date", "%s is in the future", ref)
	}
	if !c.opts.Comparison {
		if !cmp.IsZero() {
			return errs.Invalid("compare_date", "comparison mode is disabled")
		}
		return nil
	}
	if cmp.IsZero() {
		return errs.Invalid("compare_date", "compare date is required in comparison mode")
	}
	if dateutil.IsFuture(c.opts.Clock, cmp) {
		return errs.Invalid("compare_date", "%s is in the future", cmp)
	}
	return nil
}

func (c *Controller) issueLocked() {
	q := model.SnapshotQuery{Metric: c.opts.Metric, ReferenceDate: c.ref, CompareDate: c.cmp}
	src := c.opts.Source
	c.guard.Run(c.ctx, q.Key(), func(ctx context.Context) (model.ComparisonSnapshot, error) {
		return src.Snapshot(ctx, q)
	})
}

// SelectEntity signals a switch to series mode for code, pivoting on the
// current reference date. It never fetches.
func (c *Controller) SelectEntity(code string) (model.Handoff, error) {
	e, ok := c.opts.Lookup.Resolve(code)
	if !ok {
		return model.Handoff{}, errs.Invalid("code", "unknown country code %q", code)
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return model.Handoff{}, errDisposed
	}
	h := model.Handoff{Entity: e.Code, PivotDate: c.ref}
	c.mu.Unlock()

	c.logger.Info("entity selected", "entity", string(e.Code), "pivot_date", h.PivotDate.String())
	if c.opts.OnSelect != nil {
		c.opts.OnSelect(h)
	}
	return h, nil
}

// Hover marks code as the hovered entity and returns its view.
func (c *Controller) Hover(code string) (EntityView, error) {
	e, ok := c.opts.Lookup.Resolve(code)
	if !ok {
		return EntityView{}, errs.Invalid("code", "unknown country code %q", code)
	}
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return EntityView{}, errDisposed
	}
	c.hover = e.Code
	c.mu.Unlock()
	return c.Entity(e.Code), nil
}

// Leave clears the hovered entity.
func (c *Controller) Leave() {
	c.mu.Lock()
	c.hover = ""
	c.mu.Unlock()
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
func (c *Controller) FetchState() fetch.State[model.ComparisonSnapshot] {
	return c.guard.State()
}

// Dates returns the current reference and compare dates.
func (c *Controller) Dates() (ref, cmp dateutil.Date) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ref, c.cmp
}

var errDisposed = fmt.Errorf("snapshot: %w", errs.ErrInactive)
