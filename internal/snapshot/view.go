package snapshot

import (
	"raicat/internal/colorscale"
	"raicat/internal/dateutil"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/tooltip"
)

// EntityView is what the map renderer needs for one country.
type EntityView struct {
	Code    model.EntityCode `json:"code"`
	Label   string           `json:"label"`
	Color   string           `json:"color"`
	NoData  bool             `json:"no_data"`
	Pattern string           `json:"pattern,omitempty"`
	Value   model.Value      `json:"value"`
	Compare *model.Value     `json:"compare,omitempty"`
	Tooltip string           `json:"tooltip"`
}

// LegendStop is one control point of the active color scale.
type LegendStop struct {
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

// View is the controller's externally visible state.
type View struct {
	Metric        model.Metric  `json:"metric"`
	ReferenceDate dateutil.Date `json:"reference_date"`
	CompareDate   dateutil.Date `json:"compare_date,omitempty"`
	Comparison    bool          `json:"comparison"`
	Token         uint64        `json:"token"`
	Loading       bool          `json:"loading"`
	HasResult     bool          `json:"has_result"`
	Error         string        `json:"error,omitempty"`
	ErrorClass    string        `json:"error_class,omitempty"`
	Min           float64       `json:"min"`
	Average       float64       `json:"average"`
	Max           float64       `json:"max"`
	Legend        []LegendStop  `json:"legend"`
	NoDataColor   string        `json:"no_data_color"`
	Hover         *EntityView   `json:"hover,omitempty"`
}

// View returns the current state. Nothing here is cached; colors and
// tooltips are derived from the last good result on every call.
func (c *Controller) View() View {
	c.mu.Lock()
	ref, cmp, hover := c.ref, c.cmp, c.hover
	c.mu.Unlock()

	st := c.guard.State()
	v := View{
		Metric:        c.opts.Metric,
		ReferenceDate: ref,
		CompareDate:   cmp,
		Comparison:    c.opts.Comparison,
		Token:         uint64(st.Token),
		Loading:       st.Loading,
		HasResult:     st.HasResult,
		Error:         st.ErrorText(),
		ErrorClass:    errs.Class(st.Err),
		NoDataColor:   colorscale.Hex(c.opts.Palette.NoData),
	}
	if st.HasResult {
		p := st.Result.Primary
		v.Min, v.Average, v.Max = p.Min, p.Average, p.Max
	}
	scale := c.scale(st.Result, st.HasResult)
	if scale != nil {
		for _, pt := range scale.Points() {
			v.Legend = append(v.Legend, LegendStop{Value: pt.Value, Color: colorscale.Hex(pt.Color)})
		}
	}
	if hover != "" {
		ev := c.entityView(hover, st.Result, scale)
		v.Hover = &ev
	}
	return v
}

// Entity returns color and tooltip for code against the last good result.
func (c *Controller) Entity(code model.EntityCode) EntityView {
	st := c.guard.State()
	return c.entityView(code, st.Result, c.scale(st.Result, st.HasResult))
}

// Entities returns a view for every entity in the lookup, ordered by label.
func (c *Controller) Entities() []EntityView {
	st := c.guard.State()
	scale := c.scale(st.Result, st.HasResult)
	all := c.opts.Lookup.All()
	out := make([]EntityView, 0, len(all))
	for _, e := range all {
		out = append(out, c.entityView(e.Code, st.Result, scale))
	}
	return out
}

func (c *Controller) scale(r model.ComparisonSnapshot, ok bool) *colorscale.Scale {
	if !ok {
		return nil
	}
	p := r.Primary
	s, err := colorscale.FromStats(p.Min, p.Average, p.Max, c.opts.Palette)
	if err != nil {
		c.logger.Warn("color scale unavailable", "err", err)
		return nil
	}
	return s
}

// entityView renders code against r. A nil scale paints no-data.
func (c *Controller) entityView(code model.EntityCode, r model.ComparisonSnapshot, scale *colorscale.Scale) EntityView {
	label := c.opts.Lookup.Label(code)
	ref := r.Primary.Lookup(code)
	ev := EntityView{Code: code, Label: label, Value: ref}

	fill := colorscale.Fill{Color: c.opts.Palette.NoData, NoData: true, Pattern: colorscale.PatternHatch}
	if scale != nil {
		fill = scale.Fill(ref)
	}
	ev.Color = fill.Hex()
	ev.NoData = fill.NoData
	ev.Pattern = fill.Pattern

	unit := c.opts.Metric.Unit()
	if r.Compared() {
		cmp := r.Secondary.Lookup(code)
		ev.Compare = &cmp
		ev.Tooltip = tooltip.Format(tooltip.ModeComparison, label, ref, cmp, unit)
	} else {
		ev.Tooltip = tooltip.Format(tooltip.ModeSingle, label, ref, model.None(), unit)
	}
	return ev
}
