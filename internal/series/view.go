package series

import (
	"raicat/internal/dateutil"
	"raicat/internal/entity"
	"raicat/internal/errs"
	"raicat/internal/model"
)

// LineView is what the chart renderer needs for one plotted entity.
type LineView struct {
	Code    model.EntityCode `json:"code"`
	Label   string           `json:"label"`
	Color   string           `json:"color"`
	DataKey string           `json:"data_key"`
}

// View is the controller's externally visible state.
type View struct {
	Metric     model.Metric        `json:"metric"`
	Start      dateutil.Date       `json:"start"`
	End        dateutil.Date       `json:"end"`
	Selection  []entity.Entity     `json:"selection"`
	Lines      []LineView          `json:"lines"`
	Token      uint64              `json:"token"`
	Loading    bool                `json:"loading"`
	HasResult  bool                `json:"has_result"`
	Error      string              `json:"error,omitempty"`
	ErrorClass string              `json:"error_class,omitempty"`
	Points     []model.SeriesPoint `json:"points"`
}

// View returns the current state, with the last good points.
func (c *Controller) View() View {
	c.mu.Lock()
	rng := c.rng
	sel := append([]entity.Entity(nil), c.selection...)
	c.mu.Unlock()

	st := c.guard.State()
	lines := make([]LineView, len(sel))
	for i, e := range sel {
		lines[i] = lineView(i, e)
	}
	points := st.Result.Points
	if points == nil {
		points = []model.SeriesPoint{}
	}
	return View{
		Metric:     c.opts.Metric,
		Start:      rng.Start,
		End:        rng.End,
		Selection:  sel,
		Lines:      lines,
		Token:      uint64(st.Token),
		Loading:    st.Loading,
		HasResult:  st.HasResult,
		Error:      st.ErrorText(),
		ErrorClass: errs.Class(st.Err),
		Points:     points,
	}
}
