package api

import (
	"bytes"
	"errors"
	"net/http"

	"raicat/internal/coordinator"
	"raicat/internal/dateutil"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/render"
	"raicat/internal/util"
)

// ModeResponse is returned by intents that may switch modes.
type ModeResponse struct {
	Mode    model.ViewMode `json:"mode"`
	Handoff model.Handoff  `json:"handoff"`
}

// StateResponse lists every enabled metric.
type StateResponse struct {
	Metrics []coordinator.State `json:"metrics"`
}

// handleState returns all metrics.
// GET /raicat/api/v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := StateResponse{Metrics: make([]coordinator.State, 0, len(s.order))}
	for _, m := range s.order {
		if c, ok := s.coords[m]; ok {
			resp.Metrics = append(resp.Metrics, c.State())
		}
	}
	s.writeJSON(w, resp)
}

// handleEntities returns the lookup table.
// GET /raicat/api/v1/entities
func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.lookup.All())
}

// GET /raicat/api/v1/{metric}/state
func (s *Server) handleMetricState(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	s.writeJSON(w, c.State())
}

// handleSnapshotEntities returns color and tooltip per entity, or one
// entity when ?code= is given.
// GET /raicat/api/v1/{metric}/snapshot/entities[?code=ISR]
func (s *Server) handleSnapshotEntities(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	snap, err := c.Snapshot()
	if err != nil {
		s.writeIntentError(w, m, "snapshot_entities", err)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeJSON(w, snap.Entities())
		return
	}
	e, ok := s.lookup.Resolve(code)
	if !ok {
		s.writeIntentError(w, m, "snapshot_entities", errs.Invalid("code", "unknown country code %q", code))
		return
	}
	s.writeJSON(w, snap.Entity(e.Code))
}

// handleSnapshotDate submits the reference and/or compare date.
// POST /raicat/api/v1/{metric}/snapshot/date {"date": "...", "compare_date": "..."}
func (s *Server) handleSnapshotDate(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	body, err := readBody(r)
	if err != nil {
		s.writeIntentError(w, m, "snapshot_date", err)
		return
	}
	ref, hasRef, err := dateField(body, "date")
	if err != nil {
		s.writeIntentError(w, m, "snapshot_date", err)
		return
	}
	cmp, hasCmp, err := dateField(body, "compare_date")
	if err != nil {
		s.writeIntentError(w, m, "snapshot_date", err)
		return
	}

	snap, err := c.Snapshot()
	if err != nil {
		s.writeIntentError(w, m, "snapshot_date", err)
		return
	}
	switch {
	case hasRef && hasCmp:
		err = snap.SetDates(ref, cmp)
	case hasRef:
		err = snap.SetReferenceDate(ref)
	case hasCmp:
		err = snap.SetCompareDate(cmp)
	default:
		err = errs.Invalid("date", "date or compare_date is required")
	}
	if err != nil {
		s.writeIntentError(w, m, "snapshot_date", err)
		return
	}
	s.writeJSON(w, snap.View())
}

// handleSnapshotSelect switches to series mode for the clicked entity.
// POST /raicat/api/v1/{metric}/snapshot/select {"code": "ISR"}
func (s *Server) handleSnapshotSelect(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	code, err := codeField(r)
	if err != nil {
		s.writeIntentError(w, m, "snapshot_select", err)
		return
	}
	if _, err := c.SelectEntity(code); err != nil {
		s.writeIntentError(w, m, "snapshot_select", err)
		return
	}
	s.writeJSON(w, ModeResponse{Mode: c.Mode(), Handoff: c.Handoff()})
}

// POST /raicat/api/v1/{metric}/snapshot/hover {"code": "ISR"}
func (s *Server) handleSnapshotHover(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	code, err := codeField(r)
	if err != nil {
		s.writeIntentError(w, m, "snapshot_hover", err)
		return
	}
	snap, err := c.Snapshot()
	if err != nil {
		s.writeIntentError(w, m, "snapshot_hover", err)
		return
	}
	ev, err := snap.Hover(code)
	if err != nil {
		s.writeIntentError(w, m, "snapshot_hover", err)
		return
	}
	s.writeJSON(w, ev)
}

// POST /raicat/api/v1/{metric}/snapshot/leave
func (s *Server) handleSnapshotLeave(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	snap, err := c.Snapshot()
	if err != nil {
		s.writeIntentError(w, m, "snapshot_leave", err)
		return
	}
	snap.Leave()
	w.WriteHeader(http.StatusNoContent)
}

// POST /raicat/api/v1/{metric}/snapshot/refresh
func (s *Server) handleSnapshotRefresh(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	snap, err := c.Snapshot()
	if err == nil {
		err = snap.Refresh()
	}
	if err != nil {
		s.writeIntentError(w, m, "snapshot_refresh", err)
		return
	}
	s.writeJSON(w, snap.View())
}

// POST /raicat/api/v1/{metric}/series/range {"start": "...", "end": "..."}
func (s *Server) handleSeriesRange(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	body, err := readBody(r)
	if err != nil {
		s.writeIntentError(w, m, "series_range", err)
		return
	}
	start, _, err := dateField(body, "start")
	if err != nil {
		s.writeIntentError(w, m, "series_range", err)
		return
	}
	end, _, err := dateField(body, "end")
	if err != nil {
		s.writeIntentError(w, m, "series_range", err)
		return
	}
	ser, err := c.Series()
	if err == nil {
		err = ser.SetDateRange(model.DateRange{Start: start, End: end})
	}
	if err != nil {
		s.writeIntentError(w, m, "series_range", err)
		return
	}
	s.writeJSON(w, ser.View())
}

// POST /raicat/api/v1/{metric}/series/entities {"codes": ["ISR", "USA"]}
func (s *Server) handleSeriesEntities(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	body, err := readBody(r)
	if err != nil {
		s.writeIntentError(w, m, "series_entities", err)
		return
	}
	raw, ok := body["codes"].([]any)
	if !ok {
		s.writeIntentError(w, m, "series_entities", errs.Invalid("codes", "must be an array of country codes"))
		return
	}
	codes := make([]string, 0, len(raw))
	for _, v := range raw {
		code, ok := util.ToString(v)
		if !ok {
			s.writeIntentError(w, m, "series_entities", errs.Invalid("codes", "must be an array of country codes"))
			return
		}
		codes = append(codes, code)
	}
	ser, err := c.Series()
	if err == nil {
		err = ser.SetEntitySelection(codes)
	}
	if err != nil {
		s.writeIntentError(w, m, "series_entities", err)
		return
	}
	s.writeJSON(w, ser.View())
}

// handleSeriesPoint switches back to snapshot mode on the clicked date.
// POST /raicat/api/v1/{metric}/series/point {"date": "..."}
func (s *Server) handleSeriesPoint(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	body, err := readBody(r)
	if err != nil {
		s.writeIntentError(w, m, "series_point", err)
		return
	}
	label, ok := util.ToString(body["date"])
	if !ok || label == "" {
		s.writeIntentError(w, m, "series_point", errs.Invalid("date", "is required"))
		return
	}
	if _, err := c.ActivatePoint(label); err != nil {
		s.writeIntentError(w, m, "series_point", err)
		return
	}
	s.writeJSON(w, ModeResponse{Mode: c.Mode(), Handoff: c.Handoff()})
}

// POST /raicat/api/v1/{metric}/series/refresh
func (s *Server) handleSeriesRefresh(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	ser, err := c.Series()
	if err == nil {
		err = ser.Refresh()
	}
	if err != nil {
		s.writeIntentError(w, m, "series_refresh", err)
		return
	}
	s.writeJSON(w, ser.View())
}

// GET /raicat/api/v1/{metric}/series/lines
func (s *Server) handleSeriesLines(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	ser, err := c.Series()
	if err != nil {
		s.writeIntentError(w, m, "series_lines", err)
		return
	}
	s.writeJSON(w, ser.Lines())
}

// GET /raicat/api/v1/{metric}/series/chart.png
func (s *Server) handleSeriesChart(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	ser, err := c.Series()
	if err != nil {
		s.writeIntentError(w, m, "series_chart", err)
		return
	}
	var buf bytes.Buffer
	err = render.SeriesPNG(&buf, ser.View(), render.Options{Width: s.cfg.ChartWidth, Height: s.cfg.ChartHeight})
	if errors.Is(err, render.ErrNoData) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to render chart", "metric", string(m), "err", err)
		s.writeError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

// handleToggle flips the mode using the stored handoff.
// POST /raicat/api/v1/{metric}/mode/toggle
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request, m model.Metric, c *coordinator.Coordinator) {
	mode, err := c.Toggle()
	if err != nil {
		s.writeIntentError(w, m, "mode_toggle", err)
		return
	}
	s.writeJSON(w, ModeResponse{Mode: mode, Handoff: c.Handoff()})
}

func readBody(r *http.Request) (map[string]any, error) {
	b, err := util.ReadAllLimit(r.Body, maxBodyBytes)
	if err != nil {
		return nil, errs.Invalid("body", "read failed: %v", err)
	}
	m, err := util.DecodeJSONMap(b)
	if err != nil {
		return nil, errs.Invalid("body", "invalid JSON: %v", err)
	}
	return m, nil
}

func codeField(r *http.Request) (string, error) {
	body, err := readBody(r)
	if err != nil {
		return "", err
	}
	code, ok := util.ToString(body["code"])
	if !ok || code == "" {
		return "", errs.Invalid("code", "is required")
	}
	return code, nil
}

// dateField parses body[key]. present is false when the key is absent,
// null or empty.
func dateField(body map[string]any, key string) (d dateutil.Date, present bool, err error) {
	v, ok := body[key]
	if !ok || v == nil {
		return dateutil.Date{}, false, nil
	}
	str, ok := util.ToString(v)
	if !ok {
		return dateutil.Date{}, false, errs.Invalid(key, "must be a YYYY-MM-DD string")
	}
	if str == "" {
		return dateutil.Date{}, false, nil
	}
	d, err = dateutil.Parse(str)
	if err != nil {
		return dateutil.Date{}, false, errs.Invalid(key, "%q is not a YYYY-MM-DD date", str)
	}
	return d, true, nil
}
