// Package backend is the HTTP client for the measurement data server.
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"raicat/internal/dateutil"
	"raicat/internal/errs"
	"raicat/internal/model"
	"raicat/internal/util"
)

const maxBody = 8 * 1024 * 1024

// Client fetches snapshot and series datasets.
//
// Queries are encoded as structured parameters: dates as ISO days and the
// series country list as a repeated "country" parameter.
type Client struct {
	BaseURL *url.URL
	HTTP    *http.Client
}

// NewClient constructs a backend client. A zero timeout defaults to 10s.
func NewClient(base string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("backend url %q must be absolute", base)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: u,
		HTTP:    &http.Client{Timeout: timeout},
	}, nil
}

// Snapshot fetches the all-entities dataset for q.ReferenceDate and, when
// q.CompareDate is set, the dataset for the compare date as well.
func (c *Client) Snapshot(ctx context.Context, q model.SnapshotQuery) (model.ComparisonSnapshot, error) {
	op := "snapshot " + string(q.Metric)
	params := url.Values{}
	params.Set("date", q.ReferenceDate.String())
	if !q.CompareDate.IsZero() {
		params.Set("compare", q.CompareDate.String())
	}

	m, err := c.get(ctx, op, "/api/"+string(q.Metric)+"/snapshot", params)
	if err != nil {
		return model.ComparisonSnapshot{}, err
	}

	if q.CompareDate.IsZero() {
		primary, err := parseSnapshot(op, m)
		if err != nil {
			return model.ComparisonSnapshot{}, err
		}
		return model.ComparisonSnapshot{Primary: primary}, nil
	}

	pm, ok := m["primary"].(map[string]any)
	if !ok {
		return model.ComparisonSnapshot{}, errs.Malformed(op, "missing primary", nil)
	}
	primary, err := parseSnapshot(op, pm)
	if err != nil {
		return model.ComparisonSnapshot{}, err
	}
	sm, ok := m["secondary"].(map[string]any)
	if !ok {
		return model.ComparisonSnapshot{}, errs.Malformed(op, "missing secondary", nil)
	}
	secondary, err := parseSnapshot(op, sm)
	if err != nil {
		return model.ComparisonSnapshot{}, err
	}
	return model.ComparisonSnapshot{Primary: primary, Secondary: &secondary}, nil
}

// Series fetches per-date values for q.Entities across q.Range. An empty
// entity list is sent as-is; the server answers with label-only points.
func (c *Client) Series(ctx context.Context, q model.SeriesQuery) (model.SeriesResult, error) {
	op := "series " + string(q.Metric)
	params := url.Values{}
	params.Set("start", q.Range.Start.String())
	params.Set("end", q.Range.End.String())
	for _, code := range q.Entities {
		params.Add("country", string(code))
	}

	m, err := c.get(ctx, op, "/api/"+string(q.Metric)+"/series", params)
	if err != nil {
		return model.SeriesResult{}, err
	}
	return parseSeries(op, m, q.Entities)
}

// Ping issues a GET against path and reports whether the backend answered
// with a non-5xx status.
func (c *Client) Ping(ctx context.Context, path string) error {
	u := c.BaseURL.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &errs.TransportError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &errs.TransportError{Op: "ping", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values) (map[string]any, error) {
	u := c.BaseURL.ResolveReference(&url.URL{Path: strings.TrimSuffix(c.BaseURL.Path, "/") + path, RawQuery: params.Encode()})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &errs.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &errs.TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf, _ := util.ReadAllLimit(resp.Body, 1024)
		return nil, &errs.TransportError{Op: op, Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(buf)))}
	}

	body, err := util.ReadAllLimit(resp.Body, maxBody)
	if err != nil {
		return nil, &errs.TransportError{Op: op, Err: err}
	}
	m, err := util.DecodeJSONMap(body)
	if err != nil {
		return nil, errs.Malformed(op, "invalid JSON", err)
	}
	return m, nil
}

func parseSnapshot(op string, m map[string]any) (model.SnapshotResult, error) {
	raw, ok := m["data"].(map[string]any)
	if !ok {
		return model.SnapshotResult{}, errs.Malformed(op, "missing data object", nil)
	}
	out := model.SnapshotResult{PerEntity: make(map[model.EntityCode]model.Value, len(raw))}
	for k, v := range raw {
		val, err := parseValue(v)
		if err != nil {
			return model.SnapshotResult{}, errs.Malformed(op, "data."+k, err)
		}
		out.PerEntity[model.EntityCode(strings.ToUpper(k))] = val
	}

	stats := [3]*float64{&out.Min, &out.Average, &out.Max}
	for i, key := range []string{"min", "average", "max"} {
		v, present := m[key]
		if !present || v == nil {
			continue
		}
		f, ok := util.ToFloat(v)
		if !ok {
			return model.SnapshotResult{}, errs.Malformed(op, key+" is not a number", nil)
		}
		*stats[i] = f
	}
	if out.HasData() && !(out.Min <= out.Average && out.Average <= out.Max) {
		return model.SnapshotResult{}, errs.Malformed(op, fmt.Sprintf("stats out of order: min=%v average=%v max=%v", out.Min, out.Average, out.Max), nil)
	}
	return out, nil
}

func parseSeries(op string, m map[string]any, entities []model.EntityCode) (model.SeriesResult, error) {
	raw, ok := m["data"].([]any)
	if !ok {
		return model.SeriesResult{}, errs.Malformed(op, "missing data array", nil)
	}

	points := make([]model.SeriesPoint, 0, len(raw))
	for i, item := range raw {
		row, ok := item.(map[string]any)
		if !ok {
			return model.SeriesResult{}, errs.Malformed(op, fmt.Sprintf("data[%d] is not an object", i), nil)
		}
		label, ok := util.ToString(row["name"])
		if !ok || label == "" {
			return model.SeriesResult{}, errs.Malformed(op, fmt.Sprintf("data[%d] missing name", i), nil)
		}
		p := model.SeriesPoint{Label: label, Values: make(map[model.EntityCode]model.Value, len(row)-1)}
		for k, v := range row {
			if k == "name" {
				continue
			}
			val, err := parseValue(v)
			if err != nil {
				return model.SeriesResult{}, errs.Malformed(op, fmt.Sprintf("data[%d].%s", i, k), err)
			}
			p.Values[model.EntityCode(strings.ToUpper(k))] = val
		}
		// Requested entities the server omitted are explicitly absent.
		for _, code := range entities {
			if _, ok := p.Values[code]; !ok {
				p.Values[code] = model.None()
			}
		}
		points = append(points, p)
	}

	sortByDate(points)
	return model.SeriesResult{Points: points}, nil
}

func parseValue(v any) (model.Value, error) {
	if v == nil {
		return model.None(), nil
	}
	f, ok := util.ToFloat(v)
	if !ok {
		return model.Value{}, fmt.Errorf("not a number: %v", util.MustJSON(v))
	}
	return model.Some(f), nil
}

// sortByDate orders points ascending when every label is an ISO date;
// otherwise the server's order is kept.
func sortByDate(points []model.SeriesPoint) {
	dates := make([]dateutil.Date, len(points))
	for i, p := range points {
		d, err := dateutil.Parse(p.Label)
		if err != nil {
			return
		}
		dates[i] = d
	}
	idx := make([]int, len(points))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return dates[idx[a]].Before(dates[idx[b]]) })
	sorted := make([]model.SeriesPoint, len(points))
	for i, j := range idx {
		sorted[i] = points[j]
	}
	copy(points, sorted)
}
