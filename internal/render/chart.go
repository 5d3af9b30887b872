// Package render draws the series view as a PNG line chart.
package render

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"raicat/internal/dateutil"
	"raicat/internal/series"
)

// ErrNoData is returned when the view has nothing plottable.
var ErrNoData = errors.New("render: no plottable data")

// Options sizes the chart.
type Options struct {
	Width  int
	Height int
}

// SeriesPNG renders one line per selected entity of v. Points whose label is
// not a date, and absent values, are skipped.
func SeriesPNG(w io.Writer, v series.View, opts Options) error {
	if opts.Width <= 0 {
		opts.Width = 1024
	}
	if opts.Height <= 0 {
		opts.Height = 400
	}

	var (
		plotted    []chart.Series
		minX, maxX = math.Inf(1), math.Inf(-1)
		minY, maxY = math.Inf(1), math.Inf(-1)
	)
	for _, line := range v.Lines {
		ts := chart.TimeSeries{
			Name: line.Label,
			Style: chart.Style{
				StrokeColor: drawing.ColorFromHex(strings.TrimPrefix(line.Color, "#")),
				StrokeWidth: 2,
				DotWidth:    3,
				DotColor:    drawing.ColorFromHex(strings.TrimPrefix(line.Color, "#")),
			},
		}
		for _, p := range v.Points {
			d, err := dateutil.Parse(p.Label)
			if err != nil {
				continue
			}
			val, ok := p.Values[line.Code]
			if !ok || !val.Valid {
				continue
			}
			ts.XValues = append(ts.XValues, d.Time())
			ts.YValues = append(ts.YValues, val.N)

			x := chart.TimeToFloat64(d.Time())
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, val.N), math.Max(maxY, val.N)
		}
		if len(ts.XValues) > 0 {
			plotted = append(plotted, ts)
		}
	}
	if len(plotted) == 0 {
		return ErrNoData
	}

	// go-chart refuses zero-width ranges
	if maxX == minX {
		day := float64(24 * time.Hour)
		minX, maxX = minX-day, maxX+day
	}
	pad := (maxY - minY) * 0.1
	if pad == 0 {
		pad = math.Max(math.Abs(maxY)*0.1, 1)
	}

	unit := v.Metric.Unit()
	graph := chart.Chart{
		Title:  fmt.Sprintf("%s %s..%s", v.Metric.Title(), v.Start, v.End),
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 50, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatterWithFormat(dateutil.Layout),
			Range:          &chart.ContinuousRange{Min: minX, Max: maxX},
		},
		YAxis: chart.YAxis{
			Name: unit,
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("%.1f%s", f, unit)
				}
				return ""
			},
			Range: &chart.ContinuousRange{Min: minY - pad, Max: maxY + pad},
		},
		Series: plotted,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render series chart: %w", err)
	}
	return nil
}
