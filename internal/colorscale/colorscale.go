// Package colorscale maps metric values onto colors for the world map.
//
// A Scale is built from two or three ascending control points. Values between
// points blend each RGBA channel linearly; values outside the domain clamp to
// the nearest endpoint; absent values get the no-data fill.
package colorscale

import (
	"fmt"
	"math"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"raicat/internal/model"
)

// PatternHatch is the fill pattern name for entities without data.
const PatternHatch = "hatch"

// DefaultNoData is the neutral map fill used when an entity has no value.
var DefaultNoData = drawing.ColorFromHex("D6D6DA")

// ControlPoint anchors a color at a metric value.
type ControlPoint struct {
	Value float64
	Color drawing.Color
}

// Palette is the color half of a scale: 2 or 3 colors for low, (mid,) high.
type Palette struct {
	Colors []drawing.Color
	NoData drawing.Color
}

// DefaultPalette returns the built-in palette for m. Latency is good when
// low, IPv6 adoption is good when high.
func DefaultPalette(m model.Metric) Palette {
	green := drawing.ColorFromHex("1A9850")
	yellow := drawing.ColorFromHex("FEE08B")
	red := drawing.ColorFromHex("D73027")
	if m == model.MetricIPv6 {
		return Palette{Colors: []drawing.Color{red, yellow, green}, NoData: DefaultNoData}
	}
	return Palette{Colors: []drawing.Color{green, yellow, red}, NoData: DefaultNoData}
}

// ParsePalette builds a palette from hex strings ("#1a9850" or "1a9850").
func ParsePalette(colors []string, noData string) (Palette, error) {
	if len(colors) < 2 || len(colors) > 3 {
		return Palette{}, fmt.Errorf("palette needs 2 or 3 colors, got %d", len(colors))
	}
	p := Palette{NoData: DefaultNoData}
	for _, c := range colors {
		col, err := parseHex(c)
		if err != nil {
			return Palette{}, err
		}
		p.Colors = append(p.Colors, col)
	}
	if noData != "" {
		col, err := parseHex(noData)
		if err != nil {
			return Palette{}, err
		}
		p.NoData = col
	}
	return p, nil
}

func parseHex(s string) (drawing.Color, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 && len(h) != 3 {
		return drawing.Color{}, fmt.Errorf("invalid hex color %q", s)
	}
	for _, r := range h {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return drawing.Color{}, fmt.Errorf("invalid hex color %q", s)
		}
	}
	return drawing.ColorFromHex(h), nil
}

// Fill is what the renderer paints for one entity.
type Fill struct {
	Color   drawing.Color
	NoData  bool
	Pattern string // PatternHatch when NoData
}

// Hex returns the fill color as "#rrggbb".
func (f Fill) Hex() string { return Hex(f.Color) }

// Hex formats c as "#rrggbb", ignoring alpha.
func Hex(c drawing.Color) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Scale is immutable once built and safe for concurrent use.
type Scale struct {
	points []ControlPoint
	noData drawing.Color
}

// New builds a scale from 2 or 3 control points sorted ascending by value.
func New(noData drawing.Color, points ...ControlPoint) (*Scale, error) {
	if len(points) < 2 || len(points) > 3 {
		return nil, fmt.Errorf("scale needs 2 or 3 control points, got %d", len(points))
	}
	for i, p := range points {
		if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
			return nil, fmt.Errorf("control point %d has non-finite value", i)
		}
		if i > 0 && p.Value < points[i-1].Value {
			return nil, fmt.Errorf("control points must be ascending: %g < %g", p.Value, points[i-1].Value)
		}
	}
	return &Scale{points: append([]ControlPoint(nil), points...), noData: noData}, nil
}

// FromStats builds the map scale from server statistics. Two-color palettes
// span min..max; three-color palettes put the middle color at average.
func FromStats(min, average, max float64, p Palette) (*Scale, error) {
	switch len(p.Colors) {
	case 2:
		return New(p.NoData,
			ControlPoint{Value: min, Color: p.Colors[0]},
			ControlPoint{Value: max, Color: p.Colors[1]},
		)
	case 3:
		return New(p.NoData,
			ControlPoint{Value: min, Color: p.Colors[0]},
			ControlPoint{Value: average, Color: p.Colors[1]},
			ControlPoint{Value: max, Color: p.Colors[2]},
		)
	default:
		return nil, fmt.Errorf("palette needs 2 or 3 colors, got %d", len(p.Colors))
	}
}

// Points returns a copy of the control points.
func (s *Scale) Points() []ControlPoint {
	return append([]ControlPoint(nil), s.points...)
}

// Degenerate reports whether every control point sits at the same value.
func (s *Scale) Degenerate() bool {
	return s.points[0].Value == s.points[len(s.points)-1].Value
}

// At returns the color for v. NaN is treated like an absent value.
func (s *Scale) At(v float64) drawing.Color {
	if math.IsNaN(v) {
		return s.noData
	}
	if s.Degenerate() {
		// Middle point for three colors, the low point for two.
		return s.points[(len(s.points)-1)/2].Color
	}
	first, last := s.points[0], s.points[len(s.points)-1]
	if v <= first.Value {
		return first.Color
	}
	if v >= last.Value {
		return last.Color
	}
	for i := 0; i < len(s.points)-1; i++ {
		lo, hi := s.points[i], s.points[i+1]
		if v > hi.Value {
			continue
		}
		span := hi.Value - lo.Value
		if span <= 0 {
			return hi.Color
		}
		return lerp(lo.Color, hi.Color, (v-lo.Value)/span)
	}
	return last.Color
}

// Fill returns the fill for an optional value.
func (s *Scale) Fill(v model.Value) Fill {
	if !v.Valid || math.IsNaN(v.N) {
		return Fill{Color: s.noData, NoData: true, Pattern: PatternHatch}
	}
	return Fill{Color: s.At(v.N)}
}

func lerp(a, b drawing.Color, t float64) drawing.Color {
	return drawing.Color{
		R: lerpChannel(a.R, b.R, t),
		G: lerpChannel(a.G, b.G, t),
		B: lerpChannel(a.B, b.B, t),
		A: lerpChannel(a.A, b.A, t),
	}
}

func lerpChannel(a, b uint8, t float64) uint8 {
	v := float64(a) + (float64(b)-float64(a))*t
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

// LineColor returns the stroke color for the i-th series line. Colors cycle
// through the chart library's default palette so a selection keeps stable
// colors while its order is unchanged.
func LineColor(i int) drawing.Color {
	if i < 0 {
		i = 0
	}
	return chart.GetDefaultColor(i)
}
