// Package tooltip formats the hover text shown for a map entity.
package tooltip

import (
	"strconv"
	"strings"

	"raicat/internal/model"
)

// Missing is printed in place of an absent value, without a unit.
const Missing = "NA"

// Mode selects between a single reading and a reference/compare pair.
type Mode int

const (
	ModeSingle Mode = iota
	ModeComparison
)

// Single formats "<label>: <value><unit>".
func Single(label string, v model.Value, unit string) string {
	return label + ": " + FormatValue(v, unit)
}

// Comparison formats "<label>:\nref: <value1><unit>\ncmp: <value2><unit>".
func Comparison(label string, ref, cmp model.Value, unit string) string {
	var b strings.Builder
	b.WriteString(label)
	b.WriteString(":\nref: ")
	b.WriteString(FormatValue(ref, unit))
	b.WriteString("\ncmp: ")
	b.WriteString(FormatValue(cmp, unit))
	return b.String()
}

// Format dispatches on mode; cmp is ignored in ModeSingle.
func Format(mode Mode, label string, ref, cmp model.Value, unit string) string {
	switch mode {
	case ModeComparison:
		return Comparison(label, ref, cmp, unit)
	default:
		return Single(label, ref, unit)
	}
}

// FormatValue renders v with at most two decimals, trailing zeros trimmed.
func FormatValue(v model.Value, unit string) string {
	if !v.Valid {
		return Missing
	}
	s := strconv.FormatFloat(v.N, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")
	if s == "-0" {
		s = "0"
	}
	return s + unit
}
