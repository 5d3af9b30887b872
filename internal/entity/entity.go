// Package entity resolves country codes to display labels and validates
// multi-country selections against a static lookup table.
package entity

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/biter777/countries"
	geojson "github.com/paulmach/go.geojson"

	"raicat/internal/errs"
	"raicat/internal/model"
)

// Entity is one selectable country.
type Entity struct {
	Code  model.EntityCode `json:"code"`
	Label string           `json:"label"`
}

// Lookup is an immutable code -> label table. Safe for concurrent use.
type Lookup struct {
	byCode map[model.EntityCode]Entity
	sorted []Entity
}

// NewLookup builds a table from explicit entries. Codes are upper-cased;
// later duplicates win.
func NewLookup(entries []Entity) *Lookup {
	l := &Lookup{byCode: make(map[model.EntityCode]Entity, len(entries))}
	for _, e := range entries {
		code := model.EntityCode(strings.ToUpper(strings.TrimSpace(string(e.Code))))
		if code == "" {
			continue
		}
		l.byCode[code] = Entity{Code: code, Label: e.Label}
	}
	l.sorted = make([]Entity, 0, len(l.byCode))
	for _, e := range l.byCode {
		l.sorted = append(l.sorted, e)
	}
	sort.Slice(l.sorted, func(i, j int) bool { return l.sorted[i].Label < l.sorted[j].Label })
	return l
}

// Default builds the table from the ISO 3166 country list.
func Default() *Lookup {
	all := countries.All()
	entries := make([]Entity, 0, len(all))
	for _, c := range all {
		alpha3 := c.Alpha3()
		if alpha3 == "" || !c.IsValid() {
			continue
		}
		entries = append(entries, Entity{Code: model.EntityCode(alpha3), Label: c.String()})
	}
	return NewLookup(entries)
}

// FromGeoJSON builds the table from the map's geometry collection. Each
// feature contributes its id (or an "iso_a3" property) as the code and its
// "name" property as the label. Features without a usable code are skipped;
// features without a name fall back to the ISO country name.
func FromGeoJSON(r io.Reader) (*Lookup, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse geojson: %w", err)
	}
	entries := make([]Entity, 0, len(fc.Features))
	for _, f := range fc.Features {
		code := featureCode(f)
		if code == "" {
			continue
		}
		label, _ := f.Properties["name"].(string)
		if label == "" {
			label = countries.ByName(code).String()
		}
		entries = append(entries, Entity{Code: model.EntityCode(code), Label: label})
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("geojson: no features with a country code")
	}
	return NewLookup(entries), nil
}

func featureCode(f *geojson.Feature) string {
	if s, ok := f.ID.(string); ok && len(s) == 3 {
		return strings.ToUpper(s)
	}
	for _, key := range []string{"iso_a3", "ISO_A3", "adm0_a3"} {
		if s, ok := f.Properties[key].(string); ok && len(s) == 3 && s != "-99" {
			return strings.ToUpper(s)
		}
	}
	return ""
}

// Len returns the number of entries.
func (l *Lookup) Len() int { return len(l.sorted) }

// All returns the entries sorted by label.
func (l *Lookup) All() []Entity {
	return append([]Entity(nil), l.sorted...)
}

// Resolve finds an entity by alpha-3 or alpha-2 code, case-insensitively.
func (l *Lookup) Resolve(code string) (Entity, bool) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if e, ok := l.byCode[model.EntityCode(c)]; ok {
		return e, true
	}
	if len(c) == 2 {
		if cc := countries.ByName(c); cc.IsValid() {
			if e, ok := l.byCode[model.EntityCode(cc.Alpha3())]; ok {
				return e, true
			}
		}
	}
	return Entity{}, false
}

// Label returns the display label for code, or the code itself when unknown.
func (l *Lookup) Label(code model.EntityCode) string {
	if e, ok := l.byCode[code]; ok {
		return e.Label
	}
	return string(code)
}

// Selection is an ordered set of resolved entities.
type Selection []Entity

// Codes returns the selection's codes in order.
func (s Selection) Codes() []model.EntityCode {
	out := make([]model.EntityCode, len(s))
	for i, e := range s {
		out[i] = e.Code
	}
	return out
}

// Contains reports whether code is selected.
func (s Selection) Contains(code model.EntityCode) bool {
	for _, e := range s {
		if e.Code == code {
			return true
		}
	}
	return false
}

// Select resolves codes into a Selection, dropping duplicates and keeping
// first-seen order. Any unknown code rejects the whole selection.
// An empty input yields an empty, valid selection.
func (l *Lookup) Select(codes []string) (Selection, error) {
	out := make(Selection, 0, len(codes))
	seen := make(map[model.EntityCode]bool, len(codes))
	for _, c := range codes {
		e, ok := l.Resolve(c)
		if !ok {
			return nil, errs.Invalid("entities", "unknown country code %q", c)
		}
		if seen[e.Code] {
			continue
		}
		seen[e.Code] = true
		out = append(out, e)
	}
	return out, nil
}
