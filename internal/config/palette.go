package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"raicat/internal/colorscale"
	"raicat/internal/model"
)

// paletteEntry is one metric's block in PALETTE_FILE:
//
//	dns:
//	  colors: ["#1a9850", "#fee08b", "#d73027"]
//	  no_data: "#d6d6da"
type paletteEntry struct {
	Colors []string `yaml:"colors"`
	NoData string   `yaml:"no_data"`
}

// LoadPalettes reads a YAML palette file. Metrics missing from the file keep
// their default palette; unknown metric names are an error. An empty path
// means no overrides.
func LoadPalettes(path string) (map[model.Metric]colorscale.Palette, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read palette file: %w", err)
	}
	return ParsePalettes(data)
}

// ParsePalettes decodes palette YAML.
func ParsePalettes(data []byte) (map[model.Metric]colorscale.Palette, error) {
	var raw map[string]paletteEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse palette file: %w", err)
	}

	out := make(map[model.Metric]colorscale.Palette, len(raw))
	for name, entry := range raw {
		m, err := model.ParseMetric(name)
		if err != nil {
			return nil, fmt.Errorf("palette file: %w", err)
		}
		p, err := colorscale.ParsePalette(entry.Colors, entry.NoData)
		if err != nil {
			return nil, fmt.Errorf("palette %s: %w", m, err)
		}
		out[m] = p
	}
	return out, nil
}

// Palette returns the palette for m from overrides, or the default.
func Palette(overrides map[model.Metric]colorscale.Palette, m model.Metric) colorscale.Palette {
	if p, ok := overrides[m]; ok {
		return p
	}
	return colorscale.DefaultPalette(m)
}
