package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

//go:embed preset.example.toml
var examplePreset []byte

// Preset is a column mapping kept in a TOML file so the same spreadsheet
// layout can be imported from the command line repeatedly.
type Preset struct {
	Name string `toml:"name"`

	// Mapping binds field keys (title, composer, voicing, libraryNumber,
	// physicalCopies) to source headers.
	Mapping map[string]string `toml:"mapping"`

	Import PresetImport `toml:"import"`
}

// PresetImport overrides import tunables for one preset. Zero values and
// an absent row_rate leave the environment's settings alone.
type PresetImport struct {
	MatchPolicy         string   `toml:"match_policy"`
	SimilarityThreshold float64  `toml:"similarity_threshold"`
	RowRate             *float64 `toml:"row_rate"`
}

// Apply copies the preset's overrides onto cfg.
func (p PresetImport) Apply(cfg *ImportConfig) {
	if p.MatchPolicy != "" {
		cfg.MatchPolicy = p.MatchPolicy
	}
	if p.SimilarityThreshold != 0 {
		cfg.SimilarityThreshold = p.SimilarityThreshold
	}
	if p.RowRate != nil {
		cfg.RowRate = *p.RowRate
	}
}

// LoadPreset reads and parses a TOML preset file.
func LoadPreset(path string) (*Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preset file: %w", err)
	}
	return ParsePreset(data)
}

// ParsePreset parses preset TOML.
func ParsePreset(data []byte) (*Preset, error) {
	var p Preset
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse preset: %w", err)
	}
	if len(p.Mapping) == 0 {
		return nil, fmt.Errorf("preset %q has no [mapping] table", p.Name)
	}
	return &p, nil
}

// ExamplePreset returns the annotated example preset.
func ExamplePreset() []byte {
	return append([]byte(nil), examplePreset...)
}

// CreatePresetFile writes the example preset to path. It refuses to
// overwrite an existing file.
func CreatePresetFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("preset file already exists at %s", path)
	}
	if err := os.WriteFile(path, examplePreset, 0o644); err != nil {
		return fmt.Errorf("failed to write preset file: %w", err)
	}
	return nil
}
