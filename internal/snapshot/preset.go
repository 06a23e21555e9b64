package snapshot

import "fmt"

// Preset is a named inclusion policy controlling snapshot breadth.
type Preset string

const (
	PresetLight  Preset = "light"
	PresetMedium Preset = "medium"
	PresetHeavy  Preset = "heavy"
)

// DefaultPreset is used when a caller does not choose one.
const DefaultPreset = PresetMedium

var presetOrder = []Preset{PresetLight, PresetMedium, PresetHeavy}

// Presets returns all presets, narrowest first.
func Presets() []Preset {
	return append([]Preset(nil), presetOrder...)
}

func (p Preset) Valid() bool {
	for _, known := range presetOrder {
		if p == known {
			return true
		}
	}
	return false
}

func (p Preset) String() string {
	return string(p)
}

// ParsePreset accepts "" as the default preset.
func ParsePreset(s string) (Preset, error) {
	if s == "" {
		return DefaultPreset, nil
	}
	p := Preset(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown preset %q (valid: light, medium, heavy)", s)
	}
	return p, nil
}
