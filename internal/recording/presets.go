package recording

import (
	"fmt"
	"slices"
	"time"

	"github.com/oszuidwest/zwfm-voicerecorder/internal/types"
)

// Preset parameterises the controller for one recording flow.
type Preset struct {
	Name        string        `json:"name"`
	MinDuration time.Duration `json:"min_duration"`
	MaxDuration time.Duration `json:"max_duration"`
	BarCount    int           `json:"bar_count"`
}

// Built-in presets, keyed by clip kind.
var presets = map[string]Preset{
	string(types.KindReaction):     {Name: string(types.KindReaction), MinDuration: time.Second, MaxDuration: 5 * time.Second, BarCount: 16},
	string(types.KindComment):      {Name: string(types.KindComment), MinDuration: time.Second, MaxDuration: 30 * time.Second, BarCount: 24},
	string(types.KindDuet):         {Name: string(types.KindDuet), MinDuration: time.Second, MaxDuration: 30 * time.Second, BarCount: 50},
	string(types.KindAMA):          {Name: string(types.KindAMA), MinDuration: time.Second, MaxDuration: 30 * time.Second, BarCount: 24},
	string(types.KindRecordButton): {Name: string(types.KindRecordButton), MinDuration: time.Second, MaxDuration: 30 * time.Second, BarCount: 24},
	string(types.KindBulk):         {Name: string(types.KindBulk), MinDuration: time.Second, MaxDuration: 30 * time.Second, BarCount: 24},
}

// DefaultPreset is used when no preset is configured.
const DefaultPreset = string(types.KindComment)

// PresetFor returns the named built-in preset.
func PresetFor(name string) (Preset, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames returns the built-in preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// WithOverrides returns p with non-zero values from the arguments applied.
func (p Preset) WithOverrides(minSeconds, maxSeconds, bars int) Preset {
	if minSeconds > 0 {
		p.MinDuration = time.Duration(minSeconds) * time.Second
	}
	if maxSeconds > 0 {
		p.MaxDuration = time.Duration(maxSeconds) * time.Second
	}
	if bars > 0 {
		p.BarCount = bars
	}
	return p
}

// Validate checks the preset bounds.
func (p Preset) Validate() error {
	switch {
	case p.MinDuration < 0:
		return fmt.Errorf("preset %q: min duration must not be negative", p.Name)
	case p.MaxDuration <= 0:
		return fmt.Errorf("preset %q: max duration must be positive", p.Name)
	case p.MinDuration > p.MaxDuration:
		return fmt.Errorf("preset %q: min duration %s exceeds max duration %s", p.Name, p.MinDuration, p.MaxDuration)
	case p.BarCount <= 0:
		return fmt.Errorf("preset %q: bar count must be positive", p.Name)
	}
	return nil
}
