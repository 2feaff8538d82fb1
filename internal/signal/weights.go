package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantflow/quantflow/internal/indicators"
)

// Weights maps each indicator to its maximum absolute contribution. The
// per-indicator sum of event contributions is clamped to [-w, +w].
type Weights map[string]float64

// Profile is a named, serializable weight set with the event and strength
// multipliers applied on top of the base weights.
type Profile struct {
	Name     string                              `yaml:"name"`
	Weights  Weights                             `yaml:"weights"`
	TypeMult map[indicators.EventType]float64    `yaml:"type_multipliers,omitempty"`
	Strength map[indicators.Strength]float64     `yaml:"strength_multipliers,omitempty"`
}

// DefaultWeights returns the built-in base weights
func DefaultWeights() Weights {
	return Weights{
		indicators.NameRSI:        15,
		indicators.NameMACD:       15,
		indicators.NameStochRSI:   12,
		indicators.NameEMA:        12,
		indicators.NameBollinger:  10,
		indicators.NameWilliamsR:  8,
		indicators.NameStochastic: 8,
		indicators.NameKDJ:        8,
		indicators.NameAO:         8,
		indicators.NameOBV:        7,
		indicators.NameCMF:        7,
	}
}

// defaultTypeMult scales contributions by the kind of event. Divergences
// lead, crosses follow, saucers are early and discounted.
func defaultTypeMult() map[indicators.EventType]float64 {
	return map[indicators.EventType]float64{
		indicators.EventDivergence:  1.5,
		indicators.EventGoldenCross: 1.3,
		indicators.EventDeathCross:  1.3,
		indicators.EventZeroCross:   1.3,
		indicators.EventTwinPeaks:   1.25,
		indicators.EventCrossover:   1.2,
		indicators.EventKDCross:     1.2,
		indicators.EventBreakout:    1.2,
		indicators.EventZone:        1.1,
		indicators.EventJExtreme:    1.0,
		indicators.EventVolumeCross: 1.0,
		indicators.EventSaucer:      0.8,
		indicators.EventSqueeze:     0.0,
	}
}

func defaultStrengthMult() map[indicators.Strength]float64 {
	return map[indicators.Strength]float64{
		indicators.Extreme:    1.3,
		indicators.VeryStrong: 1.2,
		indicators.Strong:     1.0,
		indicators.Moderate:   0.65,
		indicators.Weak:       0.4,
	}
}

// DefaultProfile returns the built-in profile
func DefaultProfile() Profile {
	return Profile{
		Name:     "default",
		Weights:  DefaultWeights(),
		TypeMult: defaultTypeMult(),
		Strength: defaultStrengthMult(),
	}
}

// LoadProfile reads a weight profile from a YAML file. Keys missing from
// the file keep their defaults, so a profile can override a single weight.
func LoadProfile(path string) (Profile, error) {
	p := DefaultProfile()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read weight profile: %w", err)
	}

	var file Profile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return p, fmt.Errorf("failed to parse weight profile: %w", err)
	}
	if file.Name != "" {
		p.Name = file.Name
	}
	for k, v := range file.Weights {
		if v < 0 {
			return p, fmt.Errorf("weight profile %s: negative weight for %s", path, k)
		}
		p.Weights[k] = v
	}
	for k, v := range file.TypeMult {
		p.TypeMult[k] = v
	}
	for k, v := range file.Strength {
		p.Strength[k] = v
	}
	return p, nil
}

// SaveProfile writes a profile to a YAML file
func SaveProfile(path string, p Profile) error {
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal weight profile: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write weight profile: %w", err)
	}
	return nil
}
