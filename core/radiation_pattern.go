package core

import (
	"fmt"
	"math"
)

// PatternSize is the number of one-degree entries in a RadiationPattern.
const PatternSize = 360

// RadiationPattern holds directional gain in dBi. Index i is the gain at
// i degrees clockwise from the antenna's pointing direction.
type RadiationPattern []float64

// NewRadiationPattern copies gains into a validated pattern.
func NewRadiationPattern(gains []float64) (RadiationPattern, error) {
	p := RadiationPattern(append([]float64(nil), gains...))
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ConstantPattern returns an omnidirectional pattern of gainDBi.
func ConstantPattern(gainDBi float64) RadiationPattern {
	p := make(RadiationPattern, PatternSize)
	for i := range p {
		p[i] = gainDBi
	}
	return p
}

// Validate checks the length and that every gain is finite.
func (p RadiationPattern) Validate() error {
	if len(p) != PatternSize {
		return fmt.Errorf("%w: radiation pattern has %d entries, want %d", ErrInvalidConfiguration, len(p), PatternSize)
	}
	for i, g := range p {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			return fmt.Errorf("%w: radiation pattern entry %d is not finite", ErrInvalidConfiguration, i)
		}
	}
	return nil
}

// Gain returns the gain at an azimuth offset in whole degrees. Offsets
// outside [0,360) wrap.
func (p RadiationPattern) Gain(offsetDeg int) float64 {
	i := offsetDeg % PatternSize
	if i < 0 {
		i += PatternSize
	}
	return p[i]
}
