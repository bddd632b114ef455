package core

import (
	"fmt"
	"math"
)

// AntennaProfile describes the RF characteristics of one transmitter.
// All values feed the free-space link budget in link_budget.go.
type AntennaProfile struct {
	OutputPowerDBw float64 `json:"output_power_dbw" msgpack:"output_power_dbw"`

	// GainDBi is the nominal gain, used as the receive-side gain term.
	// The transmit-side gain comes from the RadiationPattern per azimuth.
	GainDBi float64 `json:"gain_dbi" msgpack:"gain_dbi"`

	// SensitivityDBw is an additive budget term; see SignalBudget.
	SensitivityDBw float64 `json:"sensitivity_dbw" msgpack:"sensitivity_dbw"`

	FrequencyGHz float64 `json:"frequency_ghz" msgpack:"frequency_ghz"`
}

// Validate checks that every field is finite and the frequency is
// positive.
func (p AntennaProfile) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"output_power_dbw", p.OutputPowerDBw},
		{"gain_dbi", p.GainDBi},
		{"sensitivity_dbw", p.SensitivityDBw},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%w: profile field %s is not finite", ErrInvalidConfiguration, f.name)
		}
	}
	if !(p.FrequencyGHz > 0) || math.IsInf(p.FrequencyGHz, 0) {
		return fmt.Errorf("%w: frequency_ghz must be positive, got %v", ErrInvalidParameter, p.FrequencyGHz)
	}
	return nil
}

// MaxDistance is the free-space range for a transmit gain of gainTxDBi.
func (p AntennaProfile) MaxDistance(gainTxDBi float64) (float64, error) {
	return MaxDistance(p.FrequencyGHz, p.OutputPowerDBw, p.SensitivityDBw, gainTxDBi, p.GainDBi)
}
