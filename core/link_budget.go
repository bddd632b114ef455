package core

import (
	"fmt"
	"math"
)

const (
	// fsplConstantDB folds 20·log10(4π/c) and the GHz/metre unit
	// conversion into one term.
	fsplConstantDB = 32.44778

	// maxDistanceExponentOffset is fsplConstantDB/20, the same term on the
	// inverted side of the equation.
	maxDistanceExponentOffset = 1.62238
)

// FreeSpacePathLoss returns the free-space path loss in dB over
// distanceM metres at frequencyGHz, net of both antenna gains.
func FreeSpacePathLoss(distanceM, frequencyGHz, gainTxDBi, gainRxDBi float64) float64 {
	return 20*math.Log10(distanceM) + 20*math.Log10(frequencyGHz) + fsplConstantDB - gainTxDBi - gainRxDBi
}

// SignalBudget is the total loss the link can absorb:
// outputPower + gainTx + gainRx + sensitivity.
//
// Sensitivity is added, not subtracted. Profiles are expected to carry it
// as a positive margin.
func SignalBudget(outputPowerDBw, sensitivityDBw, gainTxDBi, gainRxDBi float64) float64 {
	return outputPowerDBw + gainTxDBi + gainRxDBi + sensitivityDBw
}

// MaxDistance returns the distance in metres at which the free-space path
// loss consumes the whole signal budget.
func MaxDistance(frequencyGHz, outputPowerDBw, sensitivityDBw, gainTxDBi, gainRxDBi float64) (float64, error) {
	if !(frequencyGHz > 0) || math.IsInf(frequencyGHz, 0) {
		return 0, fmt.Errorf("%w: frequency must be a positive finite number of GHz, got %v", ErrInvalidParameter, frequencyGHz)
	}

	budget := SignalBudget(outputPowerDBw, sensitivityDBw, gainTxDBi, gainRxDBi)
	exponent := budget/20 - maxDistanceExponentOffset - math.Log10(frequencyGHz)
	d := math.Pow(10, exponent)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: signal budget %.2f dB yields a non-finite distance", ErrInvalidParameter, budget)
	}
	return d, nil
}
