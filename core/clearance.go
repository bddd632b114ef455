package core

import "math"

// fresnelFirstZoneConstant is sqrt(c / 1e9): the first-zone radius in
// metres for distances in metres and frequency in GHz.
const fresnelFirstZoneConstant = 0.5475331

// RaySample is one terrain sample retained along a single ray.
type RaySample struct {
	DistanceM  float64
	ElevationM float64
}

// Sightline is the straight path from the transmitter, at distance 0, to a
// candidate receiver standing installHeight above the ground at the
// candidate distance.
type Sightline struct {
	CandidateDistanceM  float64
	CandidateElevationM float64
	TxElevationM        float64
	InstallHeightM      float64
	FrequencyGHz        float64
}

// HeightAt returns the sightline height at distance d from the transmitter.
func (s Sightline) HeightAt(d float64) float64 {
	slope := (s.CandidateElevationM + s.InstallHeightM - s.TxElevationM) / s.CandidateDistanceM
	return slope*d + s.TxElevationM
}

// FresnelRadius is the first Fresnel-zone radius at distance d1 along a
// path of length d, in metres.
func FresnelRadius(d1, d, frequencyGHz float64) float64 {
	return fresnelFirstZoneConstant * math.Sqrt(d1*(d-d1)/(frequencyGHz*d))
}

// LineOfSightClear reports whether sample stays at or below the sightline.
func LineOfSightClear(s Sightline, sample RaySample) bool {
	return sample.ElevationM <= s.HeightAt(sample.DistanceM)
}

// FresnelClear reports whether sample stays below the sightline by at
// least fraction times the first-zone radius. A fraction of √2 tests the
// second zone.
func FresnelClear(s Sightline, sample RaySample, fraction float64) bool {
	r := fraction * FresnelRadius(sample.DistanceM, s.CandidateDistanceM, s.FrequencyGHz)
	return sample.ElevationM <= s.HeightAt(sample.DistanceM)-r
}

func allClear(history []RaySample, clear func(RaySample) bool) bool {
	for _, h := range history {
		if !clear(h) {
			return false
		}
	}
	return true
}
