package core

import "fmt"

// BorderPoint is the free-space-only maximum range along one azimuth.
type BorderPoint struct {
	Position GeoPoint `json:"position" msgpack:"position"`
	// BearingDeg is the absolute bearing from the origin.
	BearingDeg float64 `json:"bearing_deg" msgpack:"bearing_deg"`
	DistanceM  float64 `json:"distance_m" msgpack:"distance_m"`
}

// ComputeBorder returns one BorderPoint per degree of azimuth offset,
// ordered by offset from the pointing direction. Terrain is not
// considered.
func ComputeBorder(origin GeoPoint, directionDeg float64, pattern RadiationPattern, profile AntennaProfile) ([]BorderPoint, error) {
	if err := pattern.Validate(); err != nil {
		return nil, err
	}

	border := make([]BorderPoint, PatternSize)
	for a := 0; a < PatternSize; a++ {
		d, err := profile.MaxDistance(pattern[a])
		if err != nil {
			return nil, fmt.Errorf("azimuth offset %d: %w", a, err)
		}
		bearing := NormalizeBearing(directionDeg + float64(a))
		border[a] = BorderPoint{
			Position:   Destination(origin, bearing, d),
			BearingDeg: bearing,
			DistanceM:  d,
		}
	}
	return border, nil
}
