package core

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// EarthRadiusM is the spherical Earth radius used for all projection
// math in the coverage layer (metres). It is orb's WGS84 equatorial
// radius; no ellipsoidal correction is applied.
const EarthRadiusM = orb.EarthRadius

// GeoPoint is a latitude/longitude pair in decimal degrees.
type GeoPoint struct {
	Lat float64 `json:"lat" msgpack:"lat"`
	Lon float64 `json:"lon" msgpack:"lon"`
}

// Point converts to orb's lon/lat order.
func (p GeoPoint) Point() orb.Point { return orb.Point{p.Lon, p.Lat} }

func fromPoint(p orb.Point) GeoPoint { return GeoPoint{Lat: p.Lat(), Lon: p.Lon()} }

// NormalizeBearing folds a bearing into [0,360).
func NormalizeBearing(b float64) float64 {
	b = math.Mod(b, 360)
	if b < 0 {
		b += 360
	}
	// math.Mod(-1e-20, 360) + 360 rounds to 360.
	if b >= 360 {
		b = 0
	}
	return b
}

// normalizeLongitude folds a longitude into [-180,180].
func normalizeLongitude(lon float64) float64 {
	if lon >= -180 && lon <= 180 {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// Destination returns the point reached by travelling distanceM metres
// from origin along the great circle with the given initial bearing.
//
// A zero distance returns origin unchanged.
func Destination(origin GeoPoint, bearingDeg, distanceM float64) GeoPoint {
	if distanceM == 0 {
		return origin
	}
	p := fromPoint(geo.PointAtBearingAndDistance(origin.Point(), NormalizeBearing(bearingDeg), distanceM))
	p.Lon = normalizeLongitude(p.Lon)
	return p
}

// InitialBearing returns the great-circle bearing from a to b in [0,360).
func InitialBearing(a, b GeoPoint) float64 {
	return NormalizeBearing(geo.Bearing(a.Point(), b.Point()))
}

// Distance returns the haversine great-circle distance between a and b
// in metres.
func Distance(a, b GeoPoint) float64 {
	return geo.DistanceHaversine(a.Point(), b.Point())
}
