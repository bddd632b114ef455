package core

import (
	"context"
	"math"
)

// Unavailable is the elevation a TerrainProvider returns when it has no
// data for a point. Any non-finite value is treated the same way.
var Unavailable = math.NaN()

// IsUnavailable reports whether an elevation sample carries no data.
func IsUnavailable(elevationM float64) bool {
	return math.IsNaN(elevationM) || math.IsInf(elevationM, 0)
}

// TerrainProvider answers ground elevation queries in metres.
//
// Implementations must be safe for concurrent use: rays are evaluated in
// parallel and neighbouring rays query nearby points. A missing sample is
// reported as Unavailable with a nil error; a non-nil error aborts the
// computation.
type TerrainProvider interface {
	ElevationAt(ctx context.Context, p GeoPoint) (float64, error)
}

// TerrainFunc adapts a function to TerrainProvider.
type TerrainFunc func(ctx context.Context, p GeoPoint) (float64, error)

func (f TerrainFunc) ElevationAt(ctx context.Context, p GeoPoint) (float64, error) {
	return f(ctx, p)
}

// Prefetcher is implemented by providers that can load an area ahead of
// the sample walk. The engine calls it with the bounding box of the
// border before classifying.
type Prefetcher interface {
	Prefetch(ctx context.Context, southWest, northEast GeoPoint) error
}

// borderBounds returns the bounding box of origin and the border points.
// It does not handle boxes that straddle the antimeridian.
func borderBounds(origin GeoPoint, border []BorderPoint) (GeoPoint, GeoPoint) {
	sw, ne := origin, origin
	for _, b := range border {
		sw.Lat = math.Min(sw.Lat, b.Position.Lat)
		sw.Lon = math.Min(sw.Lon, b.Position.Lon)
		ne.Lat = math.Max(ne.Lat, b.Position.Lat)
		ne.Lon = math.Max(ne.Lon, b.Position.Lon)
	}
	return sw, ne
}
