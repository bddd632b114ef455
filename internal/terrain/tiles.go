// Package terrain provides elevation lookups for the coverage engine.
//
// The main provider reads Terrain-RGB raster tiles in the slippy-map
// {z}/{x}/{y} scheme from HTTP, a local directory or an S3-compatible
// bucket, decodes them once and serves point queries from a bounded cache.
package terrain

import (
	"fmt"
	"math"

	"github.com/lmux/antenna-coverage/core"
)

// maxMercatorLat is the latitude limit of the Web Mercator projection.
const maxMercatorLat = 85.05112878

// TileCoord addresses one slippy-map tile.
type TileCoord struct {
	Z, X, Y int
}

func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// TileFor returns the tile containing p at the given zoom and the position
// of p inside that tile as fractions in [0,1) from the top-left corner.
func TileFor(p core.GeoPoint, zoom int) (TileCoord, float64, float64) {
	n := math.Exp2(float64(zoom))
	x, y := project(p, n)

	tx := clampTile(math.Floor(x), n)
	ty := clampTile(math.Floor(y), n)
	return TileCoord{Z: zoom, X: tx, Y: ty}, x - float64(tx), y - float64(ty)
}

// TilesInBounds lists every tile at zoom intersecting the box spanned by
// southWest and northEast, row by row.
func TilesInBounds(southWest, northEast core.GeoPoint, zoom int) []TileCoord {
	n := math.Exp2(float64(zoom))
	x0, y1 := project(southWest, n)
	x1, y0 := project(northEast, n)

	minX, maxX := clampTile(math.Floor(x0), n), clampTile(math.Floor(x1), n)
	minY, maxY := clampTile(math.Floor(y0), n), clampTile(math.Floor(y1), n)

	tiles := make([]TileCoord, 0, (maxX-minX+1)*(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, TileCoord{Z: zoom, X: x, Y: y})
		}
	}
	return tiles
}

// project maps p to fractional tile units on a grid of n×n tiles.
func project(p core.GeoPoint, n float64) (float64, float64) {
	lat := math.Max(-maxMercatorLat, math.Min(maxMercatorLat, p.Lat))
	phi := lat * math.Pi / 180

	x := (p.Lon + 180) / 360 * n
	y := (1 - math.Log(math.Tan(phi)+1/math.Cos(phi))/math.Pi) / 2 * n
	return x, y
}

func clampTile(v, n float64) int {
	if v < 0 {
		return 0
	}
	if v > n-1 {
		return int(n - 1)
	}
	return int(v)
}
