// Package export writes coverage results in formats GIS tools read.
package export

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/lmux/antenna-coverage/core"
)

// Options tune GeoJSON output.
type Options struct {
	// SimplifyTolerance, in degrees, thins the border ring with
	// Douglas-Peucker when positive.
	SimplifyTolerance float64
	// OmitPoints drops the quality point features, leaving the border.
	OmitPoints bool
	// Properties are copied onto every feature.
	Properties map[string]any
}

// FeatureCollection renders res as one MultiPoint feature per non-empty
// quality class, each with a "quality" property, plus the border as a
// Polygon with a "kind": "border" property.
func FeatureCollection(res *core.CoverageResult, opts Options) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if res == nil {
		return fc
	}

	if !opts.OmitPoints {
		for _, class := range []struct {
			q   core.Quality
			pts []core.GeoPoint
		}{
			{core.QualityGood, res.Good},
			{core.QualityOkay, res.Okay},
			{core.QualityBad, res.Bad},
		} {
			if len(class.pts) == 0 {
				continue
			}
			mp := make(orb.MultiPoint, len(class.pts))
			for i, p := range class.pts {
				mp[i] = p.Point()
			}
			f := geojson.NewFeature(mp)
			copyProps(f, opts.Properties)
			f.Properties["quality"] = class.q.String()
			f.Properties["count"] = len(class.pts)
			fc.Append(f)
		}
	}

	if ring := BorderRing(res.Border, opts.SimplifyTolerance); len(ring) > 0 {
		// RFC 7946 wants exterior rings counter-clockwise.
		if ring.Orientation() == orb.CW {
			ring.Reverse()
		}
		f := geojson.NewFeature(orb.Polygon{ring})
		copyProps(f, opts.Properties)
		f.Properties["kind"] = "border"
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON encodes FeatureCollection(res, opts) to w.
func WriteGeoJSON(w io.Writer, res *core.CoverageResult, opts Options) error {
	b, err := FeatureCollection(res, opts).MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	var out json.RawMessage = b
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// BorderRing returns the border as a closed ring in azimuth order,
// optionally simplified. It returns nil for fewer than three points.
func BorderRing(border []core.BorderPoint, tolerance float64) orb.Ring {
	if len(border) < 3 {
		return nil
	}
	ring := make(orb.Ring, 0, len(border)+1)
	for _, b := range border {
		ring = append(ring, b.Position.Point())
	}
	ring = append(ring, ring[0])

	if tolerance > 0 {
		if simp, ok := simplify.DouglasPeucker(tolerance).Simplify(ring).(orb.Ring); ok && len(simp) >= 4 {
			ring = simp
		}
	}
	return ring
}

func copyProps(f *geojson.Feature, props map[string]any) {
	for k, v := range props {
		f.Properties[k] = v
	}
}
