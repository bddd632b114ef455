package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/lmux/antenna-coverage/core"
)

// qualityFieldWidth fits the longest attribute value written.
const qualityFieldWidth = 8

// WriteShapefiles writes <base>_points.shp with a QUALITY attribute per
// point and <base>_border.shp with the border polygon into dir, together
// with their .shx and .dbf companions.
func WriteShapefiles(dir, base string, res *core.CoverageResult) error {
	if res == nil {
		return fmt.Errorf("write shapefiles: nil result")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write shapefiles: %w", err)
	}
	if err := writePoints(filepath.Join(dir, base+"_points.shp"), res); err != nil {
		return err
	}
	return writeBorder(filepath.Join(dir, base+"_border.shp"), res.Border)
}

func writePoints(path string, res *core.CoverageResult) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()

	w.SetFields([]shp.Field{shp.StringField("QUALITY", qualityFieldWidth)})
	for _, class := range []struct {
		q   core.Quality
		pts []core.GeoPoint
	}{
		{core.QualityGood, res.Good},
		{core.QualityOkay, res.Okay},
		{core.QualityBad, res.Bad},
	} {
		for _, p := range class.pts {
			row := w.Write(&shp.Point{X: p.Lon, Y: p.Lat})
			if err := w.WriteAttribute(int(row), 0, class.q.String()); err != nil {
				return fmt.Errorf("%s: write attribute: %w", path, err)
			}
		}
	}
	return nil
}

func writeBorder(path string, border []core.BorderPoint) error {
	w, err := shp.Create(path, shp.POLYGON)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer w.Close()

	w.SetFields([]shp.Field{shp.StringField("KIND", qualityFieldWidth)})
	ring := BorderRing(border, 0)
	if len(ring) == 0 {
		return nil
	}
	// Shapefile outer rings run clockwise.
	if ring.Orientation() != orb.CW {
		ring.Reverse()
	}
	pts := make([]shp.Point, len(ring))
	for i, p := range ring {
		pts[i] = shp.Point{X: p[0], Y: p[1]}
	}
	poly := shp.Polygon(*shp.NewPolyLine([][]shp.Point{pts}))
	row := w.Write(&poly)
	if err := w.WriteAttribute(int(row), 0, "border"); err != nil {
		return fmt.Errorf("%s: write attribute: %w", path, err)
	}
	return nil
}
