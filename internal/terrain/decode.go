package terrain

import (
	"fmt"
	"image"
	"io"
	"math"

	// Terrain-RGB tiles are served as PNG or lossless WebP.
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DecodeElevation converts a Terrain-RGB pixel to metres.
func DecodeElevation(r, g, b uint8) float64 {
	return -10000 + float64(int(r)*65536+int(g)*256+int(b))*0.1
}

// Grid is a decoded tile: one elevation per pixel, row-major.
type Grid struct {
	Width, Height int
	elev          []float32
}

// DecodeTile decodes a Terrain-RGB image into a Grid.
func DecodeTile(r io.Reader) (*Grid, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}
	return gridFromImage(img, format)
}

func gridFromImage(img image.Image, format string) (*Grid, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("decode tile: empty %s image", format)
	}

	g := &Grid{Width: b.Dx(), Height: b.Dy(), elev: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			// RGBA returns 16-bit channels; Terrain-RGB packs 8 bits each.
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			g.elev[y*g.Width+x] = float32(DecodeElevation(uint8(cr>>8), uint8(cg>>8), uint8(cb>>8)))
		}
	}
	return g, nil
}

// At returns the elevation of the pixel containing the fractional tile
// position (fx, fy), both in [0,1).
func (g *Grid) At(fx, fy float64) float64 {
	px := int(math.Floor(fx * float64(g.Width)))
	py := int(math.Floor(fy * float64(g.Height)))
	px = min(max(px, 0), g.Width-1)
	py = min(max(py, 0), g.Height-1)
	return float64(g.elev[py*g.Width+px])
}
