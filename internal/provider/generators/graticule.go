// Package generators holds procedural tile generators registrable under
// a "dynamic:<name>" media id. Graticule is a debug generator: it draws
// each tile's level/row/col, quadkey, and lat/lon footprint as text, the
// same font.Drawer-over-an-image technique the teacher's
// internal/video.Exporter uses for its date overlay, pointed at
// internal/naming's quadkey/Mercator math instead of a formatted
// timestamp.
package generators

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"tilepyramid/internal/naming"
	"tilepyramid/internal/tile"
)

// Graticule is a deterministic debug generator: a flat background color
// per tile, with level/row/col, quadkey, and geographic bounds drawn as
// text, useful for exercising the dynamic-provider path without a real
// data source.
type Graticule struct {
	size int
}

// NewGraticule returns a Graticule generator producing size x size tiles.
func NewGraticule(size int) *Graticule {
	if size <= 0 {
		size = 256
	}
	return &Graticule{size: size}
}

// Name implements provider.Generator.
func (g *Graticule) Name() string { return "graticule" }

// TileSize implements provider.Generator.
func (g *Graticule) TileSize() int { return g.size }

// FileExt implements provider.Generator.
func (g *Graticule) FileExt() string { return ".png" }

// MaxLevel implements provider.Generator: unbounded, since the graticule
// is defined at every zoom level by construction.
func (g *Graticule) MaxLevel() int { return -1 }

// Generate implements provider.Generator. Background color is derived
// from (row, col) parity so adjacent tiles are visually distinguishable
// in a grid without any randomness (Generate must be deterministic).
func (g *Graticule) Generate(level, row, col int) tile.Tile {
	img := image.NewNRGBA(image.Rect(0, 0, g.size, g.size))
	bg := checkerColor(row, col)
	for y := 0; y < g.size; y++ {
		for x := 0; x < g.size; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	drawGridLine(img, g.size)

	south, west, north, east := naming.TileBounds(level, row, col)
	quad := naming.Quadkey(level, row, col)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{R: 20, G: 20, B: 20, A: 255}),
		Face: basicfont.Face7x13,
	}
	lines := []string{
		fmt.Sprintf("L%d R%d C%d", level, row, col),
		quad,
		fmt.Sprintf("%.2f,%.2f", south, west),
		fmt.Sprintf("%.2f,%.2f", north, east),
	}
	for i, line := range lines {
		drawer.Dot = fixed.P(6, 16+i*14)
		drawer.DrawString(line)
	}

	return tile.Tile{Img: img, Size: g.size}
}

func checkerColor(row, col int) color.NRGBA {
	if (row+col)%2 == 0 {
		return color.NRGBA{R: 210, G: 225, B: 235, A: 255}
	}
	return color.NRGBA{R: 235, G: 225, B: 210, A: 255}
}

func drawGridLine(img *image.NRGBA, size int) {
	border := color.NRGBA{R: 120, G: 120, B: 120, A: 255}
	for x := 0; x < size; x++ {
		img.SetNRGBA(x, 0, border)
		img.SetNRGBA(x, size-1, border)
	}
	for y := 0; y < size; y++ {
		img.SetNRGBA(0, y, border)
		img.SetNRGBA(size-1, y, border)
	}
}
