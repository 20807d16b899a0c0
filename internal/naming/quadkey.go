// Package naming derives human-readable and geographic labels from tile
// coordinates. It is the quadkey/Web-Mercator math the teacher used to turn
// a lat/lon bounding box into a download filename, inverted here to turn a
// (level, row, col) tile address into the lat/lon footprint a debug
// generator draws.
package naming

import (
	"fmt"
	"math"
	"strings"
)

// TileBounds returns the south/west/north/east lat/lon footprint of the
// slippy-map tile (level, row, col), using the standard Web Mercator
// tile-to-degree inversion.
func TileBounds(level, row, col int) (south, west, north, east float64) {
	n := math.Exp2(float64(level))
	west = float64(col)/n*360.0 - 180.0
	east = float64(col+1)/n*360.0 - 180.0
	north = mercatorLat(float64(row) / n)
	south = mercatorLat(float64(row+1) / n)
	return south, west, north, east
}

func mercatorLat(yFrac float64) float64 {
	rad := math.Atan(math.Sinh(math.Pi * (1 - 2*yFrac)))
	return rad * 180.0 / math.Pi
}

// Quadkey encodes (level, row, col) as a Microsoft-style quadkey string,
// the same digit-interleaving scheme the teacher used to derive a filename
// component from a tile's x/y/z.
func Quadkey(level, row, col int) string {
	var sb strings.Builder
	for i := level; i > 0; i-- {
		digit := 0
		mask := 1 << (i - 1)
		if col&mask != 0 {
			digit++
		}
		if row&mask != 0 {
			digit += 2
		}
		sb.WriteByte(byte('0' + digit))
	}
	return sb.String()
}

// SanitizeCoordinate formats a coordinate for use in labels/filenames
// (N/S/E/W suffix, decimal point replaced with 'p' for filesystem safety).
func SanitizeCoordinate(coord float64, isLat bool) string {
	dir := "E"
	if isLat {
		if coord < 0 {
			dir = "S"
		} else {
			dir = "N"
		}
	} else if coord < 0 {
		dir = "W"
	}
	coordStr := fmt.Sprintf("%.4f", math.Abs(coord))
	coordStr = strings.Replace(coordStr, ".", "p", 1)
	return coordStr + dir
}
