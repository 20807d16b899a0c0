// Package tile is the pixel-level value type the rest of the engine passes
// around: a decoded tile image plus the crop/resize/merge/encode/decode
// operations a pyramid builder and a cache-miss synthesizer both need. The
// compositing style (image.NRGBA, draw.Draw onto a destination rectangle)
// follows the teacher's tile-stitching code in internal/imagery/downloader.go;
// encode/decode is handed to sunshineplan/imgconv rather than the stdlib
// image/jpeg the teacher used, since imgconv is what the rest of this pack
// reaches for whenever more than one output format is in play.
package tile

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/sunshineplan/imgconv"
	xdraw "golang.org/x/image/draw"
)

// Tile wraps a decoded image together with its pixel edge length. Every
// tile in the pyramid is square; Size is the edge length in pixels.
type Tile struct {
	Img  *image.NRGBA
	Size int
}

// New wraps img as a Tile, normalizing it to NRGBA if it isn't already.
func New(img image.Image) Tile {
	if n, ok := img.(*image.NRGBA); ok {
		return Tile{Img: n, Size: n.Bounds().Dx()}
	}
	b := img.Bounds()
	n := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(n, n.Bounds(), img, b.Min, draw.Src)
	return Tile{Img: n, Size: b.Dx()}
}

// Blank returns a size x size fully-transparent tile, the placeholder the
// manager hands out when fetch() can't synthesize real pixels.
func Blank(size int) Tile {
	return Tile{Img: image.NewNRGBA(image.Rect(0, 0, size, size)), Size: size}
}

// Crop returns the sub-image of t within rect, copied into a new tile so
// the result owns its own backing array and outlives the source.
func (t Tile) Crop(rect image.Rectangle) Tile {
	dst := image.NewNRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), t.Img, rect.Min, draw.Src)
	return Tile{Img: dst, Size: rect.Dx()}
}

// Resize scales t to size x size using bilinear interpolation, the
// resampling cut_tile synthesis uses when a cached ancestor or overview
// has to stand in for a tile that was never stored at its native
// resolution. Merge's final downscale uses x/image/draw's ApproxBiLinear
// instead.
func (t Tile) Resize(size int) Tile {
	if t.Size == size {
		return t
	}
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), t.Img, t.Img.Bounds(), xdraw.Over, nil)
	return Tile{Img: dst, Size: size}
}

// Merge composites four child tiles (top-left, top-right, bottom-left,
// bottom-right) into one tile at half their combined resolution: the
// reduce-upward step the streaming tiler uses to build each level from the
// one below it. Any of the four may be the zero Tile (no Img), standing
// for "outside the source image" and filled with opaque black.
func Merge(tl, tr, bl, br Tile, size int) Tile {
	half := size / 2
	combined := image.NewNRGBA(image.Rect(0, 0, size, size))

	place := func(src Tile, ox, oy int) {
		destRect := image.Rect(ox, oy, ox+half, oy+half)
		if src.Img == nil {
			draw.Draw(combined, destRect, &image.Uniform{C: color.NRGBA{A: 255}}, image.Point{}, draw.Src)
			return
		}
		scaled := src
		if src.Size != half {
			scaled = src.Resize(half)
		}
		draw.Draw(combined, destRect, scaled.Img, image.Point{}, draw.Src)
	}
	place(tl, 0, 0)
	place(tr, half, 0)
	place(bl, 0, half)
	place(br, half, half)

	dst := image.NewNRGBA(image.Rect(0, 0, half, half))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), combined, combined.Bounds(), xdraw.Over, nil)
	return Tile{Img: dst, Size: half}
}

// Encode writes t to path in the format implied by path's extension.
// Parent directories must already exist; callers create the level
// directory once per level rather than per tile.
func Encode(path string, t Tile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tile: create %s: %w", path, err)
	}
	defer f.Close()

	format, err := formatForExt(filepath.Ext(path))
	if err != nil {
		return err
	}
	if err := imgconv.Write(f, t.Img, &imgconv.FormatOption{Format: format}); err != nil {
		return fmt.Errorf("tile: encode %s: %w", path, err)
	}
	return nil
}

// Decode reads and decodes the tile stored at path.
func Decode(path string) (Tile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tile{}, fmt.Errorf("tile: open %s: %w", path, err)
	}
	defer f.Close()

	img, err := imgconv.Decode(f)
	if err != nil {
		return Tile{}, fmt.Errorf("tile: decode %s: %w", path, err)
	}
	return New(img), nil
}

func formatForExt(ext string) (imgconv.Format, error) {
	switch ext {
	case ".png":
		return imgconv.PNG, nil
	case ".jpg", ".jpeg":
		return imgconv.JPEG, nil
	case ".webp":
		return imgconv.WEBP, nil
	case ".tif", ".tiff":
		return imgconv.TIFF, nil
	default:
		return 0, fmt.Errorf("tile: unsupported output extension %q", ext)
	}
}
