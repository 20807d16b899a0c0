// Package tiler streams a decoded raster into a complete tile pyramid on
// disk: base-level tiles cut directly from scanlines, then upper levels
// built by repeatedly merging 2x2 blocks of the level below. The
// temp-file-then-rename metadata publish and cooperative cancellation
// flag follow the same pattern tilestore.WriteMetadata and the teacher's
// persistent_cache.go both use for "never let a reader observe a
// half-finished write."
package tiler

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"

	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
	"tilepyramid/internal/tilestore"
)

// RowSource streams a raster top to bottom as 8-bit RGB scanlines, width*3
// bytes each, so a source decoder never has to hold the whole image in
// memory at once.
type RowSource interface {
	Width() int
	Height() int
	NextRow() ([]byte, error) // io.EOF when exhausted
}

// Progress is reported as tiles produced so far over the total the
// pyramid will contain once complete.
type Progress struct {
	TilesDone  int
	TilesTotal int
}

// Job describes one pyramid build.
type Job struct {
	MediaID  string
	TileSize int // default 256 if zero
	Ext      string // ".jpg" or ".png", default ".png" if empty
	Source   RowSource
}

// Build streams src into a complete tile pyramid under store, reporting
// progress via onProgress (may be nil) and honoring ctx cancellation
// between rows and between levels. On cancellation every tile written for
// this media id is removed and Build returns ctx.Err().
func Build(ctx context.Context, store *tilestore.Store, job Job, onProgress func(Progress)) error {
	tileSize := job.TileSize
	if tileSize <= 0 {
		tileSize = 256
	}
	ext := job.Ext
	if ext == "" {
		ext = ".png"
	}

	buildID := uuid.New().String()
	width, height := job.Source.Width(), job.Source.Height()
	maxLevel := tileid.MaxLevel(width, height, tileSize)

	total := totalTileCount(maxLevel, width, height, tileSize)
	var done int64
	report := func() {
		if onProgress != nil {
			onProgress(Progress{TilesDone: int(atomic.LoadInt64(&done)), TilesTotal: total})
		}
	}

	cleanup := func() {
		store.DeleteMedia(job.MediaID)
	}

	cols := ceilDiv(width, tileSize)
	rows := ceilDiv(height, tileSize)

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	// Base level: consume scanlines in groups of tileSize, slice each
	// group horizontally into tileSize x tileSize tiles padded with
	// black where the source runs out.
	for tileRow := 0; tileRow < rows; tileRow++ {
		if ctx.Err() != nil {
			cleanup()
			return ctx.Err()
		}

		rowImgs := make([]*image.NRGBA, cols)
		for c := range rowImgs {
			rowImgs[c] = image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize))
		}

		for y := 0; y < tileSize; y++ {
			srcY := tileRow*tileSize + y
			var line []byte
			if srcY < height {
				r, err := job.Source.NextRow()
				if err != nil {
					cleanup()
					return fmt.Errorf("tiler: read row %d: %w", srcY, err)
				}
				line = r
			}
			for c := 0; c < cols; c++ {
				for x := 0; x < tileSize; x++ {
					srcX := c*tileSize + x
					var px color.NRGBA
					if line != nil && srcX < width {
						off := srcX * 3
						px = color.NRGBA{R: line[off], G: line[off+1], B: line[off+2], A: 255}
					} else {
						px = color.NRGBA{A: 255} // black padding, opaque
					}
					rowImgs[c].SetNRGBA(x, y, px)
				}
			}
		}

		for c := 0; c < cols; c++ {
			id := tileid.New(job.MediaID, maxLevel, tileRow, c)
			t := tile.Tile{Img: rowImgs[c], Size: tileSize}
			if err := store.SaveTile(ctx, id, ext, t); err != nil {
				cleanup()
				return fmt.Errorf("tiler: save base tile %s: %w", id, err)
			}
			atomic.AddInt64(&done, 1)
			report()
		}
	}

	// Reduce upward: each level's tiles are built by merging 2x2 blocks
	// of the level below, persisting as we go so a cancel at any level
	// leaves no level referencing tiles that were never written.
	childRows, childCols := rows, cols
	for level := maxLevel - 1; level >= 0; level-- {
		if ctx.Err() != nil {
			cleanup()
			return ctx.Err()
		}

		parentRows := ceilDiv(childRows, 2)
		parentCols := ceilDiv(childCols, 2)

		for pr := 0; pr < parentRows; pr++ {
			for pc := 0; pc < parentCols; pc++ {
				tl := loadChildOrBlank(store, job.MediaID, level+1, pr*2, pc*2, ext, tileSize)
				tr := loadChildOrBlank(store, job.MediaID, level+1, pr*2, pc*2+1, ext, tileSize)
				bl := loadChildOrBlank(store, job.MediaID, level+1, pr*2+1, pc*2, ext, tileSize)
				br := loadChildOrBlank(store, job.MediaID, level+1, pr*2+1, pc*2+1, ext, tileSize)

				merged := tile.Merge(tl, tr, bl, br, tileSize*2)
				id := tileid.New(job.MediaID, level, pr, pc)
				if err := store.SaveTile(ctx, id, ext, merged); err != nil {
					cleanup()
					return fmt.Errorf("tiler: save level %d tile %s: %w", level, id, err)
				}
				atomic.AddInt64(&done, 1)
				report()
			}
		}

		childRows, childCols = parentRows, parentCols
	}

	meta := tilestore.Metadata{
		MediaID:  job.MediaID,
		Width:    width,
		Height:   height,
		TileSize: tileSize,
		MaxLevel: maxLevel,
		Ext:      ext,
		Tiled:    true,
		Extra:    map[string]string{"build_id": buildID},
	}
	if err := store.WriteMetadata(ctx, meta); err != nil {
		cleanup()
		return fmt.Errorf("tiler: publish metadata: %w", err)
	}
	return nil
}

func loadChildOrBlank(store *tilestore.Store, mediaID string, level, row, col int, ext string, tileSize int) tile.Tile {
	id := tileid.New(mediaID, level, row, col)
	if !store.TileExists(id, ext) {
		return tile.Tile{}
	}
	t, err := store.LoadTile(id, ext)
	if err != nil {
		return tile.Tile{}
	}
	return t
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func totalTileCount(maxLevel, width, height, tileSize int) int {
	total := 0
	rows, cols := ceilDiv(height, tileSize), ceilDiv(width, tileSize)
	for level := maxLevel; level >= 0; level-- {
		total += rows * cols
		rows, cols = ceilDiv(rows, 2), ceilDiv(cols, 2)
	}
	return total
}
