package tiler

import (
	"context"
	"io"
	"testing"

	"tilepyramid/internal/tileid"
	"tilepyramid/internal/tilestore"
)

// solidRowSource yields width x height RGB scanlines of one flat color, for
// exercising the tiler without needing a real decoded image.
type solidRowSource struct {
	width, height int
	r, g, b       byte
	row           int
}

func (s *solidRowSource) Width() int  { return s.width }
func (s *solidRowSource) Height() int { return s.height }

func (s *solidRowSource) NextRow() ([]byte, error) {
	if s.row >= s.height {
		return nil, io.EOF
	}
	line := make([]byte, s.width*3)
	for x := 0; x < s.width; x++ {
		line[x*3] = s.r
		line[x*3+1] = s.g
		line[x*3+2] = s.b
	}
	s.row++
	return line, nil
}

func newTestStore(t *testing.T) *tilestore.Store {
	t.Helper()
	s, err := tilestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestBuildProducesCompletePyramid(t *testing.T) {
	store := newTestStore(t)
	src := &solidRowSource{width: 600, height: 400, r: 10, g: 20, b: 30}

	job := Job{MediaID: "/data/scan.tif", TileSize: 256, Ext: ".png", Source: src}

	var lastProgress Progress
	err := Build(context.Background(), store, job, func(p Progress) { lastProgress = p })
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if lastProgress.TilesDone != lastProgress.TilesTotal {
		t.Fatalf("progress not complete: %+v", lastProgress)
	}

	meta, err := store.ReadMetadata(job.MediaID)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if !meta.Tiled {
		t.Fatalf("expected Tiled=true after Build")
	}
	if meta.Width != 600 || meta.Height != 400 {
		t.Fatalf("metadata dims mismatch: %+v", meta)
	}

	wantMaxLevel := tileid.MaxLevel(600, 400, 256)
	if meta.MaxLevel != wantMaxLevel {
		t.Fatalf("MaxLevel = %d, want %d", meta.MaxLevel, wantMaxLevel)
	}

	overview := tileid.New(job.MediaID, 0, 0, 0)
	if !store.TileExists(overview, ".png") {
		t.Fatalf("expected overview tile to exist at level 0")
	}

	base := tileid.New(job.MediaID, wantMaxLevel, 0, 0)
	if !store.TileExists(base, ".png") {
		t.Fatalf("expected base-level tile (0,0) to exist")
	}
}

func TestBuildCancellationCleansUp(t *testing.T) {
	store := newTestStore(t)
	src := &solidRowSource{width: 4096, height: 4096, r: 1, g: 2, b: 3}
	job := Job{MediaID: "/data/big.tif", TileSize: 256, Ext: ".png", Source: src}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel before the first row is even read

	err := Build(ctx, store, job, nil)
	if err == nil {
		t.Fatalf("expected Build to return an error on pre-cancelled context")
	}

	if store.IsTiled(job.MediaID) {
		t.Fatalf("expected media not to end up marked tiled after cancellation")
	}
}

func TestTotalTileCountSingleTile(t *testing.T) {
	// An image no larger than one tile should need exactly 1 tile (level 0 only).
	got := totalTileCount(0, 200, 200, 256)
	if got != 1 {
		t.Fatalf("totalTileCount = %d, want 1", got)
	}
}
