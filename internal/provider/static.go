package provider

import (
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
	"tilepyramid/internal/tilestore"
)

// StaticLoader reads tiles for filesystem-backed media from a TileStore.
// It reports !ok (tombstone) when the tile file is missing or the
// media's metadata reports tiling isn't complete yet.
type StaticLoader struct {
	Store *tilestore.Store
}

// Load implements Loader.
func (l StaticLoader) Load(id tileid.TileId) (tile.Tile, bool) {
	if !l.Store.IsTiled(id.MediaID) {
		return tile.Tile{}, false
	}
	meta, err := l.Store.ReadMetadata(id.MediaID)
	if err != nil {
		return tile.Tile{}, false
	}
	ext := meta.Ext
	if ext == "" {
		ext = tilestore.DefaultExt()
	}
	if !l.Store.TileExists(id, ext) {
		return tile.Tile{}, false
	}
	t, err := l.Store.LoadTile(id, ext)
	if err != nil {
		return tile.Tile{}, false
	}
	return t, true
}
