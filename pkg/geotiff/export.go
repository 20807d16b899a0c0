package geotiff

import (
	"fmt"
	"io"
	"os"

	"tilepyramid/internal/naming"
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
)

// GeoKey ids this package writes into the GeoKeyDirectoryTag, per the
// GeoTIFF spec: a directory header followed by one (KeyID, TIFFTagLocation,
// Count, Value_Offset) record per key. We only ever emit geographic
// (lat/lon) referencing, so the directory is a fixed four-record shape.
const (
	geoKeyDirectoryVersion = 1
	geoKeyRevision         = 1
	geoKeyMinorRevision    = 0

	gtModelTypeGeoKey     = 1024
	gtRasterTypeGeoKey    = 1025
	geographicTypeGeoKey  = 2048
	modelTypeGeographic   = 2
	rasterPixelIsArea     = 1
	geographicTypeWGS84   = 4326
)

// EncodeTile writes a tile's pixels to w as a georeferenced TIFF, tagging
// it with the lat/lon footprint of the tile address id via ModelPixelScale
// and ModelTiepoint tags, the way a GIS tool expects to georeference a
// raster without an accompanying world file. The GeoKeyDirectoryTag
// declares a plain geographic (WGS84) model, matching the footprint
// internal/naming.TileBounds already computes in degrees.
func EncodeTile(w io.Writer, t tile.Tile, id tileid.TileId) error {
	south, west, north, east := naming.TileBounds(id.Level, id.Row, id.Col)

	width := float64(t.Size)
	height := float64(t.Size)
	scaleX := (east - west) / width
	scaleY := (north - south) / height

	extraTags := map[uint16]interface{}{
		TagType_ModelPixelScaleTag: []float64{scaleX, scaleY, 0},
		// Tiepoint ties raster (0,0) -- the top-left pixel -- to (west, north).
		TagType_ModelTiepointTag: []float64{0, 0, 0, west, north, 0},
		TagType_GeoKeyDirectoryTag: []uint16{
			geoKeyDirectoryVersion, geoKeyRevision, geoKeyMinorRevision, 3,
			gtModelTypeGeoKey, 0, 1, modelTypeGeographic,
			gtRasterTypeGeoKey, 0, 1, rasterPixelIsArea,
			geographicTypeGeoKey, 0, 1, geographicTypeWGS84,
		},
	}

	if err := Encode(w, t.Img, extraTags); err != nil {
		return fmt.Errorf("geotiff: encode tile %s: %w", id, err)
	}
	return nil
}

// EncodeTileFile is the file-path convenience wrapper EncodeTile's callers
// (the debug CLI flag, export tooling) actually use.
func EncodeTileFile(path string, t tile.Tile, id tileid.TileId) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("geotiff: create %s: %w", path, err)
	}
	defer f.Close()
	return EncodeTile(f, t, id)
}
