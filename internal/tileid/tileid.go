// Package tileid defines the address of a single tile in the pyramid: a
// media id plus a (level, row, col) coordinate, and the content-addressed
// filesystem naming derived from it. The path layout follows the teacher's
// download-filename conventions (internal/utils/naming), replacing the
// lat/lon-bbox filename scheme with a hashed-media-id directory scheme
// suited to an arbitrary, possibly dynamic, media id string.
package tileid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
)

// dynamicPrefix marks a media id as procedurally generated rather than
// backed by a file on disk. Media ids with this prefix never resolve
// against the filesystem; they're routed to a provider's generator instead.
const dynamicPrefix = "dynamic:"

// TileId addresses a single tile: which media, at which pyramid level, at
// which row/col within that level's grid.
type TileId struct {
	MediaID string
	Level   int
	Row     int
	Col     int
}

// New builds a TileId from its parts.
func New(mediaID string, level, row, col int) TileId {
	return TileId{MediaID: mediaID, Level: level, Row: row, Col: col}
}

// IsDynamic reports whether MediaID names a procedural generator rather
// than a file on disk.
func (t TileId) IsDynamic() bool {
	return strings.HasPrefix(t.MediaID, dynamicPrefix)
}

// GeneratorName returns the name following the "dynamic:" prefix, the key
// a provider registry looks a generator up by. It panics if called on a
// non-dynamic id; callers must check IsDynamic first.
func (t TileId) GeneratorName() string {
	if !t.IsDynamic() {
		panic("tileid: GeneratorName called on non-dynamic media id " + t.MediaID)
	}
	return strings.TrimPrefix(t.MediaID, dynamicPrefix)
}

// HashMediaID returns the SHA-1 hex digest of MediaID, used as the
// content-addressed directory name for this media's tile tree. Hashing
// keeps arbitrary media ids (absolute paths, generator names with
// parameters) out of the filesystem path.
func (t TileId) HashMediaID() string {
	return HashMediaID(t.MediaID)
}

// HashMediaID hashes a media id string on its own, for callers that only
// have the id and not a full TileId (listing a store's media directories,
// for instance).
func HashMediaID(mediaID string) string {
	sum := sha1.Sum([]byte(mediaID))
	return hex.EncodeToString(sum[:])
}

// LevelDir returns the two-digit-minimum zero-padded directory name for
// this tile's level, e.g. "03", "17". Negative levels (downscaled
// overviews of an oversized source) are rendered with a leading "n",
// e.g. "n1", since they cannot appear as bare zero-padded digits.
func LevelDir(level int) string {
	if level < 0 {
		return fmt.Sprintf("n%d", -level)
	}
	return fmt.Sprintf("%02d", level)
}

// TileFileStem returns the row/col portion of a tile's filename, without
// extension: "LL_RRRRRR_CCCCCC".
func (t TileId) TileFileStem() string {
	return fmt.Sprintf("%s_%06d_%06d", LevelDir(t.Level), t.Row, t.Col)
}

// String renders a TileId for logs and error messages.
func (t TileId) String() string {
	return fmt.Sprintf("%s@%d/%d/%d", t.MediaID, t.Level, t.Row, t.Col)
}

// Parent returns the tile one level up whose 2x2 block of children
// contains t, and true, or the zero value and false if t is already at
// level 0 (level 0 has no parent; it is the coarsest persisted level).
func (t TileId) Parent() (TileId, bool) {
	if t.Level <= 0 {
		return TileId{}, false
	}
	return TileId{MediaID: t.MediaID, Level: t.Level - 1, Row: t.Row / 2, Col: t.Col / 2}, true
}

// Children returns the four tiles at level+1 whose 2x2 block composes t,
// in top-left, top-right, bottom-left, bottom-right order.
func (t TileId) Children() [4]TileId {
	r, c := t.Row*2, t.Col*2
	lvl := t.Level + 1
	return [4]TileId{
		{MediaID: t.MediaID, Level: lvl, Row: r, Col: c},
		{MediaID: t.MediaID, Level: lvl, Row: r, Col: c + 1},
		{MediaID: t.MediaID, Level: lvl, Row: r + 1, Col: c},
		{MediaID: t.MediaID, Level: lvl, Row: r + 1, Col: c + 1},
	}
}

// MaxLevel returns the deepest persisted level for a source image of the
// given pixel dimensions and tile edge length: ceil(log2(max(w,h)/tile)),
// floored at 0 so an image no larger than one tile is a single level-0 tile.
func MaxLevel(width, height, tileSize int) int {
	if tileSize <= 0 {
		panic("tileid: MaxLevel called with non-positive tileSize")
	}
	longest := width
	if height > longest {
		longest = height
	}
	level := 0
	span := tileSize
	for span < longest {
		span *= 2
		level++
	}
	return level
}

// GridSize returns the number of tiles along one edge of the grid at the
// given level: 2^level.
func GridSize(level int) int {
	if level < 0 {
		return 1
	}
	return 1 << uint(level)
}
