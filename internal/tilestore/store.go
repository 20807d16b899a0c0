// Package tilestore is the on-disk persistence layer for the tile pyramid:
// content-addressed directories keyed by a hash of the media id, a
// key/value metadata file per media, and one image file per persisted
// tile. The atomic temp-file-then-rename metadata write and the
// walk-to-rebuild recovery path follow the teacher's
// internal/cache/persistent_cache.go; the flat OGC ZXY layout there is
// replaced with the content-addressed layout the pyramid format needs so
// a mutable or procedurally-named media id never has to collide with
// another on disk.
package tilestore

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"tilepyramid/internal/retry"
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
)

const (
	metadataFileName = "metadata"
	defaultTileExt    = ".png"
)

// Metadata is the persisted description of a media's tile pyramid.
// Extra carries any key this store doesn't know about yet, so a future
// writer's additional fields round-trip even through an older reader.
type Metadata struct {
	MediaID   string
	Width     int
	Height    int
	TileSize  int
	MaxLevel  int
	Ext       string
	Tiled     bool
	Extra     map[string]string
}

// Store is a content-addressed tile pyramid store rooted at a directory.
// Each media id gets its own subdirectory named by the hex SHA-1 of the
// id, holding a "metadata" file and one LL/ directory per pyramid level.
type Store struct {
	root string

	// mu is one store-wide lock serializing metadata writes and media
	// deletion; SaveTile does not take it. Metadata and tile writes
	// additionally go through a retry.Do backoff.
	mu         sync.Mutex
	retryStrat *retry.Strategy
}

// Open returns a Store rooted at root, creating the directory if needed.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("tilestore: create root %s: %w", root, err)
	}
	return &Store{root: root, retryStrat: retry.DefaultStrategy()}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// MediaDir returns the content-addressed directory for a media id.
func (s *Store) MediaDir(mediaID string) string {
	return filepath.Join(s.root, tileid.HashMediaID(mediaID))
}

func (s *Store) metadataPath(mediaID string) string {
	return filepath.Join(s.MediaDir(mediaID), metadataFileName)
}

// TilePath returns the path a tile would be stored at, whether or not it
// exists yet.
func (s *Store) TilePath(id tileid.TileId, ext string) string {
	levelDir := tileid.LevelDir(id.Level)
	return filepath.Join(s.MediaDir(id.MediaID), levelDir, id.TileFileStem()+ext)
}

// ReadMetadata loads a media's pyramid metadata. It returns os.ErrNotExist
// (wrapped) if the media has never been tiled.
func (s *Store) ReadMetadata(mediaID string) (Metadata, error) {
	return s.readMetadataFile(s.metadataPath(mediaID), mediaID)
}

// readMetadataFile parses the metadata file at path. fallbackMediaID seeds
// Metadata.MediaID for callers that already know the id (ReadMetadata); a
// "media_id" line in the file, when present, takes precedence -- the only
// case that matters is ListMediaInfo, which doesn't know the id up front
// and passes "".
func (s *Store) readMetadataFile(path, fallbackMediaID string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("tilestore: read metadata at %s: %w", path, err)
	}
	defer f.Close()

	meta := Metadata{MediaID: fallbackMediaID, Extra: map[string]string{}}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		key, value := parts[0], parts[1]
		switch key {
		case "media_id":
			meta.MediaID = value
		case "width":
			meta.Width, _ = strconv.Atoi(value)
		case "height":
			meta.Height, _ = strconv.Atoi(value)
		case "tilesize":
			meta.TileSize, _ = strconv.Atoi(value)
		case "max_level":
			meta.MaxLevel, _ = strconv.Atoi(value)
		case "file_ext":
			meta.Ext = value
		case "tiled":
			meta.Tiled = value == "true"
		default:
			meta.Extra[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Metadata{}, fmt.Errorf("tilestore: parse metadata at %s: %w", path, err)
	}
	return meta, nil
}

// WriteMetadata atomically publishes meta for mediaID: written to a temp
// file in the same directory, then renamed into place, so a reader never
// observes a partially-written metadata file. Writes retry through
// transient disk contention via internal/retry.
func (s *Store) WriteMetadata(ctx context.Context, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.MediaDir(meta.MediaID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tilestore: create media dir: %w", err)
	}

	return retry.Do(ctx, "tilestore.WriteMetadata", s.retryStrat, nil, func() error {
		return s.writeMetadataOnce(dir, meta)
	})
}

// metadataTypeTag reports the typetag written on the metadata line for key,
// per the store's key<TAB>value<TAB>typetag file format.
func metadataTypeTag(key string) string {
	switch key {
	case "media_id", "file_ext":
		return "str"
	case "width", "height", "tilesize", "max_level":
		return "int"
	case "tiled":
		return "bool"
	default:
		return "str"
	}
}

func (s *Store) writeMetadataOnce(dir string, meta Metadata) error {
	var sb strings.Builder
	writeLine := func(key, value string) {
		fmt.Fprintf(&sb, "%s\t%s\t%s\n", key, value, metadataTypeTag(key))
	}
	writeLine("media_id", meta.MediaID)
	writeLine("width", strconv.Itoa(meta.Width))
	writeLine("height", strconv.Itoa(meta.Height))
	writeLine("tilesize", strconv.Itoa(meta.TileSize))
	writeLine("max_level", strconv.Itoa(meta.MaxLevel))
	writeLine("file_ext", meta.Ext)
	writeLine("tiled", strconv.FormatBool(meta.Tiled))
	for k, v := range meta.Extra {
		writeLine(k, v)
	}

	finalPath := filepath.Join(dir, metadataFileName)
	tmpPath := finalPath + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("tilestore: write temp metadata: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("tilestore: rename metadata into place: %w", err)
	}
	return nil
}

// IsTiled reports whether mediaID has published metadata with Tiled set.
// A media directory that exists but whose metadata hasn't been written
// yet (a pyramid build in progress) is not tiled.
func (s *Store) IsTiled(mediaID string) bool {
	meta, err := s.ReadMetadata(mediaID)
	return err == nil && meta.Tiled
}

// LoadTile reads and decodes a persisted tile, or returns os.ErrNotExist
// (wrapped) if no file exists at that address.
func (s *Store) LoadTile(id tileid.TileId, ext string) (tile.Tile, error) {
	path := s.TilePath(id, ext)
	t, err := tile.Decode(path)
	if err != nil {
		return tile.Tile{}, fmt.Errorf("tilestore: load tile %s: %w", id, err)
	}
	return t, nil
}

// SaveTile encodes and writes a tile to its address, creating the level
// directory on first use.
func (s *Store) SaveTile(ctx context.Context, id tileid.TileId, ext string, t tile.Tile) error {
	dir := filepath.Join(s.MediaDir(id.MediaID), tileid.LevelDir(id.Level))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("tilestore: create level dir: %w", err)
	}

	path := s.TilePath(id, ext)
	return retry.Do(ctx, "tilestore.SaveTile", s.retryStrat, nil, func() error {
		return tile.Encode(path, t)
	})
}

// TileExists reports whether a tile file exists at id's address without
// decoding it.
func (s *Store) TileExists(id tileid.TileId, ext string) bool {
	_, err := os.Stat(s.TilePath(id, ext))
	return err == nil
}

// DefaultExt is the file extension used when a media's metadata doesn't
// specify one (procedurally generated tiles, mostly).
func DefaultExt() string { return defaultTileExt }

// Stats describes the aggregate size of a store on disk.
type Stats struct {
	MediaCount int
	TileCount  int
	TotalBytes int64
}

// Stat walks the store root and reports aggregate size. It's used by
// cleanup reporting and by diagnostics, not on any request hot path.
func (s *Store) Stat() (Stats, error) {
	var stats Stats
	mediaDirs := map[string]bool{}

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		parts := strings.Split(rel, string(os.PathSeparator))
		if len(parts) == 0 {
			return nil
		}
		mediaDirs[parts[0]] = true
		if filepath.Base(path) != metadataFileName {
			stats.TileCount++
		}
		stats.TotalBytes += info.Size()
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("tilestore: stat: %w", err)
	}
	stats.MediaCount = len(mediaDirs)
	return stats, nil
}

// DeleteMedia removes a media's entire tile tree from disk.
func (s *Store) DeleteMedia(mediaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.MediaDir(mediaID)); err != nil {
		return fmt.Errorf("tilestore: delete media %s: %w", mediaID, err)
	}
	return nil
}

// ListMedia returns the hashed directory names of every media directory
// under the store root, whether or not its metadata has been written, for
// use by cleanup sweeps that walk the store without needing to know
// original media ids.
func (s *Store) ListMedia() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("tilestore: list media: %w", err)
	}
	var hashes []string
	for _, e := range entries {
		if e.IsDir() {
			hashes = append(hashes, e.Name())
		}
	}
	return hashes, nil
}

// MediaInfo describes one media directory for an age-based cleanup sweep:
// its original id (recovered from its own metadata file, since the
// directory itself is named by hash), the most recent time any of its
// files was written or read (see ListMediaInfo), and its on-disk
// footprint.
type MediaInfo struct {
	MediaID string
	Hash    string
	ModTime time.Time
	Bytes   int64
}

// lastUsedTime returns the later of a file's mtime and atime, falling
// back to mtime alone if the platform stat call fails.
func lastUsedTime(path string, info os.FileInfo) time.Time {
	mtime := info.ModTime()
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return mtime
	}
	atime := time.Unix(st.Atim.Sec, st.Atim.Nsec)
	if atime.After(mtime) {
		return atime
	}
	return mtime
}

// ListMediaInfo walks every media directory under the store root and
// reports its identity, most recent access, and size, for
// internal/cleanup's age-based reclamation sweep. Age is taken from the
// most recent mtime/atime among a media's tile files and the metadata
// file's mtime, not just the metadata file's own mtime -- otherwise a
// media tiled long ago but read constantly since would look exactly as
// stale as one nobody has opened. The metadata file's atime is ignored
// because this walk reads that file itself. A directory
// whose metadata file can't be read (a build left mid-flight, or already
// removed concurrently) is skipped rather than failing the whole walk.
func (s *Store) ListMediaInfo() ([]MediaInfo, error) {
	hashes, err := s.ListMedia()
	if err != nil {
		return nil, err
	}

	var infos []MediaInfo
	for _, hash := range hashes {
		dir := filepath.Join(s.root, hash)
		metaPath := filepath.Join(dir, metadataFileName)

		meta, readErr := s.readMetadataFile(metaPath, "")
		if readErr != nil {
			continue
		}

		var size int64
		var latest time.Time
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				return nil
			}
			size += info.Size()
			t := info.ModTime()
			if filepath.Base(path) != metadataFileName {
				t = lastUsedTime(path, info)
			}
			if t.After(latest) {
				latest = t
			}
			return nil
		})

		infos = append(infos, MediaInfo{
			MediaID: meta.MediaID,
			Hash:    hash,
			ModTime: latest,
			Bytes:   size,
		})
	}
	return infos, nil
}
