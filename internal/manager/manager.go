// Package manager implements TileManager, the process-singleton facade
// in front of TileCache, TileStore, and the providers: request/peek/fetch,
// cut_tile synthesis for cache misses, and purge/shutdown lifecycle. The
// init-once-with-config, drain-with-timeout-at-shutdown shape follows the
// teacher's QueueManager (internal/taskqueue), generalized from a single
// FIFO export queue to the provider-per-media-kind routing this engine
// needs.
package manager

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	"tilepyramid/internal/provider"
	"tilepyramid/internal/provider/generators"
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tilecache"
	"tilepyramid/internal/tileid"
	"tilepyramid/internal/tilestore"
)

const dynamicPrefix = "dynamic:"

// Config configures Manager.Init.
type Config struct {
	CacheTotalBytes   int64
	PermanentFraction float64 // default 0.8
	AutoCleanup       bool
	CleanupAgeDays    int
	ShutdownTimeout   time.Duration // default 10s
}

// estimatedTileBytes approximates one cached tile's footprint, used only
// to turn a byte budget into an entry-count budget for the LRU caches
// (which are sized in entries, not bytes).
const estimatedTileBytes = 64 * 1024

// Manager is the process-singleton facade described in spec §4.7.
type Manager struct {
	store      *tilestore.Store
	permanent  *tilecache.Cache
	scratch    *tilecache.Cache
	static     *provider.Provider
	dynamics   *provider.Registry
	cfg        Config

	mu       sync.Mutex
	initDone bool
}

// New returns an uninitialized Manager rooted at store. Call Init before
// using it.
func New(store *tilestore.Store) *Manager {
	return &Manager{store: store, dynamics: provider.NewRegistry()}
}

// NewFromRoot opens a TileStore at root and returns an uninitialized
// Manager over it, the convenience constructor main.go's CLI entrypoint
// uses instead of wiring tilestore.Open itself.
func NewFromRoot(root string) (*Manager, error) {
	store, err := tilestore.Open(root)
	if err != nil {
		return nil, err
	}
	return New(store), nil
}

// Store returns the underlying TileStore, for callers that need direct
// disk access alongside the manager (the cleanup sweep, diagnostics).
func (m *Manager) Store() *tilestore.Store {
	return m.store
}

// Init is idempotent: a second call with the manager already initialized
// is a no-op. It creates the permanent (PermanentFraction of the budget)
// and scratch (the remainder) caches, starts the StaticProvider worker,
// and starts one worker per registered dynamic generator.
func (m *Manager) Init(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initDone {
		return
	}

	if cfg.PermanentFraction <= 0 || cfg.PermanentFraction >= 1 {
		cfg.PermanentFraction = 0.8
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	m.cfg = cfg

	totalEntries := int(cfg.CacheTotalBytes / estimatedTileBytes)
	if totalEntries < 16 {
		totalEntries = 16
	}
	permEntries := int(float64(totalEntries) * cfg.PermanentFraction)
	scratchEntries := totalEntries - permEntries
	if scratchEntries < 1 {
		scratchEntries = 1
	}

	m.permanent = tilecache.New(permEntries, 0, 0)
	m.scratch = tilecache.New(scratchEntries, 0, 0)

	m.static = provider.New(m.permanent, provider.StaticLoader{Store: m.store})

	for _, gen := range defaultGenerators() {
		p := provider.New(m.permanent, provider.DynamicLoader{Gen: gen})
		m.dynamics.Register(gen, p)
	}

	m.initDone = true
}

func defaultGenerators() []provider.Generator {
	return []provider.Generator{generators.NewGraticule(256)}
}

// Shutdown signals all workers to stop accepting new requests and waits
// up to Config.ShutdownTimeout for in-flight loads to drain. No in-memory
// state is persisted; a fresh Init starts cold.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initDone {
		return
	}

	m.static.Close()
	m.dynamics.CloseAll()

	workers := append([]*provider.Provider{m.static}, m.dynamics.Providers()...)
	drained := make(chan struct{})
	go func() {
		for _, p := range workers {
			<-p.Done()
		}
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(m.cfg.ShutdownTimeout):
	}
	m.initDone = false
}

// routeProvider returns the provider that owns id's media id, per the
// spec's "exactly one provider per request" routing rule.
func (m *Manager) routeProvider(mediaID string) (*provider.Provider, bool) {
	if strings.HasPrefix(mediaID, dynamicPrefix) {
		name := strings.TrimPrefix(mediaID, dynamicPrefix)
		return m.dynamics.Provider(name)
	}
	return m.static, true
}

// Request enqueues id to the appropriate provider. Non-blocking.
func (m *Manager) Request(id tileid.TileId) {
	p, ok := m.routeProvider(id.MediaID)
	if !ok {
		return
	}
	p.Enqueue(id)
}

// Peek returns the cached tile for id if present, or an error classifying
// why not: ErrNotTiled, ErrNotLoaded, or ErrNotAvailable.
func (m *Manager) Peek(id tileid.TileId) (tile.Tile, error) {
	if !m.IsTiled(id.MediaID) {
		return tile.Tile{}, ErrNotTiled
	}

	if entry, ok := m.permanent.Get(id); ok {
		if entry.Tombstone {
			return tile.Tile{}, ErrNotAvailable
		}
		return entry.Tile, nil
	}
	if entry, ok := m.scratch.Get(id); ok {
		if entry.Tombstone {
			return tile.Tile{}, ErrNotAvailable
		}
		return entry.Tile, nil
	}
	return tile.Tile{}, ErrNotLoaded
}

// Fetch returns a tile for id, never failing for level >= 0 on tiled
// media: it peeks, and on any miss synthesizes via CutTile instead of
// propagating the error.
func (m *Manager) Fetch(id tileid.TileId) (tile.Tile, Provenance, error) {
	t, err := m.Peek(id)
	if err == nil {
		return t, Provenance{Kind: Loaded}, nil
	}
	if err == ErrNotTiled {
		return tile.Tile{}, Provenance{}, ErrNotTiled
	}
	return m.CutTile(id)
}

// IsTiled reports true for any dynamic:* media id (a generator is always
// "tiled": it answers every coordinate procedurally) and for static media
// whose TileStore metadata has tiled=true.
func (m *Manager) IsTiled(mediaID string) bool {
	if strings.HasPrefix(mediaID, dynamicPrefix) {
		name := strings.TrimPrefix(mediaID, dynamicPrefix)
		_, ok := m.dynamics.Generator(name)
		return ok
	}
	return m.store.IsTiled(mediaID)
}

// GetMetadata returns one metadata value for mediaID: for dynamic media,
// drawn from the registered generator's declarations; for static media,
// from TileStore.
func (m *Manager) GetMetadata(mediaID, key string) (string, bool) {
	if strings.HasPrefix(mediaID, dynamicPrefix) {
		name := strings.TrimPrefix(mediaID, dynamicPrefix)
		gen, ok := m.dynamics.Generator(name)
		if !ok {
			return "", false
		}
		switch key {
		case "tilesize":
			return fmt.Sprintf("%d", gen.TileSize()), true
		case "file_ext":
			return gen.FileExt(), true
		case "max_level":
			return fmt.Sprintf("%d", gen.MaxLevel()), true
		default:
			return "", false
		}
	}

	meta, err := m.store.ReadMetadata(mediaID)
	if err != nil {
		return "", false
	}
	switch key {
	case "width":
		return fmt.Sprintf("%d", meta.Width), true
	case "height":
		return fmt.Sprintf("%d", meta.Height), true
	case "tilesize":
		return fmt.Sprintf("%d", meta.TileSize), true
	case "max_level":
		return fmt.Sprintf("%d", meta.MaxLevel), true
	case "file_ext":
		return meta.Ext, true
	default:
		v, ok := meta.Extra[key]
		return v, ok
	}
}

// Purge drops pending requests and cache entries for mediaID. With
// mediaID "" it drops every provider's pending requests but leaves both
// caches as they are.
func (m *Manager) Purge(mediaID string) {
	if mediaID == "" {
		// Cache-wide eviction for "everything" isn't exposed by
		// tilecache.Cache, which only removes by id or by media id.
		m.static.Purge("")
		for _, p := range m.dynamics.Providers() {
			p.Purge("")
		}
		return
	}
	if p, ok := m.routeProvider(mediaID); ok {
		p.Purge(mediaID)
	}
	m.permanent.RemoveMatching(mediaID)
	m.scratch.RemoveMatching(mediaID)
}

// CutTile synthesizes a tile for id from a cached ancestor, per spec
// §4.7. Loaded tiles returned this way are never cached (they're already
// present if found); synthetic crops/resizes go into the scratch cache
// since they can be reproduced on demand and must not displace real
// tiles in the permanent cache.
func (m *Manager) CutTile(id tileid.TileId) (tile.Tile, Provenance, error) {
	tileSize := m.tileSizeFor(id.MediaID)

	if id.Level < 0 {
		return m.cutOverview(id, tileSize)
	}
	if id.Level == 0 {
		if entry, ok := m.permanent.Get(tileid.New(id.MediaID, 0, 0, 0)); ok && !entry.Tombstone {
			return entry.Tile, Provenance{Kind: Loaded}, nil
		}
		m.Request(tileid.New(id.MediaID, 0, 0, 0))
		return placeholderTile(tileSize), Provenance{Kind: Placeholder}, nil
	}

	for ancestorLevel := id.Level - 1; ancestorLevel >= 0; ancestorLevel-- {
		shift := uint(id.Level - ancestorLevel)
		ancestorRow := id.Row >> shift
		ancestorCol := id.Col >> shift
		ancestorID := tileid.New(id.MediaID, ancestorLevel, ancestorRow, ancestorCol)

		entry, ok := m.lookupCache(ancestorID)
		if !ok || entry.Tombstone {
			continue
		}

		quadrants := 1 << shift
		quadRow := id.Row - ancestorRow*quadrants
		quadCol := id.Col - ancestorCol*quadrants
		quadSize := entry.Tile.Size / quadrants
		rect := image.Rect(quadCol*quadSize, quadRow*quadSize, (quadCol+1)*quadSize, (quadRow+1)*quadSize)

		cropped := entry.Tile.Crop(rect).Resize(tileSize)

		m.enqueueIntermediate(id, ancestorLevel)
		m.scratch.Insert(id, cropped, false)
		return cropped, Provenance{Kind: Synthesized, FromLevel: ancestorLevel}, nil
	}

	m.Request(tileid.New(id.MediaID, 0, 0, 0))
	return placeholderTile(tileSize), Provenance{Kind: Placeholder}, nil
}

func (m *Manager) cutOverview(id tileid.TileId, tileSize int) (tile.Tile, Provenance, error) {
	overviewID := tileid.New(id.MediaID, 0, 0, 0)
	entry, ok := m.lookupCache(overviewID)
	if !ok || entry.Tombstone {
		m.Request(overviewID)
		return placeholderTile(tileSize), Provenance{Kind: Placeholder}, nil
	}

	factor := 1 << uint(-id.Level)
	downscaled := entry.Tile.Resize(entry.Tile.Size / factor)
	m.scratch.Insert(id, downscaled, false)
	return downscaled, Provenance{Kind: Synthesized, FromLevel: 0}, nil
}

// enqueueIntermediate requests every tile strictly between ancestorLevel
// and id.Level along the direct lineage, so a later cut_tile call for the
// same id (or a sibling sharing the chain) resolves from cache.
func (m *Manager) enqueueIntermediate(id tileid.TileId, ancestorLevel int) {
	cur := id
	for cur.Level > ancestorLevel+1 {
		parent, ok := cur.Parent()
		if !ok {
			return
		}
		m.Request(parent)
		cur = parent
	}
}

func (m *Manager) lookupCache(id tileid.TileId) (tilecache.Entry, bool) {
	if entry, ok := m.permanent.Get(id); ok {
		return entry, true
	}
	return m.scratch.Get(id)
}

func (m *Manager) tileSizeFor(mediaID string) int {
	if v, ok := m.GetMetadata(mediaID, "tilesize"); ok {
		var size int
		fmt.Sscanf(v, "%d", &size)
		if size > 0 {
			return size
		}
	}
	return 256
}

func placeholderTile(size int) tile.Tile {
	return tile.Blank(size)
}
