// Package tilecache is the bounded in-memory LRU sitting in front of
// TileStore. Mortal entries are tracked with hashicorp/golang-lru/v2's
// simplelru so eviction bookkeeping (recency order, capacity) isn't
// hand-rolled; level-0 overview tiles are immortal and tracked separately
// in a plain map that eviction never touches, per the two-tier eviction
// class the teacher's own persistent_cache.go approximates with its
// access-time sort but without an immortal tier.
//
// The cache never uses a reentrant mutex. The manager and provider workers
// both call Cache methods, but no call path re-enters the cache while
// already holding its lock: Cache's own methods never call back out to
// provider or manager code, so a plain sync.Mutex is sufficient and a
// goroutine-owner-tracked reentrant lock — awkward to build correctly in Go
// and unnecessary here — was never needed.
package tilecache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/samber/lo"

	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
)

// Entry is what the cache stores per TileId: either a decoded tile, or a
// tombstone recording that the tile is known to be unavailable.
type Entry struct {
	Tile        tile.Tile
	Tombstone   bool
	createdAt   time.Time
	lastAccess  time.Time
	accessCount int64
}

// Cache is a bounded concurrent map from TileId to Entry, with level-0
// entries kept immortal and every other entry subject to LRU eviction
// plus optional age/access-count limits.
type Cache struct {
	mu sync.Mutex

	maxAge      time.Duration
	maxAccesses int64

	mortal   *lru.LRU[tileid.TileId, *Entry]
	immortal map[tileid.TileId]*Entry
}

// New builds a Cache holding up to maxEntries mortal entries (immortal
// level-0 entries don't count against this budget). maxAge and
// maxAccesses of zero mean "no limit" on that dimension.
func New(maxEntries int, maxAge time.Duration, maxAccesses int64) *Cache {
	c := &Cache{
		maxAge:      maxAge,
		maxAccesses: maxAccesses,
		immortal:    make(map[tileid.TileId]*Entry),
	}
	mortal, err := lru.NewLRU[tileid.TileId, *Entry](maxEntries, nil)
	if err != nil {
		// Only returned for a non-positive size, which New's caller
		// controls; a config with max_entries <= 0 is a programming error.
		panic("tilecache: invalid max_entries: " + err.Error())
	}
	c.mortal = mortal
	return c
}

// Insert stores a decoded tile (or, if asTombstone is true, records a
// tombstone) for id. Tombstones are always mortal, even at level 0 --
// "unavailable" is a fact about the current state of a media that can
// become stale (a retry, a re-tile), so it must be subject to the same
// eviction as any other mortal entry. Concurrent inserts for the same id
// are last-writer-wins, matching the LRU map's own semantics.
func (c *Cache) Insert(id tileid.TileId, t tile.Tile, asTombstone bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry := &Entry{Tile: t, Tombstone: asTombstone, createdAt: now, lastAccess: now}

	if id.Level == 0 && !asTombstone {
		c.immortal[id] = entry
		return
	}
	c.mortal.Add(id, entry)
}

// lookupLocked finds id's entry, checking the immortal map first -- it
// only ever holds level-0 non-tombstone entries, so a level-0 tombstone
// (mortal despite its level) is found in the LRU instead.
func (c *Cache) lookupLocked(id tileid.TileId) *Entry {
	if e, ok := c.immortal[id]; ok {
		return e
	}
	e, _ := c.mortal.Get(id)
	return e
}

// Get returns the entry for id and true, updating its last-access time
// and access count, or the zero Entry and false if absent or expired.
func (c *Cache) Get(id tileid.TileId) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.lookupLocked(id)
	if entry == nil {
		return Entry{}, false
	}

	if c.expired(entry) {
		c.removeLocked(id)
		return Entry{}, false
	}

	entry.lastAccess = time.Now()
	entry.accessCount++
	return *entry, true
}

func (c *Cache) expired(e *Entry) bool {
	if c.maxAge > 0 && time.Since(e.createdAt) > c.maxAge {
		return true
	}
	if c.maxAccesses > 0 && e.accessCount >= c.maxAccesses {
		return true
	}
	return false
}

// Contains reports whether id has a live entry, without affecting
// recency bookkeeping.
func (c *Cache) Contains(id tileid.TileId) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.immortal[id]; ok {
		return true
	}
	return c.mortal.Contains(id)
}

// Remove evicts id's entry, if any.
func (c *Cache) Remove(id tileid.TileId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *Cache) removeLocked(id tileid.TileId) {
	if _, ok := c.immortal[id]; ok {
		delete(c.immortal, id)
		return
	}
	c.mortal.Remove(id)
}

// RemoveMatching evicts every entry (immortal or mortal) whose MediaID
// matches mediaID, used when a media is deleted or re-tiled.
func (c *Cache) RemoveMatching(mediaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	immortalKeys := lo.Keys(c.immortal)
	for _, id := range lo.Filter(immortalKeys, func(id tileid.TileId, _ int) bool {
		return id.MediaID == mediaID
	}) {
		delete(c.immortal, id)
	}

	matching := lo.Filter(c.mortal.Keys(), func(id tileid.TileId, _ int) bool {
		return id.MediaID == mediaID
	})
	for _, id := range matching {
		c.mortal.Remove(id)
	}
}

// Len returns the total number of live entries, immortal and mortal.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.immortal) + c.mortal.Len()
}
