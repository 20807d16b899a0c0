// Package provider implements the worker abstraction that populates
// TileCache: a LIFO request queue serviced by a single goroutine per
// provider, the goroutine-plus-condition-variable worker shape the
// teacher's own queue manager (internal/taskqueue) uses for its export
// queue, generalized from FIFO task execution to LIFO tile loading
// (the most recent request reflects the user's current viewport, so it
// should win over a stale one still sitting in the queue).
package provider

import (
	"sync"

	"tilepyramid/internal/tile"
	"tilepyramid/internal/tilecache"
	"tilepyramid/internal/tileid"
)

// Loader performs the actual tile production for one provider kind
// (reading from TileStore, or invoking a procedural generator).
// Implementations never return an error for "tile unavailable" -- they
// report it via the bool result so the worker loop can tombstone
// uniformly regardless of loader kind.
type Loader interface {
	Load(id tileid.TileId) (t tile.Tile, ok bool)
}

// Provider is a LIFO worker that loads TileIds into a shared cache.
// Duplicate enqueues of an id already waiting in the queue coalesce to
// one entry, so a viewport scrolled back and forth doesn't multiply work.
type Provider struct {
	cache  *tilecache.Cache
	loader Loader

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []tileid.TileId
	queued  map[tileid.TileId]bool
	paused  bool
	closed  bool

	stopped chan struct{}
}

// New starts a Provider's worker goroutine, loading tiles via loader into
// cache.
func New(cache *tilecache.Cache, loader Loader) *Provider {
	p := &Provider{
		cache:   cache,
		loader:  loader,
		queued:  make(map[tileid.TileId]bool),
		stopped: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Enqueue pushes id onto the top of the LIFO queue. If id is already
// queued (not yet popped), this is a no-op -- the existing entry already
// represents the most recent request for it.
func (p *Provider) Enqueue(id tileid.TileId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.queued[id] {
		return
	}
	p.queue = append(p.queue, id)
	p.queued[id] = true
	p.cond.Signal()
}

// Purge drops queued requests. If mediaID is non-empty, only requests for
// that media are dropped; an empty mediaID drops everything queued.
// An in-flight load cannot be aborted, and its result is still inserted
// into the cache when it completes, even if its media was purged meanwhile.
func (p *Provider) Purge(mediaID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if mediaID == "" {
		p.queue = nil
		p.queued = make(map[tileid.TileId]bool)
		return
	}

	kept := p.queue[:0]
	for _, id := range p.queue {
		if id.MediaID == mediaID {
			delete(p.queued, id)
			continue
		}
		kept = append(kept, id)
	}
	p.queue = kept
}

// Pause suspends the worker between pops, used during operations that
// need exclusive filesystem access (a pyramid rebuild, a cleanup sweep).
func (p *Provider) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume wakes a paused worker.
func (p *Provider) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Signal()
}

// Close signals the worker to stop accepting new requests once its queue
// drains. It returns immediately; use Done to wait for the worker
// goroutine to actually exit.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Signal()
}

// Done returns a channel closed once the worker goroutine has exited
// after Close, having drained any requests still queued at the time of
// closing (not ones enqueued afterward -- Enqueue on a closed provider is
// a no-op already serviced by the queue-empty check in run).
func (p *Provider) Done() <-chan struct{} {
	return p.stopped
}

// QueueLen reports the number of requests currently waiting, for tests
// and diagnostics.
func (p *Provider) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Provider) run() {
	defer close(p.stopped)
	for {
		p.mu.Lock()
		for (len(p.queue) == 0 || p.paused) && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		if p.paused {
			p.mu.Unlock()
			continue
		}

		// Pop from the top (LIFO).
		last := len(p.queue) - 1
		id := p.queue[last]
		p.queue = p.queue[:last]
		delete(p.queued, id)
		p.mu.Unlock()

		t, ok := p.loader.Load(id)
		p.cache.Insert(id, t, !ok)
	}
}
