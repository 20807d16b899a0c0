package provider

import (
	"sync/atomic"
	"testing"
	"time"

	"tilepyramid/internal/tile"
	"tilepyramid/internal/tilecache"
	"tilepyramid/internal/tileid"
)

// countingLoader blocks until released, then reports a fixed tile, so
// tests can control exactly when an in-flight load completes.
type countingLoader struct {
	calls   int64
	release chan struct{}
}

func (l *countingLoader) Load(id tileid.TileId) (tile.Tile, bool) {
	atomic.AddInt64(&l.calls, 1)
	if l.release != nil {
		<-l.release
	}
	return tile.Blank(256), true
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestEnqueueLoadsIntoCache(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	loader := &countingLoader{}
	p := New(cache, loader)
	defer p.Close()

	id := tileid.New("m", 2, 0, 0)
	p.Enqueue(id)

	waitUntil(t, time.Second, func() bool { return cache.Contains(id) })
}

func TestDuplicateEnqueueCoalesces(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	release := make(chan struct{})
	loader := &countingLoader{release: release}
	p := New(cache, loader)
	defer p.Close()

	id := tileid.New("m", 2, 1, 1)
	// First enqueue starts an in-flight load that blocks on release.
	p.Enqueue(id)
	waitUntil(t, time.Second, func() bool { return atomic.LoadInt64(&loader.calls) == 1 })

	// Queue a second and third request for the same id while it's still
	// loading; these land in the queue (not in-flight) and should
	// coalesce to a single queued entry.
	p.Enqueue(id)
	p.Enqueue(id)
	if got := p.QueueLen(); got != 1 {
		t.Fatalf("QueueLen = %d, want 1 (duplicate enqueues should coalesce)", got)
	}

	close(release)
	waitUntil(t, time.Second, func() bool { return cache.Contains(id) })
}

func TestPurgeDropsQueuedByMedia(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	release := make(chan struct{})
	loader := &countingLoader{release: release}
	p := New(cache, loader)
	defer func() {
		close(release)
		p.Close()
	}()

	inFlight := tileid.New("keep-inflight", 2, 0, 0)
	p.Enqueue(inFlight)
	waitUntil(t, time.Second, func() bool { return atomic.LoadInt64(&loader.calls) == 1 })

	p.Enqueue(tileid.New("drop-me", 2, 0, 0))
	p.Enqueue(tileid.New("drop-me", 2, 0, 1))
	p.Enqueue(tileid.New("keep-me", 2, 0, 0))

	p.Purge("drop-me")

	if p.QueueLen() != 1 {
		t.Fatalf("QueueLen after purge = %d, want 1 (only keep-me left)", p.QueueLen())
	}
}

func TestPauseResumeSuspendsWorker(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	loader := &countingLoader{}
	p := New(cache, loader)
	defer p.Close()

	p.Pause()
	id := tileid.New("m", 2, 2, 2)
	p.Enqueue(id)

	time.Sleep(30 * time.Millisecond)
	if cache.Contains(id) {
		t.Fatalf("expected paused provider not to process queued request")
	}

	p.Resume()
	waitUntil(t, time.Second, func() bool { return cache.Contains(id) })
}

func TestCloseDrainsQueueBeforeDone(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	loader := &countingLoader{}
	p := New(cache, loader)

	id := tileid.New("m", 2, 5, 5)
	p.Enqueue(id)
	p.Close()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not close within timeout")
	}

	if !cache.Contains(id) {
		t.Fatal("expected queued request to be drained before worker exits")
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	cache := tilecache.New(16, 0, 0)
	loader := &countingLoader{}
	p := New(cache, loader)
	p.Close()
	<-p.Done()

	id := tileid.New("m", 2, 6, 6)
	p.Enqueue(id)
	if p.QueueLen() != 0 {
		t.Fatalf("QueueLen after enqueue-on-closed = %d, want 0", p.QueueLen())
	}
}

func TestDynamicLoaderRejectsOutOfRangeCoordinates(t *testing.T) {
	gen := fakeGenerator{name: "test", maxLevel: -1}
	loader := DynamicLoader{Gen: gen}

	cases := []tileid.TileId{
		tileid.New("dynamic:test", 2, -1, 0),
		tileid.New("dynamic:test", 2, 0, -1),
		tileid.New("dynamic:test", 2, 4, 0), // grid size at level 2 is 4, max index 3
		tileid.New("dynamic:test", 2, 0, 4),
	}
	for _, id := range cases {
		if _, ok := loader.Load(id); ok {
			t.Errorf("expected %v to be rejected as out of range", id)
		}
	}

	valid := tileid.New("dynamic:test", 2, 3, 3)
	if _, ok := loader.Load(valid); !ok {
		t.Errorf("expected %v to be accepted", valid)
	}
}

type fakeGenerator struct {
	name     string
	maxLevel int
}

func (g fakeGenerator) Name() string     { return g.name }
func (g fakeGenerator) TileSize() int    { return 256 }
func (g fakeGenerator) FileExt() string  { return ".png" }
func (g fakeGenerator) MaxLevel() int    { return g.maxLevel }
func (g fakeGenerator) Generate(level, row, col int) tile.Tile {
	return tile.Blank(256)
}
