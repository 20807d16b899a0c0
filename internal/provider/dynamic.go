package provider

import (
	"tilepyramid/internal/tile"
	"tilepyramid/internal/tileid"
)

// Generator is a procedural tile source registered under a name (the
// string following "dynamic:" in a media id). It must be deterministic:
// the same (level, row, col) always produces the same Tile.
type Generator interface {
	Name() string
	TileSize() int
	FileExt() string
	// MaxLevel returns the deepest level the generator will answer for,
	// or -1 for "unbounded."
	MaxLevel() int
	Generate(level, row, col int) tile.Tile
}

// DynamicLoader invokes a registered Generator, rejecting out-of-range
// coordinates with a tombstone before ever calling into it.
type DynamicLoader struct {
	Gen Generator
}

// Load implements Loader.
func (l DynamicLoader) Load(id tileid.TileId) (tile.Tile, bool) {
	if !validCoord(id.Level, id.Row, id.Col) {
		return tile.Tile{}, false
	}
	if max := l.Gen.MaxLevel(); max >= 0 && id.Level > max {
		return tile.Tile{}, false
	}
	return l.Gen.Generate(id.Level, id.Row, id.Col), true
}

// validCoord rejects row/col outside the grid for level, per spec: reject
// row<0, col<0, row > 2^level-1, col > 2^level-1.
func validCoord(level, row, col int) bool {
	if row < 0 || col < 0 {
		return false
	}
	grid := tileid.GridSize(level)
	return row <= grid-1 && col <= grid-1
}

// Registry maps a generator name (the string after "dynamic:") to its
// Provider, so TileManager can route a dynamic media id's requests to the
// worker for its generator.
type Registry struct {
	providers map[string]*Provider
	gens      map[string]Generator
}

// NewRegistry returns an empty generator registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]*Provider), gens: make(map[string]Generator)}
}

// Register associates gen and its already-started worker p, keyed by
// gen.Name(). Registering the same name twice replaces the prior
// provider (its old worker keeps draining its queue but is no longer
// reachable through the registry).
func (r *Registry) Register(gen Generator, p *Provider) {
	r.gens[gen.Name()] = gen
	r.providers[gen.Name()] = p
}

// Provider returns the worker registered for name, and true, or nil and
// false if no generator is registered under that name.
func (r *Registry) Provider(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Generator returns the generator registered under name, and true, or
// the zero value and false.
func (r *Registry) Generator(name string) (Generator, bool) {
	g, ok := r.gens[name]
	return g, ok
}

// CloseAll closes every registered provider's worker, used when the
// manager shuts down.
func (r *Registry) CloseAll() {
	for _, p := range r.providers {
		p.Close()
	}
}

// Providers returns every registered provider, for callers (Manager.Shutdown)
// that need to wait on each one's Done channel after CloseAll.
func (r *Registry) Providers() []*Provider {
	all := make([]*Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	return all
}
