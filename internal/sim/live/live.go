// Package live is the boundary between the ship codec and the running simulation.
//
// The interfaces are what the codec and the reconstruction engine consume; World is an
// in-memory implementation used by the server binary and by tests.
package live

import "shipyard.ai/internal/ship/components"

type GridID string

type EntityID string

// SpaceTile is the tile type meaning "no tile here".
const SpaceTile = "Space"

type Vec2i struct {
	X int
	Y int
}

type Vec2 struct {
	X float64
	Y float64
}

type Tile struct {
	Pos  Vec2i
	Type string
}

// Transform is grid-local.
type Transform struct {
	Pos      Vec2
	Rotation float64
}

type TileMap interface {
	NewGrid() GridID
	Tiles(g GridID) ([]Tile, error)
	// SetTile places a tile and returns the grid it ended up on. Engines may move a tile
	// that is not connected to the rest of its grid onto a freshly split grid.
	SetTile(g GridID, pos Vec2i, tileType string) (GridID, error)
}

type Spawner interface {
	Spawn(g GridID, prototype string, at Transform) (EntityID, error)
	Delete(id EntityID) error
}

type Hierarchy interface {
	// GridEntities lists entities parented directly to the grid, not through a container.
	GridEntities(g GridID) ([]EntityID, error)
	Prototype(id EntityID) (string, error)
	Transform(id EntityID) (Transform, error)
}

type Containers interface {
	// Slots returns the container slot ids in declaration order; nil for non-containers.
	Slots(id EntityID) []string
	Contents(id EntityID, slot string) ([]EntityID, error)
	Insert(container EntityID, slot string, item EntityID) error
}

type ComponentStore interface {
	Components(id EntityID) ([]components.Kind, error)
	HasComponent(id EntityID, kind components.Kind) bool
	AddComponent(id EntityID, kind components.Kind) error
	ReadBlob(id EntityID, kind components.Kind) (string, error)
	WriteBlob(id EntityID, kind components.Kind, payload string) error

	Solutions(id EntityID) (map[string]components.SolutionState, error)
	ClearSolutions(id EntityID) error
	EnsureSolution(id EntityID, name string, maxVolume, temperature float64) error
	AddReagent(id EntityID, solution, reagent string, quantity float64) error
}

// Graph is the full live entity/grid API.
type Graph interface {
	TileMap
	Spawner
	Hierarchy
	Containers
	ComponentStore
}

// DecalExporter is implemented by graphs that can hand out an opaque decal layer.
type DecalExporter interface {
	Decals(g GridID) (string, bool)
}
