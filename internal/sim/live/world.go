package live

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"shipyard.ai/internal/ship/components"
)

var (
	ErrNoGrid      = errors.New("grid not found")
	ErrNoEntity    = errors.New("entity not found")
	ErrNoSlot      = errors.New("container slot not found")
	ErrSlotFull    = errors.New("container slot full")
	ErrNoProto     = errors.New("unknown prototype")
	ErrComponent   = errors.New("component unavailable")
	ErrContainLoop = errors.New("container would contain itself")
)

// maxDefaultDepth bounds recursive default contents in badly authored catalogs.
const maxDefaultDepth = 8

// World is an in-memory Graph. All methods are safe for concurrent use.
type World struct {
	mu sync.Mutex

	cat    *Catalog
	grids  map[GridID]*gridState
	ents   map[EntityID]*entity
	decals map[GridID]string
	atmos  map[GridID]int
}

type gridState struct {
	id        GridID
	splitFrom GridID
	splits    []GridID
	tiles     map[Vec2i]string
	members   []EntityID // entities parented directly to the grid, in spawn order
}

type entity struct {
	id    EntityID
	proto string
	grid  GridID
	xf    Transform

	parent EntityID // container holding this entity, if any
	slot   string

	slotOrder []string
	slots     map[string]*slotState
	comps     map[components.Kind]*componentState
}

type slotState struct {
	capacity int
	items    []EntityID
}

type componentState struct {
	blob      string
	solutions map[string]*components.SolutionState
	broken    bool
}

func NewWorld(cat *Catalog) *World {
	if cat == nil {
		cat = &Catalog{ByID: map[string]Prototype{}}
	}
	return &World{
		cat:    cat,
		grids:  map[GridID]*gridState{},
		ents:   map[EntityID]*entity{},
		decals: map[GridID]string{},
		atmos:  map[GridID]int{},
	}
}

func (w *World) NewGrid() GridID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.newGridLocked("")
}

func (w *World) newGridLocked(splitFrom GridID) GridID {
	id := GridID(uuid.NewString())
	w.grids[id] = &gridState{id: id, splitFrom: splitFrom, tiles: map[Vec2i]string{}}
	return id
}

// Grids lists every grid id, sorted.
func (w *World) Grids() []GridID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]GridID, 0, len(w.grids))
	for id := range w.grids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SplitsOf returns the grids that were split off g while placing tiles.
func (w *World) SplitsOf(g GridID) []GridID {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs := w.grids[g]
	if gs == nil {
		return nil
	}
	return append([]GridID(nil), gs.splits...)
}

func (w *World) SetDecals(g GridID, blob string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.decals[g] = blob
}

func (w *World) Decals(g GridID) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.decals[g]
	return b, ok
}

// RestoreDecals replaces the decal layer of g.
func (w *World) RestoreDecals(g GridID, blob string) { w.SetDecals(g, blob) }

// RegenerateAtmosphere only counts invocations; the in-memory world has no gas model.
func (w *World) RegenerateAtmosphere(g GridID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.atmos[g]++
}

func (w *World) AtmosphereRegens(g GridID) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.atmos[g]
}

func (w *World) Tiles(g GridID) ([]Tile, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs := w.grids[g]
	if gs == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGrid, g)
	}
	out := make([]Tile, 0, len(gs.tiles))
	for p, t := range gs.tiles {
		out = append(out, Tile{Pos: p, Type: t})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.X != out[j].Pos.X {
			return out[i].Pos.X < out[j].Pos.X
		}
		return out[i].Pos.Y < out[j].Pos.Y
	})
	return out, nil
}

func (w *World) SetTile(g GridID, pos Vec2i, tileType string) (GridID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs := w.grids[g]
	if gs == nil {
		return "", fmt.Errorf("%w: %s", ErrNoGrid, g)
	}
	if tileType == "" || tileType == SpaceTile {
		delete(gs.tiles, pos)
		return g, nil
	}
	if _, ok := gs.tiles[pos]; ok || len(gs.tiles) == 0 || touches(gs, pos) {
		gs.tiles[pos] = tileType
		return g, nil
	}
	for _, sid := range gs.splits {
		if sg := w.grids[sid]; sg != nil && touches(sg, pos) {
			sg.tiles[pos] = tileType
			return sid, nil
		}
	}
	// Disconnected from everything placed so far: the tile becomes its own grid.
	sid := w.newGridLocked(g)
	gs.splits = append(gs.splits, sid)
	w.grids[sid].tiles[pos] = tileType
	return sid, nil
}

func touches(gs *gridState, p Vec2i) bool {
	for _, d := range [4]Vec2i{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
		if _, ok := gs.tiles[Vec2i{X: p.X + d.X, Y: p.Y + d.Y}]; ok {
			return true
		}
	}
	return false
}

func (w *World) Spawn(g GridID, prototype string, at Transform) (EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs := w.grids[g]
	if gs == nil {
		return "", fmt.Errorf("%w: %s", ErrNoGrid, g)
	}
	e, err := w.spawnLocked(g, prototype, at, 0)
	if err != nil {
		return "", err
	}
	gs.members = append(gs.members, e.id)
	return e.id, nil
}

func (w *World) spawnLocked(g GridID, prototype string, at Transform, depth int) (*entity, error) {
	p, ok := w.cat.Lookup(prototype)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProto, prototype)
	}
	e := &entity{
		id:    EntityID(uuid.NewString()),
		proto: p.ID,
		grid:  g,
		xf:    at,
		comps: map[components.Kind]*componentState{},
	}
	for _, cd := range p.Components {
		k, err := components.Parse(cd.Kind)
		if err != nil {
			return nil, err
		}
		cs := &componentState{blob: cd.Payload}
		if k == components.Solution {
			cs.solutions = map[string]*components.SolutionState{}
			for name, sd := range cd.Solutions {
				st := &components.SolutionState{MaxVolume: sd.MaxVolume, Temperature: sd.Temperature, Reagents: map[string]float64{}}
				for r, q := range sd.Reagents {
					st.Reagents[r] = q
					st.Volume += q
				}
				cs.solutions[name] = st
			}
		}
		e.comps[k] = cs
	}
	w.ents[e.id] = e
	if len(p.Slots) == 0 {
		return e, nil
	}
	e.slots = map[string]*slotState{}
	for _, s := range p.Slots {
		e.slotOrder = append(e.slotOrder, s.ID)
		e.slots[s.ID] = &slotState{capacity: s.Capacity}
	}
	if depth >= maxDefaultDepth {
		return e, nil
	}
	for _, s := range p.Slots {
		for _, d := range s.Defaults {
			child, err := w.spawnLocked(g, d, at, depth+1)
			if err != nil {
				return nil, err
			}
			child.parent = e.id
			child.slot = s.ID
			e.slots[s.ID].items = append(e.slots[s.ID].items, child.id)
		}
	}
	return e, nil
}

// Delete removes an entity together with everything it contains.
func (w *World) Delete(id EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	w.detachLocked(e)
	w.deleteTreeLocked(e)
	return nil
}

func (w *World) deleteTreeLocked(e *entity) {
	for _, sid := range e.slotOrder {
		for _, cid := range e.slots[sid].items {
			if c := w.ents[cid]; c != nil {
				w.deleteTreeLocked(c)
			}
		}
	}
	delete(w.ents, e.id)
}

func (w *World) detachLocked(e *entity) {
	if e.parent != "" {
		if p := w.ents[e.parent]; p != nil {
			if s := p.slots[e.slot]; s != nil {
				s.items = removeID(s.items, e.id)
			}
		}
		e.parent, e.slot = "", ""
		return
	}
	if gs := w.grids[e.grid]; gs != nil {
		gs.members = removeID(gs.members, e.id)
	}
}

func removeID(ids []EntityID, id EntityID) []EntityID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

func (w *World) Exists(id EntityID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ents[id] != nil
}

// EntityCount counts every live entity, contained ones included.
func (w *World) EntityCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.ents)
}

// ParentOf returns the container and slot holding id, if any.
func (w *World) ParentOf(id EntityID) (EntityID, string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil || e.parent == "" {
		return "", "", false
	}
	return e.parent, e.slot, true
}

func (w *World) GridEntities(g GridID) ([]EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	gs := w.grids[g]
	if gs == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGrid, g)
	}
	return append([]EntityID(nil), gs.members...), nil
}

func (w *World) Prototype(id EntityID) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return "", fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	return e.proto, nil
}

func (w *World) Transform(id EntityID) (Transform, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return Transform{}, fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	return e.xf, nil
}

func (w *World) Slots(id EntityID) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil || e.slots == nil {
		return nil
	}
	return append([]string(nil), e.slotOrder...)
}

func (w *World) Contents(id EntityID, slot string) ([]EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	s := e.slots[slot]
	if s == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoSlot, e.proto, slot)
	}
	return append([]EntityID(nil), s.items...), nil
}

func (w *World) Insert(container EntityID, slot string, item EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := w.ents[container]
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNoEntity, container)
	}
	it := w.ents[item]
	if it == nil {
		return fmt.Errorf("%w: %s", ErrNoEntity, item)
	}
	s := c.slots[slot]
	if s == nil {
		return fmt.Errorf("%w: %s/%s", ErrNoSlot, c.proto, slot)
	}
	if s.capacity > 0 && len(s.items) >= s.capacity {
		return fmt.Errorf("%w: %s/%s", ErrSlotFull, c.proto, slot)
	}
	for cur := c; cur != nil; cur = w.ents[cur.parent] {
		if cur.id == item {
			return ErrContainLoop
		}
	}
	w.detachLocked(it)
	it.parent = container
	it.slot = slot
	it.grid = c.grid
	it.xf = c.xf
	s.items = append(s.items, item)
	return nil
}

func (w *World) Components(id EntityID) ([]components.Kind, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	out := make([]components.Kind, 0, len(e.comps))
	for k := range e.comps {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w *World) HasComponent(id EntityID, kind components.Kind) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return false
	}
	_, ok := e.comps[kind]
	return ok
}

func (w *World) AddComponent(id EntityID, kind components.Kind) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e := w.ents[id]
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	if _, ok := e.comps[kind]; ok {
		return nil
	}
	cs := &componentState{}
	if kind == components.Solution {
		cs.solutions = map[string]*components.SolutionState{}
	}
	e.comps[kind] = cs
	return nil
}

// MarkBroken makes every later read or write of the component fail, the way a live
// component whose state cannot be serialized behaves.
func (w *World) MarkBroken(id EntityID, kind components.Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e := w.ents[id]; e != nil {
		if cs := e.comps[kind]; cs != nil {
			cs.broken = true
		}
	}
}

func (w *World) componentLocked(id EntityID, kind components.Kind) (*componentState, error) {
	e := w.ents[id]
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoEntity, id)
	}
	cs := e.comps[kind]
	if cs == nil || cs.broken {
		return nil, fmt.Errorf("%w: %s on %s", ErrComponent, kind, e.proto)
	}
	return cs, nil
}

func (w *World) ReadBlob(id EntityID, kind components.Kind) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, kind)
	if err != nil {
		return "", err
	}
	return cs.blob, nil
}

func (w *World) WriteBlob(id EntityID, kind components.Kind, payload string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, kind)
	if err != nil {
		return err
	}
	cs.blob = payload
	return nil
}

func (w *World) Solutions(id EntityID) (map[string]components.SolutionState, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, components.Solution)
	if err != nil {
		return nil, err
	}
	out := make(map[string]components.SolutionState, len(cs.solutions))
	for name, s := range cs.solutions {
		if math.IsNaN(s.Volume) || math.IsNaN(s.Temperature) {
			return nil, fmt.Errorf("%w: solution %q has NaN state", ErrComponent, name)
		}
		cp := *s
		cp.Reagents = make(map[string]float64, len(s.Reagents))
		for r, q := range s.Reagents {
			cp.Reagents[r] = q
		}
		out[name] = cp
	}
	return out, nil
}

func (w *World) ClearSolutions(id EntityID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, components.Solution)
	if err != nil {
		return err
	}
	for _, s := range cs.solutions {
		s.Reagents = map[string]float64{}
		s.Volume = 0
	}
	return nil
}

func (w *World) EnsureSolution(id EntityID, name string, maxVolume, temperature float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, components.Solution)
	if err != nil {
		return err
	}
	s := cs.solutions[name]
	if s == nil {
		s = &components.SolutionState{Reagents: map[string]float64{}}
		cs.solutions[name] = s
	}
	s.MaxVolume = maxVolume
	s.Temperature = temperature
	return nil
}

func (w *World) AddReagent(id EntityID, solution, reagent string, quantity float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cs, err := w.componentLocked(id, components.Solution)
	if err != nil {
		return err
	}
	s := cs.solutions[solution]
	if s == nil {
		return fmt.Errorf("%w: no solution %q", ErrComponent, solution)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: non-positive quantity %v of %s", ErrComponent, quantity, reagent)
	}
	if s.MaxVolume > 0 && s.Volume+quantity > s.MaxVolume+1e-9 {
		return fmt.Errorf("%w: solution %q overflow (%v + %v > %v)", ErrComponent, solution, s.Volume, quantity, s.MaxVolume)
	}
	s.Reagents[reagent] += quantity
	s.Volume += quantity
	return nil
}
