package rebuild

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/ship/components"
	"shipyard.ai/internal/sim/live"
)

func newWorld(t *testing.T) *live.World {
	t.Helper()
	cat, err := live.LoadCatalog("../../../configs/prototypes.yaml")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return live.NewWorld(cat)
}

func newEngine(w *live.World) *Engine {
	return &Engine{Graph: w, Hooks: w, Scheduler: Immediate{}}
}

func floor(x, y int) shipdoc.TileRecord { return shipdoc.TileRecord{X: x, Y: y, TileType: "Floor"} }

func docOf(tiles []shipdoc.TileRecord, ents ...shipdoc.EntityRecord) *shipdoc.ShipDocument {
	return &shipdoc.ShipDocument{
		Metadata: shipdoc.Metadata{FormatVersion: 1, OwnerID: "alice", ShipName: "Tug"},
		Grids:    []shipdoc.GridDocument{{GridID: "g1", Tiles: tiles, Entities: ents}},
	}
}

func container(id, proto string) shipdoc.EntityRecord {
	return shipdoc.EntityRecord{EntityID: id, Prototype: proto, IsContainer: true}
}

func contained(id, proto, parent, slot string) shipdoc.EntityRecord {
	return shipdoc.EntityRecord{EntityID: id, Prototype: proto, IsContained: true, ParentContainerEntityID: parent, ContainerSlotID: slot}
}

func TestPlacementOrder_EveryTileTouchesPlaced(t *testing.T) {
	// A U shape listed so that naive order would leave (2,0) detached from (0,0).
	tiles := []shipdoc.TileRecord{floor(2, 2), floor(0, 0), floor(2, 0), floor(0, 1), floor(0, 2), floor(1, 2), floor(2, 1)}
	clusters := PlacementOrder(tiles)
	if len(clusters) != 1 {
		t.Fatalf("clusters=%d want 1", len(clusters))
	}
	got := clusters[0]
	if got[0].X != 0 || got[0].Y != 0 {
		t.Fatalf("expected flood to start at origin, got %+v", got[0])
	}
	for i := 1; i < len(got); i++ {
		ok := false
		for _, prev := range got[:i] {
			dx, dy := got[i].X-prev.X, got[i].Y-prev.Y
			if dx*dx+dy*dy == 1 {
				ok = true
				break
			}
		}
		if !ok {
			t.Fatalf("tile %+v placed before any neighbour", got[i])
		}
	}
}

func TestPlacementOrder_ClustersAndSpace(t *testing.T) {
	tiles := []shipdoc.TileRecord{floor(10, 10), floor(1, 0), floor(11, 10), {X: 5, Y: 5, TileType: live.SpaceTile}, floor(0, 0)}
	clusters := PlacementOrder(tiles)
	if len(clusters) != 2 {
		t.Fatalf("clusters=%d want 2", len(clusters))
	}
	if clusters[0][0] != floor(0, 0) || clusters[1][0] != floor(10, 10) {
		t.Fatalf("unexpected cluster starts: %+v", clusters)
	}
}

func TestRebuild_PreservesConnectivity(t *testing.T) {
	tiles := []shipdoc.TileRecord{floor(0, 0), floor(2, 0), floor(1, 0), floor(3, 0)}

	// Placing in document order splits the grid.
	naive := newWorld(t)
	g := naive.NewGrid()
	for _, tr := range tiles {
		_, _ = naive.SetTile(g, live.Vec2i{X: tr.X, Y: tr.Y}, tr.TileType)
	}
	if len(naive.SplitsOf(g)) == 0 {
		t.Fatalf("expected naive placement to split")
	}

	w := newWorld(t)
	rep, err := newEngine(w).Rebuild(docOf(tiles))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(rep.Grids) != 1 || len(w.SplitsOf(rep.Grid)) != 0 {
		t.Fatalf("connected ship split: grids=%v", rep.Grids)
	}
	placed, _ := w.Tiles(rep.Grid)
	if len(placed) != 4 {
		t.Fatalf("tiles=%d want 4", len(placed))
	}
}

func TestRebuild_DisconnectedClustersReported(t *testing.T) {
	w := newWorld(t)
	rep, err := newEngine(w).Rebuild(docOf([]shipdoc.TileRecord{floor(0, 0), floor(8, 8), floor(8, 9)}))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(rep.Grids) != 2 {
		t.Fatalf("grids=%v want 2", rep.Grids)
	}
	if len(rep.Warnings) == 0 || !strings.Contains(rep.Warnings[0], "disconnected") {
		t.Fatalf("expected split warning, got %v", rep.Warnings)
	}
	for _, g := range rep.Grids {
		if w.AtmosphereRegens(g) != 1 {
			t.Fatalf("atmosphere not regenerated on %s", g)
		}
	}
}

func TestRebuild_ContainerTwoPhase(t *testing.T) {
	w := newWorld(t)
	locker := container("e1", "Locker")
	locker.Position = shipdoc.Position{X: 0.5, Y: 0.5}
	doc := docOf([]shipdoc.TileRecord{floor(0, 0)}, locker, contained("e2", "Wrench", "e1", "storage"))
	rep, err := newEngine(w).Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.Legacy || rep.Spawned != 2 || rep.Dropped != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if w.EntityCount() != 2 {
		t.Fatalf("entities=%d want 2 (default contents must be cleared)", w.EntityCount())
	}
	roots, _ := w.GridEntities(rep.Grid)
	if len(roots) != 1 {
		t.Fatalf("top-level=%d want 1", len(roots))
	}
	items, _ := w.Contents(roots[0], "storage")
	if len(items) != 1 {
		t.Fatalf("locker holds %d items want 1", len(items))
	}
	if p, _ := w.Prototype(items[0]); p != "Wrench" {
		t.Fatalf("locker holds %s", p)
	}
	xf, _ := w.Transform(items[0])
	if xf.Pos.X != 0.5 || xf.Pos.Y != 0.5 {
		t.Fatalf("wrench left at placeholder: %+v", xf)
	}
}

func TestRebuild_NestedContainersAnyOrder(t *testing.T) {
	w := newWorld(t)
	doc := docOf(nil,
		contained("e3", "Paper", "e2", "main"),
		contained("e2", "Backpack", "e1", "storage"),
		container("e1", "Locker"),
	)
	doc.Grids[0].Entities[1].IsContainer = true
	rep, err := newEngine(w).Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.Spawned != 3 || rep.Dropped != 0 {
		t.Fatalf("unexpected report: %+v warnings=%v", rep, rep.Warnings)
	}
	// Backpack's default Flashlight and Locker's default Crowbar are gone.
	if w.EntityCount() != 3 {
		t.Fatalf("entities=%d want 3", w.EntityCount())
	}
	roots, _ := w.GridEntities(rep.Grid)
	packs, _ := w.Contents(roots[0], "storage")
	if len(packs) != 1 {
		t.Fatalf("locker contents=%d", len(packs))
	}
	papers, _ := w.Contents(packs[0], "main")
	if len(papers) != 1 {
		t.Fatalf("backpack contents=%d", len(papers))
	}
	if p, _ := w.Prototype(papers[0]); p != "Paper" {
		t.Fatalf("backpack holds %s", p)
	}
}

func TestRebuild_UnplaceableContentsDropped(t *testing.T) {
	cases := []struct {
		name string
		ents []shipdoc.EntityRecord
	}{
		{"missing parent", []shipdoc.EntityRecord{container("e1", "Crate"), contained("e2", "Wrench", "e99", "storage")}},
		{"parent not container", []shipdoc.EntityRecord{{EntityID: "e1", Prototype: "Chair"}, contained("e2", "Wrench", "e1", "storage")}},
		{"missing slot id", []shipdoc.EntityRecord{container("e1", "Crate"), contained("e2", "Wrench", "e1", "")}},
		{"unknown slot", []shipdoc.EntityRecord{container("e1", "Crate"), contained("e2", "Wrench", "e1", "bogus")}},
		{"self", []shipdoc.EntityRecord{container("e1", "Crate"), {EntityID: "e2", Prototype: "Crate", IsContainer: true, IsContained: true, ParentContainerEntityID: "e2", ContainerSlotID: "storage"}}},
		{"unknown parent prototype", []shipdoc.EntityRecord{container("e1", "Starship"), contained("e2", "Wrench", "e1", "storage")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := newWorld(t)
			rep, err := newEngine(w).Rebuild(docOf(nil, tc.ents...))
			if err != nil {
				t.Fatalf("rebuild: %v", err)
			}
			if rep.Dropped == 0 {
				t.Fatalf("expected a drop, got %+v", rep)
			}
			roots, _ := w.GridEntities(rep.Grid)
			for _, id := range roots {
				if p, _ := w.Prototype(id); p == "Wrench" {
					t.Fatalf("dropped item left floating on the grid")
				}
			}
		})
	}
}

func TestRebuild_SlotFullDropsOverflow(t *testing.T) {
	w := newWorld(t)
	doc := docOf(nil,
		container("e1", "Crate"),
		contained("e2", "Wrench", "e1", "storage"),
		contained("e3", "Crowbar", "e1", "storage"),
	)
	rep, err := newEngine(w).Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.Spawned != 2 || rep.Dropped != 1 {
		t.Fatalf("spawned=%d dropped=%d", rep.Spawned, rep.Dropped)
	}
	if w.EntityCount() != 2 {
		t.Fatalf("entities=%d want 2", w.EntityCount())
	}
}

func TestRebuild_CycleDropped(t *testing.T) {
	w := newWorld(t)
	a := contained("e1", "Crate", "e2", "storage")
	a.IsContainer = true
	b := contained("e2", "Crate", "e1", "storage")
	b.IsContainer = true
	rep, err := newEngine(w).Rebuild(docOf(nil, a, b))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.Dropped != 2 || w.EntityCount() != 0 {
		t.Fatalf("dropped=%d entities=%d", rep.Dropped, w.EntityCount())
	}
}

func TestRebuild_LegacySinglePass(t *testing.T) {
	w := newWorld(t)
	doc := docOf([]shipdoc.TileRecord{floor(0, 0)},
		shipdoc.EntityRecord{EntityID: "a", Prototype: "Locker", Position: shipdoc.Position{X: 1, Y: 2}, Rotation: 1.571},
		shipdoc.EntityRecord{EntityID: "b", Prototype: "Chair"},
		shipdoc.EntityRecord{EntityID: "c", Prototype: ""},
	)
	rep, err := newEngine(w).Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if !rep.Legacy || rep.Spawned != 2 || rep.Dropped != 0 || len(rep.Warnings) != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	roots, _ := w.GridEntities(rep.Grid)
	if len(roots) != 2 {
		t.Fatalf("roots=%d", len(roots))
	}
	xf, _ := w.Transform(roots[0])
	if xf.Pos.X != 1 || xf.Pos.Y != 2 || xf.Rotation != 1.571 {
		t.Fatalf("transform=%+v", xf)
	}
	// Locker + its default Crowbar + Chair.
	if w.EntityCount() != 3 {
		t.Fatalf("entities=%d want 3", w.EntityCount())
	}
}

func TestRebuild_ComponentReplay(t *testing.T) {
	w := newWorld(t)
	props, err := components.SolutionProperties(map[string]components.SolutionState{
		"beaker": {Volume: 12, MaxVolume: 50, Temperature: 300, Reagents: map[string]float64{"Water": 10, "Salt": 2}},
	})
	if err != nil {
		t.Fatalf("props: %v", err)
	}
	locker := container("e1", "Locker")
	locker.Components = []shipdoc.ComponentRecord{
		{Type: "lock", Payload: `{"locked":true}`},
		{Type: "label", Payload: "tools"},
		{Type: "transform"},
	}
	beaker := contained("e2", "Beaker", "e1", "storage")
	beaker.Components = []shipdoc.ComponentRecord{{Type: "solution", Properties: props}}
	doc := docOf(nil, locker, beaker)
	rep, err := newEngine(w).Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.ComponentFailures != 0 {
		t.Fatalf("component failures: %v", rep.Warnings)
	}
	roots, _ := w.GridEntities(rep.Grid)
	if b, _ := w.ReadBlob(roots[0], components.Lock); b != `{"locked":true}` {
		t.Fatalf("lock payload=%q", b)
	}
	if !w.HasComponent(roots[0], components.Label) {
		t.Fatalf("missing label component added")
	}
	items, _ := w.Contents(roots[0], "storage")
	sols, err := w.Solutions(items[0])
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}
	s := sols["beaker"]
	if s.Volume != 12 || s.Reagents["Salt"] != 2 || s.Temperature != 300 {
		t.Fatalf("solution=%+v", s)
	}
}

func TestRebuild_ComponentFailuresNeverAbort(t *testing.T) {
	w := newWorld(t)
	var buf bytes.Buffer
	e := newEngine(w)
	e.Logger = log.New(&buf, "", 0)
	e.WarnThreshold = 2
	chair := shipdoc.EntityRecord{EntityID: "e1", Prototype: "Chair", Components: []shipdoc.ComponentRecord{
		{Type: "warp_drive", Payload: "x"},
		{Type: "solution", Properties: map[string]any{"solutions": "nope"}},
		{Type: "solution", Properties: map[string]any{"solutions": map[string]any{
			"s": map[string]any{"volume": 5, "max_volume": 1, "temperature": 1, "reagents": map[string]any{"Water": 5}},
		}}},
	}}
	rep, err := e.Rebuild(docOf(nil, chair, shipdoc.EntityRecord{EntityID: "e2", Prototype: "Table"}))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.ComponentFailures != 3 || rep.Spawned != 2 {
		t.Fatalf("failures=%d spawned=%d warnings=%v", rep.ComponentFailures, rep.Spawned, rep.Warnings)
	}
	if !strings.Contains(buf.String(), "partial restore") {
		t.Fatalf("expected summary log, got %q", buf.String())
	}
}

type recordingScheduler struct {
	delays []time.Duration
	fns    []func()
}

func (r *recordingScheduler) AfterFunc(d time.Duration, f func()) {
	r.delays = append(r.delays, d)
	r.fns = append(r.fns, f)
}

func TestRebuild_HooksDeferred(t *testing.T) {
	w := newWorld(t)
	sched := &recordingScheduler{}
	e := &Engine{Graph: w, Hooks: w, Scheduler: sched, HookDelay: 250 * time.Millisecond}
	doc := docOf([]shipdoc.TileRecord{floor(0, 0)})
	doc.Grids[0].DecalBlob = "decal-layer"
	rep, err := e.Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if w.AtmosphereRegens(rep.Grid) != 0 {
		t.Fatalf("hooks fired before the delay")
	}
	if len(sched.fns) != 2 || sched.delays[0] != 250*time.Millisecond {
		t.Fatalf("scheduled=%d delays=%v", len(sched.fns), sched.delays)
	}
	for _, f := range sched.fns {
		f()
	}
	if w.AtmosphereRegens(rep.Grid) != 1 {
		t.Fatalf("atmosphere hook not run")
	}
	if b, _ := w.Decals(rep.Grid); b != "decal-layer" {
		t.Fatalf("decals=%q", b)
	}
}

func TestRebuild_Errors(t *testing.T) {
	if _, err := (&Engine{}).Rebuild(docOf(nil)); err == nil {
		t.Fatalf("expected error without a graph")
	}
	w := newWorld(t)
	_, err := newEngine(w).Rebuild(&shipdoc.ShipDocument{})
	if !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("expected ErrEmptyDocument, got %v", err)
	}
}

func TestLogHooks_Forwards(t *testing.T) {
	w := newWorld(t)
	var buf bytes.Buffer
	e := &Engine{Graph: w, Hooks: LogHooks{Next: w, Logger: log.New(&buf, "", 0)}, Scheduler: Immediate{}}
	doc := docOf([]shipdoc.TileRecord{floor(0, 0)})
	doc.Grids[0].DecalBlob = "d"
	rep, err := e.Rebuild(doc)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if w.AtmosphereRegens(rep.Grid) != 1 {
		t.Fatalf("atmosphere hook not forwarded")
	}
	if !strings.Contains(buf.String(), "restore decals") {
		t.Fatalf("log=%q", buf.String())
	}
}

func TestRebuild_OverfullSolutionCutToCapacity(t *testing.T) {
	w := newWorld(t)
	beaker := shipdoc.EntityRecord{EntityID: "e1", Prototype: "Beaker", Components: []shipdoc.ComponentRecord{
		{Type: "solution", Properties: map[string]any{"solutions": map[string]any{
			"beaker": map[string]any{"volume": 1.1, "max_volume": 1, "temperature": 293.15, "reagents": map[string]any{
				"A": 0.3, "B": 0.3, "C": 0.5,
			}},
		}}},
	}}
	rep, err := newEngine(w).Rebuild(docOf(nil, beaker))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if rep.ComponentFailures != 1 || !strings.Contains(strings.Join(rep.Warnings, "\n"), `reagent "C" cut`) {
		t.Fatalf("failures=%d warnings=%v", rep.ComponentFailures, rep.Warnings)
	}
	roots, _ := w.GridEntities(rep.Grid)
	sols, err := w.Solutions(roots[0])
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}
	s := sols["beaker"]
	if len(s.Reagents) != 3 || s.Reagents["A"] != 0.3 || s.Reagents["B"] != 0.3 {
		t.Fatalf("reagents=%v", s.Reagents)
	}
	if c := s.Reagents["C"]; c < 0.399 || c > 0.401 {
		t.Fatalf("C=%v", c)
	}
}
