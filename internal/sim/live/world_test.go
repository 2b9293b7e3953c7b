package live

import (
	"errors"
	"testing"

	"shipyard.ai/internal/ship/components"
)

const testCatalog = `
prototypes:
  - id: Floor
  - id: Wrench
    components:
      - kind: stack
        payload: '{"count":1}'
  - id: Crowbar
  - id: Locker
    slots:
      - id: storage
        capacity: 2
        defaults: [Crowbar]
  - id: Beaker
    components:
      - kind: solution
        solutions:
          beaker:
            max_volume: 50
            temperature: 293.15
            reagents: {Water: 10}
`

func newTestWorld(t *testing.T) *World {
	t.Helper()
	cat, err := ParseCatalog([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return NewWorld(cat)
}

func TestSetTile_SplitsDisconnectedTiles(t *testing.T) {
	w := newTestWorld(t)
	g := w.NewGrid()

	if got, _ := w.SetTile(g, Vec2i{0, 0}, "Floor"); got != g {
		t.Fatalf("first tile landed on %s", got)
	}
	if got, _ := w.SetTile(g, Vec2i{1, 0}, "Floor"); got != g {
		t.Fatalf("adjacent tile landed on %s", got)
	}
	split, _ := w.SetTile(g, Vec2i{5, 5}, "Floor")
	if split == g {
		t.Fatalf("disconnected tile should split off")
	}
	if got, _ := w.SetTile(g, Vec2i{5, 6}, "Floor"); got != split {
		t.Fatalf("tile next to split grid landed on %s want %s", got, split)
	}
	if n := len(w.SplitsOf(g)); n != 1 {
		t.Fatalf("splits=%d want 1", n)
	}
	tiles, _ := w.Tiles(g)
	if len(tiles) != 2 {
		t.Fatalf("primary tiles=%d want 2", len(tiles))
	}
}

func TestSpawn_ContainerDefaultsAndInsert(t *testing.T) {
	w := newTestWorld(t)
	g := w.NewGrid()
	locker, err := w.Spawn(g, "Locker", Transform{})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	items, _ := w.Contents(locker, "storage")
	if len(items) != 1 {
		t.Fatalf("default contents=%d want 1", len(items))
	}
	wrench, _ := w.Spawn(g, "Wrench", Transform{Pos: Vec2{3, 3}})
	if err := w.Insert(locker, "storage", wrench); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if p, slot, ok := w.ParentOf(wrench); !ok || p != locker || slot != "storage" {
		t.Fatalf("parent=%s slot=%s ok=%v", p, slot, ok)
	}
	top, _ := w.GridEntities(g)
	if len(top) != 1 || top[0] != locker {
		t.Fatalf("grid entities=%v want only locker", top)
	}

	extra, _ := w.Spawn(g, "Wrench", Transform{})
	if err := w.Insert(locker, "storage", extra); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
	if err := w.Insert(locker, "nope", extra); !errors.Is(err, ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot, got %v", err)
	}

	if err := w.Delete(locker); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if w.Exists(wrench) {
		t.Fatalf("contents should be deleted with the container")
	}
	if w.EntityCount() != 1 {
		t.Fatalf("entities=%d want 1", w.EntityCount())
	}
}

func TestSolutions_AddReagentRespectsMaxVolume(t *testing.T) {
	w := newTestWorld(t)
	g := w.NewGrid()
	b, _ := w.Spawn(g, "Beaker", Transform{})

	sols, err := w.Solutions(b)
	if err != nil {
		t.Fatalf("solutions: %v", err)
	}
	if sols["beaker"].Volume != 10 || sols["beaker"].Reagents["Water"] != 10 {
		t.Fatalf("unexpected default solution: %+v", sols["beaker"])
	}
	if err := w.ClearSolutions(b); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := w.AddReagent(b, "beaker", "Ethanol", 45); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.AddReagent(b, "beaker", "Water", 10); err == nil {
		t.Fatalf("expected overflow")
	}

	w.MarkBroken(b, components.Solution)
	if _, err := w.Solutions(b); !errors.Is(err, ErrComponent) {
		t.Fatalf("expected ErrComponent, got %v", err)
	}
}

func TestParseCatalog_RejectsUnknownDefault(t *testing.T) {
	_, err := ParseCatalog([]byte(`
prototypes:
  - id: Box
    slots:
      - id: main
        defaults: [Ghost]
`))
	if err == nil {
		t.Fatalf("expected unknown default rejected")
	}
}
