// Package rebuild reconstructs a validated ship document into the live graph.
//
// Failures of single entities or components never abort a rebuild; they are counted
// and reported. Only a missing graph or an empty document is an error, and both are
// detected before anything is spawned.
package rebuild

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/sim/live"
)

const (
	DefaultHookDelay     = 500 * time.Millisecond
	DefaultWarnThreshold = 5
)

var ErrEmptyDocument = errors.New("rebuild: document has no grids")

type Engine struct {
	Graph     live.Graph
	Hooks     Hooks     // optional
	Scheduler Scheduler // defaults to TimerScheduler
	HookDelay time.Duration
	// WarnThreshold is the failure count above which a summary is logged.
	WarnThreshold int
	Logger        *log.Logger
}

type Report struct {
	Grid              live.GridID
	Grids             []live.GridID
	Legacy            bool
	Spawned           int
	Dropped           int
	ComponentFailures int
	Warnings          []string
}

func (r *Report) Failures() int { return r.Dropped + r.ComponentFailures }

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Report) addGrid(g live.GridID) {
	for _, have := range r.Grids {
		if have == g {
			return
		}
	}
	r.Grids = append(r.Grids, g)
}

// Rebuild places every grid of doc onto a fresh live grid.
func (e *Engine) Rebuild(doc *shipdoc.ShipDocument) (*Report, error) {
	if e.Graph == nil {
		return nil, errors.New("rebuild: no live graph")
	}
	if len(doc.Grids) == 0 {
		return nil, ErrEmptyDocument
	}
	rep := &Report{Legacy: doc.IsLegacy()}
	for gi := range doc.Grids {
		gd := &doc.Grids[gi]
		primary := e.Graph.NewGrid()
		if gi == 0 {
			rep.Grid = primary
		}
		rep.addGrid(primary)
		landed := e.placeTiles(primary, gd, rep)
		e.scheduleHooks(primary, landed, gd.DecalBlob)
		if rep.Legacy {
			e.spawnLegacy(primary, gd, rep)
		} else {
			e.spawnTwoPhase(primary, gd, rep)
		}
	}
	e.summarize(doc, rep)
	return rep, nil
}

func (e *Engine) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return e.Logger
}

func (e *Engine) placeTiles(primary live.GridID, gd *shipdoc.GridDocument, rep *Report) []live.GridID {
	clusters := PlacementOrder(gd.Tiles)
	if len(clusters) > 1 {
		rep.warnf("grid %s: %d disconnected tile clusters, the ship will split", gd.GridID, len(clusters))
	}
	var landed []live.GridID
	seen := map[live.GridID]bool{}
	for _, cluster := range clusters {
		for _, t := range cluster {
			g, err := e.Graph.SetTile(primary, live.Vec2i{X: t.X, Y: t.Y}, t.TileType)
			if err != nil {
				rep.warnf("tile (%d,%d) %s: %v", t.X, t.Y, t.TileType, err)
				continue
			}
			if !seen[g] {
				seen[g] = true
				landed = append(landed, g)
				rep.addGrid(g)
			}
		}
	}
	return landed
}

func (e *Engine) scheduleHooks(primary live.GridID, landed []live.GridID, decals string) {
	if e.Hooks == nil {
		return
	}
	sched := e.Scheduler
	if sched == nil {
		sched = TimerScheduler{}
	}
	delay := e.HookDelay
	if delay <= 0 {
		delay = DefaultHookDelay
	}
	hooks := e.Hooks
	grids := append([]live.GridID(nil), landed...)
	sched.AfterFunc(delay, func() {
		for _, g := range grids {
			hooks.RegenerateAtmosphere(g)
		}
	})
	if decals != "" {
		sched.AfterFunc(delay, func() { hooks.RestoreDecals(primary, decals) })
	}
}

func transformOf(rec *shipdoc.EntityRecord) live.Transform {
	return live.Transform{Pos: live.Vec2{X: rec.Position.X, Y: rec.Position.Y}, Rotation: rec.Rotation}
}

func (e *Engine) spawnLegacy(g live.GridID, gd *shipdoc.GridDocument, rep *Report) {
	for i := range gd.Entities {
		rec := &gd.Entities[i]
		if rec.Prototype == "" {
			continue
		}
		id, err := e.Graph.Spawn(g, rec.Prototype, transformOf(rec))
		if err != nil {
			rep.Dropped++
			rep.warnf("entity %s (%s): spawn: %v", rec.EntityID, rec.Prototype, err)
			continue
		}
		rep.Spawned++
		e.restoreComponents(id, rec, rep)
	}
}

func (e *Engine) spawnTwoPhase(g live.GridID, gd *shipdoc.GridDocument, rep *Report) {
	arena := shipdoc.NewArena(gd)
	for _, p := range arena.Problems {
		rep.warnf("grid %s: %s", gd.GridID, p)
	}
	liveIDs := make([]live.EntityID, arena.Len())

	// Phase 1: everything not inside a container, at its recorded transform.
	for i := 0; i < arena.Len(); i++ {
		rec := arena.Entity(i)
		if rec.IsContained || rec.Prototype == "" {
			continue
		}
		id, err := e.Graph.Spawn(g, rec.Prototype, transformOf(rec))
		if err != nil {
			rep.Dropped++
			rep.warnf("entity %s (%s): spawn: %v", rec.EntityID, rec.Prototype, err)
			continue
		}
		e.clearContents(id, rec, rep)
		liveIDs[i] = id
		rep.Spawned++
		e.restoreComponents(id, rec, rep)
	}

	// Phase 2: contained entities, parents before children.
	ordered, orphans := arena.ContainedOrder()
	for _, i := range ordered {
		rec := arena.Entity(i)
		if rec.Prototype == "" {
			continue
		}
		parent := liveIDs[arena.Parent[i]]
		id, err := e.Graph.Spawn(g, rec.Prototype, live.Transform{})
		if err != nil {
			rep.Dropped++
			rep.warnf("entity %s (%s): spawn: %v", rec.EntityID, rec.Prototype, err)
			continue
		}
		if parent == "" {
			e.drop(id, rec, rep, "container was not restored")
			continue
		}
		if err := e.Graph.Insert(parent, rec.ContainerSlotID, id); err != nil {
			e.drop(id, rec, rep, fmt.Sprintf("insert into slot %q: %v", rec.ContainerSlotID, err))
			continue
		}
		e.clearContents(id, rec, rep)
		liveIDs[i] = id
		rep.Spawned++
		e.restoreComponents(id, rec, rep)
	}
	for _, i := range orphans {
		rec := arena.Entity(i)
		if rec.Prototype == "" {
			continue
		}
		reason := arena.Ref[i].String()
		if arena.Ref[i] == shipdoc.RefResolved {
			reason = "container chain never reaches the grid"
		}
		id, err := e.Graph.Spawn(g, rec.Prototype, live.Transform{})
		if err != nil {
			rep.Dropped++
			rep.warnf("entity %s (%s): spawn: %v", rec.EntityID, rec.Prototype, err)
			continue
		}
		e.drop(id, rec, rep, reason)
	}
}

// drop deletes an entity left at the placeholder position.
func (e *Engine) drop(id live.EntityID, rec *shipdoc.EntityRecord, rep *Report, reason string) {
	rep.Dropped++
	rep.warnf("entity %s (%s) dropped: %s", rec.EntityID, rec.Prototype, reason)
	if err := e.Graph.Delete(id); err != nil {
		rep.warnf("entity %s (%s): delete: %v", rec.EntityID, rec.Prototype, err)
	}
}

// clearContents deletes whatever the prototype put into the container on spawn. The
// document is the only source of contents.
func (e *Engine) clearContents(id live.EntityID, rec *shipdoc.EntityRecord, rep *Report) {
	for _, slot := range e.Graph.Slots(id) {
		items, err := e.Graph.Contents(id, slot)
		if err != nil {
			rep.warnf("entity %s (%s): contents of %q: %v", rec.EntityID, rec.Prototype, slot, err)
			continue
		}
		for _, it := range items {
			if err := e.Graph.Delete(it); err != nil {
				rep.warnf("entity %s (%s): clear default contents: %v", rec.EntityID, rec.Prototype, err)
			}
		}
	}
}

func (e *Engine) summarize(doc *shipdoc.ShipDocument, rep *Report) {
	threshold := e.WarnThreshold
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}
	if rep.Failures() <= threshold {
		if len(rep.Warnings) > 0 {
			e.logger().Printf("rebuild %q: %d warnings", doc.Metadata.ShipName, len(rep.Warnings))
		}
		return
	}
	e.logger().Printf("rebuild %q: partial restore: spawned=%d dropped=%d component_failures=%d warnings=%d",
		doc.Metadata.ShipName, rep.Spawned, rep.Dropped, rep.ComponentFailures, len(rep.Warnings))
	for i, w := range rep.Warnings {
		if i == 10 {
			e.logger().Printf("  ... %d more", len(rep.Warnings)-i)
			break
		}
		e.logger().Printf("  %s", w)
	}
}
