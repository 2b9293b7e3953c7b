// Package codec turns a live grid into an unsealed ship document.
package codec

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"time"

	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/ship/components"
	"shipyard.ai/internal/sim/live"
)

type Encoder struct {
	Graph  live.Graph
	Decals live.DecalExporter // optional
	Logger *log.Logger
	Now    func() time.Time
}

// Stats counts what was left out of a document. Never fatal.
type Stats struct {
	Entities          int
	DroppedEntities   int
	Components        int
	DroppedComponents int
}

type node struct {
	id     live.EntityID
	proto  string
	xf     live.Transform
	parent string // document id
	slot   string
	slots  []string
}

// Encode reads grid from the live graph. The checksum is left empty for the validator.
func (e *Encoder) Encode(grid live.GridID, ownerID, shipName string) (*shipdoc.ShipDocument, Stats, error) {
	var st Stats
	if e.Graph == nil {
		return nil, st, fmt.Errorf("codec: no live graph")
	}
	tiles, err := e.Graph.Tiles(grid)
	if err != nil {
		return nil, st, fmt.Errorf("codec: tiles of %s: %w", grid, err)
	}
	gd := shipdoc.GridDocument{GridID: string(grid), Tiles: encodeTiles(tiles)}

	roots, err := e.Graph.GridEntities(grid)
	if err != nil {
		return nil, st, fmt.Errorf("codec: entities of %s: %w", grid, err)
	}
	top := make([]node, 0, len(roots))
	for _, id := range roots {
		n, ok := e.inspect(id, &st)
		if ok {
			top = append(top, n)
		}
	}
	sort.Slice(top, func(i, j int) bool {
		a, b := top[i], top[j]
		if a.xf.Pos.X != b.xf.Pos.X {
			return a.xf.Pos.X < b.xf.Pos.X
		}
		if a.xf.Pos.Y != b.xf.Pos.Y {
			return a.xf.Pos.Y < b.xf.Pos.Y
		}
		if a.proto != b.proto {
			return a.proto < b.proto
		}
		return a.id < b.id
	})

	seen := make(map[live.EntityID]bool, len(top))
	order := make([]node, 0, len(top))
	for _, n := range top {
		seen[n.id] = true
		order = append(order, n)
	}
	docIDs := make(map[live.EntityID]string, len(order))
	for i := range order {
		docIDs[order[i].id] = "e" + strconv.Itoa(i+1)
	}
	for i := range top {
		order = e.appendContents(order, docIDs, seen, top[i], &st)
	}

	gd.Entities = make([]shipdoc.EntityRecord, 0, len(order))
	for _, n := range order {
		gd.Entities = append(gd.Entities, e.record(n, docIDs[n.id], &st))
	}
	st.Entities = len(gd.Entities)

	if e.Decals != nil {
		if blob, ok := e.Decals.Decals(grid); ok {
			gd.DecalBlob = blob
		}
	}

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	doc := &shipdoc.ShipDocument{
		Metadata: shipdoc.Metadata{
			FormatVersion: shipdoc.FormatVersion,
			CreatedAt:     now().UTC(),
			OriginGridID:  string(grid),
			OwnerID:       ownerID,
			ShipName:      shipName,
		},
		Grids: []shipdoc.GridDocument{gd},
	}
	if st.DroppedEntities > 0 || st.DroppedComponents > 0 {
		e.logger().Printf("encode %s: dropped %d entities, %d components", grid, st.DroppedEntities, st.DroppedComponents)
	}
	return doc, st, nil
}

func (e *Encoder) logger() *log.Logger {
	if e.Logger == nil {
		return log.New(io.Discard, "", 0)
	}
	return e.Logger
}

func encodeTiles(tiles []live.Tile) []shipdoc.TileRecord {
	out := make([]shipdoc.TileRecord, 0, len(tiles))
	for _, t := range tiles {
		if t.Type == "" || t.Type == live.SpaceTile {
			continue
		}
		out = append(out, shipdoc.TileRecord{X: t.Pos.X, Y: t.Pos.Y, TileType: t.Type})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].X != out[j].X {
			return out[i].X < out[j].X
		}
		return out[i].Y < out[j].Y
	})
	return out
}

func (e *Encoder) inspect(id live.EntityID, st *Stats) (node, bool) {
	proto, err := e.Graph.Prototype(id)
	if err != nil || proto == "" {
		e.logger().Printf("encode: skip entity %s: prototype unavailable: %v", id, err)
		st.DroppedEntities++
		return node{}, false
	}
	xf, err := e.Graph.Transform(id)
	if err != nil {
		e.logger().Printf("encode: skip entity %s (%s): %v", id, proto, err)
		st.DroppedEntities++
		return node{}, false
	}
	return node{id: id, proto: proto, xf: xf, slots: e.Graph.Slots(id)}, true
}

// appendContents walks the contents of parent depth-first in slot order and assigns
// document ids as it goes.
func (e *Encoder) appendContents(order []node, docIDs map[live.EntityID]string, seen map[live.EntityID]bool, parent node, st *Stats) []node {
	for _, slot := range parent.slots {
		items, err := e.Graph.Contents(parent.id, slot)
		if err != nil {
			e.logger().Printf("encode: contents of %s/%s: %v", parent.proto, slot, err)
			continue
		}
		for _, id := range items {
			if seen[id] {
				continue
			}
			seen[id] = true
			n, ok := e.inspect(id, st)
			if !ok {
				continue
			}
			n.parent = docIDs[parent.id]
			n.slot = slot
			order = append(order, n)
			docIDs[id] = "e" + strconv.Itoa(len(order))
			order = e.appendContents(order, docIDs, seen, n, st)
		}
	}
	return order
}

func (e *Encoder) record(n node, docID string, st *Stats) shipdoc.EntityRecord {
	rec := shipdoc.EntityRecord{
		EntityID:    docID,
		Prototype:   n.proto,
		Position:    shipdoc.Position{X: components.Round3(n.xf.Pos.X), Y: components.Round3(n.xf.Pos.Y)},
		Rotation:    components.Round3(n.xf.Rotation),
		IsContainer: len(n.slots) > 0,
	}
	if n.parent != "" {
		rec.IsContained = true
		rec.ParentContainerEntityID = n.parent
		rec.ContainerSlotID = n.slot
	}
	rec.Components = e.encodeComponents(n, st)
	return rec
}

func (e *Encoder) encodeComponents(n node, st *Stats) []shipdoc.ComponentRecord {
	kinds, err := e.Graph.Components(n.id)
	if err != nil {
		e.logger().Printf("encode: components of %s: %v", n.proto, err)
		return nil
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	var out []shipdoc.ComponentRecord
	for _, k := range kinds {
		switch components.StrategyOf(k) {
		case components.Blob:
			payload, err := e.Graph.ReadBlob(n.id, k)
			if err != nil {
				e.logger().Printf("encode: drop component %s on %s: %v", k, n.proto, err)
				st.DroppedComponents++
				continue
			}
			out = append(out, shipdoc.ComponentRecord{Type: string(k), Payload: payload})
		case components.Structural:
			rec, err := e.encodeSolution(n.id, k)
			if err != nil {
				e.logger().Printf("encode: drop component %s on %s: %v", k, n.proto, err)
				st.DroppedComponents++
				continue
			}
			out = append(out, rec)
		default:
			continue
		}
		st.Components++
	}
	return out
}

func (e *Encoder) encodeSolution(id live.EntityID, k components.Kind) (shipdoc.ComponentRecord, error) {
	sols, err := e.Graph.Solutions(id)
	if err != nil {
		return shipdoc.ComponentRecord{}, err
	}
	props, err := components.SolutionProperties(sols)
	if err != nil {
		return shipdoc.ComponentRecord{}, err
	}
	return shipdoc.ComponentRecord{Type: string(k), Properties: props}, nil
}
