package rebuild

import (
	"sort"

	"shipyard.ai/internal/persistence/shipdoc"
	"shipyard.ai/internal/sim/live"
)

var neighbours = [4]live.Vec2i{{X: 1, Y: 0}, {X: -1, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1}}

// PlacementOrder splits tiles into 4-connected clusters. Each cluster is in breadth-first
// order from its tile nearest the origin, so every tile after the first touches one
// already placed. Clusters are ordered by their starting tile; the first one holds the
// tile nearest the origin.
func PlacementOrder(tiles []shipdoc.TileRecord) [][]shipdoc.TileRecord {
	at := make(map[live.Vec2i]int, len(tiles))
	starts := make([]int, 0, len(tiles))
	for i, t := range tiles {
		if t.TileType == "" || t.TileType == live.SpaceTile {
			continue
		}
		p := live.Vec2i{X: t.X, Y: t.Y}
		if _, dup := at[p]; dup {
			continue
		}
		at[p] = i
		starts = append(starts, i)
	}
	sort.Slice(starts, func(a, b int) bool {
		ta, tb := tiles[starts[a]], tiles[starts[b]]
		da, db := dist2(ta), dist2(tb)
		if da != db {
			return da < db
		}
		if ta.X != tb.X {
			return ta.X < tb.X
		}
		return ta.Y < tb.Y
	})

	visited := make(map[live.Vec2i]bool, len(at))
	var clusters [][]shipdoc.TileRecord
	for _, s := range starts {
		start := live.Vec2i{X: tiles[s].X, Y: tiles[s].Y}
		if visited[start] {
			continue
		}
		visited[start] = true
		cluster := []shipdoc.TileRecord{tiles[s]}
		queue := []live.Vec2i{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, d := range neighbours {
				n := live.Vec2i{X: cur.X + d.X, Y: cur.Y + d.Y}
				i, ok := at[n]
				if !ok || visited[n] {
					continue
				}
				visited[n] = true
				cluster = append(cluster, tiles[i])
				queue = append(queue, n)
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func dist2(t shipdoc.TileRecord) int64 {
	x, y := int64(t.X), int64(t.Y)
	return x*x + y*y
}
