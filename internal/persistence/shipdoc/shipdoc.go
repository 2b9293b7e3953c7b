// Package shipdoc is the portable ship document: the data model, its YAML text form and
// the per-grid index used when rebuilding a ship from it.
package shipdoc

import (
	"time"
)

// FormatVersion is written into every new document. Loads do not branch on it; format
// evolution goes through checksum format detection.
const FormatVersion = 1

type ShipDocument struct {
	Metadata Metadata       `yaml:"metadata"`
	Grids    []GridDocument `yaml:"grids"`
}

type Metadata struct {
	FormatVersion int       `yaml:"format_version"`
	CreatedAt     time.Time `yaml:"created_at"`
	OriginGridID  string    `yaml:"origin_grid_id"`
	OwnerID       string    `yaml:"owner_id"`
	ShipName      string    `yaml:"ship_name"`
	Checksum      string    `yaml:"checksum"`
}

type GridDocument struct {
	GridID    string         `yaml:"grid_id"`
	Tiles     []TileRecord   `yaml:"tiles"`
	Entities  []EntityRecord `yaml:"entities"`
	DecalBlob string         `yaml:"decal_blob,omitempty"`
}

type TileRecord struct {
	X        int    `yaml:"x"`
	Y        int    `yaml:"y"`
	TileType string `yaml:"tile_type"`
}

type Position struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type EntityRecord struct {
	EntityID   string            `yaml:"entity_id"`
	Prototype  string            `yaml:"prototype"`
	Position   Position          `yaml:"position"`
	Rotation   float64           `yaml:"rotation"`
	Components []ComponentRecord `yaml:"components,omitempty"`

	IsContainer             bool   `yaml:"is_container"`
	IsContained             bool   `yaml:"is_contained"`
	ParentContainerEntityID string `yaml:"parent_container_entity_id,omitempty"`
	ContainerSlotID         string `yaml:"container_slot_id,omitempty"`
}

// ComponentRecord carries either an opaque payload or structural properties.
type ComponentRecord struct {
	Type       string         `yaml:"type"`
	Payload    string         `yaml:"payload,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// IsLegacy reports whether no entity anywhere records a container relationship.
func (d *ShipDocument) IsLegacy() bool {
	for gi := range d.Grids {
		for _, e := range d.Grids[gi].Entities {
			if e.IsContainer || e.IsContained {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy.
func (d *ShipDocument) Clone() *ShipDocument {
	out := &ShipDocument{Metadata: d.Metadata, Grids: make([]GridDocument, len(d.Grids))}
	for i, g := range d.Grids {
		ng := g
		ng.Tiles = append([]TileRecord(nil), g.Tiles...)
		ng.Entities = make([]EntityRecord, len(g.Entities))
		for j, e := range g.Entities {
			ne := e
			if e.Components != nil {
				ne.Components = make([]ComponentRecord, len(e.Components))
				for k, c := range e.Components {
					nc := c
					nc.Properties = cloneAnyMap(c.Properties)
					ne.Components[k] = nc
				}
			}
			ng.Entities[j] = ne
		}
		out.Grids[i] = ng
	}
	return out
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneAnyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	default:
		return v
	}
}
