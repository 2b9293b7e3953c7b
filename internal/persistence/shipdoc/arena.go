package shipdoc

import "fmt"

// RefState is the outcome of resolving an entity's container reference.
type RefState int

const (
	RefNone RefState = iota // not contained
	RefResolved
	RefMissingParent
	RefParentNotContainer
	RefMissingSlot
	RefSelf
)

func (r RefState) String() string {
	switch r {
	case RefNone:
		return "none"
	case RefResolved:
		return "resolved"
	case RefMissingParent:
		return "missing parent"
	case RefParentNotContainer:
		return "parent is not a container"
	case RefMissingSlot:
		return "missing slot"
	case RefSelf:
		return "contains itself"
	default:
		return fmt.Sprintf("ref(%d)", int(r))
	}
}

// Arena indexes one grid's entities densely in document order. Container references are
// resolved once here; later stages only look at Parent and Ref.
type Arena struct {
	Grid     *GridDocument
	Index    map[string]int
	Parent   []int // -1 unless Ref[i] == RefResolved
	Ref      []RefState
	Problems []string
}

func NewArena(g *GridDocument) *Arena {
	n := len(g.Entities)
	a := &Arena{
		Grid:   g,
		Index:  make(map[string]int, n),
		Parent: make([]int, n),
		Ref:    make([]RefState, n),
	}
	for i, e := range g.Entities {
		if e.EntityID == "" {
			continue
		}
		if prev, dup := a.Index[e.EntityID]; dup {
			a.Problems = append(a.Problems, fmt.Sprintf("duplicate entity id %q at #%d (first at #%d)", e.EntityID, i, prev))
			continue
		}
		a.Index[e.EntityID] = i
	}
	for i, e := range g.Entities {
		a.Parent[i] = -1
		if !e.IsContained {
			continue
		}
		a.Ref[i] = a.resolve(i, e)
		if a.Ref[i] != RefResolved {
			a.Problems = append(a.Problems, fmt.Sprintf("entity %q (%s): %s", e.EntityID, e.Prototype, a.Ref[i]))
		}
	}
	return a
}

func (a *Arena) resolve(i int, e EntityRecord) RefState {
	if e.ParentContainerEntityID == "" {
		return RefMissingParent
	}
	if e.ContainerSlotID == "" {
		return RefMissingSlot
	}
	p, ok := a.Index[e.ParentContainerEntityID]
	if !ok {
		return RefMissingParent
	}
	if p == i {
		return RefSelf
	}
	if !a.Grid.Entities[p].IsContainer {
		return RefParentNotContainer
	}
	a.Parent[i] = p
	return RefResolved
}

func (a *Arena) Len() int { return len(a.Grid.Entities) }

func (a *Arena) Entity(i int) *EntityRecord { return &a.Grid.Entities[i] }

// ContainedOrder returns the contained entities ordered so that every entity comes after
// the container holding it. Entities whose ancestry never reaches a top-level entity
// (unresolved somewhere up the chain, or a cycle) are returned separately.
func (a *Arena) ContainedOrder() (ordered []int, orphans []int) {
	n := a.Len()
	children := make([][]int, n)
	for i := 0; i < n; i++ {
		if a.Ref[i] == RefResolved {
			children[a.Parent[i]] = append(children[a.Parent[i]], i)
		}
	}
	placed := make([]bool, n)
	var walk func(p int)
	walk = func(p int) {
		for _, c := range children[p] {
			if placed[c] {
				continue
			}
			placed[c] = true
			ordered = append(ordered, c)
			walk(c)
		}
	}
	for i := 0; i < n; i++ {
		if !a.Grid.Entities[i].IsContained {
			walk(i)
		}
	}
	for i := 0; i < n; i++ {
		if a.Grid.Entities[i].IsContained && !placed[i] {
			orphans = append(orphans, i)
		}
	}
	return ordered, orphans
}
