package shipdoc

import (
	"reflect"
	"testing"
)

func TestNewArena_ResolvesReferences(t *testing.T) {
	g := &GridDocument{Entities: []EntityRecord{
		{EntityID: "locker", Prototype: "Locker", IsContainer: true},
		{EntityID: "wrench", Prototype: "Wrench", IsContained: true, ParentContainerEntityID: "locker", ContainerSlotID: "storage"},
		{EntityID: "ghost", Prototype: "Wrench", IsContained: true, ParentContainerEntityID: "nope", ContainerSlotID: "storage"},
		{EntityID: "noslot", Prototype: "Wrench", IsContained: true, ParentContainerEntityID: "locker"},
		{EntityID: "inwrench", Prototype: "Bolt", IsContained: true, ParentContainerEntityID: "wrench", ContainerSlotID: "x"},
		{EntityID: "self", Prototype: "Box", IsContainer: true, IsContained: true, ParentContainerEntityID: "self", ContainerSlotID: "x"},
	}}
	a := NewArena(g)
	want := []RefState{RefNone, RefResolved, RefMissingParent, RefMissingSlot, RefParentNotContainer, RefSelf}
	if !reflect.DeepEqual(a.Ref, want) {
		t.Fatalf("refs=%v want %v", a.Ref, want)
	}
	if a.Parent[1] != 0 {
		t.Fatalf("wrench parent=%d want 0", a.Parent[1])
	}
	if len(a.Problems) != 4 {
		t.Fatalf("problems=%d want 4: %v", len(a.Problems), a.Problems)
	}
}

func TestArena_ContainedOrderNestsAndReportsOrphans(t *testing.T) {
	g := &GridDocument{Entities: []EntityRecord{
		{EntityID: "pen", Prototype: "Pen", IsContained: true, ParentContainerEntityID: "box", ContainerSlotID: "main"},
		{EntityID: "box", Prototype: "Box", IsContainer: true, IsContained: true, ParentContainerEntityID: "locker", ContainerSlotID: "storage"},
		{EntityID: "locker", Prototype: "Locker", IsContainer: true},
		{EntityID: "a", Prototype: "Box", IsContainer: true, IsContained: true, ParentContainerEntityID: "b", ContainerSlotID: "main"},
		{EntityID: "b", Prototype: "Box", IsContainer: true, IsContained: true, ParentContainerEntityID: "a", ContainerSlotID: "main"},
	}}
	a := NewArena(g)
	ordered, orphans := a.ContainedOrder()
	if !reflect.DeepEqual(ordered, []int{1, 0}) {
		t.Fatalf("ordered=%v want [1 0]", ordered)
	}
	if !reflect.DeepEqual(orphans, []int{3, 4}) {
		t.Fatalf("orphans=%v want [3 4]", orphans)
	}
}

func TestNewArena_DuplicateIDsKeepFirst(t *testing.T) {
	g := &GridDocument{Entities: []EntityRecord{
		{EntityID: "c", Prototype: "Locker", IsContainer: true},
		{EntityID: "c", Prototype: "Crate", IsContainer: true},
	}}
	a := NewArena(g)
	if a.Index["c"] != 0 {
		t.Fatalf("index=%d want 0", a.Index["c"])
	}
	if len(a.Problems) != 1 {
		t.Fatalf("expected duplicate reported")
	}
}
