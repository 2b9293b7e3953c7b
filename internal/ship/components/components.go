package components

import (
	"fmt"
	"sort"
)

// Kind is a component kind known to the ship codec.
type Kind string

// Strategy decides how a component kind is persisted.
type Strategy int

const (
	// Skip kinds are transient, networking/UI-only or regenerable from the prototype.
	Skip Strategy = iota
	// Blob kinds are persisted as an opaque payload.
	Blob
	// Structural kinds are persisted field by field so their content survives blob format drift.
	Structural
)

func (s Strategy) String() string {
	switch s {
	case Skip:
		return "skip"
	case Blob:
		return "blob"
	case Structural:
		return "structural"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

const (
	Transform     Kind = "transform"
	Physics       Kind = "physics"
	Appearance    Kind = "appearance"
	Network       Kind = "network"
	UserInterface Kind = "user_interface"
	Actor         Kind = "actor"
	Timer         Kind = "timer"

	Stack      Kind = "stack"
	Battery    Kind = "battery"
	Paper      Kind = "paper"
	Lock       Kind = "lock"
	Anchorable Kind = "anchorable"
	Label      Kind = "label"
	IDCard     Kind = "id_card"

	Solution Kind = "solution"
)

var strategies = map[Kind]Strategy{
	Transform:     Skip,
	Physics:       Skip,
	Appearance:    Skip,
	Network:       Skip,
	UserInterface: Skip,
	Actor:         Skip,
	Timer:         Skip,

	Stack:      Blob,
	Battery:    Blob,
	Paper:      Blob,
	Lock:       Blob,
	Anchorable: Blob,
	Label:      Blob,
	IDCard:     Blob,

	Solution: Structural,
}

// Parse resolves a component tag as found in a document.
func Parse(tag string) (Kind, error) {
	k := Kind(tag)
	if _, ok := strategies[k]; !ok {
		return "", fmt.Errorf("unknown component kind %q", tag)
	}
	return k, nil
}

// StrategyOf returns the persistence strategy; unknown kinds are skipped.
func StrategyOf(k Kind) Strategy {
	if s, ok := strategies[k]; ok {
		return s
	}
	return Skip
}

// Persisted reports whether the codec writes this kind into documents.
func Persisted(k Kind) bool { return StrategyOf(k) != Skip }

// All returns every known kind, sorted.
func All() []Kind {
	out := make([]Kind, 0, len(strategies))
	for k := range strategies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SolutionState is the structural content of one named solution in a solution container.
type SolutionState struct {
	Volume      float64
	MaxVolume   float64
	Temperature float64
	Reagents    map[string]float64
}
