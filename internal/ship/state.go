package ship

import "fmt"

// State is a step of a ship load.
type State int

const (
	Received State = iota
	Parsed
	Validated
	Migrated
	Reconstructing
	Complete
	Rejected
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Parsed:
		return "parsed"
	case Validated:
		return "validated"
	case Migrated:
		return "migrated"
	case Reconstructing:
		return "reconstructing"
	case Complete:
		return "complete"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Received:       {Parsed, Rejected},
	Parsed:         {Validated, Rejected},
	Validated:      {Migrated, Reconstructing, Rejected},
	Migrated:       {Reconstructing, Rejected},
	Reconstructing: {Complete, Rejected},
}

// CanTransition reports whether a load may move from one state to the next.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists.
func (s State) Terminal() bool { return s == Complete || s == Rejected }
