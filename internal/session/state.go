// Package session models the host's session lifecycle and fans state
// transitions out to subscribers.
package session

import (
	"fmt"
	"strings"
)

// State is the host's coarse lifecycle phase.
type State int

const (
	// Unloaded is the zero value and the implicit state before the first load.
	Unloaded State = iota
	Loading
	Loaded
	Unloading
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Unloading:
		return "unloading"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState parses a state name, case-insensitively.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unloaded":
		return Unloaded, nil
	case "loading":
		return Loading, nil
	case "loaded":
		return Loaded, nil
	case "unloading":
		return Unloading, nil
	}
	return Unloaded, fmt.Errorf("unknown session state: %q", s)
}

// expected maps each state to the state the host normally moves to next.
var expected = map[State]State{
	Unloaded:  Loading,
	Loading:   Loaded,
	Loaded:    Unloading,
	Unloading: Unloaded,
}

// IsExpectedTransition reports whether from → to follows the normal
// Unloaded → Loading → Loaded → Unloading → Unloaded cycle.
func IsExpectedTransition(from, to State) bool {
	next, ok := expected[from]
	return ok && next == to
}
