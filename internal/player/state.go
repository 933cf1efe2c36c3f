package player

import "fmt"

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized    State = iota
	StateReplacing              // surface being built and the first quality loaded
	StateReplaceFailed          // terminal: no decodable source
	StateReady                  // source loaded, position restorable
	StatePlaying                //
	StatePaused                 //
	StateQualitySwitching       // new quality loading, old position captured
	StateEnding                 // end reached, auto-advance raised
	StateTerminated             // surface destroyed
)

var stateNames = [...]string{
	"uninitialized", "replacing", "replace-failed", "ready", "playing",
	"paused", "quality-switching", "ending", "terminated",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// active reports whether the surface holds a loaded source.
func (s State) active() bool {
	return s == StateReady || s == StatePlaying || s == StatePaused
}
