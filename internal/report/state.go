package report

import "fmt"

// State is the run lifecycle stage.
type State int

// Run states, in lifecycle order. Any state may move to StateAborted.
const (
	StateInit State = iota
	StateLoading
	StateAllocating
	StateExecuting
	StateCompleted
	StateAborted
)

var stateNames = [...]string{
	StateInit:       "INIT",
	StateLoading:    "LOADING",
	StateAllocating: "ALLOCATING",
	StateExecuting:  "EXECUTING",
	StateCompleted:  "COMPLETED",
	StateAborted:    "ABORTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

// canMove enforces INIT → LOADING → ALLOCATING → EXECUTING → COMPLETED,
// with EXECUTING re-entered once per batch and ABORTED reachable from anywhere.
func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	switch to {
	case StateAborted:
		return true
	case StateExecuting:
		return from == StateAllocating || from == StateExecuting
	case StateCompleted:
		return from == StateAllocating || from == StateExecuting
	default:
		return to == from+1
	}
}
