package dispatcher

import "fmt"

// State executor lifecycle state
type State int32

// Executor states, in lifecycle order
const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateStopped
)

var stateNames = map[State]string{
	StateCreated:  "created",
	StateRunning:  "running",
	StateDraining: "draining",
	StateStopped:  "stopped",
}

func (state State) String() string {
	if name, ok := stateNames[state]; ok {
		return name
	}

	return fmt.Sprintf("State(%d)", int32(state))
}

// Accepting reports whether Submit accepts units in this state
func (state State) Accepting() bool {
	return state == StateCreated || state == StateRunning
}
