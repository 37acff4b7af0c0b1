package playback

import "time"

// State is the controller's playback state.
type State int

const (
	StateIdle State = iota
	StatePrefetching
	StatePlaying
	StateDraining
	StateEnded
	StateStalled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePrefetching:
		return "Prefetching"
	case StatePlaying:
		return "Playing"
	case StateDraining:
		return "Draining"
	case StateEnded:
		return "Ended"
	case StateStalled:
		return "Stalled"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further requests will be made without a seek.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

// Status is a snapshot of the controller.
type Status struct {
	State           State
	Position        time.Duration
	Buffering       bool
	RequestedStarts []time.Duration
	Loaded          int
	LastError       error
}
