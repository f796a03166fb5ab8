package pool

// State is the lifecycle state of a pool
type State int32

const (
	StateActive State = iota
	StateLocked
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateLocked:
		return "Locked"
	case StateExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates lifecycle transitions. Expired is terminal.
func (s State) CanTransitionTo(next State) bool {
	validTransitions := map[State][]State{
		StateActive: {
			StateLocked,
			StateExpired,
		},
		StateLocked: {
			StateActive,
			StateExpired,
		},
	}

	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// PreExpiry reports whether exercise and close are still possible.
func (s State) PreExpiry() bool {
	return s == StateActive || s == StateLocked
}
