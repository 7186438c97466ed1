package bus

import "fmt"

// State is the liveness of one upstream link. There is no stale state: a link
// is either usable or it is not.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Input drives a State transition.
type Input int

const (
	// Attempt starts a connection attempt.
	Attempt Input = iota
	// Established reports that the attempt succeeded.
	Established
	// Failure reports a dial error or an I/O error on a live link.
	Failure
	// Close reports an explicit local disconnect.
	Close
)

func (in Input) String() string {
	switch in {
	case Attempt:
		return "attempt"
	case Established:
		return "established"
	case Failure:
		return "failure"
	case Close:
		return "close"
	}
	return fmt.Sprintf("input(%d)", int(in))
}

// transitions is the full contract of the link state machine. Pairs missing
// from the table are rejected.
var transitions = map[State]map[Input]State{
	Disconnected: {
		Attempt: Connecting,
		Close:   Disconnected,
	},
	Connecting: {
		Established: Connected,
		Failure:     Disconnected,
		Close:       Disconnected,
	},
	Connected: {
		Failure: Disconnected,
		Close:   Disconnected,
	},
}

// Next returns the state reached from s on in.
func Next(s State, in Input) (State, error) {
	if to, ok := transitions[s][in]; ok {
		return to, nil
	}
	return s, fmt.Errorf("bus: invalid transition %s on %s", s, in)
}
