package ws

import "fmt"

// State is the lifecycle state of a Client.
type State int32

const (
	Idle State = iota
	Connecting
	Joining
	Live
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Joining:
		return "joining"
	case Live:
		return "live"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Active reports whether a session is being established or is up.
func (s State) Active() bool {
	return s == Connecting || s == Joining || s == Live
}
