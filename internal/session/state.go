package session

// State is the lifecycle position of a session. It only moves forward.
type State int32

const (
	Connecting State = iota
	Verifying
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Verifying:
		return "verifying"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}
