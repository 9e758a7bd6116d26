package session

// State is the connection state owned by a Manager.
type State int

const (
	// Disconnected is the initial state, and the terminal state after a normal
	// close, a manual disconnect or an exhausted retry budget.
	Disconnected State = iota

	// Connecting means a transport is being dialed.
	Connecting

	// Connected means the transport is open and the heartbeat is running.
	Connected

	// Reconnecting means a retry is scheduled after an abnormal close.
	Reconnecting

	// Error means the transport reported an error, or could not be built.
	Error
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// CanReconnect reports whether a manual reconnect should be offered.
func (s State) CanReconnect() bool {
	return s == Error || s == Disconnected
}

// StateChange is delivered to observers on every transition.
type StateChange struct {
	Old     State
	New     State
	Attempt int
	Err     error // set when the transition was caused by a transport error
}
