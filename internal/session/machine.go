package session

import "github.com/UkemeSkywalker/Quanta/internal/protocol"

// EventKind enumerates everything that can drive the state machine.
type EventKind int

const (
	EventConnect    EventKind = iota // Manager.Connect
	EventOpen                        // transport open
	EventClose                       // transport closed with Code
	EventError                       // transport error
	EventRetry                       // reconnect timer fired
	EventHeartbeat                   // heartbeat timer fired
	EventDisconnect                  // Manager.Disconnect
	EventReconnect                   // Manager.Reconnect
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventRetry:
		return "retry"
	case EventHeartbeat:
		return "heartbeat"
	case EventDisconnect:
		return "disconnect"
	case EventReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// Event is one input to Step.
type Event struct {
	Kind EventKind
	Code int   // close code, EventClose only
	Err  error // cause, for EventError and EventClose
}

// Effect is a side effect Step asks the Manager to perform.
type Effect int

const (
	// EffectCleanup stops both timers and closes the transport, if any.
	EffectCleanup Effect = iota
	// EffectDial opens a new transport.
	EffectDial
	EffectStartHeartbeat
	EffectStopHeartbeat
	EffectScheduleRetry
	EffectSendPing
	// EffectReleaseTransport drops a transport the peer already closed.
	EffectReleaseTransport
)

func (e Effect) String() string {
	switch e {
	case EffectCleanup:
		return "cleanup"
	case EffectDial:
		return "dial"
	case EffectStartHeartbeat:
		return "start-heartbeat"
	case EffectStopHeartbeat:
		return "stop-heartbeat"
	case EffectScheduleRetry:
		return "schedule-retry"
	case EffectSendPing:
		return "send-ping"
	case EffectReleaseTransport:
		return "release-transport"
	default:
		return "unknown"
	}
}

// Snapshot is the part of a session the state machine reasons about.
type Snapshot struct {
	State   State
	Attempt int
}

// Step computes the next snapshot and the effects needed to get there. It is
// pure: timers, transports and observers live in the Manager.
func Step(s Snapshot, ev Event, maxAttempts int) (Snapshot, []Effect) {
	switch ev.Kind {
	case EventConnect:
		return Snapshot{State: Connecting, Attempt: s.Attempt}, []Effect{EffectCleanup, EffectDial}

	case EventReconnect:
		return Snapshot{State: Connecting, Attempt: 0}, []Effect{EffectCleanup, EffectDial}

	case EventOpen:
		if s.State != Connecting {
			return s, nil
		}
		return Snapshot{State: Connected, Attempt: 0}, []Effect{EffectStartHeartbeat}

	case EventError:
		return Snapshot{State: Error, Attempt: s.Attempt}, nil

	case EventClose:
		if s.State == Disconnected || s.State == Reconnecting {
			// Nothing live to close.
			return s, nil
		}
		if ev.Code == protocol.CloseNormal {
			return Snapshot{State: Disconnected, Attempt: s.Attempt},
				[]Effect{EffectStopHeartbeat, EffectReleaseTransport}
		}
		if s.Attempt < maxAttempts {
			return Snapshot{State: Reconnecting, Attempt: s.Attempt + 1},
				[]Effect{EffectStopHeartbeat, EffectReleaseTransport, EffectScheduleRetry}
		}
		return Snapshot{State: Disconnected, Attempt: s.Attempt},
			[]Effect{EffectStopHeartbeat, EffectReleaseTransport}

	case EventRetry:
		if s.State != Reconnecting {
			return s, nil
		}
		return Snapshot{State: Connecting, Attempt: s.Attempt}, []Effect{EffectCleanup, EffectDial}

	case EventHeartbeat:
		if s.State != Connected {
			return s, nil
		}
		return s, []Effect{EffectSendPing}

	case EventDisconnect:
		return Snapshot{State: Disconnected, Attempt: s.Attempt}, []Effect{EffectCleanup}
	}
	return s, nil
}
