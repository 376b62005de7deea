package realtime

// State describes the lifecycle state of the managed connection.
type State int

const (
	// StateDisconnected indicates no connection exists and none is being
	// attempted.
	StateDisconnected State = iota
	// StateConnecting indicates a first connect attempt is in flight.
	StateConnecting
	// StateConnected indicates the server acknowledged the connection and
	// messaging is available.
	StateConnected
	// StateReconnecting indicates the connection dropped unexpectedly and
	// the retry loop is attempting to restore it.
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// StateListener observes connection state transitions. Listeners are invoked
// synchronously, one transition at a time, and must not block.
type StateListener func(State)
