package voice

// ConnectionState represents the current state of a voice session.
type ConnectionState int

const (
	// StateIdle is the initial state before the session is started.
	StateIdle ConnectionState = iota
	// StateConnecting is when the token exchange and room join are in flight.
	StateConnecting
	// StateConnected is when the room connection is live.
	StateConnected
	// StateReconnecting is when the transport dropped and is rejoining.
	StateReconnecting
	// StateDisconnected is the terminal state after teardown.
	StateDisconnected
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}
