package tunnelstate

// ReconnectTarget is the state a reconnect request should produce.
type ReconnectTarget uint8

const (
	// TargetConnecting restarts through the full connect handshake with a
	// fresh relay selection.
	TargetConnecting ReconnectTarget = iota + 1
	// TargetReconnecting re-enters the lighter reconnect path that keeps the
	// in-flight context and backoff state.
	TargetReconnecting
)

func (t ReconnectTarget) String() string {
	switch t {
	case TargetConnecting:
		return "connecting"
	case TargetReconnecting:
		return "reconnecting"
	default:
		return "none"
	}
}

// TargetForReconnect returns the state a reconnect request should move s
// into. ok is false for Disconnecting and Disconnected: a reconnect must not
// be layered on top of a teardown.
//
// A tunnel that never reached Connected goes back through Connecting; one
// that did goes through Reconnecting. An Error decides by its prior state.
func TargetForReconnect(s State) (target ReconnectTarget, ok bool) {
	return s.reconnectTarget()
}

func (Initial) reconnectTarget() (ReconnectTarget, bool)       { return TargetConnecting, true }
func (Connecting) reconnectTarget() (ReconnectTarget, bool)    { return TargetConnecting, true }
func (Connected) reconnectTarget() (ReconnectTarget, bool)     { return TargetReconnecting, true }
func (Reconnecting) reconnectTarget() (ReconnectTarget, bool)  { return TargetReconnecting, true }
func (Disconnecting) reconnectTarget() (ReconnectTarget, bool) { return 0, false }
func (Disconnected) reconnectTarget() (ReconnectTarget, bool)  { return 0, false }

func (NegotiatingEphemeralPeer) reconnectTarget() (ReconnectTarget, bool) {
	return TargetConnecting, true
}

// A zero Error without a prior state is treated as having failed from Initial.
func (s Error) reconnectTarget() (ReconnectTarget, bool) {
	if s.Data.PriorState == nil {
		return TargetConnecting, true
	}
	return s.Data.PriorState.reconnectTarget()
}
