package transport

// State is the supervisor's connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateLive
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateLive:
		return "live"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

func stateNames() []string {
	return []string{
		StateDisconnected.String(),
		StateConnecting.String(),
		StateLive.String(),
		StateBackoff.String(),
	}
}
