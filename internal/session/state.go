package session

// State is the lifecycle position of one call session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Reasons a session ended, as reported to metrics and events.
const (
	ReasonStreamStopped  = "stream_stopped"
	ReasonStreamClosed   = "stream_closed"
	ReasonAgentEnded     = "agent_ended"
	ReasonConnectTimeout = "connect_timeout"
	ReasonDialFailed     = "dial_failed"
	ReasonCancelled      = "cancelled"
	ReasonError          = "error"
)
