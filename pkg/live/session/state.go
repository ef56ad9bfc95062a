package session

// ConnectionState is the lifecycle state of a Session.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// CanTransition reports whether from -> to is a legal state change.
// Connecting -> Disconnected is a connect aborted by Disconnect.
func CanTransition(from, to ConnectionState) bool {
	switch from {
	case Disconnected:
		return to == Connecting || to == Error
	case Connecting:
		return to == Connected || to == Error || to == Disconnected
	case Connected:
		return to == Disconnected || to == Error || to == Connecting
	case Error:
		return to == Connecting || to == Disconnected
	}
	return false
}
