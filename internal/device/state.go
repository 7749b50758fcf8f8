package device

// ConnectionState is the state of a device's connection state machine.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	ConnectedNoServices
	Discovering
	Idle
	HandlingAction
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case ConnectedNoServices:
		return "connected_no_services"
	case Discovering:
		return "discovering"
	case Idle:
		return "idle"
	case HandlingAction:
		return "handling_action"
	default:
		return "unknown"
	}
}

// IsConnected reports whether the link is up, with or without a profile.
func (s ConnectionState) IsConnected() bool {
	return s >= ConnectedNoServices
}

// DefaultMTU is the ATT MTU before any negotiation.
const DefaultMTU = 23
