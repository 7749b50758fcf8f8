package device

import (
	"errors"
	"fmt"
)

// ServiceNotDiscoveredError is returned when an operation references a service,
// characteristic or descriptor that is not part of the currently discovered profile.
type ServiceNotDiscoveredError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // path from the service down to the missing attribute
}

func (e *ServiceNotDiscoveredError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not discovered", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not discovered", e.Resource, e.UUIDs[0])
	}
	parent := "service"
	if e.Resource == "descriptor" {
		parent = "characteristic"
	}
	return fmt.Sprintf("%s %q not discovered in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parent, e.UUIDs[len(e.UUIDs)-2])
}

// ConnectionErrorState represents the specific kind of connection failure
type ConnectionErrorState string

const (
	NotConnected     ConnectionErrorState = "not_connected"
	AlreadyConnected ConnectionErrorState = "already_connected"
	NotInitialized   ConnectionErrorState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionErrorState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Usage and platform errors
var (
	ErrBusy         = errors.New("device is busy handling an action")
	ErrClosed       = errors.New("device closed")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrNoPermission = errors.New("bluetooth permission not granted")
	ErrUnsupported  = errors.New("unsupported")
)

// ActionFailedError reports that a queued action could not be completed.
// Err carries the driver error, or ErrNotConnected when the link went away first.
type ActionFailedError struct {
	Action Action
	Err    error
}

func (e *ActionFailedError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Action, e.Err)
}

func (e *ActionFailedError) Unwrap() error {
	return e.Err
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionErrorState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
