package main

import (
	"context"
	"errors"

	"github.com/srg/blecentral/internal/device"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link dropped while a command was streaming.
	// It differs from device.ErrNotConnected, which reports use of a device that
	// was never connected.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns library errors into the message printed after "ERROR:".
func FormatUserError(err error) string {
	var notDiscovered *device.ServiceNotDiscoveredError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or no adapter is available"
	case errors.Is(err, device.ErrNoPermission):
		return "Bluetooth permission not granted; run with the required privileges"
	case errors.Is(err, device.ErrUnsupported):
		return err.Error() + " (not supported on this platform or by this characteristic)"
	case errors.Is(err, ErrConnectionLost):
		return "connection to the device was lost"
	case device.IsConnectionState(err, device.NotConnected):
		return "device is not connected"
	case device.IsConnectionState(err, device.AlreadyConnected):
		return "device is already connected by another session"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out"
	case errors.As(err, &notDiscovered):
		return notDiscovered.Error() + "; check the UUIDs with --service"
	default:
		return err.Error()
	}
}
