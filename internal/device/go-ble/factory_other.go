//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

// DeviceFactory reports that no BLE backend exists for this platform (can be overridden in tests)
var DeviceFactory = func() (ble.Device, error) {
	return nil, fmt.Errorf("no BLE backend for %s: %w", runtime.GOOS, device.ErrUnsupported)
}
