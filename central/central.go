// Package central wires a radio driver and a permission gate to the scanner,
// the device registry and the per-device connection state machines.
package central

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/scanner"
)

// Central is a BLE central session. It is the single DriverEvents sink for its
// driver: discovery events go to the scanner, connection events to the device
// the registry holds for the identifier.
type Central struct {
	logger   *logrus.Logger
	driver   device.RadioDriver
	gate     device.PermissionGate
	registry *scanner.Registry
	scanner  *scanner.Scanner

	unsubscribe func()
}

// New binds driver to a new session. The driver must not be bound elsewhere.
func New(driver device.RadioDriver, gate device.PermissionGate, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}

	registry := scanner.NewRegistry(driver, logger)
	c := &Central{
		logger:   logger,
		driver:   driver,
		gate:     gate,
		registry: registry,
		scanner:  scanner.New(driver, gate, registry, logger),
	}
	driver.Bind(c)
	c.unsubscribe = gate.Subscribe(c.onGateChanged)
	return c
}

func (c *Central) Scanner() *scanner.Scanner { return c.scanner }

func (c *Central) Registry() *scanner.Registry { return c.registry }

// Device returns the device for id, registering it when it was never discovered.
// This is how a stored identifier is reconnected without scanning.
func (c *Central) Device(id device.Identifier) *device.Device {
	return c.registry.GetOrCreate(id)
}

// Close stops the session: gate subscription, scanner, every device, then the
// driver when it holds resources of its own.
func (c *Central) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if c.scanner.State() == scanner.StateScanning {
		if err := c.scanner.StopScanning(scanner.RetainAll); err != nil {
			c.logger.WithField("error", err).Debug("Failed to stop scan during close")
		}
	}
	c.scanner.Close()
	c.registry.Close()

	if closer, ok := c.driver.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// onGateChanged turns radio or permission loss into link loss on every live device.
func (c *Central) onGateChanged() {
	var cause error
	switch {
	case !c.gate.HasPermission():
		cause = device.ErrNoPermission
	case !c.gate.IsBluetoothEnabled():
		cause = device.ErrBluetoothOff
	default:
		return
	}

	for _, d := range c.registry.AllDevices() {
		if d.State() == device.Disconnected {
			continue
		}
		c.logger.WithFields(logrus.Fields{
			"device_id": d.ID(),
			"error":     cause,
		}).Warn("Radio unavailable, dropping connection")
		d.HandleDisconnected(cause)
	}
}

// ----------------------------
// device.DriverEvents
// ----------------------------

func (c *Central) OnDiscovered(id device.Identifier, rssi int, adv device.AdvertisementData) {
	c.scanner.HandleDiscovered(id, rssi, adv)
}

func (c *Central) OnScanFailed(err error) {
	c.scanner.HandleScanFailed(err)
}

func (c *Central) OnConnected(id device.Identifier) {
	c.route(id, "connected", (*device.Device).HandleConnected)
}

func (c *Central) OnConnectFailed(id device.Identifier, err error) {
	c.route(id, "connect_failed", func(d *device.Device) { d.HandleConnectFailed(err) })
}

func (c *Central) OnDisconnected(id device.Identifier, err error) {
	c.route(id, "disconnected", func(d *device.Device) { d.HandleDisconnected(err) })
}

func (c *Central) OnServicesDiscovered(id device.Identifier, services []*device.Service, err error) {
	c.route(id, "services_discovered", func(d *device.Device) { d.HandleServicesDiscovered(services, err) })
}

func (c *Central) OnActionCompleted(id device.Identifier, seq uint64, result device.ActionResult, err error) {
	c.route(id, "action_completed", func(d *device.Device) { d.HandleActionCompleted(seq, result, err) })
}

func (c *Central) OnNotification(id device.Identifier, service, characteristic string, value []byte) {
	c.route(id, "notification", func(d *device.Device) { d.HandleNotification(service, characteristic, value) })
}

func (c *Central) route(id device.Identifier, event string, fn func(*device.Device)) {
	d, ok := c.registry.Get(id)
	if !ok {
		c.logger.WithFields(logrus.Fields{
			"device_id": id,
			"event":     event,
		}).Debug("Dropping event for unknown device")
		return
	}
	fn(d)
}
