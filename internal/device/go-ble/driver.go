package goble

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
)

// DefaultConnectTimeout bounds a single dial attempt.
const DefaultConnectTimeout = 30 * time.Second

// link is one connection attempt or live connection.
// A link removed from Driver.links is dead: none of its goroutines emit events anymore.
type link struct {
	ctx     context.Context
	cancel  context.CancelFunc
	client  ble.Client
	handles *handles
}

type scan struct {
	cancel context.CancelFunc
}

// Driver is a device.RadioDriver backed by go-ble.
//
// Every request returns as soon as it is issued; the blocking go-ble call runs on its
// own goroutine and reports back through the bound DriverEvents.
type Driver struct {
	logger         *logrus.Logger
	connectTimeout time.Duration

	mu     sync.Mutex
	dev    ble.Device
	events device.DriverEvents
	scan   *scan
	links  map[device.Identifier]*link
}

// NewDriver creates a driver. The host adapter is opened lazily on the first request
// that needs it, so construction never touches the radio.
func NewDriver(logger *logrus.Logger, connectTimeout time.Duration) *Driver {
	if logger == nil {
		logger = logrus.New()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Driver{
		logger:         logger,
		connectTimeout: connectTimeout,
		links:          make(map[device.Identifier]*link),
	}
}

func (d *Driver) Bind(events device.DriverEvents) {
	d.mu.Lock()
	d.events = events
	d.mu.Unlock()
}

// adapter returns the host device, creating it on first use.
func (d *Driver) adapter() (ble.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dev != nil {
		return d.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		d.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	d.dev = dev
	return dev, nil
}

// ----------------------------
// Scanning
// ----------------------------

func (d *Driver) StartScan(filter device.ScanFilter) error {
	dev, err := d.adapter()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &scan{cancel: cancel}

	d.mu.Lock()
	if d.scan != nil {
		d.scan.cancel()
	}
	d.scan = s
	d.mu.Unlock()

	d.logger.WithField("filter", filter).Debug("Starting BLE scan...")

	groutine.Go(ctx, "ble-scan", d.logger, func(ctx context.Context) {
		err := dev.Scan(ctx, true, func(a ble.Advertisement) {
			adv := toAdvertisementData(a)
			if !filter.Matches(adv) {
				return
			}
			id := identifierOf(a)
			if id == "" {
				return
			}
			d.events.OnDiscovered(id, a.RSSI(), adv)
		})

		if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		current := d.scan == s
		if current {
			d.scan = nil
		}
		d.mu.Unlock()

		if err == nil {
			d.logger.Debug("BLE scan ended")
			return
		}
		if current {
			err = NormalizeError(err)
			d.logger.WithField("error", err).Warn("BLE scan failed")
			d.events.OnScanFailed(err)
		}
	})
	return nil
}

func (d *Driver) StopScan() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.scan != nil {
		d.scan.cancel()
		d.scan = nil
		d.logger.Debug("BLE scan stopped")
	}
	return nil
}

// ----------------------------
// Connections
// ----------------------------

func (d *Driver) Connect(id device.Identifier) error {
	dev, err := d.adapter()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{ctx: ctx, cancel: cancel}

	d.mu.Lock()
	if _, exists := d.links[id]; exists {
		d.mu.Unlock()
		cancel()
		return device.ErrAlreadyConnected
	}
	d.links[id] = l
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"device_id": id,
		"timeout":   d.connectTimeout,
	}).Debug("Dialing BLE device...")

	groutine.Go(ctx, "ble-dial-"+id.String(), d.logger, func(ctx context.Context) {
		dialCtx, cancelDial := context.WithTimeout(ctx, d.connectTimeout)
		defer cancelDial()

		client, err := dev.Dial(dialCtx, ble.NewAddr(id.String()))
		if err != nil {
			if d.drop(id, l) {
				d.logger.WithFields(logrus.Fields{
					"device_id": id,
					"error":     err,
				}).Warn("Failed to dial BLE device")
				d.events.OnConnectFailed(id, NormalizeError(err))
			}
			return
		}

		d.mu.Lock()
		current := d.links[id] == l
		if current {
			l.client = client
		}
		d.mu.Unlock()

		if !current {
			// disconnect was requested while dialling
			if err := client.CancelConnection(); err != nil {
				d.logger.WithField("error", err).Debug("Failed to cancel abandoned connection")
			}
			return
		}

		d.events.OnConnected(id)
		d.monitor(id, l, client)
	})
	return nil
}

// monitor reports a link loss when go-ble closes the client's Disconnected channel.
func (d *Driver) monitor(id device.Identifier, l *link, client ble.Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		d.logger.WithField("device_id", id).Debug("Client does not expose a Disconnected channel")
		return
	}

	groutine.Go(l.ctx, "ble-link-monitor-"+id.String(), d.logger, func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			if d.drop(id, l) {
				d.logger.WithField("device_id", id).Warn("BLE link reported disconnection")
				d.events.OnDisconnected(id, device.ErrNotConnected)
			}
		case <-ctx.Done():
		}
	})
}

func (d *Driver) Disconnect(id device.Identifier) error {
	d.mu.Lock()
	l, ok := d.links[id]
	var client ble.Client
	if ok {
		delete(d.links, id)
		client = l.client
	}
	d.mu.Unlock()

	if !ok {
		return nil
	}
	l.cancel()

	if client == nil {
		d.logger.WithField("device_id", id).Debug("Dial abandoned")
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	d.logger.WithField("device_id", id).Debug("BLE device disconnected")
	return nil
}

// drop removes l if it is still the link for id. It returns false for links that
// were already replaced or disconnected.
func (d *Driver) drop(id device.Identifier, l *link) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.links[id] != l {
		return false
	}
	delete(d.links, id)
	l.cancel()
	return true
}

func (d *Driver) current(id device.Identifier, l *link) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[id] == l
}

// connected returns the live link for id.
func (d *Driver) connected(id device.Identifier) (*link, ble.Client, *handles, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.links[id]
	if !ok || l.client == nil {
		return nil, nil, nil, device.ErrNotConnected
	}
	return l, l.client, l.handles, nil
}

// ----------------------------
// GATT
// ----------------------------

func (d *Driver) DiscoverServices(id device.Identifier) error {
	l, client, _, err := d.connected(id)
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "ble-discover-"+id.String(), d.logger, func(ctx context.Context) {
		p, err := client.DiscoverProfile(true)
		if err != nil {
			if d.current(id, l) {
				d.events.OnServicesDiscovered(id, nil, NormalizeError(err))
			}
			return
		}

		services, h := toServices(p)

		d.mu.Lock()
		current := d.links[id] == l
		if current {
			l.handles = h
		}
		d.mu.Unlock()

		if current {
			d.logger.WithFields(logrus.Fields{
				"device_id": id,
				"services":  len(services),
			}).Debug("Profile discovered")
			d.events.OnServicesDiscovered(id, services, nil)
		}
	})
	return nil
}

type operation func() (device.ActionResult, error)

func (d *Driver) PerformAction(id device.Identifier, seq uint64, action device.Action) error {
	l, client, h, err := d.connected(id)
	if err != nil {
		return err
	}
	op, err := d.prepare(id, l, client, h, action)
	if err != nil {
		return err
	}

	groutine.Go(l.ctx, "ble-action-"+id.String(), d.logger, func(ctx context.Context) {
		result, err := op()
		if !d.current(id, l) {
			return
		}
		d.events.OnActionCompleted(id, seq, result, NormalizeError(err))
	})
	return nil
}

// prepare resolves the go-ble handles an action needs and returns the blocking call.
func (d *Driver) prepare(id device.Identifier, l *link, client ble.Client, h *handles, action device.Action) (operation, error) {
	char := func(c *device.Characteristic) (*ble.Characteristic, error) {
		if h != nil {
			if bc, ok := h.characteristics[c]; ok {
				return bc, nil
			}
		}
		return nil, &device.ServiceNotDiscoveredError{Resource: "characteristic", UUIDs: []string{c.UUID()}}
	}
	desc := func(dd *device.Descriptor) (*ble.Descriptor, error) {
		if h != nil {
			if bd, ok := h.descriptors[dd]; ok {
				return bd, nil
			}
		}
		return nil, &device.ServiceNotDiscoveredError{Resource: "descriptor", UUIDs: []string{dd.UUID()}}
	}

	switch a := action.(type) {
	case device.ReadCharacteristic:
		bc, err := char(a.Characteristic)
		if err != nil {
			return nil, err
		}
		return func() (device.ActionResult, error) {
			v, err := client.ReadCharacteristic(bc)
			return device.ActionResult{Value: v}, err
		}, nil

	case device.WriteCharacteristic:
		bc, err := char(a.Characteristic)
		if err != nil {
			return nil, err
		}
		value := bytes.Clone(a.Value)
		return func() (device.ActionResult, error) {
			return device.ActionResult{}, client.WriteCharacteristic(bc, value, a.WithoutResponse)
		}, nil

	case device.ReadDescriptor:
		bd, err := desc(a.Descriptor)
		if err != nil {
			return nil, err
		}
		return func() (device.ActionResult, error) {
			v, err := client.ReadDescriptor(bd)
			return device.ActionResult{Value: v}, err
		}, nil

	case device.WriteDescriptor:
		bd, err := desc(a.Descriptor)
		if err != nil {
			return nil, err
		}
		value := bytes.Clone(a.Value)
		return func() (device.ActionResult, error) {
			return device.ActionResult{}, client.WriteDescriptor(bd, value)
		}, nil

	case device.EnableNotification:
		bc, err := char(a.Characteristic)
		if err != nil {
			return nil, err
		}
		svc, uuid := a.Characteristic.Service().UUID(), a.Characteristic.UUID()
		indicate := !a.Characteristic.Properties().Has(device.PropNotify)
		return func() (device.ActionResult, error) {
			return device.ActionResult{}, client.Subscribe(bc, indicate, func(data []byte) {
				if d.current(id, l) {
					d.events.OnNotification(id, svc, uuid, bytes.Clone(data))
				}
			})
		}, nil

	case device.DisableNotification:
		bc, err := char(a.Characteristic)
		if err != nil {
			return nil, err
		}
		indicate := !a.Characteristic.Properties().Has(device.PropNotify)
		return func() (device.ActionResult, error) {
			return device.ActionResult{}, client.Unsubscribe(bc, indicate)
		}, nil

	case device.ReadRSSI:
		return func() (device.ActionResult, error) {
			return device.ActionResult{RSSI: client.ReadRSSI()}, nil
		}, nil

	case device.RequestMTU:
		return func() (device.ActionResult, error) {
			mtu, err := client.ExchangeMTU(a.MTU)
			return device.ActionResult{MTU: mtu}, err
		}, nil

	default:
		return nil, fmt.Errorf("%s: %w", action, device.ErrUnsupported)
	}
}

// PairedDevices is not available: go-ble exposes no bonded-device enumeration.
func (d *Driver) PairedDevices(_ context.Context, _ device.ScanFilter) ([]device.Identifier, error) {
	return nil, fmt.Errorf("paired devices: %w", device.ErrUnsupported)
}

// Close stops scanning, drops every link and releases the host adapter.
func (d *Driver) Close() error {
	_ = d.StopScan()

	d.mu.Lock()
	ids := make([]device.Identifier, 0, len(d.links))
	for id := range d.links {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.Disconnect(id); err != nil {
			d.logger.WithFields(logrus.Fields{
				"device_id": id,
				"error":     err,
			}).Warn("Failed to disconnect during close")
		}
	}

	d.mu.Lock()
	dev := d.dev
	d.dev = nil
	d.mu.Unlock()

	if dev == nil {
		return nil
	}
	return NormalizeError(dev.Stop())
}
