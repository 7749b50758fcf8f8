package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/ringchan"
)

// DefaultEventsBuffer is the capacity of the Events stream.
const DefaultEventsBuffer = 100

// State is the scanner's position relative to the radio and the user.
type State int

const (
	StateDisabled State = iota
	StateNoPermission
	StateIdle
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateNoPermission:
		return "no_permission"
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device *device.Device
}

// Scanner drives the radio's scan on behalf of the user and feeds discoveries
// into a Registry.
//
// Every StartScanning and StopScanning call reaches the driver, even when the
// logical state does not change; coalescing is the driver's business.
type Scanner struct {
	logger   *logrus.Logger
	driver   device.RadioDriver
	gate     device.PermissionGate
	registry *Registry
	events   *ringchan.RingChannel[DeviceEvent]

	// opMu serialises user requests and gate transitions; it is held across driver
	// calls, which may report events synchronously.
	opMu sync.Mutex

	mu      sync.Mutex
	state   State
	filter  device.ScanFilter
	lastErr error

	unsubscribe func()
}

// New creates a scanner whose initial state follows the gate.
func New(driver device.RadioDriver, gate device.PermissionGate, registry *Registry, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Scanner{
		logger:   logger,
		driver:   driver,
		gate:     gate,
		registry: registry,
		events:   ringchan.New[DeviceEvent](DefaultEventsBuffer),
		state:    gateState(gate),
	}
	s.unsubscribe = gate.Subscribe(s.onGateChanged)
	return s
}

func gateState(gate device.PermissionGate) State {
	switch {
	case !gate.HasPermission():
		return StateNoPermission
	case !gate.IsBluetoothEnabled():
		return StateDisabled
	default:
		return StateIdle
	}
}

func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveFilter returns the filter of the running scan, or of the last one.
func (s *Scanner) ActiveFilter() device.ScanFilter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter
}

// LastError returns the last asynchronous scan failure reported by the driver.
func (s *Scanner) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Registry returns the registry the scanner feeds.
func (s *Scanner) Registry() *Registry { return s.registry }

// Events streams discoveries accepted into the registry. Identical re-advertisements
// produce no event.
func (s *Scanner) Events() <-chan DeviceEvent { return s.events.C() }

// StartScanning starts a scan restricted to filter. When a scan is already running it
// is stopped first. mode is applied to the registry before the new scan starts, so
// RemoveAll drops what earlier RetainAll scans kept.
func (s *Scanner) StartScanning(filter device.ScanFilter, mode CleanMode) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.usageError(); err != nil {
		s.mu.Unlock()
		return err
	}
	restart := s.state == StateScanning
	s.state = StateScanning
	s.filter = filter
	s.lastErr = nil
	s.mu.Unlock()

	if restart {
		if err := s.driver.StopScan(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop previous scan")
		}
	}

	s.registry.clean(mode, filter)
	s.registry.view(filter)

	if err := s.driver.StartScan(filter); err != nil {
		s.mu.Lock()
		if s.state == StateScanning {
			s.state = StateIdle
		}
		s.lastErr = err
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"filter": filter,
			"error":  err,
		}).Warn("Driver rejected scan")
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"filter":     filter,
		"clean_mode": mode,
	}).Info("Scan started")
	return nil
}

// StopScanning stops the scan and applies mode to the registry.
func (s *Scanner) StopScanning(mode CleanMode) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if err := s.usageError(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = StateIdle
	filter := s.filter
	s.mu.Unlock()

	err := s.driver.StopScan()
	if err != nil {
		s.logger.WithField("error", err).Warn("Driver failed to stop scan")
	}

	s.registry.clean(mode, filter)
	s.logger.WithFields(logrus.Fields{
		"filter":     filter,
		"clean_mode": mode,
		"devices":    s.registry.Len(),
	}).Info("Scan stopped")
	return err
}

// PairedDevices returns bonded peripherals advertising any service of filter,
// registering the ones the registry does not know yet.
func (s *Scanner) PairedDevices(ctx context.Context, filter device.ScanFilter) ([]*device.Device, error) {
	ids, err := s.driver.PairedDevices(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*device.Device, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.registry.GetOrCreate(id))
	}
	return out, nil
}

// Close detaches the scanner from the gate and closes the events stream.
// A running scan is left to the caller to stop.
func (s *Scanner) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.events.Close()
}

// usageError must be called with mu held.
func (s *Scanner) usageError() error {
	switch s.state {
	case StateDisabled:
		return device.ErrBluetoothOff
	case StateNoPermission:
		return device.ErrNoPermission
	default:
		return nil
	}
}

// ----------------------------
// Driver and gate events
// ----------------------------

// HandleDiscovered accepts an advertisement while scanning and drops it otherwise.
func (s *Scanner) HandleDiscovered(id device.Identifier, rssi int, adv device.AdvertisementData) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateScanning {
		s.logger.WithFields(logrus.Fields{
			"device_id": id,
			"state":     s.state,
		}).Debug("Dropping advertisement outside of scanning")
		return
	}

	d, isNew, changed := s.registry.discovered(s.filter, id, rssi, adv)
	if !changed {
		return
	}
	event := DeviceEvent{Type: EventUpdated, Device: d}
	if isNew {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device_id": id,
			"name":      adv.LocalName(),
			"rssi":      rssi,
		}).Info("Discovered new device")
	}
	if s.events.Send(event) {
		s.logger.WithFields(logrus.Fields{
			"device_id":   id,
			"overwritten": s.events.GetMetrics().Overwritten,
		}).Debug("Event stream full, dropped oldest event")
	}
}

// HandleScanFailed ends the current scan without cleaning the registry.
func (s *Scanner) HandleScanFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = err
	if s.state != StateScanning {
		s.logger.WithField("error", err).Debug("Ignoring scan failure outside of scanning")
		return
	}
	s.state = StateIdle
	s.logger.WithField("error", err).Warn("Scan failed")
}

func (s *Scanner) onGateChanged() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	next := gateState(s.gate)

	s.mu.Lock()
	prev := s.state
	switch {
	case next == StateIdle && (prev == StateIdle || prev == StateScanning):
		// still enabled
	default:
		s.state = next
	}
	cur := s.state
	s.mu.Unlock()

	if prev == cur {
		return
	}
	if prev == StateScanning {
		if err := s.driver.StopScan(); err != nil {
			s.logger.WithField("error", err).Warn("Failed to stop scan after radio became unavailable")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"from": prev,
		"to":   cur,
	}).Info("Scanner state changed")
}
