package testutils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
)

// ErrPeripheralNotFound is reported by FakeDriver for identifiers it does not know.
var ErrPeripheralNotFound = errors.New("peripheral not found")

// FakeDescriptor describes a descriptor served by a FakePeripheral.
type FakeDescriptor struct {
	UUID  string
	Value []byte
}

// FakeCharacteristic describes a characteristic served by a FakePeripheral.
// Properties uses the device.ParseProperties syntax, e.g. "read,write,notify".
type FakeCharacteristic struct {
	UUID        string
	Properties  string
	Value       []byte
	Descriptors []FakeDescriptor
}

// FakeService describes a service served by a FakePeripheral.
type FakeService struct {
	UUID            string
	Characteristics []FakeCharacteristic
}

// FakePeripheral is a scripted peripheral.
type FakePeripheral struct {
	ID       device.Identifier
	RSSI     int
	MaxMTU   int // 0 means 247
	Services []FakeService
}

// FakeDriver is an in-memory device.RadioDriver.
//
// It records every call, serves reads and writes from the peripheral definitions,
// and delivers events from a separate goroutine unless SyncEvents is set.
// It also tracks how many actions are outstanding per device, so tests can assert
// the single-action-in-flight rule.
type FakeDriver struct {
	// SyncEvents delivers events from inside the driver call that caused them.
	SyncEvents bool

	mu          sync.Mutex
	events      device.DriverEvents
	peripherals map[device.Identifier]*fakePeripheral
	paired      []device.Identifier
	calls       []string
	scanning    bool

	inFlight    map[device.Identifier]int
	maxInFlight int

	rejects         map[string]error
	failures        map[device.ActionKind]error
	discoverFailure error

	holding bool
	held    []func()
}

type fakePeripheral struct {
	def    FakePeripheral
	values map[string][]byte
}

func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		peripherals: make(map[device.Identifier]*fakePeripheral),
		inFlight:    make(map[device.Identifier]int),
		rejects:     make(map[string]error),
		failures:    make(map[device.ActionKind]error),
	}
}

// AddPeripheral registers a peripheral that can be connected to.
func (f *FakeDriver) AddPeripheral(p FakePeripheral) *FakeDriver {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp := &fakePeripheral{def: p, values: make(map[string][]byte)}
	for _, s := range p.Services {
		for _, c := range s.Characteristics {
			fp.values[attrKey(s.UUID, c.UUID)] = c.Value
			for _, d := range c.Descriptors {
				fp.values[attrKey(s.UUID, c.UUID, d.UUID)] = d.Value
			}
		}
	}
	f.peripherals[p.ID] = fp
	return f
}

// SetPaired sets the identifiers returned by PairedDevices.
func (f *FakeDriver) SetPaired(ids ...device.Identifier) {
	f.mu.Lock()
	f.paired = ids
	f.mu.Unlock()
}

// RejectNext makes the next call to method ("Connect", "DiscoverServices",
// "PerformAction", "StartScan", ...) return err without issuing anything.
func (f *FakeDriver) RejectNext(method string, err error) {
	f.mu.Lock()
	f.rejects[method] = err
	f.mu.Unlock()
}

// FailNext makes the next action of the given kind complete with err.
func (f *FakeDriver) FailNext(kind device.ActionKind, err error) {
	f.mu.Lock()
	f.failures[kind] = err
	f.mu.Unlock()
}

// FailNextDiscovery makes the next discovery report err.
func (f *FakeDriver) FailNextDiscovery(err error) {
	f.mu.Lock()
	f.discoverFailure = err
	f.mu.Unlock()
}

// Hold queues action completions until Release is called.
func (f *FakeDriver) Hold() {
	f.mu.Lock()
	f.holding = true
	f.mu.Unlock()
}

// Release delivers held completions in issue order and stops holding.
func (f *FakeDriver) Release() {
	f.mu.Lock()
	held := f.held
	f.held = nil
	f.holding = false
	f.mu.Unlock()

	for _, fn := range held {
		f.deliver(fn)
	}
}

// Calls returns the recorded driver calls, e.g. "Connect(AA:BB)".
func (f *FakeDriver) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount counts recorded calls starting with prefix.
func (f *FakeDriver) CallCount(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// MaxInFlight returns the highest number of simultaneously outstanding actions seen on any device.
func (f *FakeDriver) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

func (f *FakeDriver) IsScanning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scanning
}

// Value returns the value a peripheral currently holds for an attribute path.
func (f *FakeDriver) Value(id device.Identifier, path ...string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.peripherals[id]; ok {
		return p.values[attrKey(path...)]
	}
	return nil
}

// ----------------------------
// Scripted events
// ----------------------------

// Advertise reports a discovery event as if the radio heard adv.
func (f *FakeDriver) Advertise(id device.Identifier, rssi int, adv device.AdvertisementData) {
	f.events.OnDiscovered(id, rssi, adv)
}

// DropLink reports an unexpected disconnection.
func (f *FakeDriver) DropLink(id device.Identifier, err error) {
	f.events.OnDisconnected(id, err)
}

// Notify pushes a characteristic value as a peripheral notification.
func (f *FakeDriver) Notify(id device.Identifier, service, characteristic string, value []byte) {
	f.events.OnNotification(id, service, characteristic, value)
}

// FailScan reports an asynchronous scan failure.
func (f *FakeDriver) FailScan(err error) {
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	f.events.OnScanFailed(err)
}

// ----------------------------
// device.RadioDriver
// ----------------------------

func (f *FakeDriver) Bind(events device.DriverEvents) {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
}

func (f *FakeDriver) StartScan(filter device.ScanFilter) error {
	if err := f.record("StartScan", filter.String()); err != nil {
		return err
	}
	f.mu.Lock()
	f.scanning = true
	f.mu.Unlock()
	return nil
}

func (f *FakeDriver) StopScan() error {
	if err := f.record("StopScan", ""); err != nil {
		return err
	}
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	return nil
}

func (f *FakeDriver) Connect(id device.Identifier) error {
	if err := f.record("Connect", string(id)); err != nil {
		return err
	}
	_, known := f.peripheral(id)
	f.deliver(func() {
		if !known {
			f.events.OnConnectFailed(id, ErrPeripheralNotFound)
			return
		}
		f.events.OnConnected(id)
	})
	return nil
}

func (f *FakeDriver) Disconnect(id device.Identifier) error {
	return f.record("Disconnect", string(id))
}

func (f *FakeDriver) DiscoverServices(id device.Identifier) error {
	if err := f.record("DiscoverServices", string(id)); err != nil {
		return err
	}
	p, ok := f.peripheral(id)
	if !ok {
		f.deliver(func() { f.events.OnServicesDiscovered(id, nil, ErrPeripheralNotFound) })
		return nil
	}

	f.mu.Lock()
	failure := f.discoverFailure
	f.discoverFailure = nil
	f.mu.Unlock()
	if failure != nil {
		f.deliver(func() { f.events.OnServicesDiscovered(id, nil, failure) })
		return nil
	}

	services, err := buildServices(p.def.Services)
	f.deliver(func() { f.events.OnServicesDiscovered(id, services, err) })
	return nil
}

func (f *FakeDriver) PerformAction(id device.Identifier, seq uint64, action device.Action) error {
	if err := f.record("PerformAction", action.Kind().String()); err != nil {
		return err
	}

	f.mu.Lock()
	f.inFlight[id]++
	if f.inFlight[id] > f.maxInFlight {
		f.maxInFlight = f.inFlight[id]
	}
	failure := f.failures[action.Kind()]
	delete(f.failures, action.Kind())
	f.mu.Unlock()

	var (
		result device.ActionResult
		err    = failure
	)
	if err == nil {
		result, err = f.execute(id, action)
	}

	complete := func() {
		f.mu.Lock()
		f.inFlight[id]--
		f.mu.Unlock()
		f.events.OnActionCompleted(id, seq, result, err)
	}

	f.mu.Lock()
	if f.holding {
		f.held = append(f.held, complete)
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	f.deliver(complete)
	return nil
}

func (f *FakeDriver) PairedDevices(_ context.Context, _ device.ScanFilter) ([]device.Identifier, error) {
	if err := f.record("PairedDevices", ""); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Identifier(nil), f.paired...), nil
}

// ----------------------------
// Internals
// ----------------------------

func (f *FakeDriver) record(method, arg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s(%s)", method, arg))
	if err, ok := f.rejects[method]; ok {
		delete(f.rejects, method)
		return err
	}
	return nil
}

func (f *FakeDriver) peripheral(id device.Identifier) (*fakePeripheral, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.peripherals[id]
	return p, ok
}

func (f *FakeDriver) deliver(fn func()) {
	if f.SyncEvents {
		fn()
		return
	}
	go fn()
}

func (f *FakeDriver) execute(id device.Identifier, action device.Action) (device.ActionResult, error) {
	p, ok := f.peripheral(id)
	if !ok {
		return device.ActionResult{}, ErrPeripheralNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch a := action.(type) {
	case device.ReadCharacteristic:
		return device.ActionResult{Value: p.values[charKey(a.Characteristic)]}, nil
	case device.WriteCharacteristic:
		p.values[charKey(a.Characteristic)] = append([]byte(nil), a.Value...)
		return device.ActionResult{}, nil
	case device.ReadDescriptor:
		return device.ActionResult{Value: p.values[descKey(a.Descriptor)]}, nil
	case device.WriteDescriptor:
		p.values[descKey(a.Descriptor)] = append([]byte(nil), a.Value...)
		return device.ActionResult{}, nil
	case device.EnableNotification, device.DisableNotification:
		return device.ActionResult{}, nil
	case device.ReadRSSI:
		return device.ActionResult{RSSI: p.def.RSSI}, nil
	case device.RequestMTU:
		limit := p.def.MaxMTU
		if limit == 0 {
			limit = 247
		}
		return device.ActionResult{MTU: min(a.MTU, limit)}, nil
	default:
		return device.ActionResult{}, device.ErrUnsupported
	}
}

// buildServices creates a fresh attribute tree, as a real discovery would.
func buildServices(defs []FakeService) ([]*device.Service, error) {
	services := make([]*device.Service, 0, len(defs))
	for _, s := range defs {
		chars := make([]*device.Characteristic, 0, len(s.Characteristics))
		for _, c := range s.Characteristics {
			props, err := device.ParseProperties(c.Properties)
			if err != nil {
				return nil, err
			}
			descs := make([]*device.Descriptor, 0, len(c.Descriptors))
			for _, d := range c.Descriptors {
				descs = append(descs, device.NewDescriptor(d.UUID))
			}
			chars = append(chars, device.NewCharacteristic(c.UUID, props, descs...))
		}
		services = append(services, device.NewService(s.UUID, chars...))
	}
	return services, nil
}

func attrKey(path ...string) string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = bledb.NormalizeUUID(p)
	}
	return strings.Join(out, "/")
}

func charKey(c *device.Characteristic) string {
	return attrKey(c.Service().UUID(), c.UUID())
}

func descKey(d *device.Descriptor) string {
	c := d.Characteristic()
	return attrKey(c.Service().UUID(), c.UUID(), d.UUID())
}
