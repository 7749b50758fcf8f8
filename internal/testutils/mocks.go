package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/internal/device"
)

// MockDriver is a testify mock of device.RadioDriver for exact call assertions.
// Bind is recorded without an expectation; the bound sink is available via Events.
type MockDriver struct {
	mock.Mock

	mu     sync.Mutex
	events device.DriverEvents
}

func (m *MockDriver) Bind(events device.DriverEvents) {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
}

// Events returns the sink installed by Bind.
func (m *MockDriver) Events() device.DriverEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.events
}

func (m *MockDriver) StartScan(filter device.ScanFilter) error {
	return m.Called(filter.Key()).Error(0)
}

func (m *MockDriver) StopScan() error {
	return m.Called().Error(0)
}

func (m *MockDriver) Connect(id device.Identifier) error {
	return m.Called(id).Error(0)
}

func (m *MockDriver) Disconnect(id device.Identifier) error {
	return m.Called(id).Error(0)
}

func (m *MockDriver) DiscoverServices(id device.Identifier) error {
	return m.Called(id).Error(0)
}

func (m *MockDriver) PerformAction(id device.Identifier, seq uint64, action device.Action) error {
	return m.Called(id, seq, action).Error(0)
}

func (m *MockDriver) PairedDevices(ctx context.Context, filter device.ScanFilter) ([]device.Identifier, error) {
	args := m.Called(ctx, filter.Key())
	ids, _ := args.Get(0).([]device.Identifier)
	return ids, args.Error(1)
}

// MockGate is a testify mock of device.PermissionGate.
// Subscribe is not mocked: callbacks are stored and fired with Trigger.
type MockGate struct {
	mock.Mock

	mu   sync.Mutex
	subs []func()
}

func (g *MockGate) IsBluetoothEnabled() bool {
	return g.Called().Bool(0)
}

func (g *MockGate) HasPermission() bool {
	return g.Called().Bool(0)
}

func (g *MockGate) Subscribe(fn func()) func() {
	g.mu.Lock()
	g.subs = append(g.subs, fn)
	idx := len(g.subs) - 1
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		g.subs[idx] = nil
		g.mu.Unlock()
	}
}

// Trigger invokes every live subscriber.
func (g *MockGate) Trigger() {
	g.mu.Lock()
	subs := append([]func(){}, g.subs...)
	g.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn()
		}
	}
}

// EventRouter is a minimal device.DriverEvents that forwards device events to
// registered devices. Discovery and scan events are recorded.
type EventRouter struct {
	mu          sync.Mutex
	devices     map[device.Identifier]*device.Device
	discovered  []device.Identifier
	scanFailure error
}

func NewEventRouter() *EventRouter {
	return &EventRouter{devices: make(map[device.Identifier]*device.Device)}
}

func (r *EventRouter) Register(d *device.Device) {
	r.mu.Lock()
	r.devices[d.ID()] = d
	r.mu.Unlock()
}

func (r *EventRouter) get(id device.Identifier) *device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[id]
}

func (r *EventRouter) Discovered() []device.Identifier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.Identifier(nil), r.discovered...)
}

func (r *EventRouter) OnDiscovered(id device.Identifier, _ int, _ device.AdvertisementData) {
	r.mu.Lock()
	r.discovered = append(r.discovered, id)
	r.mu.Unlock()
}

func (r *EventRouter) OnScanFailed(err error) {
	r.mu.Lock()
	r.scanFailure = err
	r.mu.Unlock()
}

func (r *EventRouter) OnConnected(id device.Identifier) {
	if d := r.get(id); d != nil {
		d.HandleConnected()
	}
}

func (r *EventRouter) OnConnectFailed(id device.Identifier, err error) {
	if d := r.get(id); d != nil {
		d.HandleConnectFailed(err)
	}
}

func (r *EventRouter) OnDisconnected(id device.Identifier, err error) {
	if d := r.get(id); d != nil {
		d.HandleDisconnected(err)
	}
}

func (r *EventRouter) OnServicesDiscovered(id device.Identifier, services []*device.Service, err error) {
	if d := r.get(id); d != nil {
		d.HandleServicesDiscovered(services, err)
	}
}

func (r *EventRouter) OnActionCompleted(id device.Identifier, seq uint64, result device.ActionResult, err error) {
	if d := r.get(id); d != nil {
		d.HandleActionCompleted(seq, result, err)
	}
}

func (r *EventRouter) OnNotification(id device.Identifier, service, characteristic string, value []byte) {
	if d := r.get(id); d != nil {
		d.HandleNotification(service, characteristic, value)
	}
}
