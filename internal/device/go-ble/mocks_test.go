//go:build test

package goble_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"

	"github.com/srg/blecentral/internal/device"
)

// mockBLEDevice overrides the ble.Device methods the driver uses; the rest panic through the nil embed.
type mockBLEDevice struct {
	ble.Device
	mock.Mock
}

func (m *mockBLEDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *mockBLEDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

func (m *mockBLEDevice) Stop() error {
	return m.Called().Error(0)
}

type mockBLEClient struct {
	ble.Client
	mock.Mock

	once         sync.Once
	disconnected chan struct{}
}

func newMockBLEClient() *mockBLEClient {
	return &mockBLEClient{disconnected: make(chan struct{})}
}

// dropLink simulates the controller reporting a disconnection.
func (m *mockBLEClient) dropLink() {
	m.once.Do(func() { close(m.disconnected) })
}

func (m *mockBLEClient) Disconnected() <-chan struct{} {
	return m.disconnected
}

func (m *mockBLEClient) DiscoverProfile(force bool) (*ble.Profile, error) {
	args := m.Called(force)
	p, _ := args.Get(0).(*ble.Profile)
	return p, args.Error(1)
}

func (m *mockBLEClient) ReadCharacteristic(c *ble.Characteristic) ([]byte, error) {
	args := m.Called(c)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *mockBLEClient) WriteCharacteristic(c *ble.Characteristic, v []byte, noRsp bool) error {
	return m.Called(c, v, noRsp).Error(0)
}

func (m *mockBLEClient) ReadDescriptor(d *ble.Descriptor) ([]byte, error) {
	args := m.Called(d)
	v, _ := args.Get(0).([]byte)
	return v, args.Error(1)
}

func (m *mockBLEClient) WriteDescriptor(d *ble.Descriptor, v []byte) error {
	return m.Called(d, v).Error(0)
}

func (m *mockBLEClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *mockBLEClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *mockBLEClient) ReadRSSI() int {
	return m.Called().Int(0)
}

func (m *mockBLEClient) ExchangeMTU(rxMTU int) (int, error) {
	args := m.Called(rxMTU)
	return args.Int(0), args.Error(1)
}

func (m *mockBLEClient) CancelConnection() error {
	return m.Called().Error(0)
}

// eventLog records DriverEvents callbacks as readable lines plus their payloads.
type eventLog struct {
	mu       sync.Mutex
	lines    []string
	adv      map[device.Identifier]device.AdvertisementData
	services []*device.Service
	results  map[uint64]device.ActionResult
	errs     []error
}

func newEventLog() *eventLog {
	return &eventLog{
		adv:     make(map[device.Identifier]device.AdvertisementData),
		results: make(map[uint64]device.ActionResult),
	}
}

func (e *eventLog) add(line string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lines = append(e.lines, line)
	if err != nil {
		e.errs = append(e.errs, err)
	}
}

func (e *eventLog) Lines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.lines...)
}

func (e *eventLog) Errors() []error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]error(nil), e.errs...)
}

func (e *eventLog) Has(line string) bool {
	for _, l := range e.Lines() {
		if l == line {
			return true
		}
	}
	return false
}

func (e *eventLog) Advertisement(id device.Identifier) (device.AdvertisementData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	a, ok := e.adv[id]
	return a, ok
}

func (e *eventLog) Services() []*device.Service {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.services
}

func (e *eventLog) Result(seq uint64) device.ActionResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results[seq]
}

func (e *eventLog) OnDiscovered(id device.Identifier, rssi int, adv device.AdvertisementData) {
	e.mu.Lock()
	e.adv[id] = adv
	e.mu.Unlock()
	e.add(fmt.Sprintf("discovered %s %d", id, rssi), nil)
}

func (e *eventLog) OnScanFailed(err error) {
	e.add("scan failed", err)
}

func (e *eventLog) OnConnected(id device.Identifier) {
	e.add("connected "+id.String(), nil)
}

func (e *eventLog) OnConnectFailed(id device.Identifier, err error) {
	e.add("connect failed "+id.String(), err)
}

func (e *eventLog) OnDisconnected(id device.Identifier, err error) {
	e.add("disconnected "+id.String(), err)
}

func (e *eventLog) OnServicesDiscovered(id device.Identifier, services []*device.Service, err error) {
	e.mu.Lock()
	e.services = services
	e.mu.Unlock()
	e.add(fmt.Sprintf("services %s %d", id, len(services)), err)
}

func (e *eventLog) OnActionCompleted(id device.Identifier, seq uint64, result device.ActionResult, err error) {
	e.mu.Lock()
	e.results[seq] = result
	e.mu.Unlock()
	e.add(fmt.Sprintf("completed %s %d", id, seq), err)
}

func (e *eventLog) OnNotification(id device.Identifier, service, characteristic string, value []byte) {
	e.add(fmt.Sprintf("notification %s %s/%s %x", id, service, characteristic, value), nil)
}
