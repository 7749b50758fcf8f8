//go:build test

package device_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

const testDeviceID = device.Identifier("AA:BB:CC:DD:EE:FF")

// DeviceTestSuite wires one Device to a FakeDriver serving the heart-rate peripheral.
type DeviceTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	driver *testutils.FakeDriver
	router *testutils.EventRouter
	dev    *device.Device
}

func (s *DeviceTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.driver = testutils.NewFakeDriver().AddPeripheral(testutils.HeartRatePeripheral(testDeviceID))
	s.router = testutils.NewEventRouter()
	s.driver.Bind(s.router)

	s.dev = device.NewDevice(testDeviceID, s.driver, s.helper.Logger)
	s.router.Register(s.dev)
}

func (s *DeviceTestSuite) TearDownTest() {
	if s.dev != nil {
		s.dev.Close()
	}
}

func (s *DeviceTestSuite) ctx() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	s.T().Cleanup(cancel)
	return ctx
}

// connectAndDiscover brings the device to Idle with a discovered profile.
func (s *DeviceTestSuite) connectAndDiscover() {
	s.Require().NoError(s.dev.Connect(s.ctx()), "MUST connect")
	s.Require().NoError(s.dev.DiscoverServices(s.ctx()), "MUST discover services")
	s.Require().Equal(device.Idle, s.dev.State(), "device MUST be idle after discovery")
}

func (s *DeviceTestSuite) characteristic(service, uuid string) *device.Characteristic {
	c, err := s.dev.Characteristic(service, uuid)
	s.Require().NoError(err, "characteristic %s/%s MUST be discovered", service, uuid)
	return c
}

func (s *DeviceTestSuite) waitState(state device.ConnectionState) {
	s.Require().Eventually(func() bool {
		return s.dev.State() == state
	}, time.Second, 5*time.Millisecond, "device MUST reach state %s", state)
}

func (s *DeviceTestSuite) wait(p *device.Pending) (device.ActionResult, error) {
	s.Require().NotNil(p, "pending MUST not be nil")
	return p.Wait(s.ctx())
}
