//go:build test

package main

import (
	"bytes"
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
	"github.com/srg/blecentral/pkg/config"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// advertisingDriver reports its canned advertisements as soon as a scan starts.
type advertisingDriver struct {
	*testutils.FakeDriver
	adverts []*testutils.AdvertisementBuilder
}

func (d *advertisingDriver) StartScan(filter device.ScanFilter) error {
	if err := d.FakeDriver.StartScan(filter); err != nil {
		return err
	}
	for _, b := range d.adverts {
		d.Advertise(b.ID(), b.RSSI(), b.BuildData())
	}
	return nil
}

// CommandTestSuite runs cobra commands against an in-memory radio.
// All cmd/blecentral command suites embed it.
type CommandTestSuite struct {
	suite.Suite

	driver *advertisingDriver
	gate   *device.StaticGate

	originalDriver  func(*config.Config, *logrus.Logger) device.RadioDriver
	originalGate    func() device.PermissionGate
	originalBackoff time.Duration
}

func (s *CommandTestSuite) SetupSuite() {
	s.originalDriver = newDriver
	s.originalGate = newGate
	s.originalBackoff = retryBackoff
}

func (s *CommandTestSuite) TearDownSuite() {
	newDriver = s.originalDriver
	newGate = s.originalGate
	retryBackoff = s.originalBackoff
}

func (s *CommandTestSuite) SetupTest() {
	s.driver = &advertisingDriver{
		FakeDriver: testutils.NewFakeDriver().
			AddPeripheral(testutils.HeartRatePeripheral(TestDeviceAddress1)),
	}
	s.gate = device.NewStaticGate(true, true)

	newDriver = func(*config.Config, *logrus.Logger) device.RadioDriver { return s.driver }
	newGate = func() device.PermissionGate { return s.gate }
	retryBackoff = time.Millisecond

	resetFlags(rootCmd)
}

// AddAdvertisements makes the next scans hear the given peripherals, in order.
func (s *CommandTestSuite) AddAdvertisements(adverts ...*testutils.AdvertisementBuilder) {
	s.driver.adverts = append(s.driver.adverts, adverts...)
}

// ExecuteCommand runs the root command with args and returns stdout and stderr separately.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// cobra only hands the context to subcommands that have none yet
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// resetFlags puts every flag of cmd and its children back to its default, so
// values parsed by one test do not leak into the next.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// WhenCalled runs fn in the background once the driver has seen prefix,
// or gives up after two seconds.
func (s *CommandTestSuite) WhenCalled(prefix string, fn func()) {
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for s.driver.CallCount(prefix) == 0 {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		fn()
	}()
}
