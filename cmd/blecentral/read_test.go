//go:build test

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/testutils"
)

type ReadTestSuite struct {
	CommandTestSuite
}

func (s *ReadTestSuite) TestReadFormats() {
	// GOAL: Verify a single characteristic read prints hex or raw bytes
	//
	// TEST SCENARIO: read 2a19 --hex → "55"; read 2a38 raw → 0x01 byte

	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"hex", []string{"read", TestDeviceAddress1, "2a19", "--hex"}, "55\n"},
		{"raw", []string{"read", TestDeviceAddress1, "2a38"}, "\x01"},
		{"lowercase address", []string{"read", "aa:bb:cc:dd:ee:01", "2A19", "--hex"}, "55\n"},
		{"char flag with service", []string{"read", TestDeviceAddress1, "--service", "180f", "--char", "2a19", "--hex"}, "55\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resetFlags(rootCmd)
			stdout, _, err := s.ExecuteCommand(tt.args...)
			s.Require().NoError(err, "read MUST succeed")
			s.Equal(tt.expected, stdout)
		})
	}
}

func (s *ReadTestSuite) TestReadMultiple() {
	// GOAL: Verify several characteristics are read in order through the single action queue
	//
	// TEST SCENARIO: read 2a19,2a38 --hex → one prefixed line per characteristic, never two reads in flight

	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a19, 2a38", "--hex")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(stdout, "2a19: 55\n2a38: 01\n")
	s.Equal(2, s.driver.CallCount("PerformAction(read_characteristic)"))
	s.Equal(1, s.driver.MaxInFlight(), "reads MUST be issued one at a time")
}

func (s *ReadTestSuite) TestReadMultipleReportsFailuresInline() {
	// GOAL: Verify a failed read in a batch is reported without aborting the others
	//
	// TEST SCENARIO: first read fails → error on stderr, second value still printed

	s.driver.FailNext(device.KindReadCharacteristic, errors.New("insufficient authentication"))

	stdout, stderr, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a19,2a38", "--hex")
	s.Require().NoError(err)

	s.Equal("2a38: 01\n", stdout)
	s.Contains(stderr, "2a19: error: read_characteristic(2a19) failed: insufficient authentication")
}

func (s *ReadTestSuite) TestReadDescriptor() {
	// GOAL: Verify --desc reads the descriptor under the named characteristic
	//
	// TEST SCENARIO: read --service 180d --char 2a37 --desc 2902 --hex → "0000"

	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "--service", "180d", "--char", "2a37", "--desc", "2902", "--hex")
	s.Require().NoError(err)
	s.Equal("0000\n", stdout)
	s.Equal(1, s.driver.CallCount("PerformAction(read_descriptor)"))
}

func (s *ReadTestSuite) TestReadUnknownCharacteristic() {
	// GOAL: Verify reading a characteristic the peripheral does not expose is a resolution error
	//
	// TEST SCENARIO: read 2a00 → ServiceNotDiscoveredError, no read issued, link released

	_, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a00")

	var notDiscovered *device.ServiceNotDiscoveredError
	s.Require().ErrorAs(err, &notDiscovered)
	s.Zero(s.driver.CallCount("PerformAction"), "nothing MUST be sent for an unresolved UUID")
	s.Equal(1, s.driver.CallCount("Disconnect"), "session MUST disconnect on exit")
}

func (s *ReadTestSuite) TestReadArgumentErrors() {
	// GOAL: Verify argument problems are reported before connecting
	//
	// TEST SCENARIO: no UUID / blank UUID list / watch with several UUIDs / bad watch interval → error, no driver calls

	tests := []struct {
		name   string
		args   []string
		errMsg string
	}{
		{"missing uuid", []string{"read", TestDeviceAddress1}, "UUID required"},
		{"blank uuid list", []string{"read", TestDeviceAddress1, " , "}, "no valid UUIDs"},
		{"watch with several", []string{"read", TestDeviceAddress1, "2a19,2a38", "--watch=1s"}, "watch mode requires a single characteristic"},
		{"bad watch interval", []string{"read", TestDeviceAddress1, "2a19", "--watch=soon"}, "invalid watch interval"},
		{"too many args", []string{"read", TestDeviceAddress1, "2a19", "extra"}, "accepts between 1 and 2 arg(s)"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, _, err := s.ExecuteCommand(tt.args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.errMsg)
		})
	}
	s.Empty(s.driver.Calls())
}

func (s *ReadTestSuite) TestConnectRetriesTransientFailures() {
	// GOAL: Verify a rejected connection attempt is retried
	//
	// TEST SCENARIO: first Connect rejected → second attempt succeeds → value printed

	s.driver.RejectNext("Connect", errors.New("controller busy"))

	stdout, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "2a19", "--hex")
	s.Require().NoError(err)
	s.Equal("55\n", stdout)
	s.Equal(2, s.driver.CallCount("Connect"))
}

func (s *ReadTestSuite) TestConnectGivesUpAfterRetries() {
	// GOAL: Verify connection attempts are bounded by connect.retries
	//
	// TEST SCENARIO: unknown peripheral → 1 + 2 retries → error names the device

	_, _, err := s.ExecuteCommand("read", TestDeviceAddress2, "2a19")
	s.Require().ErrorIs(err, testutils.ErrPeripheralNotFound)
	s.Contains(err.Error(), "failed to connect to "+TestDeviceAddress2)
	s.Equal(3, s.driver.CallCount("Connect"))
}

func (s *ReadTestSuite) TestRetryable() {
	// GOAL: Verify which connection failures are worth another attempt
	//
	// TEST SCENARIO: radio/permission/unsupported/closed errors → final; anything else → retry

	s.False(retryable(device.ErrBluetoothOff))
	s.False(retryable(device.ErrNoPermission))
	s.False(retryable(device.ErrUnsupported))
	s.False(retryable(device.ErrClosed))
	s.True(retryable(errors.New("page timeout")))
	s.True(retryable(testutils.ErrPeripheralNotFound))
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}
