package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/device"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}

func CreateMockAdvertisementFromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	return NewAdvertisementBuilder().FromJSON(jsonStrFmt, args...)
}

// HeartRatePeripheral returns a peripheral exposing Battery (180F) and Heart Rate (180D)
// services plus a vendor characteristic for write tests.
func HeartRatePeripheral(id device.Identifier) FakePeripheral {
	return FakePeripheral{
		ID:   id,
		RSSI: -42,
		Services: []FakeService{
			{
				UUID: "180F",
				Characteristics: []FakeCharacteristic{
					{UUID: "2A19", Properties: "read,notify", Value: []byte{85}},
				},
			},
			{
				UUID: "180D",
				Characteristics: []FakeCharacteristic{
					{
						UUID:       "2A37",
						Properties: "notify",
						Value:      []byte{0, 75},
						Descriptors: []FakeDescriptor{
							{UUID: "2902", Value: []byte{0, 0}},
						},
					},
					{UUID: "2A38", Properties: "read", Value: []byte{1}},
					{UUID: "2A39", Properties: "write", Value: []byte{}},
				},
			},
			{
				UUID: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
				Characteristics: []FakeCharacteristic{
					{UUID: "6e400002-b5a3-f393-e0a9-e50e24dcca9e", Properties: "write,write-without-response"},
					{UUID: "6e400003-b5a3-f393-e0a9-e50e24dcca9e", Properties: "notify"},
				},
			},
		},
	}
}
