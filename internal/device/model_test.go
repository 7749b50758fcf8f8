package device_test

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blecentral/internal/device"
)

func TestProperties(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  device.Properties
		str   string
	}{
		{"single", "read", device.PropRead, "read"},
		{"combined", "read,notify", device.PropRead | device.PropNotify, "read,notify"},
		{"short write-nr", "write-nr", device.PropWriteWithoutResponse, "write-without-response"},
		{"underscores and case", "Write_Without_Response, INDICATE", device.PropWriteWithoutResponse | device.PropIndicate, "write-without-response,indicate"},
		{"empty", "", 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := device.ParseProperties(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}

	t.Run("unknown property", func(t *testing.T) {
		_, err := device.ParseProperties("read,teleport")
		assert.ErrorContains(t, err, "teleport")
	})

	t.Run("notify capability", func(t *testing.T) {
		assert.True(t, device.PropIndicate.CanNotify())
		assert.True(t, (device.PropRead | device.PropNotify).CanNotify())
		assert.False(t, (device.PropRead | device.PropWrite).CanNotify())
	})
}

func TestScanFilter(t *testing.T) {
	t.Run("empty filter matches everything", func(t *testing.T) {
		var zero device.ScanFilter
		assert.True(t, zero.IsEmpty())
		assert.Equal(t, "", zero.Key())
		assert.Equal(t, "*", zero.String())
		assert.True(t, zero.Matches(device.NewAdvertisementData(device.AdvertisementFields{})))
		assert.True(t, zero.Equal(device.NewScanFilter()))
	})

	t.Run("key is canonical", func(t *testing.T) {
		a := device.NewScanFilter("180D", "0x180f", "180d")
		b := device.NewScanFilter("0000180f-0000-1000-8000-00805f9b34fb", "180d")
		assert.Equal(t, "180d,180f", a.Key())
		assert.Equal(t, a.Key(), b.Key())
		assert.True(t, a.Equal(b))
		assert.Equal(t, []string{"180d", "180f"}, a.UUIDs())
	})

	t.Run("invalid uuids are ignored", func(t *testing.T) {
		f := device.NewScanFilter("not-a-uuid")
		assert.True(t, f.IsEmpty())
	})

	t.Run("matches any advertised service", func(t *testing.T) {
		f := device.NewScanFilter("180d")
		hr := device.NewAdvertisementData(device.AdvertisementFields{Services: []string{"180F", "180D"}})
		other := device.NewAdvertisementData(device.AdvertisementFields{Services: []string{"1812"}})

		assert.True(t, f.Matches(hr))
		assert.False(t, f.Matches(other))
		assert.True(t, f.Contains("0x180D"))
		assert.False(t, f.Equal(device.NewScanFilter()))
	})
}

func TestAdvertisementData(t *testing.T) {
	tx := -4
	fields := device.AdvertisementFields{
		LocalName:        "HR Strap",
		Services:         []string{"180F", "180d", "0000180d-0000-1000-8000-00805f9b34fb", "bogus"},
		TxPower:          &tx,
		ManufacturerData: []byte{0x4c, 0x00},
		ServiceData:      map[string][]byte{"180F": {85}},
		Connectable:      true,
	}
	adv := device.NewAdvertisementData(fields)

	assert.Equal(t, "HR Strap", adv.LocalName())
	assert.Equal(t, []string{"180d", "180f"}, adv.Services(), "services MUST be normalised, deduplicated and sorted")
	assert.True(t, adv.HasService("0x180F"))
	assert.False(t, adv.HasService("1812"))
	assert.True(t, adv.Connectable())

	power, ok := adv.TxPower()
	assert.True(t, ok)
	assert.Equal(t, -4, power)
	assert.Equal(t, map[string][]byte{"180f": {85}}, adv.ServiceData())

	t.Run("snapshot is isolated from inputs", func(t *testing.T) {
		tx = 10
		fields.ManufacturerData[0] = 0xff
		power, _ := adv.TxPower()
		assert.Equal(t, -4, power)
		assert.Equal(t, []byte{0x4c, 0x00}, adv.ManufacturerData())

		out := adv.ManufacturerData()
		out[0] = 0
		assert.Equal(t, []byte{0x4c, 0x00}, adv.ManufacturerData())
	})

	t.Run("equality", func(t *testing.T) {
		same := device.NewAdvertisementData(device.AdvertisementFields{
			LocalName:        "HR Strap",
			Services:         []string{"180D", "180F"},
			TxPower:          ptr(-4),
			ManufacturerData: []byte{0x4c, 0x00},
			ServiceData:      map[string][]byte{"0x180f": {85}},
			Connectable:      true,
		})
		assert.True(t, adv.Equal(same))

		renamed := device.NewAdvertisementData(device.AdvertisementFields{LocalName: "Other", Services: []string{"180d", "180f"}})
		assert.False(t, adv.Equal(renamed))

		noPower := device.NewAdvertisementData(device.AdvertisementFields{
			LocalName:        "HR Strap",
			Services:         []string{"180D", "180F"},
			ManufacturerData: []byte{0x4c, 0x00},
			ServiceData:      map[string][]byte{"180f": {85}},
			Connectable:      true,
		})
		assert.False(t, adv.Equal(noPower), "missing tx power MUST differ")
	})
}

func TestProfileLookups(t *testing.T) {
	cccd := device.NewDescriptor("2902")
	hr := device.NewCharacteristic("2A37", device.PropNotify, cccd)
	profile := device.NewProfile([]*device.Service{
		device.NewService("180D", hr, device.NewCharacteristic("2A38", device.PropRead)),
		device.NewService("180F", device.NewCharacteristic("2A19", device.PropRead|device.PropNotify)),
	})

	t.Run("known names and back references", func(t *testing.T) {
		svc, err := profile.Service("0x180d")
		require.NoError(t, err)
		assert.Equal(t, "Heart Rate", svc.KnownName())
		assert.Same(t, svc, hr.Service())
		assert.Same(t, hr, cccd.Characteristic())
		assert.Equal(t, "Heart Rate Measurement", hr.KnownName())
	})

	t.Run("lookups", func(t *testing.T) {
		c, err := profile.Characteristic("180d", "2a37")
		require.NoError(t, err)
		assert.Same(t, hr, c)

		d, err := profile.Descriptor("180d", "2a37", "2902")
		require.NoError(t, err)
		assert.Same(t, cccd, d)

		assert.True(t, profile.ContainsCharacteristic(hr))
		assert.True(t, profile.ContainsDescriptor(cccd))
		assert.False(t, profile.ContainsCharacteristic(device.NewCharacteristic("2a37", device.PropNotify)))
	})

	t.Run("missing attributes", func(t *testing.T) {
		tests := []struct {
			name     string
			lookup   func() error
			resource string
			message  string
		}{
			{
				name:     "service",
				lookup:   func() error { _, err := profile.Service("1812"); return err },
				resource: "service",
				message:  `service "1812" not discovered`,
			},
			{
				name:     "characteristic",
				lookup:   func() error { _, err := profile.Characteristic("180f", "2a37"); return err },
				resource: "characteristic",
				message:  `characteristic "2a37" not discovered in service "180f"`,
			},
			{
				name:     "descriptor",
				lookup:   func() error { _, err := profile.Descriptor("180d", "2a38", "2902"); return err },
				resource: "descriptor",
				message:  `descriptor "2902" not discovered in characteristic "2a38"`,
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := tt.lookup()
				var notDiscovered *device.ServiceNotDiscoveredError
				require.ErrorAs(t, err, &notDiscovered)
				assert.Equal(t, tt.resource, notDiscovered.Resource)
				assert.Equal(t, tt.message, err.Error())
			})
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("connection errors compare by state", func(t *testing.T) {
		err := fmt.Errorf("read: %w", &device.ConnectionError{State: device.NotConnected, Msg: "link lost"})
		assert.ErrorIs(t, err, device.ErrNotConnected)
		assert.NotErrorIs(t, err, device.ErrAlreadyConnected)
		assert.True(t, device.IsConnectionState(err, device.NotConnected))
		assert.Equal(t, "read: not_connected: link lost", err.Error())
	})

	t.Run("action failures unwrap", func(t *testing.T) {
		cause := errors.New("att error 0x05")
		err := &device.ActionFailedError{Action: device.ReadRSSI{}, Err: cause}
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "read_rssi failed: att error 0x05", err.Error())
	})

	t.Run("action labels", func(t *testing.T) {
		c := device.NewCharacteristic("2a19", device.PropRead)
		assert.Equal(t, "read_characteristic(2a19)", device.ReadCharacteristic{Characteristic: c}.String())
		assert.Equal(t, "request_mtu(247)", device.RequestMTU{MTU: 247}.String())
		assert.Equal(t, "enable_notification(<nil>)", device.EnableNotification{}.String())
	})
}

func TestConnectionState(t *testing.T) {
	assert.False(t, device.Disconnected.IsConnected())
	assert.False(t, device.Connecting.IsConnected())
	for _, s := range []device.ConnectionState{device.ConnectedNoServices, device.Discovering, device.Idle, device.HandlingAction} {
		assert.True(t, s.IsConnected(), "%s MUST count as connected", s)
	}
	assert.Equal(t, "handling_action", device.HandlingAction.String())
}

func TestStaticGate(t *testing.T) {
	gate := device.NewStaticGate(true, true)

	var calls atomic.Int32
	unsubscribe := gate.Subscribe(func() { calls.Add(1) })

	gate.SetBluetoothEnabled(true)
	assert.Zero(t, calls.Load(), "unchanged flag MUST not notify")

	gate.SetBluetoothEnabled(false)
	gate.SetPermission(false)
	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, gate.IsBluetoothEnabled())
	assert.False(t, gate.HasPermission())

	unsubscribe()
	gate.SetPermission(true)
	assert.Equal(t, int32(2), calls.Load(), "unsubscribed callback MUST not fire")
}

func ptr[T any](v T) *T { return &v }
