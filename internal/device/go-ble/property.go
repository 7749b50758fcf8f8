package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

var propertyMap = []struct {
	ble ble.Property
	dev device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropSignedWrite},
	{ble.CharExtended, device.PropExtendedProperties},
}

// toProperties converts go-ble characteristic property flags.
func toProperties(p ble.Property) device.Properties {
	var out device.Properties
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			out |= m.dev
		}
	}
	return out
}
