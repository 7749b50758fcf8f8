package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

// txPowerUnavailable is what go-ble reports when the advertisement carries no TX power.
const txPowerUnavailable = 127

// toAdvertisementData snapshots a go-ble advertisement.
// Overflow services are folded into the advertised service list.
func toAdvertisementData(adv ble.Advertisement) device.AdvertisementData {
	fields := device.AdvertisementFields{
		LocalName:        adv.LocalName(),
		ManufacturerData: adv.ManufacturerData(),
		Connectable:      adv.Connectable(),
	}

	for _, u := range adv.Services() {
		fields.Services = append(fields.Services, u.String())
	}
	for _, u := range adv.OverflowService() {
		fields.Services = append(fields.Services, u.String())
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		fields.TxPower = &tx
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		fields.ServiceData = make(map[string][]byte, len(sd))
		for _, d := range sd {
			fields.ServiceData[d.UUID.String()] = d.Data
		}
	}

	return device.NewAdvertisementData(fields)
}

// identifierOf returns the platform identity carried by an advertisement.
func identifierOf(adv ble.Advertisement) device.Identifier {
	if adv.Addr() == nil {
		return ""
	}
	return device.ParseIdentifier(adv.Addr().String())
}
