package goble

import (
	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

// handles maps the attribute tree handed to the device layer back to the go-ble objects
// that address them on the wire. It is rebuilt by every discovery.
type handles struct {
	characteristics map[*device.Characteristic]*ble.Characteristic
	descriptors     map[*device.Descriptor]*ble.Descriptor
}

// toServices converts a discovered go-ble profile. Descriptor handles are kept even when
// the platform did not populate them; reads of such descriptors fail at the radio.
func toServices(p *ble.Profile) ([]*device.Service, *handles) {
	h := &handles{
		characteristics: make(map[*device.Characteristic]*ble.Characteristic),
		descriptors:     make(map[*device.Descriptor]*ble.Descriptor),
	}
	if p == nil {
		return nil, h
	}

	services := make([]*device.Service, 0, len(p.Services))
	for _, bs := range p.Services {
		chars := make([]*device.Characteristic, 0, len(bs.Characteristics))
		for _, bc := range bs.Characteristics {
			descs := make([]*device.Descriptor, 0, len(bc.Descriptors))
			for _, bd := range bc.Descriptors {
				d := device.NewDescriptor(bd.UUID.String())
				h.descriptors[d] = bd
				descs = append(descs, d)
			}
			c := device.NewCharacteristic(bc.UUID.String(), toProperties(bc.Property), descs...)
			h.characteristics[c] = bc
			chars = append(chars, c)
		}
		services = append(services, device.NewService(bs.UUID.String(), chars...))
	}
	return services, h
}
