package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"

	"github.com/srg/blecentral/internal/device"
)

// AdvertisementBuilder builds advertisements for tests, either as the core
// device.AdvertisementData or as a go-ble ble.Advertisement for driver tests.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	manufData   []byte
	serviceData map[string][]byte
	txPower     *int
	connectable bool
}

// NewAdvertisementBuilder creates a builder with connectable=true and RSSI -50.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{
		serviceData: make(map[string][]byte),
		connectable: true,
		rssi:        -50,
	}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices adds service UUIDs, short ("180D") or full form.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	return b
}

func (b *AdvertisementBuilder) WithServiceData(uuid string, data []byte) *AdvertisementBuilder {
	b.serviceData[uuid] = data
	return b
}

func (b *AdvertisementBuilder) WithTxPower(power int) *AdvertisementBuilder {
	b.txPower = &power
	return b
}

// FromJSON fills builder fields from a JSON string with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	var data struct {
		Name             *string           `json:"name"`
		Address          *string           `json:"address"`
		RSSI             *int              `json:"rssi"`
		Services         []string          `json:"services"`
		ManufacturerData []byte            `json:"manufacturerData"`
		ServiceData      map[string][]byte `json:"serviceData"`
		TxPower          *int              `json:"txPower"`
		Connectable      *bool             `json:"connectable"`
	}

	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.name = *data.Name
	}
	if data.Address != nil {
		b.address = *data.Address
	}
	if data.RSSI != nil {
		b.rssi = *data.RSSI
	}
	b.services = append(b.services, data.Services...)
	if data.ManufacturerData != nil {
		b.manufData = data.ManufacturerData
	}
	for k, v := range data.ServiceData {
		b.serviceData[k] = v
	}
	if data.TxPower != nil {
		b.txPower = data.TxPower
	}
	if data.Connectable != nil {
		b.connectable = *data.Connectable
	}
	return b
}

// ID returns the configured address as a device identifier.
func (b *AdvertisementBuilder) ID() device.Identifier {
	return device.ParseIdentifier(b.address)
}

// RSSI returns the configured signal strength.
func (b *AdvertisementBuilder) RSSI() int {
	return b.rssi
}

// BuildData creates the core advertisement snapshot.
func (b *AdvertisementBuilder) BuildData() device.AdvertisementData {
	return device.NewAdvertisementData(device.AdvertisementFields{
		LocalName:        b.name,
		Services:         b.services,
		TxPower:          b.txPower,
		ManufacturerData: b.manufData,
		ServiceData:      b.serviceData,
		Connectable:      b.connectable,
	})
}

// Build creates a ble.Advertisement carrying the configured fields.
// TxPowerLevel reports 127 (unavailable) when no power was set.
func (b *AdvertisementBuilder) Build() ble.Advertisement {
	adv := &bleAdvertisement{
		name:        b.name,
		addr:        ble.NewAddr(b.address),
		rssi:        b.rssi,
		manufData:   b.manufData,
		txPower:     127,
		connectable: b.connectable,
	}
	if b.txPower != nil {
		adv.txPower = *b.txPower
	}
	for _, s := range b.services {
		adv.services = append(adv.services, ble.MustParse(s))
	}
	for uuid, data := range b.serviceData {
		adv.serviceData = append(adv.serviceData, ble.ServiceData{UUID: ble.MustParse(uuid), Data: data})
	}
	return adv
}

type bleAdvertisement struct {
	name        string
	addr        ble.Addr
	rssi        int
	services    []ble.UUID
	manufData   []byte
	serviceData []ble.ServiceData
	txPower     int
	connectable bool
}

func (a *bleAdvertisement) LocalName() string              { return a.name }
func (a *bleAdvertisement) ManufacturerData() []byte       { return a.manufData }
func (a *bleAdvertisement) ServiceData() []ble.ServiceData { return a.serviceData }
func (a *bleAdvertisement) Services() []ble.UUID           { return a.services }
func (a *bleAdvertisement) OverflowService() []ble.UUID    { return nil }
func (a *bleAdvertisement) TxPowerLevel() int              { return a.txPower }
func (a *bleAdvertisement) Connectable() bool              { return a.connectable }
func (a *bleAdvertisement) SolicitedService() []ble.UUID   { return nil }
func (a *bleAdvertisement) RSSI() int                      { return a.rssi }
func (a *bleAdvertisement) Addr() ble.Addr                 { return a.addr }
