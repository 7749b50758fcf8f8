package device

import (
	"bytes"
	"maps"
	"slices"
	"strings"

	"github.com/srg/blecentral/internal/bledb"
)

// Identifier is the platform-stable identity of a peripheral: the MAC address on
// Linux, the CoreBluetooth peripheral UUID on darwin.
type Identifier string

func (id Identifier) String() string { return string(id) }

// ParseIdentifier canonicalises user or radio supplied identifiers: trimmed, upper case.
func ParseIdentifier(s string) Identifier {
	return Identifier(strings.ToUpper(strings.TrimSpace(s)))
}

// AdvertisementFields is the raw input for NewAdvertisementData.
type AdvertisementFields struct {
	LocalName        string
	Services         []string
	TxPower          *int
	ManufacturerData []byte
	ServiceData      map[string][]byte
	Connectable      bool
}

// AdvertisementData is an immutable snapshot of the last advertisement seen from a peripheral.
// A new advertisement replaces the snapshot as a whole; fields are never merged.
type AdvertisementData struct {
	localName        string
	services         []string
	txPower          *int
	manufacturerData []byte
	serviceData      map[string][]byte
	connectable      bool
}

// NewAdvertisementData copies f, normalising and sorting service UUIDs.
// Service UUIDs that do not parse are dropped.
func NewAdvertisementData(f AdvertisementFields) AdvertisementData {
	adv := AdvertisementData{
		localName:   f.LocalName,
		connectable: f.Connectable,
	}

	for _, s := range f.Services {
		if n := bledb.NormalizeUUID(s); n != "" && !slices.Contains(adv.services, n) {
			adv.services = append(adv.services, n)
		}
	}
	slices.Sort(adv.services)

	if f.TxPower != nil {
		tx := *f.TxPower
		adv.txPower = &tx
	}
	if len(f.ManufacturerData) > 0 {
		adv.manufacturerData = bytes.Clone(f.ManufacturerData)
	}
	if len(f.ServiceData) > 0 {
		adv.serviceData = make(map[string][]byte, len(f.ServiceData))
		for k, v := range f.ServiceData {
			key := bledb.NormalizeUUID(k)
			if key == "" {
				continue
			}
			adv.serviceData[key] = bytes.Clone(v)
		}
	}
	return adv
}

func (a AdvertisementData) LocalName() string { return a.localName }
func (a AdvertisementData) Connectable() bool { return a.connectable }

// Services returns the advertised service UUIDs, normalised and sorted.
func (a AdvertisementData) Services() []string { return slices.Clone(a.services) }

// TxPower returns the advertised transmit power, if present.
func (a AdvertisementData) TxPower() (int, bool) {
	if a.txPower == nil {
		return 0, false
	}
	return *a.txPower, true
}

func (a AdvertisementData) ManufacturerData() []byte { return bytes.Clone(a.manufacturerData) }

// ServiceData returns a copy of the service data keyed by normalised service UUID.
func (a AdvertisementData) ServiceData() map[string][]byte {
	if a.serviceData == nil {
		return nil
	}
	out := make(map[string][]byte, len(a.serviceData))
	for k, v := range a.serviceData {
		out[k] = bytes.Clone(v)
	}
	return out
}

// HasService reports whether uuid (any accepted form) is advertised.
func (a AdvertisementData) HasService(uuid string) bool {
	_, found := slices.BinarySearch(a.services, bledb.NormalizeUUID(uuid))
	return found
}

// Equal reports whether a and b carry the same advertisement content.
func (a AdvertisementData) Equal(b AdvertisementData) bool {
	if a.localName != b.localName || a.connectable != b.connectable {
		return false
	}
	if (a.txPower == nil) != (b.txPower == nil) || (a.txPower != nil && *a.txPower != *b.txPower) {
		return false
	}
	if !slices.Equal(a.services, b.services) || !bytes.Equal(a.manufacturerData, b.manufacturerData) {
		return false
	}
	return maps.EqualFunc(a.serviceData, b.serviceData, bytes.Equal)
}
