package device

import (
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/srg/blecentral/internal/bledb"
)

// Descriptor is a GATT descriptor with its last known value.
type Descriptor struct {
	uuid           string
	knownName      string
	characteristic *Characteristic

	mu    sync.RWMutex
	value []byte
}

// NewDescriptor creates a descriptor; uuid is normalised.
func NewDescriptor(uuid string) *Descriptor {
	return &Descriptor{
		uuid:      bledb.NormalizeUUID(uuid),
		knownName: bledb.LookupDescriptor(uuid),
	}
}

func (d *Descriptor) UUID() string      { return d.uuid }
func (d *Descriptor) KnownName() string { return d.knownName }

// Characteristic returns the characteristic this descriptor belongs to.
func (d *Descriptor) Characteristic() *Characteristic { return d.characteristic }

// Value returns a copy of the last value read or written.
func (d *Descriptor) Value() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return bytes.Clone(d.value)
}

func (d *Descriptor) setValue(v []byte) {
	d.mu.Lock()
	d.value = bytes.Clone(v)
	d.mu.Unlock()
}

// Characteristic is a GATT characteristic with its last known value and notification state.
type Characteristic struct {
	uuid        string
	knownName   string
	properties  Properties
	descriptors []*Descriptor
	service     *Service

	mu        sync.RWMutex
	value     []byte
	notifying bool
}

// NewCharacteristic creates a characteristic owning the given descriptors, sorted by UUID.
func NewCharacteristic(uuid string, props Properties, descriptors ...*Descriptor) *Characteristic {
	c := &Characteristic{
		uuid:        bledb.NormalizeUUID(uuid),
		knownName:   bledb.LookupCharacteristic(uuid),
		properties:  props,
		descriptors: slices.Clone(descriptors),
	}
	slices.SortFunc(c.descriptors, func(a, b *Descriptor) int { return strings.Compare(a.uuid, b.uuid) })
	for _, d := range c.descriptors {
		d.characteristic = c
	}
	return c
}

func (c *Characteristic) UUID() string           { return c.uuid }
func (c *Characteristic) KnownName() string      { return c.knownName }
func (c *Characteristic) Properties() Properties { return c.properties }
func (c *Characteristic) Service() *Service      { return c.service }

func (c *Characteristic) Descriptors() []*Descriptor { return slices.Clone(c.descriptors) }

// Descriptor looks up a descriptor by UUID (any accepted form).
func (c *Characteristic) Descriptor(uuid string) (*Descriptor, error) {
	n := bledb.NormalizeUUID(uuid)
	for _, d := range c.descriptors {
		if d.uuid == n {
			return d, nil
		}
	}
	path := []string{uuid}
	if c.service != nil {
		path = []string{c.service.uuid, c.uuid, uuid}
	}
	return nil, &ServiceNotDiscoveredError{Resource: "descriptor", UUIDs: path}
}

// Value returns a copy of the last value read, written or notified.
func (c *Characteristic) Value() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return bytes.Clone(c.value)
}

// IsNotifying reports whether notifications are currently enabled.
func (c *Characteristic) IsNotifying() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.notifying
}

func (c *Characteristic) setValue(v []byte) {
	c.mu.Lock()
	c.value = bytes.Clone(v)
	c.mu.Unlock()
}

func (c *Characteristic) setNotifying(on bool) {
	c.mu.Lock()
	c.notifying = on
	c.mu.Unlock()
}

// Service is a discovered GATT service.
type Service struct {
	uuid            string
	knownName       string
	characteristics []*Characteristic
}

// NewService creates a service owning the given characteristics, sorted by UUID.
func NewService(uuid string, characteristics ...*Characteristic) *Service {
	s := &Service{
		uuid:            bledb.NormalizeUUID(uuid),
		knownName:       bledb.LookupService(uuid),
		characteristics: slices.Clone(characteristics),
	}
	slices.SortFunc(s.characteristics, func(a, b *Characteristic) int { return strings.Compare(a.uuid, b.uuid) })
	for _, c := range s.characteristics {
		c.service = s
	}
	return s
}

func (s *Service) UUID() string      { return s.uuid }
func (s *Service) KnownName() string { return s.knownName }

func (s *Service) Characteristics() []*Characteristic { return slices.Clone(s.characteristics) }

// Characteristic looks up a characteristic by UUID (any accepted form).
func (s *Service) Characteristic(uuid string) (*Characteristic, error) {
	n := bledb.NormalizeUUID(uuid)
	for _, c := range s.characteristics {
		if c.uuid == n {
			return c, nil
		}
	}
	return nil, &ServiceNotDiscoveredError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

// Profile is the set of services installed by one successful discovery.
// The attribute tree is fixed once built; only cached values change.
type Profile struct {
	services        []*Service
	characteristics map[*Characteristic]struct{}
	descriptors     map[*Descriptor]struct{}
}

// NewProfile builds a profile from discovered services, sorted by UUID.
func NewProfile(services []*Service) *Profile {
	p := &Profile{
		services:        slices.Clone(services),
		characteristics: make(map[*Characteristic]struct{}),
		descriptors:     make(map[*Descriptor]struct{}),
	}
	slices.SortFunc(p.services, func(a, b *Service) int { return strings.Compare(a.uuid, b.uuid) })
	for _, s := range p.services {
		for _, c := range s.characteristics {
			p.characteristics[c] = struct{}{}
			for _, d := range c.descriptors {
				p.descriptors[d] = struct{}{}
			}
		}
	}
	return p
}

func (p *Profile) Services() []*Service { return slices.Clone(p.services) }

// Service looks up a service by UUID (any accepted form).
func (p *Profile) Service(uuid string) (*Service, error) {
	n := bledb.NormalizeUUID(uuid)
	for _, s := range p.services {
		if s.uuid == n {
			return s, nil
		}
	}
	return nil, &ServiceNotDiscoveredError{Resource: "service", UUIDs: []string{uuid}}
}

// Characteristic looks up a characteristic by service and characteristic UUID.
func (p *Profile) Characteristic(service, uuid string) (*Characteristic, error) {
	svc, err := p.Service(service)
	if err != nil {
		return nil, err
	}
	return svc.Characteristic(uuid)
}

// Descriptor looks up a descriptor by its full path.
func (p *Profile) Descriptor(service, characteristic, uuid string) (*Descriptor, error) {
	c, err := p.Characteristic(service, characteristic)
	if err != nil {
		return nil, err
	}
	return c.Descriptor(uuid)
}

// ContainsCharacteristic reports whether c belongs to this profile instance.
func (p *Profile) ContainsCharacteristic(c *Characteristic) bool {
	_, ok := p.characteristics[c]
	return ok
}

// ContainsDescriptor reports whether d belongs to this profile instance.
func (p *Profile) ContainsDescriptor(d *Descriptor) bool {
	_, ok := p.descriptors[d]
	return ok
}

// resetNotifying clears the notification flag on every characteristic.
func (p *Profile) resetNotifying() {
	for c := range p.characteristics {
		c.setNotifying(false)
	}
}
