package device

import "fmt"

// ActionKind identifies the variant of an Action.
type ActionKind int

const (
	KindReadCharacteristic ActionKind = iota
	KindReadDescriptor
	KindWriteCharacteristic
	KindWriteDescriptor
	KindEnableNotification
	KindDisableNotification
	KindReadRSSI
	KindRequestMTU
)

func (k ActionKind) String() string {
	switch k {
	case KindReadCharacteristic:
		return "read_characteristic"
	case KindReadDescriptor:
		return "read_descriptor"
	case KindWriteCharacteristic:
		return "write_characteristic"
	case KindWriteDescriptor:
		return "write_descriptor"
	case KindEnableNotification:
		return "enable_notification"
	case KindDisableNotification:
		return "disable_notification"
	case KindReadRSSI:
		return "read_rssi"
	case KindRequestMTU:
		return "request_mtu"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// Action is a protocol operation executed against a connected device.
// The set of variants is closed; dispatch with a type switch.
type Action interface {
	Kind() ActionKind
	String() string
	isAction()
}

type ReadCharacteristic struct {
	Characteristic *Characteristic
}

type ReadDescriptor struct {
	Descriptor *Descriptor
}

type WriteCharacteristic struct {
	Characteristic  *Characteristic
	Value           []byte
	WithoutResponse bool
}

type WriteDescriptor struct {
	Descriptor *Descriptor
	Value      []byte
}

type EnableNotification struct {
	Characteristic *Characteristic
}

type DisableNotification struct {
	Characteristic *Characteristic
}

type ReadRSSI struct{}

// RequestMTU asks the peripheral to negotiate the given ATT MTU.
type RequestMTU struct {
	MTU int
}

func (ReadCharacteristic) Kind() ActionKind  { return KindReadCharacteristic }
func (ReadDescriptor) Kind() ActionKind      { return KindReadDescriptor }
func (WriteCharacteristic) Kind() ActionKind { return KindWriteCharacteristic }
func (WriteDescriptor) Kind() ActionKind     { return KindWriteDescriptor }
func (EnableNotification) Kind() ActionKind  { return KindEnableNotification }
func (DisableNotification) Kind() ActionKind { return KindDisableNotification }
func (ReadRSSI) Kind() ActionKind            { return KindReadRSSI }
func (RequestMTU) Kind() ActionKind          { return KindRequestMTU }

func (ReadCharacteristic) isAction()  {}
func (ReadDescriptor) isAction()      {}
func (WriteCharacteristic) isAction() {}
func (WriteDescriptor) isAction()     {}
func (EnableNotification) isAction()  {}
func (DisableNotification) isAction() {}
func (ReadRSSI) isAction()            {}
func (RequestMTU) isAction()          {}

func (a ReadCharacteristic) String() string  { return charLabel(a.Kind(), a.Characteristic) }
func (a ReadDescriptor) String() string      { return descLabel(a.Kind(), a.Descriptor) }
func (a WriteCharacteristic) String() string { return charLabel(a.Kind(), a.Characteristic) }
func (a WriteDescriptor) String() string     { return descLabel(a.Kind(), a.Descriptor) }
func (a EnableNotification) String() string  { return charLabel(a.Kind(), a.Characteristic) }
func (a DisableNotification) String() string { return charLabel(a.Kind(), a.Characteristic) }
func (a ReadRSSI) String() string            { return a.Kind().String() }
func (a RequestMTU) String() string          { return fmt.Sprintf("%s(%d)", a.Kind(), a.MTU) }

func charLabel(k ActionKind, c *Characteristic) string {
	if c == nil {
		return k.String() + "(<nil>)"
	}
	return fmt.Sprintf("%s(%s)", k, c.uuid)
}

func descLabel(k ActionKind, d *Descriptor) string {
	if d == nil {
		return k.String() + "(<nil>)"
	}
	return fmt.Sprintf("%s(%s)", k, d.uuid)
}

// ActionResult is the outcome of a successfully completed action.
// Only the field matching the action kind is meaningful.
type ActionResult struct {
	Value []byte // read characteristic / descriptor
	RSSI  int    // read RSSI
	MTU   int    // negotiated MTU
	NoOp  bool   // completed without reaching the radio
}

// attributeOf returns the characteristic or descriptor an action targets, if any.
func attributeOf(a Action) (*Characteristic, *Descriptor) {
	switch v := a.(type) {
	case ReadCharacteristic:
		return v.Characteristic, nil
	case WriteCharacteristic:
		return v.Characteristic, nil
	case EnableNotification:
		return v.Characteristic, nil
	case DisableNotification:
		return v.Characteristic, nil
	case ReadDescriptor:
		return nil, v.Descriptor
	case WriteDescriptor:
		return nil, v.Descriptor
	default:
		return nil, nil
	}
}

// validateAgainst checks that the action's attribute belongs to profile p.
func validateAgainst(a Action, p *Profile) error {
	if a == nil {
		return fmt.Errorf("nil action")
	}
	char, desc := attributeOf(a)
	switch {
	case char != nil:
		if p == nil || !p.ContainsCharacteristic(char) {
			return &ServiceNotDiscoveredError{Resource: "characteristic", UUIDs: attributePath(char, nil)}
		}
		if a.Kind() == KindEnableNotification && !char.properties.CanNotify() {
			return fmt.Errorf("characteristic %s does not support notifications: %w", char.uuid, ErrUnsupported)
		}
	case desc != nil:
		if p == nil || !p.ContainsDescriptor(desc) {
			return &ServiceNotDiscoveredError{Resource: "descriptor", UUIDs: attributePath(nil, desc)}
		}
	default:
		switch v := a.(type) {
		case ReadRSSI:
		case RequestMTU:
			if v.MTU < DefaultMTU {
				return fmt.Errorf("requested MTU %d is below the minimum %d", v.MTU, DefaultMTU)
			}
		default:
			return fmt.Errorf("%s: no attribute", a)
		}
	}
	return nil
}

func attributePath(c *Characteristic, d *Descriptor) []string {
	var path []string
	if d != nil {
		c = d.characteristic
	}
	if c != nil {
		if c.service != nil {
			path = append(path, c.service.uuid)
		}
		path = append(path, c.uuid)
	}
	if d != nil {
		path = append(path, d.uuid)
	}
	return path
}
