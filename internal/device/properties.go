package device

import (
	"fmt"
	"strings"
)

// Properties is the GATT characteristic properties bitmask.
type Properties uint8

const (
	PropBroadcast            Properties = 0x01
	PropRead                 Properties = 0x02
	PropWriteWithoutResponse Properties = 0x04
	PropWrite                Properties = 0x08
	PropNotify               Properties = 0x10
	PropIndicate             Properties = 0x20
	PropSignedWrite          Properties = 0x40
	PropExtendedProperties   Properties = 0x80
)

var propertyNames = []struct {
	flag Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtendedProperties, "extended-properties"},
}

// Has reports whether every bit of flag is set.
func (p Properties) Has(flag Properties) bool {
	return p&flag == flag
}

// CanNotify reports whether the characteristic supports notifications or indications.
func (p Properties) CanNotify() bool {
	return p&(PropNotify|PropIndicate) != 0
}

// String renders the set flags as a comma-separated list, e.g. "read,notify".
func (p Properties) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.flag) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma-separated list produced by Properties.String.
// Names are case-insensitive; "write-nr" and "write_without_response" are accepted too.
func ParseProperties(s string) (Properties, error) {
	var p Properties
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(name, "_", "-")
		if name == "write-nr" {
			name = "write-without-response"
		}

		found := false
		for _, pn := range propertyNames {
			if pn.name == name {
				p |= pn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", raw)
		}
	}
	return p, nil
}
