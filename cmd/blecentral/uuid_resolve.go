package main

import (
	"fmt"
	"strings"

	"github.com/srg/blecentral/internal/bledb"
	"github.com/srg/blecentral/internal/device"
)

// resolveCharacteristic finds a characteristic in the discovered profile.
//
// With serviceUUID the lookup is direct. Without it every service is searched and
// the UUID must be unique across them.
func resolveCharacteristic(profile *device.Profile, charUUID, serviceUUID string) (*device.Characteristic, error) {
	if profile == nil {
		return nil, device.ErrNotConnected
	}
	if bledb.NormalizeUUID(charUUID) == "" {
		return nil, fmt.Errorf("invalid characteristic UUID %q", charUUID)
	}

	if serviceUUID != "" {
		return profile.Characteristic(serviceUUID, charUUID)
	}

	var found []*device.Characteristic
	for _, svc := range profile.Services() {
		if c, err := svc.Characteristic(charUUID); err == nil {
			found = append(found, c)
		}
	}

	switch len(found) {
	case 0:
		return nil, &device.ServiceNotDiscoveredError{
			Resource: "characteristic",
			UUIDs:    []string{bledb.NormalizeUUID(charUUID)},
		}
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("characteristic %s found in multiple services, specify --service", bledb.NormalizeUUID(charUUID))
	}
}

// resolveDescriptor finds descUUID under the characteristic identified by charUUID
// and serviceUUID. Without charUUID the descriptor UUID must be unique in the profile.
func resolveDescriptor(profile *device.Profile, descUUID, charUUID, serviceUUID string) (*device.Descriptor, error) {
	if profile == nil {
		return nil, device.ErrNotConnected
	}

	if charUUID != "" {
		c, err := resolveCharacteristic(profile, charUUID, serviceUUID)
		if err != nil {
			return nil, err
		}
		return c.Descriptor(descUUID)
	}

	var found []*device.Descriptor
	for _, svc := range profile.Services() {
		if serviceUUID != "" && svc.UUID() != bledb.NormalizeUUID(serviceUUID) {
			continue
		}
		for _, c := range svc.Characteristics() {
			if d, err := c.Descriptor(descUUID); err == nil {
				found = append(found, d)
			}
		}
	}

	switch len(found) {
	case 0:
		return nil, &device.ServiceNotDiscoveredError{
			Resource: "descriptor",
			UUIDs:    []string{bledb.NormalizeUUID(descUUID)},
		}
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("descriptor %s found in multiple characteristics, specify --service and --char", bledb.NormalizeUUID(descUUID))
	}
}

// resolveCharacteristics resolves a comma-separated list. With an empty list and a
// service, every characteristic of that service is returned.
func resolveCharacteristics(profile *device.Profile, charUUIDsCSV, serviceUUID string) ([]*device.Characteristic, error) {
	uuids := parseCSVUUIDs(charUUIDsCSV)

	if len(uuids) == 0 {
		if serviceUUID == "" {
			return nil, fmt.Errorf("no UUIDs provided")
		}
		if profile == nil {
			return nil, device.ErrNotConnected
		}
		svc, err := profile.Service(serviceUUID)
		if err != nil {
			return nil, err
		}
		chars := svc.Characteristics()
		if len(chars) == 0 {
			return nil, fmt.Errorf("no characteristics found in service %s", svc.UUID())
		}
		return chars, nil
	}

	out := make([]*device.Characteristic, 0, len(uuids))
	for _, u := range uuids {
		c, err := resolveCharacteristic(profile, u, serviceUUID)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// parseCSVUUIDs parses a comma-separated string of UUIDs into a slice.
// Handles whitespace and filters empty elements.
//
// Examples:
//
//	"2a37" -> []string{"2a37"}
//	"2a37, 2a38" -> []string{"2a37", "2a38"}
func parseCSVUUIDs(input string) []string {
	var result []string
	for _, u := range strings.Split(input, ",") {
		u = strings.TrimSpace(u)
		if u != "" {
			result = append(result, u)
		}
	}
	return result
}

// displayName renders a UUID with its SIG name when one is known.
func displayName(uuid, known string) string {
	if known == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, known)
}
