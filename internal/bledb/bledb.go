// Package bledb normalises Bluetooth UUIDs and resolves well-known
// Bluetooth SIG assigned numbers to human-readable names.
package bledb

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// sigBaseSuffix is the tail shared by every UUID derived from the Bluetooth SIG base UUID
// (0000xxxx-0000-1000-8000-00805f9b34fb), dashes removed.
const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID converts a UUID string to the internal format (lowercase, no dashes).
// Accepts short (16/32-bit) and full 128-bit forms, with or without dashes, braces or a 0x prefix.
// SIG-based 128-bit UUIDs collapse to their short form.
// Returns an empty string if the input is not a valid UUID.
func NormalizeUUID(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	s = strings.TrimPrefix(s, "0x")

	switch len(s) {
	case 4, 8:
		if _, err := hex.DecodeString(s); err != nil {
			return ""
		}
		return s
	}

	parsed, err := uuid.Parse(s)
	if err != nil {
		return ""
	}
	full := strings.ReplaceAll(parsed.String(), "-", "")

	if strings.HasSuffix(full, sigBaseSuffix) {
		short := full[:8]
		if strings.HasPrefix(short, "0000") {
			return short[4:]
		}
		return short
	}
	return full
}

// NormalizeUUIDs normalizes a slice of UUID strings, keeping positions aligned with the input.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	result := make([]string, len(uuids))
	for i, u := range uuids {
		result[i] = NormalizeUUID(u)
	}
	return result
}

// LookupService returns the SIG name of a service UUID, or "" if unknown.
func LookupService(raw string) string {
	return services[NormalizeUUID(raw)]
}

// LookupCharacteristic returns the SIG name of a characteristic UUID, or "" if unknown.
func LookupCharacteristic(raw string) string {
	return characteristics[NormalizeUUID(raw)]
}

// LookupDescriptor returns the SIG name of a descriptor UUID, or "" if unknown.
func LookupDescriptor(raw string) string {
	return descriptors[NormalizeUUID(raw)]
}
