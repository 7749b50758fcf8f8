package device

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/srg/blecentral/internal/bledb"
)

// ScanFilter is a set of service UUIDs a scan is restricted to.
// The zero value is the empty (unfiltered) filter.
type ScanFilter struct {
	services mapset.Set[string]
}

// NewScanFilter builds a filter from service UUIDs in any accepted form.
// Duplicates and unparsable UUIDs are ignored.
func NewScanFilter(services ...string) ScanFilter {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, s := range services {
		if n := bledb.NormalizeUUID(s); n != "" {
			set.Add(n)
		}
	}
	return ScanFilter{services: set}
}

// IsEmpty reports whether the filter matches every advertisement.
func (f ScanFilter) IsEmpty() bool {
	return f.services == nil || f.services.Cardinality() == 0
}

// UUIDs returns the normalised service UUIDs, sorted.
func (f ScanFilter) UUIDs() []string {
	if f.IsEmpty() {
		return nil
	}
	out := f.services.ToSlice()
	slices.Sort(out)
	return out
}

// Key is the canonical identity of the filter; equal filters have equal keys
// and the empty filter has the empty key.
func (f ScanFilter) Key() string {
	return strings.Join(f.UUIDs(), ",")
}

// Contains reports whether uuid (any accepted form) is part of the filter.
func (f ScanFilter) Contains(uuid string) bool {
	return !f.IsEmpty() && f.services.Contains(bledb.NormalizeUUID(uuid))
}

// Matches reports whether adv advertises at least one service of the filter.
// An empty filter matches everything.
func (f ScanFilter) Matches(adv AdvertisementData) bool {
	if f.IsEmpty() {
		return true
	}
	for _, s := range adv.services {
		if f.services.Contains(s) {
			return true
		}
	}
	return false
}

// Equal reports whether f and o hold the same services.
func (f ScanFilter) Equal(o ScanFilter) bool {
	if f.IsEmpty() || o.IsEmpty() {
		return f.IsEmpty() == o.IsEmpty()
	}
	return f.services.Equal(o.services)
}

func (f ScanFilter) String() string {
	if f.IsEmpty() {
		return "*"
	}
	return f.Key()
}
