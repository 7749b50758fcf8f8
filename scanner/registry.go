package scanner

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blecentral/internal/device"
	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/ringchan"
)

// DefaultWatchBuffer is the number of snapshots a slow Watch consumer may fall behind
// before the oldest are overwritten.
const DefaultWatchBuffer = 16

// CleanMode decides which devices survive when a scan session starts or stops.
type CleanMode int

const (
	// RemoveAll drops every device from every view.
	RemoveAll CleanMode = iota
	// RetainAll keeps everything.
	RetainAll
	// OnlyProvidedFilter keeps only the view of the scan's filter.
	OnlyProvidedFilter
)

func (m CleanMode) String() string {
	switch m {
	case RemoveAll:
		return "remove_all"
	case RetainAll:
		return "retain_all"
	case OnlyProvidedFilter:
		return "only_provided_filter"
	default:
		return fmt.Sprintf("clean_mode(%d)", int(m))
	}
}

// ParseCleanMode parses the String form; dashes are accepted in place of underscores.
func ParseCleanMode(s string) (CleanMode, error) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_") {
	case "", "remove_all":
		return RemoveAll, nil
	case "retain_all":
		return RetainAll, nil
	case "only_provided_filter":
		return OnlyProvidedFilter, nil
	default:
		return RemoveAll, fmt.Errorf("unknown clean mode %q", s)
	}
}

type snapshot = orderedmap.OrderedMap[device.Identifier, *device.Device]

// view is the set of devices discovered under one filter. Its snapshot is immutable
// once published; writers replace it under Registry.mu.
type view struct {
	filter device.ScanFilter
	snap   atomic.Pointer[snapshot]
	subs   map[int]*ringchan.RingChannel[[]*device.Device]
}

func newView(filter device.ScanFilter) *view {
	v := &view{filter: filter, subs: make(map[int]*ringchan.RingChannel[[]*device.Device])}
	v.snap.Store(orderedmap.New[device.Identifier, *device.Device]())
	return v
}

func (v *view) list() []*device.Device {
	snap := v.snap.Load()
	out := make([]*device.Device, 0, snap.Len())
	for p := snap.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

func (v *view) contains(id device.Identifier) bool {
	_, ok := v.snap.Load().Get(id)
	return ok
}

// Registry holds every known device, grouped into one view per scan filter.
// The view with the empty filter is the union of all others.
//
// Readers never lock: they walk the last published snapshot. Writers are serialised.
type Registry struct {
	logger *logrus.Logger
	driver device.RadioDriver

	mu      sync.Mutex
	views   *hashmap.Map[string, *view]
	union   *view
	nextSub int
}

// NewRegistry creates an empty registry. Devices it creates talk to driver.
func NewRegistry(driver device.RadioDriver, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	r := &Registry{
		logger: logger,
		driver: driver,
		views:  hashmap.New[string, *view](),
		union:  newView(device.ScanFilter{}),
	}
	r.views.Set("", r.union)
	return r
}

// view returns the view of filter, registering an empty one on first use.
func (r *Registry) view(filter device.ScanFilter) *view {
	key := filter.Key()
	if v, ok := r.views.Get(key); ok {
		return v
	}
	v, _ := r.views.GetOrInsert(key, newView(filter))
	return v
}

// AllDevices returns every known device in discovery order.
func (r *Registry) AllDevices() []*device.Device {
	return r.union.list()
}

// DevicesForFilter returns the devices discovered while filter was active.
func (r *Registry) DevicesForFilter(filter device.ScanFilter) []*device.Device {
	return r.view(filter).list()
}

// Devices returns a restartable sequence over filter's view; each range walks the
// snapshot current at the time it starts.
func (r *Registry) Devices(filter device.ScanFilter) iter.Seq[*device.Device] {
	v := r.view(filter)
	return func(yield func(*device.Device) bool) {
		snap := v.snap.Load()
		for p := snap.Oldest(); p != nil; p = p.Next() {
			if !yield(p.Value) {
				return
			}
		}
	}
}

// Watch streams filter's device list: the current list first, then one list per change.
// A consumer that falls behind loses the oldest lists, never the latest. The channel is
// closed when ctx ends.
func (r *Registry) Watch(ctx context.Context, filter device.ScanFilter) <-chan []*device.Device {
	ring := ringchan.New[[]*device.Device](DefaultWatchBuffer)

	r.mu.Lock()
	v := r.view(filter)
	id := r.nextSub
	r.nextSub++
	v.subs[id] = ring
	ring.Send(v.list())
	r.mu.Unlock()

	groutine.Go(ctx, "registry-watch", r.logger, func(ctx context.Context) {
		<-ctx.Done()
		r.mu.Lock()
		delete(v.subs, id)
		r.mu.Unlock()
		ring.Close()
	})
	return ring.C()
}

// Get returns a known device.
func (r *Registry) Get(id device.Identifier) (*device.Device, bool) {
	return r.union.snap.Load().Get(id)
}

// GetOrCreate returns the device for id, creating a disconnected one if it is unknown.
// Created devices join the union view only.
func (r *Registry) GetOrCreate(id device.Identifier) *device.Device {
	if d, ok := r.Get(id); ok {
		return d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.union.snap.Load().Get(id); ok {
		return d
	}
	d := r.newDevice(id)
	r.insert(r.union, d)
	return d
}

// Clear closes and removes every device, connected or not.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := r.union.list()
	r.views.Range(func(_ string, v *view) bool {
		if v.snap.Load().Len() > 0 {
			r.publish(v, orderedmap.New[device.Identifier, *device.Device]())
		}
		return true
	})
	for _, d := range dropped {
		d.Close()
	}
	r.logger.WithField("devices", len(dropped)).Debug("Registry cleared")
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return r.union.snap.Load().Len()
}

// Close closes every device. The registry must not be used afterwards.
func (r *Registry) Close() {
	r.Clear()
}

// ----------------------------
// Writers
// ----------------------------

// discovered records an advertisement heard while scanning with filter.
// It reports whether the device is new and whether anything observable changed.
func (r *Registry) discovered(filter device.ScanFilter, id device.Identifier, rssi int, adv device.AdvertisementData) (d *device.Device, isNew, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.view(filter)

	d, known := r.union.snap.Load().Get(id)
	if !known {
		d = r.newDevice(id)
		d.ApplyAdvertisement(rssi, adv)
		r.insert(r.union, d)
		if active != r.union {
			r.insert(active, d)
		}
		return d, true, true
	}

	updated := d.ApplyAdvertisement(rssi, adv)
	joined := false
	if !active.contains(id) {
		r.insert(active, d)
		joined = true
	}
	if !updated {
		return d, false, joined
	}

	// membership unchanged; re-announce the views that show this device
	r.views.Range(func(_ string, v *view) bool {
		if v.contains(id) && !(joined && v == active) {
			r.notify(v)
		}
		return true
	})
	return d, false, true
}

// clean applies mode after a scan with activeFilter started or stopped.
// Devices that are not Disconnected survive every mode.
func (r *Registry) clean(mode CleanMode, activeFilter device.ScanFilter) {
	if mode == RetainAll {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keep := activeFilter.Key()
	r.views.Range(func(key string, v *view) bool {
		if key == "" || (mode == OnlyProvidedFilter && key == keep) {
			return true
		}
		r.retain(v, func(d *device.Device) bool { return d.State() != device.Disconnected })
		return true
	})

	if mode == OnlyProvidedFilter && keep == "" {
		return
	}

	// rebuild the union from the survivors
	var dropped []*device.Device
	r.retain(r.union, func(d *device.Device) bool {
		if d.State() != device.Disconnected || r.inFilteredView(d.ID()) {
			return true
		}
		dropped = append(dropped, d)
		return false
	})

	for _, d := range dropped {
		d.Close()
	}
	r.logger.WithFields(logrus.Fields{
		"clean_mode": mode,
		"filter":     activeFilter,
		"dropped":    len(dropped),
		"remaining":  r.union.snap.Load().Len(),
	}).Debug("Registry cleaned")
}

func (r *Registry) inFilteredView(id device.Identifier) bool {
	found := false
	r.views.Range(func(key string, v *view) bool {
		if key != "" && v.contains(id) {
			found = true
			return false
		}
		return true
	})
	return found
}

// retain publishes a copy of v holding only the devices keep accepts.
func (r *Registry) retain(v *view, keep func(*device.Device) bool) {
	cur := v.snap.Load()
	next := orderedmap.New[device.Identifier, *device.Device](orderedmap.WithCapacity[device.Identifier, *device.Device](cur.Len()))
	for p := cur.Oldest(); p != nil; p = p.Next() {
		if keep(p.Value) {
			next.Set(p.Key, p.Value)
		}
	}
	if next.Len() != cur.Len() {
		r.publish(v, next)
	}
}

func (r *Registry) insert(v *view, d *device.Device) {
	cur := v.snap.Load()
	next := orderedmap.New[device.Identifier, *device.Device](orderedmap.WithCapacity[device.Identifier, *device.Device](cur.Len() + 1))
	for p := cur.Oldest(); p != nil; p = p.Next() {
		next.Set(p.Key, p.Value)
	}
	next.Set(d.ID(), d)
	r.publish(v, next)
}

func (r *Registry) publish(v *view, next *snapshot) {
	v.snap.Store(next)
	r.notify(v)
}

func (r *Registry) notify(v *view) {
	if len(v.subs) == 0 {
		return
	}
	list := v.list()
	for _, ring := range v.subs {
		ring.Send(list)
	}
}

func (r *Registry) newDevice(id device.Identifier) *device.Device {
	r.logger.WithField("device_id", id).Debug("Registering device")
	return device.NewDevice(id, r.driver, r.logger)
}
