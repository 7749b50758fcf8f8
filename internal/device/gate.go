package device

import "sync"

// PermissionGate reports radio availability and the app's permission to use it.
type PermissionGate interface {
	IsBluetoothEnabled() bool
	HasPermission() bool
	// Subscribe registers fn to be called after either flag changes.
	Subscribe(fn func()) (unsubscribe func())
}

// StaticGate is a PermissionGate whose flags are set programmatically.
// Platforms without a permission model use it with both flags true.
type StaticGate struct {
	mu        sync.Mutex
	enabled   bool
	permitted bool
	nextID    int
	subs      map[int]func()
}

func NewStaticGate(enabled, permitted bool) *StaticGate {
	return &StaticGate{
		enabled:   enabled,
		permitted: permitted,
		subs:      make(map[int]func()),
	}
}

func (g *StaticGate) IsBluetoothEnabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enabled
}

func (g *StaticGate) HasPermission() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permitted
}

func (g *StaticGate) Subscribe(fn func()) func() {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.subs[id] = fn
	g.mu.Unlock()

	return func() {
		g.mu.Lock()
		delete(g.subs, id)
		g.mu.Unlock()
	}
}

// SetBluetoothEnabled updates the radio flag and notifies subscribers on change.
func (g *StaticGate) SetBluetoothEnabled(on bool) {
	g.set(func() bool {
		changed := g.enabled != on
		g.enabled = on
		return changed
	})
}

// SetPermission updates the permission flag and notifies subscribers on change.
func (g *StaticGate) SetPermission(granted bool) {
	g.set(func() bool {
		changed := g.permitted != granted
		g.permitted = granted
		return changed
	})
}

func (g *StaticGate) set(update func() bool) {
	g.mu.Lock()
	if !update() {
		g.mu.Unlock()
		return
	}
	subs := make([]func(), 0, len(g.subs))
	for _, fn := range g.subs {
		subs = append(subs, fn)
	}
	g.mu.Unlock()

	for _, fn := range subs {
		fn()
	}
}
