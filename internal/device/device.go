package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/groutine"
	"github.com/srg/blecentral/internal/ringchan"
)

// DefaultUpdatesBuffer is the capacity of the notification stream returned by Updates.
const DefaultUpdatesBuffer = 128

// status is the immutable view of a device's connection published after every actor step.
type status struct {
	state   ConnectionState
	current Action
	profile *Profile
	mtu     int
	rssi    int
	queued  int
}

// signal is the last advertisement and RSSI observed for a device.
type signal struct {
	rssi int
	adv  AdvertisementData
}

// Device is a peripheral known to the central.
//
// All connection state is owned by a dedicated actor goroutine; methods post
// requests to it and read published snapshots, so every method is safe for
// concurrent use.
type Device struct {
	id     Identifier
	logger *logrus.Logger
	mb     *mailbox

	status  atomic.Pointer[status]
	updates *ringchan.RingChannel[ValueUpdate]

	sigMu sync.Mutex
	sig   atomic.Pointer[signal]
}

// NewDevice creates a disconnected device and starts its actor.
// Call Close to stop the actor once the device is no longer needed.
func NewDevice(id Identifier, driver RadioDriver, logger *logrus.Logger) *Device {
	if logger == nil {
		logger = logrus.New()
	}

	d := &Device{
		id:      id,
		logger:  logger,
		mb:      newMailbox(),
		updates: ringchan.New[ValueUpdate](DefaultUpdatesBuffer),
	}
	d.sig.Store(&signal{})

	m := newMachine(id, driver, logger, d.updates)
	d.publish(m)

	groutine.Go(context.Background(), "device-"+string(id), logger, func(ctx context.Context) {
		d.run(m)
	})
	return d
}

func (d *Device) run(m *machine) {
	for range d.mb.signal {
		for {
			steps, closed := d.mb.drain()
			for _, step := range steps {
				step(m)
				d.publish(m)
				m.flush()
			}
			if len(steps) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}

func (d *Device) publish(m *machine) {
	st := &status{
		state:   m.state,
		profile: m.profile,
		mtu:     m.mtu,
		rssi:    m.rssi,
		queued:  m.queue.len(),
	}
	if m.current != nil {
		st.current = m.current.Action
	}
	d.status.Store(st)
}

// ----------------------------
// Identity and advertisement
// ----------------------------

func (d *Device) ID() Identifier { return d.id }

// Advertisement returns the last advertisement observed while scanning.
func (d *Device) Advertisement() AdvertisementData { return d.sig.Load().adv }

// RSSI returns the signal strength of the last advertisement observed while scanning.
func (d *Device) RSSI() int { return d.sig.Load().rssi }

// ApplyAdvertisement records a new advertisement. Returns false, leaving the device
// untouched, when both rssi and adv equal what is already stored.
func (d *Device) ApplyAdvertisement(rssi int, adv AdvertisementData) bool {
	d.sigMu.Lock()
	defer d.sigMu.Unlock()

	cur := d.sig.Load()
	if cur.rssi == rssi && cur.adv.Equal(adv) {
		return false
	}
	d.sig.Store(&signal{rssi: rssi, adv: adv})
	return true
}

// ----------------------------
// Published state
// ----------------------------

func (d *Device) State() ConnectionState { return d.status.Load().state }

// CurrentAction returns the action in flight on the radio, or nil.
func (d *Device) CurrentAction() Action { return d.status.Load().current }

// Profile returns the discovered profile, or nil before discovery and after disconnect.
func (d *Device) Profile() *Profile { return d.status.Load().profile }

// MTU returns the negotiated ATT MTU (DefaultMTU until negotiated).
func (d *Device) MTU() int { return d.status.Load().mtu }

// LinkRSSI returns the connection RSSI of the last ReadRSSI action, 0 when never read
// on the current link.
func (d *Device) LinkRSSI() int { return d.status.Load().rssi }

// QueueLen returns the number of actions waiting behind the current one.
func (d *Device) QueueLen() int { return d.status.Load().queued }

// Characteristic looks up a characteristic in the current profile.
func (d *Device) Characteristic(service, uuid string) (*Characteristic, error) {
	p := d.Profile()
	if p == nil {
		return nil, &ServiceNotDiscoveredError{Resource: "service", UUIDs: []string{service}}
	}
	return p.Characteristic(service, uuid)
}

// Updates streams peripheral notifications. The stream keeps the most recent
// DefaultUpdatesBuffer values and is closed when the device is closed.
func (d *Device) Updates() <-chan ValueUpdate { return d.updates.C() }

// ----------------------------
// Requests
// ----------------------------

// Connect requests a connection and waits for its outcome.
// A call while a connection is in progress joins it. Cancelling ctx only stops
// the wait; use Disconnect to abort the attempt.
func (d *Device) Connect(ctx context.Context) error {
	return d.request(ctx, (*machine).connect)
}

// Disconnect tears the connection down. Every queued and in-flight action
// fails with ErrNotConnected in the same actor step that enters Disconnected,
// and is resolved before Disconnect returns.
func (d *Device) Disconnect(ctx context.Context) error {
	return d.request(ctx, (*machine).disconnect)
}

// DiscoverServices runs service discovery and installs the resulting profile.
func (d *Device) DiscoverServices(ctx context.Context) error {
	return d.request(ctx, (*machine).discover)
}

func (d *Device) request(ctx context.Context, step func(*machine, chan<- error)) error {
	reply := make(chan error, 1)
	if !d.mb.post(func(m *machine) { step(m, reply) }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue appends action to the device queue. Usage errors (not connected,
// attribute not in the current profile) are returned synchronously; the outcome
// of an accepted action is delivered through the returned Pending.
func (d *Device) Enqueue(action Action) (*Pending, error) {
	reply := make(chan enqueueReply, 1)
	if !d.mb.post(func(m *machine) { m.enqueue(action, reply) }) {
		return nil, ErrClosed
	}
	r := <-reply
	return r.pending, r.err
}

// Perform enqueues action and waits for its completion.
func (d *Device) Perform(ctx context.Context, action Action) (ActionResult, error) {
	p, err := d.Enqueue(action)
	if err != nil {
		return ActionResult{}, err
	}
	return p.Wait(ctx)
}

// Close disconnects if needed, fails everything outstanding with ErrClosed and
// stops the actor. Further requests return ErrClosed.
func (d *Device) Close() {
	done := make(chan struct{})
	if !d.mb.post(func(m *machine) {
		m.shutdown()
		d.publish(m)
		m.flush()
		d.mb.close()
		close(done)
	}) {
		return
	}
	<-done
}

// ----------------------------
// Driver events
// ----------------------------

func (d *Device) HandleConnected() {
	d.mb.post(func(m *machine) { m.onConnected() })
}

func (d *Device) HandleConnectFailed(err error) {
	d.mb.post(func(m *machine) { m.onConnectFailed(err) })
}

func (d *Device) HandleDisconnected(err error) {
	d.mb.post(func(m *machine) { m.onDisconnected(err) })
}

func (d *Device) HandleServicesDiscovered(services []*Service, err error) {
	d.mb.post(func(m *machine) { m.onServicesDiscovered(services, err) })
}

func (d *Device) HandleActionCompleted(seq uint64, result ActionResult, err error) {
	d.mb.post(func(m *machine) { m.onActionCompleted(seq, result, err) })
}

func (d *Device) HandleNotification(service, characteristic string, value []byte) {
	d.mb.post(func(m *machine) { m.onNotification(service, characteristic, value) })
}
