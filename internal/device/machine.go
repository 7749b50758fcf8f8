package device

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/ringchan"
)

// ValueUpdate is a characteristic value pushed by the peripheral.
type ValueUpdate struct {
	Service        string
	Characteristic string
	Value          []byte
	Received       time.Time
}

// machine is the connection state machine of one device. It is only ever touched
// by the device actor, so it holds no locks.
type machine struct {
	id     Identifier
	driver RadioDriver
	logger *logrus.Logger

	state   ConnectionState
	profile *Profile
	queue   actionQueue
	current *Pending
	seq     uint64
	mtu     int
	rssi    int
	closed  bool

	// state to fall back to if discovery fails
	discoverFrom ConnectionState

	connectWaiters  []chan<- error
	discoverWaiters []chan<- error

	// replies released by flush once the step's state is published
	replies []func()

	updates *ringchan.RingChannel[ValueUpdate]
}

func newMachine(id Identifier, driver RadioDriver, logger *logrus.Logger, updates *ringchan.RingChannel[ValueUpdate]) *machine {
	return &machine{
		id:      id,
		driver:  driver,
		logger:  logger,
		state:   Disconnected,
		mtu:     DefaultMTU,
		updates: updates,
	}
}

// after queues fn until the current step has been published.
func (m *machine) after(fn func()) {
	m.replies = append(m.replies, fn)
}

// flush releases the replies of the last step.
func (m *machine) flush() {
	replies := m.replies
	m.replies = nil
	for _, fn := range replies {
		fn()
	}
}

func (m *machine) reply(ch chan<- error, err error) {
	m.after(func() { ch <- err })
}

func (m *machine) resolve(p *Pending, result ActionResult, err error) {
	m.after(func() { p.resolve(result, err) })
}

func (m *machine) fail(p *Pending, err error) {
	m.after(func() { p.fail(err) })
}

func (m *machine) log() *logrus.Entry {
	return m.logger.WithFields(logrus.Fields{
		"device_id": m.id,
		"state":     m.state,
	})
}

func (m *machine) transition(to ConnectionState) {
	if m.state == to {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"device_id": m.id,
		"from":      m.state,
		"to":        to,
	}).Debug("Connection state changed")
	m.state = to
}

// ----------------------------
// Requests
// ----------------------------

func (m *machine) connect(reply chan<- error) {
	if m.closed {
		m.reply(reply, ErrClosed)
		return
	}

	switch m.state {
	case Disconnected:
		m.log().Info("Connecting to device...")
		m.transition(Connecting)
		if err := m.driver.Connect(m.id); err != nil {
			m.log().WithField("error", err).Warn("Driver rejected connect request")
			m.transition(Disconnected)
			m.reply(reply, err)
			return
		}
		m.connectWaiters = append(m.connectWaiters, reply)
	case Connecting:
		m.connectWaiters = append(m.connectWaiters, reply)
	default:
		m.reply(reply, ErrAlreadyConnected)
	}
}

func (m *machine) disconnect(reply chan<- error) {
	if m.closed {
		m.reply(reply, ErrClosed)
		return
	}
	if m.state == Disconnected {
		m.reply(reply, nil)
		return
	}

	m.log().Info("Disconnecting from device...")
	err := m.driver.Disconnect(m.id)
	if err != nil {
		m.log().WithField("error", err).Warn("Driver disconnect failed")
	}
	m.teardown(ErrNotConnected)
	m.reply(reply, err)
}

func (m *machine) discover(reply chan<- error) {
	if m.closed {
		m.reply(reply, ErrClosed)
		return
	}

	switch m.state {
	case Disconnected, Connecting:
		m.reply(reply, ErrNotConnected)
	case Discovering:
		m.discoverWaiters = append(m.discoverWaiters, reply)
	case HandlingAction:
		m.reply(reply, ErrBusy)
	case ConnectedNoServices, Idle:
		if err := m.driver.DiscoverServices(m.id); err != nil {
			m.log().WithField("error", err).Warn("Driver rejected discovery request")
			m.reply(reply, err)
			return
		}
		m.discoverFrom = m.state
		m.transition(Discovering)
		m.discoverWaiters = append(m.discoverWaiters, reply)
	}
}

type enqueueReply struct {
	pending *Pending
	err     error
}

func (m *machine) enqueue(action Action, reply chan<- enqueueReply) {
	if m.closed {
		m.after(func() { reply <- enqueueReply{err: ErrClosed} })
		return
	}
	if !m.state.IsConnected() {
		m.after(func() { reply <- enqueueReply{err: ErrNotConnected} })
		return
	}
	if err := validateAgainst(action, m.profile); err != nil {
		m.after(func() { reply <- enqueueReply{err: err} })
		return
	}

	m.seq++
	p := newPending(m.seq, action)
	m.queue.push(p)
	m.logger.WithFields(logrus.Fields{
		"device_id": m.id,
		"action":    action,
		"seq":       p.Seq,
		"queued":    m.queue.len(),
	}).Debug("Action enqueued")
	m.after(func() { reply <- enqueueReply{pending: p} })

	m.dispatchNext()
}

// shutdown fails everything outstanding and stops accepting requests.
func (m *machine) shutdown() {
	if m.closed {
		return
	}
	if m.state != Disconnected {
		if err := m.driver.Disconnect(m.id); err != nil {
			m.log().WithField("error", err).Warn("Driver disconnect failed during close")
		}
	}
	m.teardown(ErrClosed)
	m.closed = true
	m.updates.Close()
	m.logger.WithField("device_id", m.id).Debug("Device closed")
}

// ----------------------------
// Driver events
// ----------------------------

func (m *machine) onConnected() {
	if m.state != Connecting {
		m.log().Debug("Ignoring connected event outside of connecting")
		return
	}
	m.transition(ConnectedNoServices)
	m.log().Info("Device connected")
	m.resolveWaiters(&m.connectWaiters, nil)
}

func (m *machine) onConnectFailed(err error) {
	if m.state != Connecting {
		m.log().WithField("error", err).Debug("Ignoring connect failure outside of connecting")
		return
	}
	if err == nil {
		err = ErrNotConnected
	}
	m.log().WithField("error", err).Warn("Connect failed")
	m.transition(Disconnected)
	m.resolveWaiters(&m.connectWaiters, err)
}

func (m *machine) onDisconnected(cause error) {
	if m.state == Disconnected {
		m.log().Debug("Ignoring late disconnected event")
		return
	}
	m.log().WithField("error", cause).Warn("Link lost")

	err := error(ErrNotConnected)
	if cause != nil && !errors.Is(cause, ErrNotConnected) {
		err = fmt.Errorf("%w: %v", ErrNotConnected, cause)
	}
	m.teardown(err)
}

func (m *machine) onServicesDiscovered(services []*Service, err error) {
	if m.state != Discovering {
		m.log().Debug("Ignoring services discovered outside of discovering")
		return
	}

	if err != nil {
		m.log().WithField("error", err).Warn("Service discovery failed")
		m.transition(m.discoverFrom)
		m.resolveWaiters(&m.discoverWaiters, err)
		m.dispatchNext()
		return
	}

	if m.profile != nil {
		m.profile.resetNotifying()
	}
	m.profile = NewProfile(services)
	m.transition(Idle)
	m.log().WithField("services", len(services)).Info("Services discovered")
	m.resolveWaiters(&m.discoverWaiters, nil)
	m.dispatchNext()
}

func (m *machine) onActionCompleted(seq uint64, result ActionResult, err error) {
	if m.current == nil || m.current.Seq != seq {
		m.logger.WithFields(logrus.Fields{
			"device_id": m.id,
			"seq":       seq,
		}).Warn("Ignoring stale action completion")
		return
	}

	p := m.current
	entry := m.logger.WithFields(logrus.Fields{
		"device_id": m.id,
		"action":    p.Action,
		"seq":       seq,
	})
	if err != nil {
		entry.WithField("error", err).Warn("Action failed")
		err = &ActionFailedError{Action: p.Action, Err: err}
	} else {
		result = m.apply(p.Action, result)
		entry.Debug("Action completed")
	}

	m.current = nil
	m.transition(Idle)
	m.resolve(p, result, err)
	m.dispatchNext()
}

func (m *machine) onNotification(service, characteristic string, value []byte) {
	if m.profile == nil || !m.state.IsConnected() {
		m.log().Debug("Dropping notification without a profile")
		return
	}
	c, err := m.profile.Characteristic(service, characteristic)
	if err != nil {
		m.log().WithField("error", err).Debug("Dropping notification for unknown characteristic")
		return
	}
	c.setValue(value)
	dropped := m.updates.Send(ValueUpdate{
		Service:        c.service.uuid,
		Characteristic: c.uuid,
		Value:          bytes.Clone(value),
		Received:       time.Now(),
	})
	if dropped {
		m.logger.WithFields(logrus.Fields{
			"device_id":   m.id,
			"overwritten": m.updates.GetMetrics().Overwritten,
		}).Debug("Updates stream full, dropped oldest value")
	}
}

// ----------------------------
// Dispatch
// ----------------------------

// dispatchNext issues queued actions while the machine is idle. Actions that complete
// without the radio (no-ops, stale attributes, rejected requests) are resolved in place.
func (m *machine) dispatchNext() {
	for m.state == Idle && m.current == nil {
		p := m.queue.pop()
		if p == nil {
			return
		}

		if err := validateAgainst(p.Action, m.profile); err != nil {
			m.fail(p, err)
			continue
		}
		if res, ok := m.noOp(p.Action); ok {
			m.logger.WithFields(logrus.Fields{
				"device_id": m.id,
				"action":    p.Action,
				"seq":       p.Seq,
			}).Debug("Action is a no-op")
			m.resolve(p, res, nil)
			continue
		}

		m.current = p
		m.transition(HandlingAction)
		if err := m.driver.PerformAction(m.id, p.Seq, p.Action); err != nil {
			m.logger.WithFields(logrus.Fields{
				"device_id": m.id,
				"action":    p.Action,
				"error":     err,
			}).Warn("Driver rejected action")
			m.current = nil
			m.transition(Idle)
			m.fail(p, err)
		}
	}
}

func (m *machine) noOp(a Action) (ActionResult, bool) {
	switch v := a.(type) {
	case EnableNotification:
		if v.Characteristic.IsNotifying() {
			return ActionResult{NoOp: true}, true
		}
	case DisableNotification:
		if !v.Characteristic.IsNotifying() {
			return ActionResult{NoOp: true}, true
		}
	}
	return ActionResult{}, false
}

// apply updates cached attribute and link values from a successful completion.
func (m *machine) apply(a Action, result ActionResult) ActionResult {
	switch v := a.(type) {
	case ReadCharacteristic:
		v.Characteristic.setValue(result.Value)
	case WriteCharacteristic:
		v.Characteristic.setValue(v.Value)
	case ReadDescriptor:
		v.Descriptor.setValue(result.Value)
	case WriteDescriptor:
		v.Descriptor.setValue(v.Value)
	case EnableNotification:
		v.Characteristic.setNotifying(true)
	case DisableNotification:
		v.Characteristic.setNotifying(false)
	case ReadRSSI:
		m.rssi = result.RSSI
	case RequestMTU:
		if result.MTU > 0 {
			m.mtu = result.MTU
		}
		result.MTU = m.mtu
	}
	return result
}

// teardown fails the in-flight action, the queue and every waiter with cause,
// then drops the profile and returns to Disconnected.
func (m *machine) teardown(cause error) {
	if m.current != nil {
		m.fail(m.current, cause)
		m.current = nil
	}
	for _, p := range m.queue.drain() {
		m.fail(p, cause)
	}
	m.resolveWaiters(&m.connectWaiters, cause)
	m.resolveWaiters(&m.discoverWaiters, cause)

	if m.profile != nil {
		m.profile.resetNotifying()
		m.profile = nil
	}
	m.mtu = DefaultMTU
	m.rssi = 0
	m.transition(Disconnected)
}

func (m *machine) resolveWaiters(waiters *[]chan<- error, err error) {
	for _, w := range *waiters {
		m.reply(w, err)
	}
	*waiters = nil
}
