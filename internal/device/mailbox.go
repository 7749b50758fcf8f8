package device

import "sync"

// mailbox is an unbounded FIFO of steps for the device actor.
// post never blocks, so driver callbacks can be delivered from inside a driver call
// made by the actor itself.
type mailbox struct {
	mu     sync.Mutex
	items  []func(*machine)
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

// post appends a step. Returns false once the mailbox is closed.
func (mb *mailbox) post(step func(*machine)) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.items = append(mb.items, step)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
	return true
}

// drain takes every pending step and reports whether the mailbox is closed.
func (mb *mailbox) drain() ([]func(*machine), bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	items := mb.items
	mb.items = nil
	return items, mb.closed
}

// close rejects further posts; steps already queued are still drained.
func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}
