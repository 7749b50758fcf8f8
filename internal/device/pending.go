package device

import (
	"context"
	"sync"
)

// Pending is the completion handle of an enqueued action.
// It is resolved exactly once: with a result, a driver failure, or a link loss.
type Pending struct {
	Seq    uint64
	Action Action

	once   sync.Once
	done   chan struct{}
	result ActionResult
	err    error
}

func newPending(seq uint64, action Action) *Pending {
	return &Pending{Seq: seq, Action: action, done: make(chan struct{})}
}

// Done is closed when the action completes.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. Only meaningful after Done is closed.
func (p *Pending) Result() (ActionResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	default:
		return ActionResult{}, nil
	}
}

// Wait blocks until the action completes or ctx ends.
// Abandoning the wait does not cancel the action.
func (p *Pending) Wait(ctx context.Context) (ActionResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return ActionResult{}, ctx.Err()
	}
}

func (p *Pending) resolve(result ActionResult, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}

func (p *Pending) fail(err error) {
	p.resolve(ActionResult{}, &ActionFailedError{Action: p.Action, Err: err})
}

// actionQueue is the per-device FIFO of actions waiting for the radio.
type actionQueue struct {
	items []*Pending
}

func (q *actionQueue) push(p *Pending) {
	q.items = append(q.items, p)
}

func (q *actionQueue) pop() *Pending {
	if len(q.items) == 0 {
		return nil
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return p
}

func (q *actionQueue) drain() []*Pending {
	items := q.items
	q.items = nil
	return items
}

func (q *actionQueue) len() int {
	return len(q.items)
}
