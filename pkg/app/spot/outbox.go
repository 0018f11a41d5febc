package spot

import "sync"

// outbox hands events to sinks one at a time, in ticket order. Tickets are
// taken under the app lock; delivery waits for its turn without it.
type outbox struct {
	mu     sync.Mutex
	turn   *sync.Cond
	next   uint64
	served uint64
}

func newOutbox() *outbox {
	o := &outbox{}
	o.turn = sync.NewCond(&o.mu)
	return o
}

func (o *outbox) ticket() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.next
	o.next++
	return t
}

// deliver blocks until every earlier ticket has been delivered, then runs fn.
func (o *outbox) deliver(ticket uint64, fn func()) {
	o.mu.Lock()
	for o.served != ticket {
		o.turn.Wait()
	}
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.served++
		o.turn.Broadcast()
		o.mu.Unlock()
	}()
	fn()
}
