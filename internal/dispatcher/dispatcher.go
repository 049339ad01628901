package dispatcher

import (
	"context"
	"sync"

	"github.com/jobport-labs/chatsync/internal/event"
	"github.com/jobport-labs/chatsync/pkg/xcontext"
)

type Handler func(ctx context.Context, req *event.Request)

// Dispatcher demultiplexes inbound envelopes by op and fans each one out
// to its subscribers, synchronously and in subscription order. There is no
// buffering: an event dispatched while nothing is subscribed to its op is
// lost, and the REST snapshot is the recovery path for anything that
// matters.
type Dispatcher struct {
	mu   sync.Mutex
	subs map[string][]*subscription
}

type subscription struct {
	fn      Handler
	removed bool
}

func New() *Dispatcher {
	return &Dispatcher{subs: make(map[string][]*subscription)}
}

// Subscribe registers a handler for op and returns its removal function.
// Removal is idempotent and safe to call from inside a handler.
func (d *Dispatcher) Subscribe(op string, fn Handler) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	sub := &subscription{fn: fn}
	d.subs[op] = append(d.subs[op], sub)

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if sub.removed {
			return
		}

		sub.removed = true
		list := d.subs[op]
		for i, cur := range list {
			if cur == sub {
				d.subs[op] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Dispatch routes one envelope. Handlers subscribed at dispatch time are
// invoked in order; a handler removed by an earlier handler of the same
// event is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, req *event.Request) {
	if req == nil || req.Op == "" {
		xcontext.Logger(ctx).Warnf("Dropped envelope without op")
		return
	}

	d.mu.Lock()
	list := append([]*subscription(nil), d.subs[req.Op]...)
	d.mu.Unlock()

	if len(list) == 0 {
		xcontext.Logger(ctx).Debugf("No subscriber for op %s", req.Op)
		return
	}

	for _, sub := range list {
		d.mu.Lock()
		removed := sub.removed
		d.mu.Unlock()
		if removed {
			continue
		}

		sub.fn(ctx, req)
	}
}
