package runtime

import (
	"context"
	"time"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

// waiter is one suspended GetEvents call. ready is closed by AddEvent
// when new events arrive; superseded is closed when a newer poll for the
// same queue replaces this one.
type waiter struct {
	ready      chan struct{}
	superseded chan struct{}
}

type EventsRequest struct {
	// LastEventID is the highest event ID the client acknowledges
	// having received; -1 on a fresh queue.
	LastEventID int64
	DontBlock   bool
	Timeout     time.Duration
}

type EventsResult struct {
	QueueID string
	Events  []*event.Event
}

// GetEvents is the long-poll entry point for one descriptor. Events
// acknowledged by LastEventID are pruned, then pending events (if any)
// return immediately. Otherwise the call suspends until AddEvent wakes
// it, the timeout elapses (empty result, not an error), a newer poll
// supersedes it, or ctx is canceled because the connection dropped.
//
// Only one suspended poll per descriptor is meaningful: registering a
// new one resolves the previous with ErrQueueSuperseded rather than
// leaving both waiting silently forever.
func (d *ClientDescriptor) GetEvents(ctx context.Context, req EventsRequest) (EventsResult, error) {
	res := EventsResult{QueueID: d.QueueID}

	d.mu.Lock()
	d.lastConnectionTime = time.Now()
	d.queue.Prune(req.LastEventID)
	contents := d.queue.Contents(false)
	if len(contents) > 0 || req.DontBlock {
		d.mu.Unlock()
		res.Events = contents
		return res, nil
	}
	w := &waiter{ready: make(chan struct{}), superseded: make(chan struct{})}
	if prev := d.waiter; prev != nil {
		close(prev.superseded)
	}
	d.waiter = w
	d.mu.Unlock()

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		d.mu.Lock()
		d.lastConnectionTime = time.Now()
		res.Events = d.queue.Contents(false)
		d.mu.Unlock()
		return res, nil
	case <-w.superseded:
		return res, errors.ErrQueueSuperseded
	case <-timer.C:
		d.clearWaiter(w)
		return res, nil
	case <-ctx.Done():
		// Connection dropped mid-suspension: clear the registration so
		// the descriptor does not retain a dangling callback.
		d.clearWaiter(w)
		return res, ctx.Err()
	}
}

// HasWaiter reports whether a long-poll is currently suspended on this
// descriptor, i.e. the client is actively connected and watching.
func (d *ClientDescriptor) HasWaiter() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.waiter != nil
}

func (d *ClientDescriptor) clearWaiter(w *waiter) {
	d.mu.Lock()
	if d.waiter == w {
		d.waiter = nil
	}
	d.mu.Unlock()
}

// disconnect resolves any suspended poll; used when the descriptor is
// being torn down so the client re-registers instead of hanging.
func (d *ClientDescriptor) disconnect() {
	d.mu.Lock()
	w := d.waiter
	d.waiter = nil
	d.mu.Unlock()
	if w != nil {
		close(w.superseded)
	}
}
