package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Dispatcher hands events to a Publisher on a background worker.
//
// Publish never blocks: when the queue is full the event is dropped and
// counted. Close drains what is already queued.
type Dispatcher struct {
	pub     Publisher
	log     *zap.SugaredLogger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Event
	done   chan struct{}

	dropped atomic.Uint64
}

func NewDispatcher(pub Publisher, size int, logger *zap.SugaredLogger) *Dispatcher {
	if pub == nil {
		pub = Nop{}
	}
	if size <= 0 {
		size = 64
	}
	d := &Dispatcher{
		pub:     pub,
		log:     logger,
		timeout: 5 * time.Second,
		queue:   make(chan Event, size),
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	select {
	case d.queue <- e:
	default:
		n := d.dropped.Add(1)
		d.log.Warnw("event relay queue full; event dropped", "event_id", e.EventID, "reminder_id", e.ReminderID, "dropped_total", n)
	}
}

// Dropped is the number of events discarded so far.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Close stops accepting events, waits for the queue to drain and closes the
// publisher.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	<-d.done
	return d.pub.Close()
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := d.pub.Publish(ctx, e); err != nil {
			d.log.Warnw("event relay publish failed", "event_id", e.EventID, "reminder_id", e.ReminderID, "err", err)
		} else {
			d.log.Debugw("event relayed", "type", e.Type, "event_id", e.EventID, "reminder_id", e.ReminderID)
		}
		cancel()
	}
}
