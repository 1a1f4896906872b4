// Package dispatch decouples signal detection from signal delivery.
//
// Engines push signals into a bounded queue and return immediately; a single
// goroutine drains the queue in order and hands each signal to the sink.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/sink"
)

const (
	defaultQueueSize       = 1024
	defaultDeliveryTimeout = 5 * time.Second
)

// item is a queued signal. A beaconed item already went out through the
// beacon sinks and is delivered to the remaining ones only.
type item struct {
	sig      signal.Signal
	beaconed bool
}

// Dispatcher owns the outbound queue.
type Dispatcher struct {
	sink    sink.Sink
	beacons []sink.Beaconer
	rest    sink.Multi
	queue   chan item
	timeout time.Duration

	dropped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64

	// mu guards closed against sends racing with Close
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New creates a dispatcher and starts its delivery goroutine.
func New(s sink.Sink, cfg config.DispatchConfig) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	beacons, rest := sink.SplitBeacon(s)
	d := &Dispatcher{
		sink:    s,
		beacons: beacons,
		rest:    rest,
		queue:   make(chan item, size),
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit enqueues a signal without blocking. When the queue is full or the
// dispatcher is closed the signal is dropped and counted.
func (d *Dispatcher) Emit(sig signal.Signal) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}
	d.enqueue(item{sig: sig})
}

// Beacon sends a signal through every sink with a beacon path right away and
// queues it for the sinks without one. It never blocks.
func (d *Dispatcher) Beacon(sig signal.Signal) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		return
	}
	for _, b := range d.beacons {
		b.Beacon(sig)
	}
	if len(d.rest) > 0 {
		d.enqueue(item{sig: sig, beaconed: true})
	}
}

// HasBeacon reports whether any sink has a beacon path.
func (d *Dispatcher) HasBeacon() bool { return len(d.beacons) > 0 }

// enqueue must be called with mu held for reading.
func (d *Dispatcher) enqueue(it item) {
	select {
	case d.queue <- it:
	default:
		n := d.dropped.Add(1)
		log.Warn().
			Str("session_id", it.sig.Meta().SessionID).
			Uint64("dropped", n).
			Msg("Signal queue full, dropping signal")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for it := range d.queue {
		d.deliver(it)
	}
}

func (d *Dispatcher) deliver(it item) {
	sig := it.sig
	target := d.sink
	if it.beaconed {
		target = d.rest
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			log.Debug().
				Str("session_id", sig.Meta().SessionID).
				Str("panic", fmt.Sprint(r)).
				Msg("Sink panicked")
		}
	}()

	if err := sink.Deliver(ctx, target, sig); err != nil {
		d.failed.Add(1)
		log.Debug().
			Err(err).
			Str("session_id", sig.Meta().SessionID).
			Msg("Signal delivery failed")
		return
	}
	d.delivered.Add(1)
}

// Close stops intake and blocks until every queued signal was handed to the
// sink, or ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped is the number of signals discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Delivered is the number of signals the sink accepted.
func (d *Dispatcher) Delivered() uint64 { return d.delivered.Load() }

// Failed is the number of deliveries that returned an error or panicked.
func (d *Dispatcher) Failed() uint64 { return d.failed.Load() }

// Pending is the number of signals waiting in the queue.
func (d *Dispatcher) Pending() int { return len(d.queue) }
