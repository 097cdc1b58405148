// SPDX-License-Identifier: MIT
/*
Package dispatch decouples a fast producer from a slower consumer.

A Dispatcher queues elements handed to Receive and delivers them in FIFO order
to a single listener on its own cadence goroutine. Listener faults (returned
errors and panics) are logged per element and never stop the batch.

Lifecycle:
  - Start clears the queue and begins the cadence with an immediate first drain
  - Stop halts the cadence and discards anything still queued
  - FlushAndStop halts the cadence and delivers what is still queued
  - Stop and FlushAndStop wait for the cadence goroutine and must not be
    called from inside the listener
*/
package dispatch

import (
	"fmt"
	"sync"
	"time"

	applog "radio/internal/log"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 20 * time.Millisecond

// Listener consumes one element. A returned error is a listener fault.
type Listener[E any] func(E) error

// Observer receives per-dispatcher delivery counts. Implementations must be
// safe for concurrent use and must not block.
type Observer interface {
	Delivered(dispatcher string)
	Faulted(dispatcher string)
	Heartbeat(dispatcher string, at time.Time)
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	heartbeat func() error
	observer  Observer
}

// WithHeartbeat signals fn once after every completed drain cycle.
func WithHeartbeat(fn func() error) Option {
	return func(o *options) { o.heartbeat = fn }
}

// WithObserver reports deliveries, faults and heartbeats to obs.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// cadence is the state of one Start/Stop cycle.
type cadence struct {
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Dispatcher delivers queued elements of type E to one listener.
type Dispatcher[E any] struct {
	name     string
	interval time.Duration
	opts     options

	mu       sync.Mutex // guards queue, listener, current
	queue    []E
	listener Listener[E]
	current  *cadence // nil when stopped
}

// New creates a stopped dispatcher. name identifies it in logs and metrics.
func New[E any](name string, interval time.Duration, opts ...Option) *Dispatcher[E] {
	if interval <= 0 {
		applog.Warnf("Dispatcher[%s]: invalid interval %s, defaulting to %s", name, interval, DefaultInterval)
		interval = DefaultInterval
	}
	d := &Dispatcher[E]{name: name, interval: interval}
	for _, opt := range opts {
		opt(&d.opts)
	}
	return d
}

// Name returns the dispatcher name.
func (d *Dispatcher[E]) Name() string {
	return d.name
}

// SetListener registers the consumer, replacing any previous one.
func (d *Dispatcher[E]) SetListener(l Listener[E]) {
	d.mu.Lock()
	d.listener = l
	d.mu.Unlock()
}

// Receive enqueues e. It is a no-op while the dispatcher is stopped.
func (d *Dispatcher[E]) Receive(e E) {
	d.mu.Lock()
	if d.current != nil {
		d.queue = append(d.queue, e)
	}
	d.mu.Unlock()
}

// IsRunning reports whether the cadence is active.
func (d *Dispatcher[E]) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current != nil
}

// Pending returns the number of queued elements.
func (d *Dispatcher[E]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Start clears stale elements and launches the cadence goroutine. Calling
// Start on a running dispatcher is a no-op.
func (d *Dispatcher[E]) Start() {
	d.mu.Lock()
	if d.current != nil {
		d.mu.Unlock()
		applog.Warnf("Dispatcher[%s]: Start called but already running", d.name)
		return
	}
	clear(d.queue)
	d.queue = d.queue[:0]
	c := &cadence{done: make(chan struct{})}
	d.current = c
	d.mu.Unlock()

	c.wg.Add(1)
	go d.run(c)
	applog.Debugf("Dispatcher[%s]: started (interval %s)", d.name, d.interval)
}

// Stop halts the cadence and discards queued elements. It waits for an
// in-flight drain to finish. Safe to call multiple times.
func (d *Dispatcher[E]) Stop() {
	c, dropped := d.detach()
	if c == nil {
		return
	}
	if len(dropped) > 0 {
		applog.Debugf("Dispatcher[%s]: discarded %d queued elements", d.name, len(dropped))
	}
	c.wg.Wait()
	applog.Debugf("Dispatcher[%s]: stopped", d.name)
}

// FlushAndStop halts the cadence, then delivers every element still queued
// before returning.
func (d *Dispatcher[E]) FlushAndStop() {
	c, remaining := d.detach()
	if c == nil {
		return
	}
	c.wg.Wait()

	d.mu.Lock()
	listener := d.listener
	d.mu.Unlock()
	d.deliverAll(listener, remaining)
	applog.Debugf("Dispatcher[%s]: flushed %d elements and stopped", d.name, len(remaining))
}

// detach marks the dispatcher stopped, signals the cadence goroutine and hands
// back whatever was still queued.
func (d *Dispatcher[E]) detach() (*cadence, []E) {
	d.mu.Lock()
	c := d.current
	if c == nil {
		d.mu.Unlock()
		return nil, nil
	}
	d.current = nil
	remaining := d.queue
	d.queue = nil
	d.mu.Unlock()

	c.stopOnce.Do(func() { close(c.done) })
	return c, remaining
}

func (d *Dispatcher[E]) run(c *cadence) {
	defer c.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.drain(c)
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			d.drain(c)
			// A tick that fired while draining is skipped, not queued.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// drain runs one cycle: deliver the whole queue, then heartbeat.
func (d *Dispatcher[E]) drain(c *cadence) {
	d.mu.Lock()
	if d.current != c {
		d.mu.Unlock()
		return
	}
	batch := d.queue
	d.queue = nil
	listener := d.listener
	d.mu.Unlock()

	d.deliverAll(listener, batch)
	d.beat()
}

func (d *Dispatcher[E]) deliverAll(listener Listener[E], batch []E) {
	if len(batch) == 0 {
		return
	}
	if listener == nil {
		applog.Debugf("Dispatcher[%s]: no listener, dropping %d elements", d.name, len(batch))
		return
	}
	for _, e := range batch {
		if err := d.deliver(listener, e); err != nil {
			applog.Errorf("Dispatcher[%s]: listener fault: %v", d.name, err)
			if d.opts.observer != nil {
				d.opts.observer.Faulted(d.name)
			}
			continue
		}
		if d.opts.observer != nil {
			d.opts.observer.Delivered(d.name)
		}
	}
}

func (d *Dispatcher[E]) deliver(listener Listener[E], e E) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return listener(e)
}

func (d *Dispatcher[E]) beat() {
	if d.opts.observer != nil {
		d.opts.observer.Heartbeat(d.name, time.Now())
	}
	if d.opts.heartbeat == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			applog.Errorf("Dispatcher[%s]: heartbeat panic: %v", d.name, r)
		}
	}()
	if err := d.opts.heartbeat(); err != nil {
		applog.Errorf("Dispatcher[%s]: heartbeat fault: %v", d.name, err)
	}
}
