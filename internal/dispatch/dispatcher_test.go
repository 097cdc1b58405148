// SPDX-License-Identifier: MIT
package dispatch

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	applog "radio/internal/log"
)

func TestMain(m *testing.M) {
	applog.SetOutput(io.Discard)
	goleak.VerifyTestMain(m)
}

// recorder collects delivered elements.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.got = append(r.got, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

// beats returns a heartbeat option and a channel signalled once per cycle.
func beats() (Option, <-chan struct{}) {
	ch := make(chan struct{}, 1024)
	return WithHeartbeat(func() error {
		ch <- struct{}{}
		return nil
	}), ch
}

func waitBeat(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drain cycle")
	}
}

func TestDispatcherFIFO(t *testing.T) {
	rec := &recorder{}
	d := New[string]("fifo", 5*time.Millisecond)
	d.SetListener(func(s string) error {
		rec.add(s)
		return nil
	})

	d.Start()
	defer d.Stop()

	d.Receive("A")
	d.Receive("B")
	d.Receive("C")

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"A", "B", "C"}, rec.snapshot())
}

func TestDispatcherFaultIsolation(t *testing.T) {
	tests := []struct {
		name   string
		faultB func() error
	}{
		{"error", func() error { return errors.New("bad element") }},
		{"panic", func() error { panic("bad element") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			obs := &countingObserver{}
			d := New[string]("faults", 5*time.Millisecond, WithObserver(obs))
			d.SetListener(func(s string) error {
				if s == "B" {
					return tt.faultB()
				}
				rec.add(s)
				return nil
			})

			d.Start()
			defer d.Stop()
			d.Receive("A")
			d.Receive("B")
			d.Receive("C")

			require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, []string{"A", "C"}, rec.snapshot())
			assert.Equal(t, int64(2), obs.delivered.Load())
			assert.Equal(t, int64(1), obs.faulted.Load())

			// The cadence survives the fault.
			d.Receive("D")
			require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 2*time.Second, 5*time.Millisecond)
		})
	}
}

func TestDispatcherReceiveWhileStopped(t *testing.T) {
	d := New[int]("stopped", time.Millisecond)
	d.SetListener(func(int) error { return nil })

	d.Receive(1)
	assert.Equal(t, 0, d.Pending())
	assert.False(t, d.IsRunning())
}

func TestDispatcherDropOnStop(t *testing.T) {
	hb, cycles := beats()
	rec := &recorder{}
	d := New[string]("drop", time.Hour, hb)
	d.SetListener(func(s string) error {
		rec.add(s)
		return nil
	})

	d.Start()
	waitBeat(t, cycles)

	d.Receive("queued")
	assert.Equal(t, 1, d.Pending())
	d.Stop()
	assert.False(t, d.IsRunning())

	d.Receive("after-stop")

	d.Start()
	waitBeat(t, cycles)
	d.Stop()

	assert.Empty(t, rec.snapshot())
}

func TestDispatcherFlushAndStop(t *testing.T) {
	hb, cycles := beats()
	rec := &recorder{}
	d := New[string]("flush", time.Hour, hb)
	d.SetListener(func(s string) error {
		rec.add(s)
		return nil
	})

	d.Start()
	waitBeat(t, cycles)

	d.Receive("A")
	d.Receive("B")
	d.FlushAndStop()

	assert.Equal(t, []string{"A", "B"}, rec.snapshot())
	assert.False(t, d.IsRunning())

	// Idempotent once stopped.
	d.FlushAndStop()
	d.Stop()
}

func TestDispatcherHeartbeatAfterDelivery(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	started := make(chan struct{})
	var once sync.Once
	d := New[string]("heartbeat", 10*time.Millisecond, WithHeartbeat(func() error {
		once.Do(func() { close(started) })
		record("beat")
		return nil
	}))
	d.SetListener(func(s string) error {
		record(s)
		return nil
	})

	d.Start()
	<-started
	d.Receive("x")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i, s := range order {
			if s == "x" {
				return i+1 < len(order) && order[i+1] == "beat"
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	d.Stop()
}

func TestDispatcherHeartbeatFaultDoesNotAbort(t *testing.T) {
	tests := []struct {
		name string
		beat func() error
	}{
		{"error", func() error { return errors.New("sink down") }},
		{"panic", func() error { panic("sink down") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			rec := &recorder{}
			d := New[string]("hb-fault", 5*time.Millisecond, WithHeartbeat(func() error {
				calls.Add(1)
				return tt.beat()
			}))
			d.SetListener(func(s string) error {
				rec.add(s)
				return nil
			})

			d.Start()
			defer d.Stop()
			d.Receive("one")
			require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
			d.Receive("two")
			require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
		})
	}
}

func TestDispatcherCyclesNeverOverlap(t *testing.T) {
	var active, maxActive atomic.Int64
	var delivered atomic.Int64
	d := New[int]("overlap", time.Millisecond)
	d.SetListener(func(int) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		delivered.Add(1)
		return nil
	})

	d.Start()
	for i := range 10 {
		d.Receive(i)
	}
	require.Eventually(t, func() bool { return delivered.Load() == 10 }, 2*time.Second, 5*time.Millisecond)
	d.Stop()

	assert.Equal(t, int64(1), maxActive.Load())
}

func TestDispatcherStartTwice(t *testing.T) {
	d := New[int]("twice", 5*time.Millisecond)
	d.Start()
	d.Start()
	assert.True(t, d.IsRunning())
	d.Stop()
	d.Stop()
	assert.False(t, d.IsRunning())
}

func TestDispatcherNilListenerDrops(t *testing.T) {
	hb, cycles := beats()
	d := New[int]("nil-listener", time.Hour, hb)
	d.Start()
	waitBeat(t, cycles)
	d.Receive(1)
	d.FlushAndStop()
	assert.Equal(t, 0, d.Pending())
}

func TestNewDefaultsInterval(t *testing.T) {
	d := New[int]("default", 0)
	assert.Equal(t, DefaultInterval, d.interval)
	assert.Equal(t, "default", d.Name())
}

type countingObserver struct {
	delivered atomic.Int64
	faulted   atomic.Int64
	beats     atomic.Int64
}

func (o *countingObserver) Delivered(string)            { o.delivered.Add(1) }
func (o *countingObserver) Faulted(string)              { o.faulted.Add(1) }
func (o *countingObserver) Heartbeat(string, time.Time) { o.beats.Add(1) }
