// SPDX-License-Identifier: MIT
package udp

import (
	"sync"
	"sync/atomic"
	"time"

	applog "radio/internal/log"
)

// DefaultQueueSize is the number of chunks buffered between the caller and
// the socket.
const DefaultQueueSize = 256

// PacketSender transmits one datagram.
type PacketSender interface {
	Send(data []byte) error
}

type chunk struct {
	timestamp  int64
	sampleRate uint32
	samples    []float32
}

// AudioPublisher splits demodulated audio into datagrams and sends them from
// its own goroutine. WriteAudio never blocks: when the queue is full the
// chunk is dropped and counted.
type AudioPublisher struct {
	sender PacketSender
	queue  chan chunk

	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // protects doneChan during Start/Stop
	running  bool

	seq     uint32 // owned by the publisher goroutine
	packet  []byte
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// NewAudioPublisher creates a publisher. A non-positive queueSize selects
// DefaultQueueSize.
func NewAudioPublisher(sender PacketSender, queueSize int) *AudioPublisher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &AudioPublisher{
		sender: sender,
		queue:  make(chan chunk, queueSize),
		packet: make([]byte, 0, MaxDatagram),
	}
}

// Start launches the send goroutine. Calling Start while running is a no-op.
func (p *AudioPublisher) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		applog.Warnf("AudioPublisher: Start called but already running")
		return
	}

	p.running = true
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	done := p.doneChan

	p.wg.Add(1)
	go p.run(done)
	applog.Infof("AudioPublisher: Started (queue %d chunks)", cap(p.queue))
}

func (p *AudioPublisher) run(done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case c := <-p.queue:
			p.send(c)
		case <-done:
			// Flush what was already accepted.
			for {
				select {
				case c := <-p.queue:
					p.send(c)
				default:
					return
				}
			}
		}
	}
}

func (p *AudioPublisher) send(c chunk) {
	p.seq++
	p.packet = AppendPacket(p.packet[:0], p.seq, c.timestamp, c.sampleRate, c.samples)
	if err := p.sender.Send(p.packet); err != nil {
		applog.Debugf("AudioPublisher: Packet %d not sent: %v", p.seq, err)
		return
	}
	p.sent.Add(1)
}

// WriteAudio queues samples captured at timestamp. They are split into
// chunks of at most MaxSamplesPerPacket, each stamped with the time of its
// first sample.
func (p *AudioPublisher) WriteAudio(samples []float32, timestamp time.Time, sampleRate float64) error {
	base := timestamp.UnixNano()
	for off := 0; off < len(samples); off += MaxSamplesPerPacket {
		end := min(off+MaxSamplesPerPacket, len(samples))
		c := chunk{
			timestamp:  base + int64(float64(off)/sampleRate*float64(time.Second)),
			sampleRate: uint32(sampleRate),
			samples:    append([]float32(nil), samples[off:end]...),
		}
		select {
		case p.queue <- c:
		default:
			p.dropped.Add(1)
		}
	}
	return nil
}

// Sent returns the number of datagrams written.
func (p *AudioPublisher) Sent() uint64 {
	return p.sent.Load()
}

// Dropped returns the number of chunks discarded because the queue was full.
func (p *AudioPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Stop signals the goroutine, which sends any queued chunks before exiting,
// and waits for it. Stop is idempotent.
func (p *AudioPublisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.running = false
	})
	p.mu.Unlock()

	p.wg.Wait()
	applog.Infof("AudioPublisher: Stopped (%d sent, %d dropped)", p.sent.Load(), p.dropped.Load())
	return nil
}

// Close stops the publisher.
func (p *AudioPublisher) Close() error {
	return p.Stop()
}
