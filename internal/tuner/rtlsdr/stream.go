// SPDX-License-Identifier: MIT
package rtlsdr

import (
	"context"
	"errors"
	"time"

	"radio/internal/iq"
	applog "radio/internal/log"
	"radio/internal/tuner"
)

// stream is one running read loop.
type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the loop and blocks until it has exited.
func (s *stream) stop() {
	s.cancel()
	<-s.done
}

func (r *RTLSDR) startStream(h Handle) *stream {
	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{cancel: cancel, done: make(chan struct{})}
	go r.readLoop(ctx, h, s.done)
	return s
}

// readLoop is the only goroutine that issues bulk reads. Buffers are delivered
// in capture order. A timeout is retried; any other failure, or an empty
// read, ends the loop and moves the tuner to Error.
func (r *RTLSDR) readLoop(ctx context.Context, h Handle, done chan<- struct{}) {
	defer close(done)

	id := r.ID()
	buf := make([]byte, r.bufSize)
	applog.Debugf("RTLSDR[%s]: read loop started (%d byte transfers)", id, len(buf))

	for {
		if ctx.Err() != nil {
			applog.Debugf("RTLSDR[%s]: read loop cancelled", id)
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, r.readTimeout)
		n, err := h.ReadBulk(readCtx, buf)
		cancel()

		if ctx.Err() != nil {
			applog.Debugf("RTLSDR[%s]: read loop cancelled", id)
			return
		}
		switch {
		case errors.Is(err, tuner.ErrTimeout):
			applog.Debugf("RTLSDR[%s]: bulk read timed out, retrying", id)
			if r.observer != nil {
				r.observer.ReadTimeout(id)
			}
			continue
		case err != nil:
			r.fail("bulk read: %v", err)
			return
		case n == 0:
			r.fail("bulk read returned no data")
			return
		}

		samples := make([]complex64, n/2)
		iq.ConvertU8(samples, buf[:n])
		r.Deliver(iq.NewBuffer(samples, time.Now(), float64(r.SampleRate())))

		if r.observer != nil {
			r.observer.BufferRead(id, n)
		}
	}
}

func (r *RTLSDR) fail(format string, v ...any) {
	applog.Errorf("RTLSDR[%s]: "+format, append([]any{r.ID()}, v...)...)
	if r.observer != nil {
		r.observer.ReadError(r.ID())
	}
	r.SetState(tuner.Error)
}
