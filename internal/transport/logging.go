// SPDX-License-Identifier: MIT
package transport

import (
	"sync/atomic"

	applog "radio/internal/log"
)

// LoggingTransport writes a one-line summary of every frame at debug level.
// It is the fallback when no network transport is configured.
type LoggingTransport struct {
	sent atomic.Uint64
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	applog.Infof("Transport: Using LoggingTransport")
	return &LoggingTransport{}
}

// Send logs the received data.
func (lt *LoggingTransport) Send(data any) error {
	n := lt.sent.Add(1)
	switch v := data.(type) {
	case Frame:
		applog.Debugf("Transport: frame #%d type=%s at %s", n, v.Type, v.Timestamp.Format("15:04:05.000"))
	default:
		applog.Debugf("Transport: frame #%d (%T)", n, data)
	}
	return nil
}

// Sent returns the number of frames logged.
func (lt *LoggingTransport) Sent() uint64 {
	return lt.sent.Load()
}

// Close is a no-op for LoggingTransport.
func (lt *LoggingTransport) Close() error {
	applog.Debugf("Transport: LoggingTransport closed after %d frames", lt.sent.Load())
	return nil
}

var _ Transport = (*LoggingTransport)(nil)
