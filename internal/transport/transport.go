// SPDX-License-Identifier: MIT
//
// Package transport delivers frames produced by the pipeline to external
// consumers such as browser clients.
package transport

import (
	"errors"
	"time"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("transport: closed")

// Transport defines a generic interface for sending processed data or events.
// Implementations must be safe for concurrent use and must not block the
// caller for longer than it takes to enqueue the data.
type Transport interface {
	Send(data any) error
	Close() error
}

// FrameType identifies the payload of a Frame.
type FrameType string

const (
	FrameSpectrum FrameType = "spectrum"
	FrameStatus   FrameType = "status"
	FrameAudio    FrameType = "audio"
)

// Frame is the JSON envelope written to clients.
type Frame struct {
	Type      FrameType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}
