// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Lets the relay and client depend on abstract transport, codec, and device collaborators
package domain

import (
	"context"
)

// FrameKind tags a transport frame.
type FrameKind uint8

const (
	BinaryFrame FrameKind = iota
	TextFrame
)

// Frame is one transport message. Data is opaque to the relay.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// FrameConn is a duplex, message-oriented connection. One goroutine may read
// while another writes; neither side may be used concurrently with itself.
type FrameConn interface {
	ReadFrame(ctx context.Context) (Frame, error)
	WriteFrame(ctx context.Context, f Frame) error
	Close() error
}

// Dialer performs one transport handshake.
type Dialer interface {
	Dial(ctx context.Context) (FrameConn, error)
}

// Codec turns sample buffers into wire bytes and back. Both methods append to
// dst and return the extended slice so callers can reuse buffers.
type Codec interface {
	Name() string
	Encode(dst []byte, samples []float32) ([]byte, error)
	Decode(dst []float32, frame []byte) ([]float32, error)
}

// CaptureSource drives callback from its own clock with a reused buffer of
// interleaved samples until ctx is cancelled or the source ends. The callback
// must not block or retain the buffer.
type CaptureSource interface {
	Run(ctx context.Context, callback func(samples []float32)) error
}
