// ABOUTME: WebSocket implementation of the domain frame connection
// ABOUTME: Handles keepalive pings, write deadlines, read limits, and close classification
package ws

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harper/audiorelay/internal/domain"
)

type Options struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64
}

func DefaultOptions() Options {
	return Options{
		WriteWait:  10 * time.Second,
		PongWait:   60 * time.Second,
		PingPeriod: 54 * time.Second,
		ReadLimit:  1 << 20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.WriteWait <= 0 {
		o.WriteWait = def.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = def.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = def.ReadLimit
	}
	return o
}

// Conn adapts a gorilla connection to domain.FrameConn. Reads and writes
// each need a single goroutine; Close may be called from anywhere.
type Conn struct {
	ws   *websocket.Conn
	opts Options

	closeOnce sync.Once
	done      chan struct{}
}

var _ domain.FrameConn = (*Conn)(nil)

func newConn(ws *websocket.Conn, opts Options) *Conn {
	opts = opts.withDefaults()
	c := &Conn{ws: ws, opts: opts, done: make(chan struct{})}

	ws.SetReadLimit(opts.ReadLimit)
	ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go c.keepalive()
	return c
}

func (c *Conn) RemoteAddr() string { return c.ws.RemoteAddr().String() }

// ReadFrame blocks until a message arrives or the connection closes. The
// underlying socket has no context support; cancellation is done by Close.
// A normal close from the peer is reported as io.EOF.
func (c *Conn) ReadFrame(ctx context.Context) (domain.Frame, error) {
	if err := ctx.Err(); err != nil {
		return domain.Frame{}, err
	}

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return domain.Frame{}, c.classify(err)
		}
		// Any traffic proves the peer is alive.
		c.ws.SetReadDeadline(time.Now().Add(c.opts.PongWait))

		switch mt {
		case websocket.BinaryMessage:
			return domain.Frame{Kind: domain.BinaryFrame, Data: data}, nil
		case websocket.TextMessage:
			return domain.Frame{Kind: domain.TextFrame, Data: data}, nil
		}
	}
}

func (c *Conn) WriteFrame(ctx context.Context, f domain.Frame) error {
	deadline := time.Now().Add(c.opts.WriteWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)

	mt := websocket.BinaryMessage
	if f.Kind == domain.TextFrame {
		mt = websocket.TextMessage
	}
	if err := c.ws.WriteMessage(mt, f.Data); err != nil {
		return c.classify(err)
	}
	return nil
}

// Close sends a close frame and tears down the socket. It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) keepalive() {
	t := time.NewTicker(c.opts.PingPeriod)
	defer t.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteWait)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Conn) classify(err error) error {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return io.EOF
	case c.closed():
		return net.ErrClosed
	default:
		return err
	}
}

// handshakeError keeps the HTTP status of a failed upgrade.
type handshakeError struct {
	status int
	err    error
}

func (e *handshakeError) Error() string {
	return fmt.Sprintf("websocket handshake: status %d: %v", e.status, e.err)
}

func (e *handshakeError) Unwrap() error { return e.err }
