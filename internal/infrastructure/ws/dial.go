// ABOUTME: Server-side upgrade and client-side dial for WebSocket frame connections
// ABOUTME: Both produce a *Conn configured with the same keepalive options
package ws

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harper/audiorelay/internal/domain"
)

// Upgrader turns HTTP requests into frame connections.
type Upgrader struct {
	up   websocket.Upgrader
	opts Options
}

// NewUpgrader builds an Upgrader. A nil checkOrigin accepts any origin.
func NewUpgrader(opts Options, checkOrigin func(*http.Request) bool) *Upgrader {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Upgrader{
		up: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		opts: opts,
	}
}

// Upgrade completes the handshake. On failure the upgrader has already
// written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	c, err := u.up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade: %w", err)
	}
	return newConn(c, u.opts), nil
}

// Dialer connects to a relay endpoint. It satisfies domain.Dialer.
type Dialer struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	Options          Options
}

var _ domain.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context) (domain.FrameConn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	wd := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
	}

	c, resp, err := wd.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &handshakeError{status: resp.StatusCode, err: err}
		}
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	return newConn(c, d.Options), nil
}
