// ABOUTME: In-memory FrameConn and helpers for hub tests
// ABOUTME: Lets tests inject inbound frames and observe outbound frames
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/harper/audiorelay/internal/domain"
)

type fakeConn struct {
	in  chan domain.Frame
	out chan domain.Frame

	mu        sync.Mutex
	writeErr  error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan domain.Frame, 16),
		out:    make(chan domain.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame(ctx context.Context) (domain.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return domain.Frame{}, io.EOF
	case <-ctx.Done():
		return domain.Frame{}, ctx.Err()
	}
}

func (c *fakeConn) WriteFrame(ctx context.Context, f domain.Frame) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case c.out <- f:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) failWrites() {
	c.mu.Lock()
	c.writeErr = errors.New("broken pipe")
	c.mu.Unlock()
}

func (c *fakeConn) expectFrame(t *testing.T, want []byte) {
	t.Helper()
	select {
	case f := <-c.out:
		if string(f.Data) != string(want) {
			t.Fatalf("expected frame %v, got %v", want, f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame %v", want)
	}
}

func (c *fakeConn) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case f := <-c.out:
		t.Fatalf("unexpected frame %v", f.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func sequentialIDs(ids ...ClientID) IDGenerator {
	var mu sync.Mutex
	next := 0
	return func() ClientID {
		mu.Lock()
		defer mu.Unlock()
		id := ids[next%len(ids)]
		next++
		return id
	}
}

func startHub(t *testing.T, cfg Config) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}
