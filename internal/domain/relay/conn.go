// ABOUTME: Per-connection reader and writer pumps
// ABOUTME: A failure tears down only this connection's pump pair and deregisters its id
package relay

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/harper/audiorelay/internal/domain"
)

// maxIDAttempts bounds re-draws after an id collision.
const maxIDAttempts = 3

var errClientRemoved = errors.New("client removed by hub")

// ServeConn registers conn as a new client and pumps frames until either
// side fails or ctx is cancelled. conn is closed on return. Normal
// disconnects return nil.
func (h *Hub) ServeConn(ctx context.Context, conn domain.FrameConn) error {
	defer conn.Close()

	c, err := h.join(ctx)
	if err != nil {
		return fmt.Errorf("register client: %w", err)
	}
	logger := h.log.With("client", c.ID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readPump(gctx, c, conn) })
	g.Go(func() error { return h.writePump(gctx, c, conn) })
	g.Go(func() error {
		// Unblocks a reader parked in ReadFrame once the other pump quits.
		<-gctx.Done()
		conn.Close()
		return nil
	})
	err = g.Wait()

	c.setState(StateClosing)
	c.Queue.Close()
	if rerr := h.Remove(context.WithoutCancel(ctx), c.ID); rerr != nil && !errors.Is(rerr, ErrHubClosed) {
		logger.Warn("deregister failed", "error", rerr)
	}

	if isExpectedClose(err) || ctx.Err() != nil {
		logger.Debug("connection closed", "reason", err)
		return nil
	}
	logger.Warn("connection failed", "error", err)
	return err
}

func (h *Hub) join(ctx context.Context) (*ClientConnection, error) {
	for i := 0; i < maxIDAttempts; i++ {
		c := NewClientConnection(h.cfg.NewID(), h.cfg.QueueSize)
		err := h.Register(ctx, c)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrDuplicateClient):
			continue
		case ctx.Err() != nil:
			// The hub may still apply the registration after we stop waiting.
			_ = h.Remove(context.WithoutCancel(ctx), c.ID)
			return nil, err
		default:
			return nil, err
		}
	}
	return nil, ErrDuplicateClient
}

func (h *Hub) readPump(ctx context.Context, c *ClientConnection, conn domain.FrameConn) error {
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch f.Kind {
		case domain.TextFrame:
			err = h.Send(ctx, InboundText{ID: c.ID, Text: string(f.Data)})
		case domain.BinaryFrame:
			if !h.cfg.AcceptUplink {
				h.uplinkDrops.Add(1)
				continue
			}
			err = h.Send(ctx, Broadcast{Frame: f.Data, From: c.ID})
		}
		if err != nil {
			return err
		}
	}
}

func (h *Hub) writePump(ctx context.Context, c *ClientConnection, conn domain.FrameConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-c.Queue.C():
			if !ok {
				return errClientRemoved
			}
			if err := conn.WriteFrame(ctx, domain.Frame{Kind: domain.BinaryFrame, Data: frame}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
		}
	}
}

func isExpectedClose(err error) bool {
	return err == nil ||
		domain.IsExpectedClose(err) ||
		errors.Is(err, errClientRemoved) ||
		errors.Is(err, ErrHubClosed)
}
