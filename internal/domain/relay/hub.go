// ABOUTME: Broadcast hub: one goroutine consumes every control message in order
// ABOUTME: Registration, removal, text, and fan-out never interleave with each other
package relay

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

var ErrHubClosed = errors.New("hub closed")

type Config struct {
	// InboxSize bounds pending control messages.
	InboxSize int
	// QueueSize bounds each client's outbound frames.
	QueueSize int
	// AcceptUplink rebroadcasts binary frames received from clients.
	AcceptUplink bool
	NewID        IDGenerator
	Logger       *log.Logger
}

func DefaultConfig() Config {
	return Config{
		InboxSize: 256,
		QueueSize: 64,
		NewID:     RandomID,
	}
}

// Stats are cumulative counters since the hub was created.
type Stats struct {
	Clients     int
	Frames      uint64
	Deliveries  uint64
	Dropped     uint64
	Texts       uint64
	UplinkDrops uint64
}

type Hub struct {
	cfg      Config
	registry *Registry
	inbox    chan ControlMessage
	done     chan struct{}
	log      *log.Logger

	dropLog *rate.Limiter

	frames      atomic.Uint64
	deliveries  atomic.Uint64
	dropped     atomic.Uint64
	texts       atomic.Uint64
	uplinkDrops atomic.Uint64
}

func New(cfg Config) *Hub {
	def := DefaultConfig()
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.NewID == nil {
		cfg.NewID = def.NewID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Hub{
		cfg:      cfg,
		registry: NewRegistry(),
		inbox:    make(chan ControlMessage, cfg.InboxSize),
		done:     make(chan struct{}),
		log:      logger,
		dropLog:  rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Stats() Stats {
	return Stats{
		Clients:     h.registry.Len(),
		Frames:      h.frames.Load(),
		Deliveries:  h.deliveries.Load(),
		Dropped:     h.dropped.Load(),
		Texts:       h.texts.Load(),
		UplinkDrops: h.uplinkDrops.Load(),
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Run consumes control messages until ctx is cancelled, then deregisters
// every client. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	defer func() {
		for _, c := range h.registry.drain() {
			c.Queue.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-h.inbox:
			h.handle(msg)
		}
	}
}

// Send queues msg for the hub loop, waiting for room if the inbox is full.
func (h *Hub) Send(ctx context.Context, msg ControlMessage) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	select {
	case h.inbox <- msg:
		return nil
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register inserts c and waits for the outcome.
func (h *Hub) Register(ctx context.Context, c *ClientConnection) error {
	result := make(chan error, 1)
	if err := h.Send(ctx, NewClient{Conn: c, Result: result}); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-h.done:
		return ErrHubClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) Broadcast(ctx context.Context, frame []byte) error {
	return h.Send(ctx, Broadcast{Frame: frame})
}

func (h *Hub) Remove(ctx context.Context, id ClientID) error {
	return h.Send(ctx, RemoveClient{ID: id})
}

func (h *Hub) handle(msg ControlMessage) {
	switch m := msg.(type) {
	case NewClient:
		err := h.registry.Insert(m.Conn)
		if err != nil {
			h.log.Warn("rejected client", "client", m.Conn.ID, "error", err)
		} else {
			h.log.Info("client connected", "client", m.Conn.ID, "clients", h.registry.Len())
		}
		if m.Result != nil {
			m.Result <- err
		}

	case InboundText:
		h.texts.Add(1)
		if h.registry.Contains(m.ID) {
			h.log.Debug("text from client", "client", m.ID, "text", m.Text)
		}

	case Broadcast:
		d := h.registry.Broadcast(m.Frame, m.From)
		h.frames.Add(1)
		h.deliveries.Add(uint64(d.Delivered))
		if d.Dropped > 0 {
			h.dropped.Add(uint64(d.Dropped))
			if h.dropLog.Allow() {
				h.log.Warn("slow clients are dropping frames", "dropped_total", h.dropped.Load())
			}
		}
		for _, id := range d.Closed {
			h.remove(id, "queue closed")
		}

	case RemoveClient:
		h.remove(m.ID, "removed")
	}
}

func (h *Hub) remove(id ClientID, reason string) {
	c, ok := h.registry.Remove(id)
	if !ok {
		return
	}
	c.Queue.Close()
	h.log.Info("client disconnected", "client", id, "reason", reason, "clients", h.registry.Len())
}
