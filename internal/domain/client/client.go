// ABOUTME: Resilient streaming client with a bounded exponential-backoff reconnect loop
// ABOUTME: Bridges one transport session at a time to the playback and uplink ring buffers
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/domain/backoff"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
)

// ErrRetriesExhausted is returned by Run once the retry policy gives up.
var ErrRetriesExhausted = backoff.ErrRetriesExhausted

var errAlreadyStarted = errors.New("client: Run called twice")

// State is the reconnect state machine position.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type Config struct {
	Retry backoff.Policy

	// Playback receives decoded samples. It should use ring.DropOldest.
	Playback *ring.Buffer

	// Uplink, when set, is drained every FrameDuration and sent upstream in
	// frames of at most FrameSamples samples.
	Uplink        *ring.Buffer
	FrameDuration time.Duration
	FrameSamples  int

	Logger *log.Logger
}

type Option func(*Client)

// WithClock replaces the wall clock used for backoff waits and uplink pacing.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// OnStateChange registers fn to be called on every transition, from the
// goroutine running Run.
func OnStateChange(fn func(from, to State)) Option {
	return func(cl *Client) { cl.onState = fn }
}

// Stats are cumulative since the client was created.
type Stats struct {
	State        State
	Attempts     int
	Sessions     uint64
	FramesIn     uint64
	FramesOut    uint64
	DecodeErrors uint64
	Overruns     uint64
}

type Client struct {
	cfg    Config
	dialer domain.Dialer
	codec  domain.Codec
	clock  clock.Clock
	log    *log.Logger

	onState func(from, to State)
	started atomic.Bool

	mu       sync.Mutex
	state    State
	attempts int

	sessions     atomic.Uint64
	framesIn     atomic.Uint64
	framesOut    atomic.Uint64
	decodeErrors atomic.Uint64

	decodeLog *rate.Limiter
}

func New(cfg Config, dialer domain.Dialer, codec domain.Codec, opts ...Option) *Client {
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = backoff.DefaultClientPolicy().BaseDelay
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 960
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	c := &Client{
		cfg:       cfg,
		dialer:    dialer,
		codec:     codec,
		clock:     clock.Real(),
		log:       logger,
		decodeLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts is the number of retries scheduled since the last successful
// handshake.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) Stats() Stats {
	var overruns uint64
	if c.cfg.Uplink != nil {
		overruns = c.cfg.Uplink.Dropped()
	}
	return Stats{
		State:        c.State(),
		Attempts:     c.Attempts(),
		Sessions:     c.sessions.Load(),
		FramesIn:     c.framesIn.Load(),
		FramesOut:    c.framesOut.Load(),
		DecodeErrors: c.decodeErrors.Load(),
		Overruns:     overruns,
	}
}

// Run connects and keeps reconnecting until ctx is cancelled or the retry
// policy is exhausted. Any failure, including the first dial, enters retry
// mode; a successful handshake resets the backoff. Run may be called once.
func (c *Client) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errAlreadyStarted
	}

	b := backoff.New(c.cfg.Retry)
	for {
		c.setState(Connecting)
		err := c.connect(ctx, b)
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return ctx.Err()
		}

		delay, ok := b.Next()
		if !ok {
			c.setState(Failed)
			c.log.Error("giving up", "attempts", c.cfg.Retry.MaxAttempts, "error", err)
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.cfg.Retry.MaxAttempts, err)
		}
		c.mu.Lock()
		c.attempts = b.Attempt()
		c.mu.Unlock()
		c.setState(Disconnected)
		c.log.Warn("link down, reconnecting", "error", err, "attempt", b.Attempt(), "delay", delay)

		if err := c.wait(ctx, delay); err != nil {
			c.setState(Disconnected)
			return err
		}
	}
}

// wait sleeps for d unless ctx ends first; the timer never outlives it.
func (c *Client) wait(ctx context.Context, d time.Duration) error {
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// connect performs one handshake and, on success, runs the session until
// the link fails. The returned error is never nil.
func (c *Client) connect(ctx context.Context, b *backoff.Backoff) error {
	conn, err := c.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	b.Reset()
	c.mu.Lock()
	c.attempts = 0
	c.mu.Unlock()
	c.setState(Connected)

	err = c.session(ctx, conn)
	if err == nil {
		err = io.EOF
	}
	return err
}

func (c *Client) session(ctx context.Context, conn domain.FrameConn) error {
	defer conn.Close()

	c.sessions.Add(1)
	logger := c.log.With("session", uuid.NewString())
	logger.Info("connected", "codec", c.codec.Name())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.inbound(gctx, conn, logger) })
	if c.cfg.Uplink != nil {
		g.Go(func() error { return c.outbound(gctx, conn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	err := g.Wait()
	if domain.IsExpectedClose(err) {
		logger.Info("disconnected", "reason", err)
	} else {
		logger.Warn("link failed", "error", err)
	}
	return err
}

// inbound decodes received frames into the playback ring. A frame that
// fails to decode is skipped; only transport errors end the session.
func (c *Client) inbound(ctx context.Context, conn domain.FrameConn, logger *log.Logger) error {
	var samples []float32
	for {
		f, err := conn.ReadFrame(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if f.Kind == domain.TextFrame {
			logger.Debug("text from relay", "text", string(f.Data))
			continue
		}

		samples, err = c.codec.Decode(samples[:0], f.Data)
		if err != nil {
			c.decodeErrors.Add(1)
			if c.decodeLog.Allow() {
				logger.Warn("dropping undecodable frame", "error", err, "bytes", len(f.Data))
			}
			continue
		}
		c.framesIn.Add(1)
		if c.cfg.Playback != nil {
			c.cfg.Playback.PushSlice(samples)
		}
	}
}

func (c *Client) outbound(ctx context.Context, conn domain.FrameConn) error {
	t := c.clock.NewTicker(c.cfg.FrameDuration)
	defer t.Stop()

	buf := make([]float32, c.cfg.FrameSamples)
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}

		n := c.cfg.Uplink.PopInto(buf)
		if n == 0 {
			continue
		}
		var err error
		out, err = c.codec.Encode(out[:0], buf[:n])
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}
		if err := conn.WriteFrame(ctx, domain.Frame{Kind: domain.BinaryFrame, Data: out}); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.framesOut.Add(1)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()

	if prev == s {
		return
	}
	c.log.Debug("state", "from", prev, "to", s)
	if c.onState != nil {
		c.onState(prev, s)
	}
}
