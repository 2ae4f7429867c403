// ABOUTME: Listening client lifecycle: wires transport, codec, rings, and audio output
// ABOUTME: Owns the goroutines around one resilient client and reports terminal failure
package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/harper/audiorelay/internal/application/config"
	"github.com/harper/audiorelay/internal/application/manager"
	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/domain/client"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
	"github.com/harper/audiorelay/internal/infrastructure/ws"
)

type Options struct {
	Logger *log.Logger
	Stdin  io.Reader
	Stdout io.Writer
	Clock  clock.Clock
	// Dialer overrides the WebSocket dialer built from the config.
	Dialer domain.Dialer
	// OpenSpeaker starts device playback pulling from the ring. Required
	// for the speaker output.
	OpenSpeaker func(cfg config.AudioConfig, src *ring.Buffer) (io.Closer, error)
}

type Receiver struct {
	cfg    config.ClientConfig
	opts   Options
	client *client.Client

	playback *ring.Buffer
	uplink   *ring.Buffer
	source   domain.CaptureSource
	closer   io.Closer

	frameSamples int
}

func NewFromConfig(cfg config.ClientConfig, opts Options) (*Receiver, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	c, err := codec.Lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = &ws.Dialer{URL: cfg.URL, HandshakeTimeout: cfg.HandshakeTimeout()}
	}

	r := &Receiver{
		cfg:          cfg,
		opts:         opts,
		frameSamples: max(cfg.Audio.SampleRate*cfg.Audio.FrameMs/1000, 1) * cfg.Audio.Channels,
	}

	capacity := ring.CapacityFor(cfg.Buffering.RingDuration(), cfg.Audio.SampleRate, cfg.Audio.Channels)
	r.playback = ring.New(capacity, cfg.Audio.Channels, ring.DropOldest)

	if cfg.Uplink.Enabled {
		r.source, r.closer, err = manager.BuildCapture(cfg.Uplink.Capture, cfg.Audio, opts.Stdin, opts.Clock)
		if err != nil {
			return nil, fmt.Errorf("uplink: %w", err)
		}
		r.uplink = ring.New(capacity, cfg.Audio.Channels, ring.DropNewest)
	}

	logger := opts.Logger.With("url", cfg.URL)
	r.client = client.New(client.Config{
		Retry:         cfg.Retry.Policy(true),
		Playback:      r.playback,
		Uplink:        r.uplink,
		FrameDuration: cfg.Audio.FrameDuration(),
		FrameSamples:  r.frameSamples,
		Logger:        logger,
	}, dialer, c,
		client.WithClock(opts.Clock),
		client.OnStateChange(func(from, to client.State) {
			logger.Info("link state", "from", from, "to", to)
		}),
	)

	return r, nil
}

func (r *Receiver) Client() *client.Client { return r.client }

func (r *Receiver) Playback() *ring.Buffer { return r.playback }

// Run plays until ctx is cancelled (nil) or the client gives up
// (client.ErrRetriesExhausted).
func (r *Receiver) Run(ctx context.Context) error {
	if r.closer != nil {
		defer r.closer.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	switch r.cfg.Output {
	case "speaker":
		if r.opts.OpenSpeaker == nil {
			return errors.New("speaker output is not available")
		}
		p, err := r.opts.OpenSpeaker(r.cfg.Audio, r.playback)
		if err != nil {
			return err
		}
		defer p.Close()
	case "stdout":
		g.Go(func() error { return r.pumpOutput(gctx, r.opts.Stdout) })
	}

	if r.source != nil {
		// Detached: a capture read from a pipe cannot be interrupted.
		go func() {
			err := r.source.Run(gctx, func(s []float32) { r.uplink.PushSlice(s) })
			if err != nil {
				r.opts.Logger.Warn("uplink capture stopped", "error", err)
			}
		}()
	}

	g.Go(func() error { return r.client.Run(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// pumpOutput writes one frame of playback audio per frame period, padding
// with silence when the link is down.
func (r *Receiver) pumpOutput(ctx context.Context, w io.Writer) error {
	tick := r.opts.Clock.NewTicker(r.cfg.Audio.FrameDuration())
	defer tick.Stop()

	reader := ring.NewPCMReader(r.playback, r.frameSamples)
	buf := make([]byte, r.frameSamples*4)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		n, err := reader.Read(buf)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}
}
