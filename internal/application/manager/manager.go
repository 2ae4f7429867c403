// ABOUTME: Stream manager for lifecycle and lookup
// ABOUTME: Creates streams from config and manages their goroutines
package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/harper/audiorelay/internal/application/config"
	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/domain/relay"
	"github.com/harper/audiorelay/internal/domain/stream"
	"github.com/harper/audiorelay/internal/infrastructure/capture"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
)

type Options struct {
	Logger *log.Logger
	// Stdin feeds the one stream allowed to capture from stdin.
	Stdin io.Reader
	Clock clock.Clock
	NewID relay.IDGenerator
}

type Manager struct {
	streams map[string]*stream.Stream
	closers []io.Closer
	mu      sync.RWMutex
	log     *log.Logger
}

func NewFromConfig(cfg *config.Config, opts Options) (*Manager, error) {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}

	mgr := &Manager{
		streams: make(map[string]*stream.Stream),
		log:     opts.Logger,
	}

	stdinUsed := false
	for _, stCfg := range cfg.Streams {
		if stCfg.Capture.Type == "stdin" {
			if stdinUsed {
				mgr.closeAll()
				return nil, fmt.Errorf("stream %s: only one stream can capture from stdin", stCfg.ID)
			}
			stdinUsed = true
		}

		c, err := codec.Lookup(stCfg.Codec)
		if err != nil {
			mgr.closeAll()
			return nil, fmt.Errorf("stream %s: %w", stCfg.ID, err)
		}

		src, closer, err := BuildCapture(stCfg.Capture, stCfg.Audio, opts.Stdin, opts.Clock)
		if err != nil {
			mgr.closeAll()
			return nil, fmt.Errorf("stream %s: %w", stCfg.ID, err)
		}
		if closer != nil {
			mgr.closers = append(mgr.closers, closer)
		}

		capacity := ring.CapacityFor(stCfg.Buffering.RingDuration(), stCfg.Audio.SampleRate, stCfg.Audio.Channels)
		buffer := ring.New(capacity, stCfg.Audio.Channels, ring.DropNewest)

		streamCfg := stream.Config{
			ID:            stCfg.ID,
			SampleRate:    stCfg.Audio.SampleRate,
			Channels:      stCfg.Audio.Channels,
			FrameDuration: stCfg.Audio.FrameDuration(),
			StatsInterval: stCfg.StatsInterval(),
			Hub: relay.Config{
				InboxSize:    stCfg.Buffering.InboxSize,
				QueueSize:    stCfg.Buffering.ClientQueueFrames,
				AcceptUplink: stCfg.AcceptUplink,
				NewID:        opts.NewID,
			},
			Clock:  opts.Clock,
			Logger: opts.Logger,
		}

		mgr.streams[stCfg.ID] = stream.New(streamCfg, src, c, buffer)
	}

	return mgr, nil
}

// BuildCapture creates the capture source a config section describes. The
// closer, when non-nil, releases a file the source reads from.
func BuildCapture(cc config.CaptureConfig, audio config.AudioConfig, stdin io.Reader, clk clock.Clock) (domain.CaptureSource, io.Closer, error) {
	switch cc.Type {
	case "tone":
		return &capture.Tone{
			SampleRate:    audio.SampleRate,
			Channels:      audio.Channels,
			Frequency:     cc.Frequency,
			Amplitude:     float32(cc.Amplitude),
			FrameDuration: audio.FrameDuration(),
			Clock:         clk,
		}, nil, nil

	case "stdin":
		return &capture.Reader{
			R:             stdin,
			SampleRate:    audio.SampleRate,
			Channels:      audio.Channels,
			FrameDuration: audio.FrameDuration(),
			Pace:          cc.Pace,
			Clock:         clk,
		}, nil, nil

	case "file":
		f, err := os.Open(cc.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open capture file: %w", err)
		}
		return &capture.Reader{
			R:             f,
			SampleRate:    audio.SampleRate,
			Channels:      audio.Channels,
			FrameDuration: audio.FrameDuration(),
			Pace:          cc.Pace,
			Clock:         clk,
		}, f, nil

	case "http":
		return capture.NewHTTP(capture.HTTPConfig{
			URL:            cc.URL,
			ConnectTimeout: cc.ConnectTimeout(),
			Headers:        cc.RequestHeaders,
			SampleRate:     audio.SampleRate,
			Channels:       audio.Channels,
			FrameDuration:  audio.FrameDuration(),
			Pace:           cc.Pace,
			Clock:          clk,
		}), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown capture type %q", cc.Type)
	}
}

func (m *Manager) Get(id string) *stream.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.streams[id]
}

// List returns streams ordered by id.
func (m *Manager) List() []*stream.Stream {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*stream.Stream, 0, len(m.streams))
	for _, st := range m.streams {
		result = append(result, st)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

func (m *Manager) Start() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, st := range m.streams {
		if err := st.Start(); err != nil {
			return err
		}
		m.log.Info("stream started", "stream", st.ID(), "codec", st.Codec(),
			"sample_rate", st.SampleRate(), "channels", st.Channels())
	}

	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []error
	for _, st := range m.streams {
		if err := st.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stream %s: %w", st.ID(), err))
		}
	}
	errs = append(errs, m.closeAll())
	return errors.Join(errs...)
}

func (m *Manager) closeAll() error {
	var errs []error
	for _, c := range m.closers {
		errs = append(errs, c.Close())
	}
	m.closers = nil
	return errors.Join(errs...)
}
