// ABOUTME: Stream domain model coupling a capture source to a broadcast hub
// ABOUTME: Manages the capture, encode, hub, and stats goroutines for one relayed stream
package stream

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/domain/relay"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
)

type Config struct {
	ID            string
	SampleRate    int
	Channels      int
	FrameDuration time.Duration
	StatsInterval time.Duration
	Hub           relay.Config
	Clock         clock.Clock
	Logger        *log.Logger
}

// Stats is a point-in-time view for the HTTP surface and logs.
type Stats struct {
	Clients        int
	Frames         uint64
	ClientDrops    uint64
	CaptureDropped uint64
	EncodeErrors   uint64
	BytesOut       uint64
	SourceHealthy  bool
}

type Stream struct {
	id            string
	sampleRate    int
	channels      int
	frameDuration time.Duration
	statsInterval time.Duration

	source domain.CaptureSource
	codec  domain.Codec
	buffer *ring.Buffer
	hub    *relay.Hub
	clock  clock.Clock
	log    *log.Logger

	sourceHealthy atomic.Bool
	encodeErrors  atomic.Uint64
	bytesOut      atomic.Uint64
	lossLog       *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a stream. buffer carries captured samples to the encoder and
// should use ring.DropNewest so a stalled encoder loses the latest audio
// rather than replaying stale audio later.
func New(cfg Config, source domain.CaptureSource, codec domain.Codec, buffer *ring.Buffer) *Stream {
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	logger = logger.With("stream", cfg.ID)
	if cfg.Hub.Logger == nil {
		cfg.Hub.Logger = logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		id:            cfg.ID,
		sampleRate:    cfg.SampleRate,
		channels:      max(cfg.Channels, 1),
		frameDuration: cfg.FrameDuration,
		statsInterval: cfg.StatsInterval,
		source:        source,
		codec:         codec,
		buffer:        buffer,
		hub:           relay.New(cfg.Hub),
		clock:         cfg.Clock,
		log:           logger,
		lossLog:       rate.NewLimiter(rate.Every(10*time.Second), 1),
		ctx:           ctx,
		cancel:        cancel,
	}
}

func (s *Stream) ID() string {
	return s.id
}

func (s *Stream) Hub() *relay.Hub {
	return s.hub
}

func (s *Stream) Codec() string {
	return s.codec.Name()
}

func (s *Stream) SampleRate() int {
	return s.sampleRate
}

func (s *Stream) Channels() int {
	return s.channels
}

func (s *Stream) SourceHealthy() bool {
	return s.sourceHealthy.Load()
}

// FrameSamples is the interleaved sample count per encoded frame.
func (s *Stream) FrameSamples() int {
	n := int(int64(s.sampleRate) * int64(s.frameDuration) / int64(time.Second))
	return max(n, 1) * s.channels
}

func (s *Stream) Stats() Stats {
	hs := s.hub.Stats()
	return Stats{
		Clients:        hs.Clients,
		Frames:         hs.Frames,
		ClientDrops:    hs.Dropped,
		CaptureDropped: s.buffer.Dropped(),
		EncodeErrors:   s.encodeErrors.Load(),
		BytesOut:       s.bytesOut.Load(),
		SourceHealthy:  s.SourceHealthy(),
	}
}

func (s *Stream) Start() error {
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	// Not waited on: a source blocked reading a pipe cannot be interrupted.
	go s.runCapture()
	go func() {
		defer s.wg.Done()
		s.runEncoder()
	}()
	go func() {
		defer s.wg.Done()
		s.runStatsReporter()
	}()
	return nil
}

// Shutdown stops the stream and disconnects all clients, waiting up to
// ctx's deadline for the encoder, hub, and stats goroutines.
func (s *Stream) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCapture only ever hands samples to the ring; the source's callback must
// not block.
func (s *Stream) runCapture() {
	s.sourceHealthy.Store(true)
	err := s.source.Run(s.ctx, func(samples []float32) {
		s.buffer.PushSlice(samples)
	})
	s.sourceHealthy.Store(false)

	switch {
	case s.ctx.Err() != nil:
	case err != nil:
		s.log.Error("capture source failed", "error", err)
	default:
		s.log.Warn("capture source ended")
	}
}

func (s *Stream) runEncoder() {
	ticker := s.clock.NewTicker(s.frameDuration)
	defer ticker.Stop()

	buf := make([]float32, s.FrameSamples())
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		// Catch up on whole frames that piled up behind a slow tick.
		for {
			n := s.buffer.PopInto(buf)
			if n == 0 {
				break
			}
			s.encodeAndBroadcast(buf[:n])
			if n < len(buf) {
				break
			}
		}
	}
}

func (s *Stream) encodeAndBroadcast(samples []float32) {
	// Each frame is shared by every client queue, so it gets its own slice.
	frame, err := s.codec.Encode(nil, samples)
	if err != nil {
		s.encodeErrors.Add(1)
		if s.lossLog.Allow() {
			s.log.Warn("dropping frame that failed to encode", "error", err)
		}
		return
	}
	if err := s.hub.Broadcast(s.ctx, frame); err != nil {
		return
	}
	s.bytesOut.Add(uint64(len(frame)))
}

func (s *Stream) runStatsReporter() {
	ticker := s.clock.NewTicker(s.statsInterval)
	defer ticker.Stop()

	var lastLost uint64
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		st := s.Stats()
		s.log.Debug("stream stats",
			"clients", st.Clients,
			"frames", st.Frames,
			"sent", humanize.Bytes(st.BytesOut),
			"client_drops", st.ClientDrops)

		if st.CaptureDropped > lastLost && s.lossLog.Allow() {
			s.log.Warn("capture overrun, audio lost",
				"samples", humanize.Comma(int64(st.CaptureDropped-lastLost)),
				"total", humanize.Comma(int64(st.CaptureDropped)))
		}
		lastLost = st.CaptureDropped
	}
}
