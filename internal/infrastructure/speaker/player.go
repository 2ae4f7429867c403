// ABOUTME: Audio output device backed by oto, pulling from the playback ring
// ABOUTME: The device thread only ever touches the ring; it plays silence when the ring is empty
package speaker

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/ebitengine/oto/v3"

	"github.com/harper/audiorelay/internal/infrastructure/ring"
)

type Config struct {
	SampleRate int
	Channels   int
	// BufferSize is the device-side latency; zero lets the backend choose.
	BufferSize   time.Duration
	ReadyTimeout time.Duration
}

// Player owns an oto context and one player streaming from a ring.
type Player struct {
	ctx    *oto.Context
	player *oto.Player
	log    *log.Logger
}

// Open starts playback of source. oto allows one context per process, so
// Open must not be called twice.
func Open(cfg Config, source *ring.Buffer, logger *log.Logger) (*Player, error) {
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return nil, fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.SampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio device: %w", err)
	}

	select {
	case <-ready:
	case <-time.After(cfg.ReadyTimeout):
		return nil, fmt.Errorf("audio device not ready after %v", cfg.ReadyTimeout)
	}

	// One second of samples is far more than any backend asks for per pull.
	reader := ring.NewPCMReader(source, cfg.SampleRate*cfg.Channels)
	p := ctx.NewPlayer(reader)
	p.Play()

	logger.Debug("audio output started",
		"sample_rate", cfg.SampleRate, "channels", cfg.Channels, "buffer", cfg.BufferSize)
	return &Player{ctx: ctx, player: p, log: logger}, nil
}

func (p *Player) Close() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return fmt.Errorf("close audio player: %w", err)
	}
	return nil
}
