// ABOUTME: Capture source reading raw little-endian float32 samples from a stream
// ABOUTME: Typically stdin piped from arecord or ffmpeg, or a file replayed in real time
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
)

type Reader struct {
	R             io.Reader
	SampleRate    int
	Channels      int
	FrameDuration time.Duration

	// Pace waits one FrameDuration between frames. Live device pipes are
	// already paced by the hardware; files are not.
	Pace  bool
	Clock clock.Clock
}

var _ domain.CaptureSource = (*Reader)(nil)

func (r *Reader) FrameSamples() int {
	return frameSamples(r.SampleRate, r.Channels, r.FrameDuration)
}

// Run returns nil when the stream ends. A read already in progress is not
// interrupted by ctx; cancellation is observed between frames.
func (r *Reader) Run(ctx context.Context, callback func([]float32)) error {
	var tick *clock.Ticker
	if r.Pace {
		clk := r.Clock
		if clk == nil {
			clk = clock.Real()
		}
		tick = clk.NewTicker(r.FrameDuration)
		defer tick.Stop()
	}

	raw := make([]byte, r.FrameSamples()*4)
	samples := make([]float32, 0, r.FrameSamples())
	pcm := codec.PCM{}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		n, err := io.ReadFull(r.R, raw)
		if n > 0 {
			samples, _ = pcm.Decode(samples[:0], raw[:n])
			if len(samples) > 0 {
				callback(samples)
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read samples: %w", err)
		}
	}
}
