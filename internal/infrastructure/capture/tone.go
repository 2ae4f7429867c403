// ABOUTME: Synthetic sine-wave capture source paced by a clock
// ABOUTME: Stands in for a microphone in demos and tests
package capture

import (
	"context"
	"math"
	"time"

	"github.com/harper/audiorelay/internal/domain"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
)

type Tone struct {
	SampleRate    int
	Channels      int
	Frequency     float64
	Amplitude     float32
	FrameDuration time.Duration
	Clock         clock.Clock
}

var _ domain.CaptureSource = (*Tone)(nil)

// FrameSamples is the interleaved sample count delivered per callback.
func (t *Tone) FrameSamples() int {
	return frameSamples(t.SampleRate, t.Channels, t.FrameDuration)
}

// Run emits one frame per FrameDuration until ctx is cancelled. The phase is
// continuous across frames.
func (t *Tone) Run(ctx context.Context, callback func([]float32)) error {
	clk := t.Clock
	if clk == nil {
		clk = clock.Real()
	}
	channels := max(t.Channels, 1)
	buf := make([]float32, t.FrameSamples())
	step := 2 * math.Pi * t.Frequency / float64(t.SampleRate)
	phase := 0.0

	tick := clk.NewTicker(t.FrameDuration)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}

		for i := 0; i < len(buf); i += channels {
			v := t.Amplitude * float32(math.Sin(phase))
			for ch := 0; ch < channels && i+ch < len(buf); ch++ {
				buf[i+ch] = v
			}
			phase += step
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}
		callback(buf)
	}
}

func frameSamples(rate, channels int, d time.Duration) int {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	return max(n, 1) * max(channels, 1)
}
