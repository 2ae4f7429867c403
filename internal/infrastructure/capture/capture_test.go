// ABOUTME: Tests for the tone and raw-reader capture sources
// ABOUTME: Uses a fake clock for pacing and in-memory readers for sample data
package capture

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTone_FramesPacedByClock(t *testing.T) {
	clk := clock.Fake(epoch)
	tone := &Tone{
		SampleRate:    1000,
		Channels:      2,
		Frequency:     250,
		Amplitude:     0.5,
		FrameDuration: 10 * time.Millisecond,
		Clock:         clk,
	}
	if tone.FrameSamples() != 20 {
		t.Fatalf("expected 20 samples per frame, got %d", tone.FrameSamples())
	}

	frames := make(chan []float32, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tone.Run(ctx, func(s []float32) {
			frames <- append([]float32(nil), s...)
		})
	}()

	clk.BlockUntil(1)
	select {
	case <-frames:
		t.Fatal("emitted a frame before the clock moved")
	default:
	}

	clk.Advance(10 * time.Millisecond)
	var got []float32
	select {
	case got = <-frames:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame after one period")
	}

	// A quarter-rate tone walks 0, +A, 0, -A with both channels equal.
	want := []float32{0, 0.5, 0, -0.5}
	for i, w := range want {
		l, r := got[2*i], got[2*i+1]
		if l != r {
			t.Fatalf("sample %d: channels differ %v vs %v", i, l, r)
		}
		if math.Abs(float64(l-w)) > 1e-6 {
			t.Errorf("sample %d: expected %v, got %v", i, w, l)
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v on cancel", err)
	}
}

func TestReader_EmitsWholeFramesThenTail(t *testing.T) {
	samples := []float32{1, 2, 3, 4, 5}
	raw, _ := codec.PCM{}.Encode(nil, samples)
	raw = append(raw, 0xff) // a dangling partial sample

	r := &Reader{R: bytes.NewReader(raw), SampleRate: 2, Channels: 1, FrameDuration: time.Second}

	var frames [][]float32
	err := r.Run(context.Background(), func(s []float32) {
		frames = append(frames, append([]float32(nil), s...))
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d: %v", len(frames), frames)
	}
	if frames[0][0] != 1 || frames[1][1] != 4 {
		t.Errorf("unexpected frames %v", frames)
	}
	if len(frames[2]) != 1 || frames[2][0] != 5 {
		t.Errorf("expected tail [5], got %v", frames[2])
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestReader_PropagatesReadErrors(t *testing.T) {
	r := &Reader{R: failingReader{}, SampleRate: 10, Channels: 1, FrameDuration: 100 * time.Millisecond}
	err := r.Run(context.Background(), func([]float32) {})
	if err == nil {
		t.Fatal("expected read error")
	}
}

func TestReader_PacedStopsOnCancel(t *testing.T) {
	clk := clock.Fake(epoch)
	raw, _ := codec.PCM{}.Encode(nil, make([]float32, 100))
	r := &Reader{R: bytes.NewReader(raw), SampleRate: 10, Channels: 1,
		FrameDuration: 100 * time.Millisecond, Pace: true, Clock: clk}

	count := make(chan int, 10)
	n := 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, func([]float32) {
			n++
			count <- n
		})
	}()

	clk.BlockUntil(1)
	clk.Advance(100 * time.Millisecond)
	if got := <-count; got != 1 {
		t.Fatalf("expected first frame, got %d", got)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("paced reader ignored cancellation")
	}
}
