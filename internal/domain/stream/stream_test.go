// ABOUTME: Tests for the stream domain model
// ABOUTME: Verifies capture-to-hub encoding, capture overrun accounting, and shutdown
package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/harper/audiorelay/internal/domain/relay"
	"github.com/harper/audiorelay/internal/infrastructure/clock"
	"github.com/harper/audiorelay/internal/infrastructure/codec"
	"github.com/harper/audiorelay/internal/infrastructure/ring"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// chanSource delivers whatever the test sends on frames.
type chanSource struct {
	frames chan []float32
	err    error
}

func (s *chanSource) Run(ctx context.Context, callback func([]float32)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-s.frames:
			if !ok {
				return s.err
			}
			callback(f)
		}
	}
}

func newTestStream(t *testing.T, capacity int) (*Stream, *chanSource, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	src := &chanSource{frames: make(chan []float32, 8)}
	s := New(Config{
		ID:            "test",
		SampleRate:    200,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
		StatsInterval: time.Hour,
		Clock:         clk,
	}, src, codec.PCM{}, ring.New(capacity, 1, ring.DropNewest))

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	// encoder and stats tickers
	clk.BlockUntil(2)
	return s, src, clk
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew(t *testing.T) {
	s := New(Config{ID: "test", SampleRate: 48000, Channels: 2}, nil, codec.PCM{}, ring.New(16, 2, ring.DropNewest))

	if s.ID() != "test" {
		t.Errorf("expected ID 'test', got %q", s.ID())
	}
	if s.FrameSamples() != 1920 {
		t.Errorf("expected 1920 samples per 20ms stereo frame, got %d", s.FrameSamples())
	}
	if s.Codec() != codec.NamePCM {
		t.Errorf("expected pcm codec, got %q", s.Codec())
	}
}

func TestStream_CaptureReachesClients(t *testing.T) {
	s, src, clk := newTestStream(t, 64)

	c := relay.NewClientConnection(1, 8)
	if err := s.Hub().Register(context.Background(), c); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// 200 Hz mono at 20ms is 4 samples per frame.
	src.frames <- []float32{1, 2, 3, 4, 5, 6}
	waitFor(t, "samples buffered", func() bool { return s.buffer.Len() == 6 })

	clk.Advance(20 * time.Millisecond)

	for _, want := range [][]float32{{1, 2, 3, 4}, {5, 6}} {
		select {
		case frame := <-c.Queue.C():
			got, err := codec.PCM{}.Decode(nil, frame)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(got) != len(want) || got[0] != want[0] {
				t.Fatalf("expected %v, got %v", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %v never reached the client", want)
		}
	}

	waitFor(t, "stats settle", func() bool {
		st := s.Stats()
		return st.Frames == 2 && st.BytesOut == 24
	})
	if !s.Stats().SourceHealthy {
		t.Error("source should be healthy while running")
	}
}

func TestStream_CaptureOverrunCounted(t *testing.T) {
	s, src, _ := newTestStream(t, 4)

	src.frames <- []float32{1, 2, 3, 4, 5, 6}
	waitFor(t, "overrun counted", func() bool { return s.Stats().CaptureDropped == 2 })

	// The oldest samples survive under DropNewest.
	buf := make([]float32, 4)
	if n := s.buffer.PopInto(buf); n != 4 || buf[0] != 1 || buf[3] != 4 {
		t.Errorf("expected [1 2 3 4], got %v", buf[:n])
	}
}

func TestStream_SourceFailureMarksUnhealthy(t *testing.T) {
	s, src, _ := newTestStream(t, 16)

	src.err = errors.New("device gone")
	close(src.frames)
	waitFor(t, "source unhealthy", func() bool { return !s.SourceHealthy() })
}

func TestStream_ShutdownDisconnectsClients(t *testing.T) {
	s, _, _ := newTestStream(t, 16)

	c := relay.NewClientConnection(1, 8)
	s.Hub().Register(context.Background(), c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, ok := <-c.Queue.C(); ok {
		t.Error("client queue should be closed after shutdown")
	}
	if s.Hub().Registry().Len() != 0 {
		t.Errorf("expected empty registry, got %d", s.Hub().Registry().Len())
	}
}
