// ABOUTME: Tests for audio frame codecs
// ABOUTME: Verifies the raw PCM wire layout and lossless compressed codecs
package codec

import (
	"errors"
	"math"
	"testing"
)

func TestPCM_WireLayout(t *testing.T) {
	got, err := PCM{}.Encode(nil, []float32{1.0, -2.5})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// 1.0 = 0x3f800000, -2.5 = 0xc0200000, little-endian
	want := []byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x20, 0xc0}
	if string(got) != string(want) {
		t.Errorf("expected % x, got % x", want, got)
	}
}

func TestPCM_DecodeIgnoresPartialSample(t *testing.T) {
	frame := []byte{0x00, 0x00, 0x80, 0x3f, 0xaa, 0xbb}

	got, err := PCM{}.Decode(nil, frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got) != 1 || got[0] != 1.0 {
		t.Errorf("expected [1], got %v", got)
	}
}

func TestPCM_AppendsToDst(t *testing.T) {
	dst := []float32{42}
	got, _ := PCM{}.Decode(dst, []byte{0, 0, 0x80, 0x3f})
	if len(got) != 2 || got[0] != 42 || got[1] != 1 {
		t.Errorf("expected [42 1], got %v", got)
	}
}

func TestCompressedCodecs_Lossless(t *testing.T) {
	samples := make([]float32, 960*2)
	for i := range samples {
		samples[i] = float32(math.Sin(float64(i) * 2 * math.Pi * 440 / 48000))
	}
	silence := make([]float32, 960)

	for _, name := range []string{NameZstd, NameBG4LZ4} {
		c, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q) failed: %v", name, err)
		}

		for _, in := range [][]float32{samples, silence, {0.25}} {
			frame, err := c.Encode(nil, in)
			if err != nil {
				t.Fatalf("%s: Encode failed: %v", name, err)
			}
			out, err := c.Decode(nil, frame)
			if err != nil {
				t.Fatalf("%s: Decode failed: %v", name, err)
			}
			if len(out) != len(in) {
				t.Fatalf("%s: expected %d samples, got %d", name, len(in), len(out))
			}
			for i := range in {
				if out[i] != in[i] {
					t.Fatalf("%s: sample %d: expected %v, got %v", name, i, in[i], out[i])
				}
			}
		}
	}
}

func TestBG4LZ4_CompressesSilence(t *testing.T) {
	frame, _ := BG4LZ4{}.Encode(nil, make([]float32, 4096))
	if frame[0] != bg4Compressed {
		t.Errorf("expected compressed mode for silence")
	}
	if len(frame) >= 4096*4 {
		t.Errorf("expected compression, got %d bytes", len(frame))
	}
}

func TestBG4LZ4_CorruptFrame(t *testing.T) {
	_, err := BG4LZ4{}.Decode(nil, []byte{9, 4, 1, 2, 3, 4})
	if !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("expected ErrCorruptFrame, got %v", err)
	}

	_, err = BG4LZ4{}.Decode(nil, []byte{bg4Raw, 8, 1, 2})
	if !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("expected ErrCorruptFrame for short raw payload, got %v", err)
	}
}

func TestZstd_RejectsOversizedFrame(t *testing.T) {
	z, err := newZstd()
	if err != nil {
		t.Fatalf("newZstd failed: %v", err)
	}

	// Silence compresses to a few hundred bytes but expands past the limit.
	frame, err := z.Encode(nil, make([]float32, maxRawFrame/4+1024))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(frame) >= maxRawFrame/64 {
		t.Fatalf("expected a tiny compressed frame, got %d bytes", len(frame))
	}

	if _, err := z.Decode(nil, frame); !errors.Is(err, ErrCorruptFrame) {
		t.Errorf("expected ErrCorruptFrame for an oversized frame, got %v", err)
	}

	small, _ := z.Encode(nil, []float32{1, 2, 3})
	if got, err := z.Decode(nil, small); err != nil || len(got) != 3 {
		t.Errorf("decoder unusable after rejecting a frame: %v, %v", got, err)
	}
}

func TestLookup(t *testing.T) {
	c, err := Lookup("")
	if err != nil || c.Name() != NamePCM {
		t.Errorf("empty name should select pcm, got %v, %v", c, err)
	}

	for _, name := range Names() {
		c, err := Lookup(name)
		if err != nil {
			t.Errorf("Lookup(%q) failed: %v", name, err)
			continue
		}
		if c.Name() != name {
			t.Errorf("expected name %q, got %q", name, c.Name())
		}
	}

	if _, err := Lookup("opus"); !errors.Is(err, ErrUnknownCodec) {
		t.Errorf("expected ErrUnknownCodec, got %v", err)
	}
}
