// ABOUTME: Raw PCM codec: flat little-endian float32 samples, no header
// ABOUTME: Default wire format; rate and channel count are agreed out of band
package codec

import (
	"encoding/binary"
	"math"
	"slices"
)

type PCM struct{}

func (PCM) Name() string { return NamePCM }

func (PCM) Encode(dst []byte, samples []float32) ([]byte, error) {
	return appendPCM(dst, samples), nil
}

// Decode ignores trailing bytes that do not make up a whole sample.
func (PCM) Decode(dst []float32, frame []byte) ([]float32, error) {
	return appendSamples(dst, frame), nil
}

func appendPCM(dst []byte, samples []float32) []byte {
	dst = slices.Grow(dst, len(samples)*4)
	for _, s := range samples {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(s))
	}
	return dst
}

func appendSamples(dst []float32, raw []byte) []float32 {
	n := len(raw) / 4
	dst = slices.Grow(dst, n)
	for i := 0; i < n; i++ {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:])))
	}
	return dst
}
