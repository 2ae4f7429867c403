// ABOUTME: Pull-side adapter exposing a sample ring as a little-endian float32 byte stream
// ABOUTME: Audio backends that pull bytes call Read from their device thread
package ring

import (
	"encoding/binary"
	"io"
	"math"
)

// PCMReader never blocks: each Read returns the whole frames that fit in p,
// padded with silence when the ring runs dry.
type PCMReader struct {
	buf     *Buffer
	scratch []float32
}

// NewPCMReader allocates scratch for up to maxSamples per Read, rounded down
// to whole frames, so the read path itself never allocates.
func NewPCMReader(b *Buffer, maxSamples int) *PCMReader {
	width := b.Channels()
	frames := max(maxSamples/width, 1)
	return &PCMReader{buf: b, scratch: make([]float32, frames*width)}
}

func (r *PCMReader) Read(p []byte) (int, error) {
	width := r.buf.Channels()
	n := len(p) / 4 / width * width
	if n == 0 {
		return 0, io.ErrShortBuffer
	}
	n = min(n, len(r.scratch))

	samples := r.scratch[:n]
	r.buf.FillOrSilence(samples)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return n * 4, nil
}
