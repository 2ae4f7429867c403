// ABOUTME: Byte-grouped LZ4 codec for float32 PCM
// ABOUTME: Transposes sample bytes by position before LZ4 block compression
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Frame layout: one mode byte, uvarint raw length, payload.
const (
	bg4Raw        byte = 0
	bg4Compressed byte = 1
)


// BG4LZ4 groups byte 0 of every sample, then byte 1, and so on, so the
// slowly varying exponent bytes of neighbouring samples sit next to each
// other. Incompressible frames are sent raw.
type BG4LZ4 struct{}

func (BG4LZ4) Name() string { return NameBG4LZ4 }

func (BG4LZ4) Encode(dst []byte, samples []float32) ([]byte, error) {
	raw := bg4Transpose(appendPCM(nil, samples))

	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	n, err := lz4.CompressBlock(raw, compressed, nil)
	if err != nil {
		return dst, fmt.Errorf("lz4 compress: %w", err)
	}

	if n == 0 || n >= len(raw) {
		dst = append(dst, bg4Raw)
		dst = binary.AppendUvarint(dst, uint64(len(raw)))
		return append(dst, raw...), nil
	}
	dst = append(dst, bg4Compressed)
	dst = binary.AppendUvarint(dst, uint64(len(raw)))
	return append(dst, compressed[:n]...), nil
}

func (BG4LZ4) Decode(dst []float32, frame []byte) ([]float32, error) {
	if len(frame) == 0 {
		return dst, nil
	}
	mode := frame[0]
	size, k := binary.Uvarint(frame[1:])
	if k <= 0 || size > maxRawFrame {
		return dst, fmt.Errorf("%w: bg4lz4 header", ErrCorruptFrame)
	}
	payload := frame[1+k:]

	var raw []byte
	switch mode {
	case bg4Raw:
		if uint64(len(payload)) != size {
			return dst, fmt.Errorf("%w: bg4lz4 raw length %d, header says %d", ErrCorruptFrame, len(payload), size)
		}
		raw = payload
	case bg4Compressed:
		raw = make([]byte, size)
		n, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return dst, fmt.Errorf("%w: lz4: %v", ErrCorruptFrame, err)
		}
		if uint64(n) != size {
			return dst, fmt.Errorf("%w: lz4 produced %d bytes, expected %d", ErrCorruptFrame, n, size)
		}
	default:
		return dst, fmt.Errorf("%w: bg4lz4 mode %d", ErrCorruptFrame, mode)
	}

	return appendSamples(dst, bg4Untranspose(raw)), nil
}

// bg4Transpose leaves trailing bytes past the last whole group in place.
func bg4Transpose(data []byte) []byte {
	groups := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		out[i] = data[i*4]
		out[groups+i] = data[i*4+1]
		out[groups*2+i] = data[i*4+2]
		out[groups*3+i] = data[i*4+3]
	}
	copy(out[groups*4:], data[groups*4:])
	return out
}

func bg4Untranspose(data []byte) []byte {
	groups := len(data) / 4
	out := make([]byte, len(data))
	for i := 0; i < groups; i++ {
		out[i*4] = data[i]
		out[i*4+1] = data[groups+i]
		out[i*4+2] = data[groups*2+i]
		out[i*4+3] = data[groups*3+i]
	}
	copy(out[groups*4:], data[groups*4:])
	return out
}
