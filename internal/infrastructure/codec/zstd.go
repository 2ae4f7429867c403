// ABOUTME: Zstandard-compressed PCM codec
// ABOUTME: Encoder and decoder are shared; both are safe for concurrent EncodeAll/DecodeAll
package codec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

var sharedZstd = sync.OnceValues(func() (*Zstd, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxRawFrame),
	)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Zstd{enc: enc, dec: dec}, nil
})

func newZstd() (*Zstd, error) { return sharedZstd() }

func (*Zstd) Name() string { return NameZstd }

func (z *Zstd) Encode(dst []byte, samples []float32) ([]byte, error) {
	raw := appendPCM(nil, samples)
	return z.enc.EncodeAll(raw, dst), nil
}

func (z *Zstd) Decode(dst []float32, frame []byte) ([]float32, error) {
	raw, err := z.dec.DecodeAll(frame, nil)
	if err != nil {
		return dst, fmt.Errorf("%w: zstd: %v", ErrCorruptFrame, err)
	}
	return appendSamples(dst, raw), nil
}
