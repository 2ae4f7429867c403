// ABOUTME: Codec registry for audio frame encodings
// ABOUTME: Resolves configured codec names to domain.Codec implementations
package codec

import (
	"errors"
	"fmt"

	"github.com/harper/audiorelay/internal/domain"
)

var (
	ErrUnknownCodec = errors.New("unknown codec")
	ErrCorruptFrame = errors.New("corrupt frame")
)

// maxRawFrame bounds the decoded size a peer can make us allocate.
const maxRawFrame = 1 << 22

const (
	NamePCM    = "pcm"
	NameZstd   = "zstd"
	NameBG4LZ4 = "bg4lz4"
)

// Lookup returns the codec registered under name. An empty name selects PCM.
func Lookup(name string) (domain.Codec, error) {
	switch name {
	case "", NamePCM:
		return PCM{}, nil
	case NameZstd:
		z, err := newZstd()
		if err != nil {
			return nil, err
		}
		return z, nil
	case NameBG4LZ4:
		return BG4LZ4{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// Names lists every supported codec.
func Names() []string {
	return []string{NamePCM, NameZstd, NameBG4LZ4}
}
