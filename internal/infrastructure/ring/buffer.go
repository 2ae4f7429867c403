// ABOUTME: Lock-free single-producer/single-consumer ring of audio samples
// ABOUTME: Bridges device callbacks and network goroutines without blocking either side
package ring

import (
	"math"
	"sync/atomic"
	"time"
)

// Policy decides what a full buffer does with an incoming sample.
type Policy uint8

const (
	// DropNewest rejects the incoming sample. Used on the capture side.
	DropNewest Policy = iota
	// DropOldest discards the oldest buffered sample so the newest always
	// fits. Used on the playback side.
	DropOldest
)

func (p Policy) String() string {
	switch p {
	case DropNewest:
		return "drop-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-capacity circular buffer of interleaved float32 samples.
//
// Samples move in whole frames of Channels samples, so a drop under either
// policy never splits a frame and channel alignment survives overflow.
// Exactly one goroutine may push and exactly one may pop. Both cursors run
// freely, always on frame boundaries, and are reduced modulo the slot count
// only when indexing. Slots hold the sample bits atomically, so a DropOldest
// eviction that races a pop is caught by the consumer's compare-and-swap on
// the read cursor and the pop is retried.
type Buffer struct {
	slots    []atomic.Uint32
	size     uint64
	channels uint64
	policy   Policy

	_     [64]byte
	write atomic.Uint64
	_     [64]byte
	read  atomic.Uint64
	_     [64]byte

	dropped   atomic.Uint64
	underruns atomic.Uint64
}

// New allocates a buffer holding at least capacity samples of channels
// interleaved channels. The frame count is rounded up to a power of two.
func New(capacity, channels int, policy Policy) *Buffer {
	if channels < 1 {
		channels = 1
	}
	frames := 1
	for frames*channels < capacity {
		frames <<= 1
	}
	size := frames * channels
	return &Buffer{
		slots:    make([]atomic.Uint32, size),
		size:     uint64(size),
		channels: uint64(channels),
		policy:   policy,
	}
}

// CapacityFor returns the number of samples needed to hold d of audio.
func CapacityFor(d time.Duration, sampleRate, channels int) int {
	n := int(d.Seconds() * float64(sampleRate*channels))
	if n < 1 {
		n = 1
	}
	return n
}

func (b *Buffer) Cap() int { return int(b.size) }

func (b *Buffer) Channels() int { return int(b.channels) }

func (b *Buffer) Policy() Policy { return b.policy }

// Len is a snapshot in samples; it may be stale by the time the caller
// looks at it.
func (b *Buffer) Len() int {
	w := b.write.Load()
	r := b.read.Load()
	if w < r {
		return 0
	}
	return int(w - r)
}

// Dropped counts samples lost to overflow under either policy, plus trailing
// samples that did not make up a whole frame.
func (b *Buffer) Dropped() uint64 { return b.dropped.Load() }

// Underruns counts samples substituted with silence by FillOrSilence.
func (b *Buffer) Underruns() uint64 { return b.underruns.Load() }

// PushFrame appends one frame of exactly Channels samples. It returns false
// when the frame has the wrong width, or under DropNewest when the buffer is
// full; the frame is then discarded.
func (b *Buffer) PushFrame(frame []float32) bool {
	width := b.channels
	if uint64(len(frame)) != width {
		b.dropped.Add(uint64(len(frame)))
		return false
	}

	w := b.write.Load()
	for {
		r := b.read.Load()
		if w-r+width <= b.size {
			break
		}
		if b.policy == DropNewest {
			b.dropped.Add(width)
			return false
		}
		if b.read.CompareAndSwap(r, r+width) {
			b.dropped.Add(width)
			break
		}
	}
	for i, s := range frame {
		b.slots[(w+uint64(i))%b.size].Store(math.Float32bits(s))
	}
	b.write.Store(w + width)
	return true
}

// PopFrame removes the oldest frame into dst, which must hold at least
// Channels samples. ok is false when the buffer is empty.
func (b *Buffer) PopFrame(dst []float32) (ok bool) {
	width := b.channels
	dst = dst[:width]
	for {
		r := b.read.Load()
		if b.write.Load()-r < width {
			return false
		}
		for i := range dst {
			dst[i] = math.Float32frombits(b.slots[(r+uint64(i))%b.size].Load())
		}
		if b.read.CompareAndSwap(r, r+width) {
			return true
		}
	}
}

// PushSlice pushes the whole frames in samples in order and returns how many
// samples were accepted.
func (b *Buffer) PushSlice(samples []float32) int {
	width := int(b.channels)
	n := 0
	for len(samples) >= width {
		if b.PushFrame(samples[:width]) {
			n += width
		}
		samples = samples[width:]
	}
	if len(samples) > 0 {
		b.dropped.Add(uint64(len(samples)))
	}
	return n
}

// PopInto fills dst with as many whole frames as are available and returns
// the number of samples written.
func (b *Buffer) PopInto(dst []float32) int {
	width := int(b.channels)
	n := 0
	for n+width <= len(dst) {
		if !b.PopFrame(dst[n:]) {
			break
		}
		n += width
	}
	return n
}

// FillOrSilence pops into dst and zero-fills whatever the buffer could not
// supply. It returns the number of real samples written. dst should hold a
// whole number of frames to keep the reader aligned.
func (b *Buffer) FillOrSilence(dst []float32) int {
	n := b.PopInto(dst)
	if n < len(dst) {
		clear(dst[n:])
		b.underruns.Add(uint64(len(dst) - n))
	}
	return n
}
