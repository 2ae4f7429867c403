// ABOUTME: Client identity, per-client outbound queue, and connection lifecycle state
// ABOUTME: Queue offers never block and never panic on a closed queue
package relay

import (
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ClientID identifies a live subscriber. Zero is reserved for the local
// producer and is never issued.
type ClientID uint64

func (id ClientID) String() string { return strconv.FormatUint(uint64(id), 10) }

// IDGenerator issues candidate ids. Uniqueness is checked at registration.
type IDGenerator func() ClientID

// RandomID takes 64 random bits from a version 4 UUID.
func RandomID() ClientID {
	for {
		u := uuid.New()
		if id := ClientID(binary.BigEndian.Uint64(u[:8])); id != 0 {
			return id
		}
	}
}

// ConnState is the lifecycle of one connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateActive
	StateClosing
	StateRemoved
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// OfferResult reports what happened to a frame offered to a Queue.
type OfferResult uint8

const (
	Delivered OfferResult = iota
	Full
	Closed
)

// Queue is a bounded outbound frame queue with a single reader.
type Queue struct {
	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size < 1 {
		size = 1
	}
	return &Queue{ch: make(chan []byte, size)}
}

// Offer enqueues frame without blocking. A full queue drops frame.
func (q *Queue) Offer(frame []byte) OfferResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Closed
	}
	select {
	case q.ch <- frame:
		return Delivered
	default:
		q.dropped.Add(1)
		return Full
	}
}

// C is closed once Close has been called and the remaining frames drained.
func (q *Queue) C() <-chan []byte { return q.ch }

// Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// ClientConnection is a registered subscriber and its outbound queue.
type ClientConnection struct {
	ID    ClientID
	Queue *Queue

	state atomic.Int32
}

func NewClientConnection(id ClientID, queueSize int) *ClientConnection {
	return &ClientConnection{ID: id, Queue: NewQueue(queueSize)}
}

func (c *ClientConnection) State() ConnState { return ConnState(c.state.Load()) }

func (c *ClientConnection) setState(s ConnState) { c.state.Store(int32(s)) }
