// ABOUTME: Registry of live subscribers keyed by client id
// ABOUTME: Writers take the lock unconditionally; a broadcast pass never sees a half-applied mutation
package relay

import (
	"errors"
	"slices"
	"sync"
)

var ErrDuplicateClient = errors.New("client id already registered")

// Registry maps client ids to connections. The hub loop is its only writer.
type Registry struct {
	mu      sync.RWMutex
	clients map[ClientID]*ClientConnection
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[ClientID]*ClientConnection)}
}

// Insert rejects an id that is already registered; it never overwrites.
func (r *Registry) Insert(c *ClientConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c.ID]; ok {
		return ErrDuplicateClient
	}
	r.clients[c.ID] = c
	c.setState(StateActive)
	return nil
}

func (r *Registry) Remove(id ClientID) (*ClientConnection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
		c.setState(StateRemoved)
	}
	return c, ok
}

func (r *Registry) Get(id ClientID) (*ClientConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) Contains(id ClientID) bool {
	_, ok := r.Get(id)
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IDs returns the registered ids in ascending order.
func (r *Registry) IDs() []ClientID {
	r.mu.RLock()
	ids := make([]ClientID, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

// Delivery summarizes one broadcast pass.
type Delivery struct {
	Delivered int
	Dropped   int
	Closed    []ClientID
}

// Broadcast offers frame to every client except from. Full queues drop the
// frame for that client only. Closed queues are reported so the caller can
// deregister them once the pass is over.
func (r *Registry) Broadcast(frame []byte, from ClientID) Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var d Delivery
	for id, c := range r.clients {
		if id == from {
			continue
		}
		switch c.Queue.Offer(frame) {
		case Delivered:
			d.Delivered++
		case Full:
			d.Dropped++
		case Closed:
			d.Closed = append(d.Closed, id)
		}
	}
	return d
}

// drain removes every client and returns them.
func (r *Registry) drain() []*ClientConnection {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*ClientConnection, 0, len(r.clients))
	for id, c := range r.clients {
		delete(r.clients, id)
		c.setState(StateRemoved)
		out = append(out, c)
	}
	return out
}
