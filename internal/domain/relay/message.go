// ABOUTME: Control messages consumed by the hub loop
// ABOUTME: Every registry mutation and every broadcast travels through one of these
package relay

// ControlMessage is one of NewClient, InboundText, Broadcast, RemoveClient.
type ControlMessage interface {
	controlMessage()
}

// NewClient registers Conn. Result, when non-nil, receives nil or
// ErrDuplicateClient; it must have room for one value.
type NewClient struct {
	Conn   *ClientConnection
	Result chan<- error
}

// InboundText carries a text frame received from a client.
type InboundText struct {
	ID   ClientID
	Text string
}

// Broadcast fans Frame out to every registered client except From. A zero
// From is the local producer and reaches everyone. Frame is shared between
// queues and must not be modified afterwards.
type Broadcast struct {
	Frame []byte
	From  ClientID
}

// RemoveClient deregisters ID. Removing an unknown ID is a no-op.
type RemoveClient struct {
	ID ClientID
}

func (NewClient) controlMessage()    {}
func (InboundText) controlMessage()  {}
func (Broadcast) controlMessage()    {}
func (RemoveClient) controlMessage() {}
