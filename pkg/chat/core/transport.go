package core

import (
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Transport is the point to point link used by the nodes and
// the registry. Messages from one sender to one destination are
// delivered in the order they were sent, without loss while both
// endpoints are alive.
type Transport interface {
	// Unicast the message to the endpoint in message.To.
	Unicast(message types.Message) error

	// Listen for messages that arrives on the transport.
	// The channel is closed after the transport is closed.
	Listen() <-chan types.Message

	// Address is the identity of this endpoint, used as NodeID.
	Address() types.NodeID

	// Close the transport for sending and receiving messages.
	Close() error
}
