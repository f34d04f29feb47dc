package types

import (
	"context"
	"time"
)

// Holds the client node configuration.
type PeerConfiguration struct {
	// The display name for this participant.
	Name string

	// Address this node binds to. When using the in-process hub
	// this can be any unique value.
	Address NodeID

	// Address of the membership registry.
	Registry NodeID

	// Version at which the peer is working.
	Version uint

	// How long a node can hold the floor before it is
	// released automatically.
	LockTimeout time.Duration

	// Interval between liveness signals sent to the registry.
	HeartbeatInterval time.Duration

	// Timeout when applying async actions, e.g. login and
	// dispatching a received message.
	ActionTimeout time.Duration

	// Presentation layer receiving the delivered events.
	Display Display

	// Logger to be used by the node.
	Logger Logger

	// Parent context bounding the node lifetime.
	Ctx context.Context

	// Cancel the node context.
	Cancel context.CancelFunc
}

// Holds the membership registry configuration.
type RegistryConfiguration struct {
	// Address the registry binds to.
	Address NodeID

	// Version at which the registry is working.
	Version uint

	// A node that does not send a heartbeat within this
	// duration is considered dead.
	LivenessTimeout time.Duration

	// Timeout when dispatching received messages.
	ActionTimeout time.Duration

	// Logger to be used by the registry.
	Logger Logger

	// Parent context bounding the registry lifetime.
	Ctx context.Context

	// Cancel the registry context.
	Cancel context.CancelFunc
}
