package types

import "errors"

var (
	// The node is still learning the lock state of the group.
	ErrBootstrapping = errors.New("node is bootstrapping")

	// Another participant is holding the floor.
	ErrFloorTaken = errors.New("floor held by another participant")

	// The component was already closed.
	ErrClosed = errors.New("already closed")

	// The destination is not reachable through the transport.
	ErrUnknownPeer = errors.New("unknown peer")

	// The transport is shutdown.
	ErrTransportShutdown = errors.New("transport shutdown")

	// The registry did not answer the login in time.
	ErrLoginTimeout = errors.New("login timed out")

	// The given configuration can not be used.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
