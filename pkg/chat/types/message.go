package types

import "fmt"

// Simple uint8 for defining the kind of message is transported
// between two entities. Used by the receiver to select the handler.
type MessageType uint8

const (
	// Carries an Envelope to one of its recipients.
	EnvelopeMessage MessageType = iota

	// A recipient proposes a timestamp for an envelope.
	TimestampMessage

	// The originator announces the final sequence number.
	SequenceMessage

	// Asks for consent to enter the critical section.
	RequestMessage

	// Grants the consent to enter the critical section.
	ConsentMessage

	// Acknowledges that the GotLock envelope was delivered.
	LockAckMessage

	// A bootstrapping node asks for the lock state.
	StateQueryMessage

	// Answer for the StateQueryMessage.
	StateReplyMessage

	// Produced locally when the lock timer fires.
	TimedOutMessage

	// A node asks the registry to join.
	LoginMessage

	// The registry answers the login with the roster.
	LoginReplyMessage

	// A node leaves the group.
	LogoutMessage

	// Liveness signal sent periodically to the registry.
	HeartbeatMessage

	// Tells the registry the sender is holding the lock.
	LockHeldMessage

	// Tells the registry the sender released the lock.
	LockReleasedMessage

	// Produced locally by the registry when a node is no longer alive.
	PeerLostMessage

	// Defines the latest protocol version
	LatestProtocolVersion = 0
)

var messageTypeNames = map[MessageType]string{
	EnvelopeMessage:     "envelope",
	TimestampMessage:    "timestamp",
	SequenceMessage:     "sequence",
	RequestMessage:      "request",
	ConsentMessage:      "consent",
	LockAckMessage:      "lock-ack",
	StateQueryMessage:   "state-query",
	StateReplyMessage:   "state-reply",
	TimedOutMessage:     "timed-out",
	LoginMessage:        "login",
	LoginReplyMessage:   "login-reply",
	LogoutMessage:       "logout",
	HeartbeatMessage:    "heartbeat",
	LockHeldMessage:     "lock-held",
	LockReleasedMessage: "lock-released",
	PeerLostMessage:     "peer-lost",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Internal use only, to transport any specific
// information between the entities.
type ProtocolHeader struct {
	// Transport the configured version at which the protocol
	// will work, any increments in version must be described
	// and what have changed.
	ProtocolVersion uint

	// Information about the kind of message that will be
	// processed.
	Type MessageType
}

// Implemented by the messages that will be sent
// internally by the protocol.
type HeaderExtract interface {
	Extract() ProtocolHeader
}

// Structure exchanged between entities. Only the fields
// relevant for the message type are filled, everything
// travels by value.
type Message struct {
	// Header for version management.
	Header ProtocolHeader

	// Who sent the message.
	From NodeID

	// Who should receive the message.
	To NodeID

	// Used by EnvelopeMessage.
	Envelope Envelope

	// Envelope the timestamp or sequence refers to.
	Identifier EnvelopeID

	// Proposed timestamp, final sequence number, request
	// timestamp or the clock hint on a login reply.
	Timestamp uint64

	// Lock state on state replies and on logout.
	Holding bool

	// Display name used on login.
	Name string

	// Roster snapshot on a login reply.
	Roster []Peer
}

// Extract the message header.
func (m *Message) Extract() ProtocolHeader {
	return m.Header
}

// Creates a new message of the given type with the latest version.
func NewMessage(t MessageType, from, to NodeID) Message {
	return Message{
		Header: ProtocolHeader{
			ProtocolVersion: LatestProtocolVersion,
			Type:            t,
		},
		From: from,
		To:   to,
	}
}
