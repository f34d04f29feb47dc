package types

import "fmt"

// Unique identity for a participant in the group.
// The identifier is also the transport endpoint used to reach
// the participant, so it is enough to address a message.
type NodeID string

// A participant as seen by the other members of the group.
type Peer struct {
	// Participant identity, immutable after login.
	ID NodeID

	// Name shown on the display.
	Name string
}

// Identifies a single broadcast unit across the whole group.
// Two envelopes are the same if and only if they have the
// same origin and the same origin sequence, the payload is
// never used for identity.
type EnvelopeID struct {
	// Who created the envelope and is sequencing it.
	Origin NodeID

	// Per originator counter, starting at 0 and strictly increasing.
	Sequence uint64
}

// Key returns the string used when indexing the envelope.
// The sequence is padded so the lexical order of keys from the
// same origin follows the numeric order.
func (e EnvelopeID) Key() string {
	return fmt.Sprintf("%s/%020d", e.Origin, e.Sequence)
}

func (e EnvelopeID) String() string {
	return e.Key()
}

// Which kind of event an envelope is transporting.
type PayloadKind uint8

const (
	// A line of chat text.
	ChatText PayloadKind = iota

	// A participant joined the group.
	PeerJoined

	// A participant left the group, voluntarily or not.
	PeerLeft

	// The originator is now holding the floor.
	GotLock

	// The originator released the floor.
	LostLock

	// The floor holder left the group without releasing.
	LostLockAfterDeparture
)

func (k PayloadKind) String() string {
	switch k {
	case ChatText:
		return "chat"
	case PeerJoined:
		return "peer-joined"
	case PeerLeft:
		return "peer-left"
	case GotLock:
		return "got-lock"
	case LostLock:
		return "lost-lock"
	case LostLockAfterDeparture:
		return "lost-lock-after-departure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// The content of an envelope.
type Payload struct {
	// What kind of event this is.
	Kind PayloadKind

	// Chat line, only used with ChatText.
	Text string

	// The participant the membership event refers to.
	// Used by PeerJoined, PeerLeft and LostLockAfterDeparture.
	Subject Peer
}

// The broadcast unit, ordered by the total order protocol.
type Envelope struct {
	// Unique identifier of the envelope.
	ID EnvelopeID

	// Display name of the originator, carried along so receivers
	// do not depend on their roster to show who sent it.
	OriginName string

	// Event carried by the envelope.
	Payload Payload
}

// Creates a chat payload for the given text.
func NewChatPayload(text string) Payload {
	return Payload{Kind: ChatText, Text: text}
}

// Creates a membership or lock payload about the given peer.
func NewSubjectPayload(kind PayloadKind, subject Peer) Payload {
	return Payload{Kind: kind, Subject: subject}
}
