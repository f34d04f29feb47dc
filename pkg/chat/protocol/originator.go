package protocol

import (
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Sequenced is the decision of an originator for one of its envelopes.
type Sequenced struct {
	// The envelope that received the final sequence number.
	ID types.EnvelopeID

	// The final sequence number.
	Sequence uint64

	// Recipients that must be notified about the sequence number.
	Recipients []types.NodeID
}

// Originator numbers the envelopes created by a single entity and
// collects the timestamps proposed by the recipients. It is used
// by both the client node and the registry.
type Originator struct {
	// Identity of the entity creating envelopes.
	self types.Peer

	// Next sequence for a created envelope.
	next uint64

	// Collects the timestamps for each created envelope.
	box *BallotBox

	// Greatest sequence number decided so far.
	highest uint64
}

func NewOriginator(self types.Peer) *Originator {
	return &Originator{
		self: self,
		box:  NewBallotBox(),
	}
}

// Originate creates a new envelope for the payload and opens the
// election with the given recipients.
func (o *Originator) Originate(payload types.Payload, recipients []types.NodeID) types.Envelope {
	envelope := types.Envelope{
		ID: types.EnvelopeID{
			Origin:   o.self.ID,
			Sequence: o.next,
		},
		OriginName: o.self.Name,
		Payload:    payload,
	}
	o.next++
	o.box.Open(envelope.ID, recipients)
	return envelope
}

// Ack records the timestamp proposed by a recipient. If every recipient
// still present answered, the envelope is sequenced.
func (o *Originator) Ack(id types.EnvelopeID, from types.NodeID, timestamp uint64) (Sequenced, bool) {
	if !o.box.Insert(id, from, timestamp) {
		return Sequenced{}, false
	}
	return o.decide(id)
}

// Forget removes the departed node from every open election and
// returns the envelopes that could be sequenced because of it.
func (o *Originator) Forget(node types.NodeID) []Sequenced {
	var decided []Sequenced
	for _, id := range o.box.Shrink(node) {
		if s, ok := o.decide(id); ok {
			decided = append(decided, s)
		}
	}
	return decided
}

func (o *Originator) decide(id types.EnvelopeID) (Sequenced, bool) {
	value, recipients, ok := o.box.Elect(id)
	if !ok {
		return Sequenced{}, false
	}

	if value > o.highest {
		o.highest = value
	}
	return Sequenced{ID: id, Sequence: value, Recipients: recipients}, true
}

// Highest returns the greatest sequence number decided.
func (o *Originator) Highest() uint64 {
	return o.highest
}

// Open returns how many envelopes are waiting for timestamps.
func (o *Originator) Open() int {
	return o.box.Size()
}
