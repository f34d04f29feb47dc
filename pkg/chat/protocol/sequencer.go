package protocol

import (
	"github.com/jabolina/go-groupchat/pkg/chat/types"
	"github.com/wangjia184/sortedset"
)

// An envelope known by the sequencer, with its tentative
// timestamp while pending or its final sequence once sequenced.
type entry struct {
	envelope types.Envelope
	value    uint64
}

// Sequencer is the receiving side of the total order protocol.
//
// Received envelopes are kept in the pending set, sorted by the
// tentative timestamp this node proposed. Once the originator
// announces the final sequence number the envelope moves to the
// delivering set, sorted by the sequence number and then by the
// envelope key, so two envelopes with the same sequence number
// are delivered in the same order everywhere.
//
// An envelope on the head of the delivering set is delivered when
// every pending envelope has a timestamp strictly greater than its
// sequence number. Not safe for concurrent use, it is owned by the
// node event loop.
type Sequencer struct {
	// The node clock, shared with the rest of the node.
	clock LogicalClock

	// Envelopes waiting for the final sequence number.
	pending *sortedset.SortedSet

	// Envelopes with the final sequence number not delivered yet.
	delivering *sortedset.SortedSet

	// Envelopes already received.
	seen Purgatory

	log types.Logger
}

func NewSequencer(clock LogicalClock, seen Purgatory, log types.Logger) *Sequencer {
	return &Sequencer{
		clock:      clock,
		pending:    sortedset.New(),
		delivering: sortedset.New(),
		seen:       seen,
		log:        log,
	}
}

// Receive stores the envelope as pending and returns the timestamp
// proposed for it. Returns false if the envelope was already received.
func (s *Sequencer) Receive(envelope types.Envelope) (uint64, bool) {
	key := envelope.ID.Key()
	if !s.seen.Set(key) {
		s.log.Warnf("discarding duplicated envelope %s", key)
		return 0, false
	}

	timestamp := s.clock.Tick()
	s.pending.AddOrUpdate(key, sortedset.SCORE(timestamp), entry{envelope: envelope, value: timestamp})
	return timestamp, true
}

// Sequence applies the final sequence number to a pending envelope
// and returns every envelope that became deliverable, in order.
func (s *Sequencer) Sequence(id types.EnvelopeID, sequence uint64) []types.Envelope {
	key := id.Key()
	node := s.pending.Remove(key)
	if node == nil {
		s.log.Warnf("sequence %d for unknown envelope %s", sequence, key)
		return nil
	}

	s.clock.Leap(sequence)
	e := node.Value.(entry)
	e.value = sequence
	s.delivering.AddOrUpdate(key, sortedset.SCORE(sequence), e)
	return s.cascade()
}

// Discard removes every pending envelope created by the given origin.
// Those envelopes will never be sequenced, and removing them can
// unblock envelopes waiting for delivery, which are returned.
func (s *Sequencer) Discard(origin types.NodeID) ([]types.EnvelopeID, []types.Envelope) {
	if s.pending.GetCount() == 0 {
		return nil, nil
	}

	var discarded []types.EnvelopeID
	for _, node := range s.pending.GetByRankRange(1, -1, false) {
		e := node.Value.(entry)
		if e.envelope.ID.Origin == origin {
			discarded = append(discarded, e.envelope.ID)
		}
	}

	for _, id := range discarded {
		s.pending.Remove(id.Key())
		s.log.Debugf("discarded pending envelope %s", id)
	}
	return discarded, s.cascade()
}

// Delivers the head of the delivering set while possible.
func (s *Sequencer) cascade() []types.Envelope {
	var delivered []types.Envelope
	for {
		head := s.head(s.delivering)
		if head == nil || !s.deliverable(head.Score()) {
			return delivered
		}

		s.delivering.Remove(head.Key())
		delivered = append(delivered, head.Value.(entry).envelope)
	}
}

// Every pending envelope must have a timestamp strictly greater
// than the given sequence number.
func (s *Sequencer) deliverable(sequence sortedset.SCORE) bool {
	lowest := s.pending.PeekMin()
	return lowest == nil || lowest.Score() > sequence
}

// Retrieve the lowest element, breaking ties by the key.
func (s *Sequencer) head(set *sortedset.SortedSet) *sortedset.SortedSetNode {
	lowest := set.PeekMin()
	if lowest == nil {
		return nil
	}

	for _, node := range set.GetByScoreRange(lowest.Score(), lowest.Score(), nil) {
		if node.Key() < lowest.Key() {
			lowest = node
		}
	}
	return lowest
}

// Pending returns how many envelopes wait for a sequence number.
func (s *Sequencer) Pending() int {
	return s.pending.GetCount()
}

// Delivering returns how many sequenced envelopes wait for delivery.
func (s *Sequencer) Delivering() int {
	return s.delivering.GetCount()
}

// IsPending verify if the envelope is waiting for a sequence number.
func (s *Sequencer) IsPending(id types.EnvelopeID) bool {
	return s.pending.GetByKey(id.Key()) != nil
}
