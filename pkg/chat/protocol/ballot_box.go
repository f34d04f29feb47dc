package protocol

import (
	"sort"
	"sync"

	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// An exchange object to be used when holding information
// about the ballot timestamps.
type ballot struct {
	// Which recipient sent the timestamp.
	from types.NodeID

	// The timestamp proposed by the recipient.
	timestamp uint64
}

// The election for a single envelope. The recipients are
// frozen when the envelope is sent and can only shrink.
type election struct {
	recipients map[types.NodeID]bool
	ballots    []ballot
}

func (e *election) voted(from types.NodeID) bool {
	for _, b := range e.ballots {
		if b.from == from {
			return true
		}
	}
	return false
}

// Every recipient still present has voted.
func (e *election) complete() bool {
	return len(e.ballots) >= len(e.recipients)
}

// BallotBox is a thread safe struct to hold information about sequence number
// voting. This is the originator side of the total order protocol, each
// envelope sent opens an election that is decided once every recipient
// proposed a timestamp.
type BallotBox struct {
	// Synchronization for operations.
	mutex *sync.Mutex

	// Holds information as serialized votes for a unique key.
	elections map[types.EnvelopeID]*election
}

func NewBallotBox() *BallotBox {
	return &BallotBox{
		mutex:     &sync.Mutex{},
		elections: make(map[types.EnvelopeID]*election),
	}
}

// Open starts the election for the given envelope with the
// recipients that must vote.
func (b *BallotBox) Open(key types.EnvelopeID, recipients []types.NodeID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	e := &election{recipients: make(map[types.NodeID]bool, len(recipients))}
	for _, recipient := range recipients {
		e.recipients[recipient] = true
	}
	b.elections[key] = e
}

// Insert will add the vote to the given election.
// Returns false if the election does not exist, if the voter is
// not a recipient or if the voter already voted.
func (b *BallotBox) Insert(key types.EnvelopeID, from types.NodeID, value uint64) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	e, exists := b.elections[key]
	if !exists || !e.recipients[from] || e.voted(from) {
		return false
	}

	e.ballots = append(e.ballots, ballot{from: from, timestamp: value})
	return true
}

// Remove will remove the votes timestamp from the ballot box.
func (b *BallotBox) Remove(key types.EnvelopeID) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.elections, key)
}

// This method will return all proposed votes to a message.
func (b *BallotBox) Read(key types.EnvelopeID) []uint64 {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.read(key)
}

func (b *BallotBox) read(key types.EnvelopeID) []uint64 {
	var timestamps []uint64
	if e, ok := b.elections[key]; ok {
		for _, bl := range e.ballots {
			timestamps = append(timestamps, bl.timestamp)
		}
	}
	return timestamps
}

// ElectionSize returns the number of unique voters.
func (b *BallotBox) ElectionSize(key types.EnvelopeID) int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	e, exists := b.elections[key]
	if !exists {
		return 0
	}
	return len(e.ballots)
}

// Elect decides the election if every recipient voted. The decided
// value is the greatest proposed timestamp. After decided the
// election is removed and the recipients still present are returned.
func (b *BallotBox) Elect(key types.EnvelopeID) (uint64, []types.NodeID, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.elect(key)
}

func (b *BallotBox) elect(key types.EnvelopeID) (uint64, []types.NodeID, bool) {
	e, exists := b.elections[key]
	if !exists || !e.complete() {
		return 0, nil, false
	}

	value := helper.MaxValue(b.read(key))
	recipients := make([]types.NodeID, 0, len(e.recipients))
	for recipient := range e.recipients {
		recipients = append(recipients, recipient)
	}
	sort.Slice(recipients, func(i, j int) bool {
		return recipients[i] < recipients[j]
	})
	delete(b.elections, key)
	return value, recipients, true
}

// Shrink removes the node from every open election, together with
// any vote it already cast. The elections that became complete
// are returned, still open, so the caller can decide them.
func (b *BallotBox) Shrink(node types.NodeID) []types.EnvelopeID {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var completed []types.EnvelopeID
	for key, e := range b.elections {
		if !e.recipients[node] {
			continue
		}

		delete(e.recipients, node)
		ballots := e.ballots[:0]
		for _, bl := range e.ballots {
			if bl.from != node {
				ballots = append(ballots, bl)
			}
		}
		e.ballots = ballots
		if e.complete() {
			completed = append(completed, key)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		return completed[i].Key() < completed[j].Key()
	})
	return completed
}

// Size returns how many elections are still open.
func (b *BallotBox) Size() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.elections)
}
