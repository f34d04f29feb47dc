package protocol

import (
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Exclusion holds the Ricart-Agrawala state for a single node.
//
// A node asking for the floor sends a request with its clock value
// to every peer and waits for all consents. A peer consents right
// away unless it is holding the floor or its own request precedes the
// received one, in which case the consent is deferred until release.
// Requests are ordered by timestamp and ties broken by the node id.
//
// After collecting every consent the node announces GotLock through
// the total order channel and enters once its own GotLock is delivered
// and every expected peer acknowledged it. Not safe for concurrent
// use, it is owned by the node event loop.
type Exclusion struct {
	// The node owning this state.
	self types.NodeID

	// If the node is requesting or holding the floor. When false
	// the request timestamp is considered infinite.
	requesting bool

	// Timestamp used on the current request.
	timestamp uint64

	// Peers whose consent is awaited.
	expected map[types.NodeID]bool

	// Peers that already consented.
	consents map[types.NodeID]bool

	// Peers that acknowledged the GotLock delivery.
	acks map[types.NodeID]bool

	// Peers whose request was postponed, in arrival order.
	deferred []types.NodeID

	// GotLock was already broadcast for the current request.
	announced bool

	// The own GotLock was delivered.
	confirmed bool

	// The node is inside the critical section.
	holding bool

	// Another participant announced it is holding the floor.
	othersHolding bool

	// Who is holding the floor, when othersHolding.
	holder types.NodeID
}

func NewExclusion(self types.NodeID) *Exclusion {
	e := &Exclusion{self: self}
	e.reset()
	return e
}

func (e *Exclusion) reset() {
	e.requesting = false
	e.timestamp = 0
	e.expected = make(map[types.NodeID]bool)
	e.consents = make(map[types.NodeID]bool)
	e.acks = make(map[types.NodeID]bool)
	e.announced = false
	e.confirmed = false
	e.holding = false
}

// Request starts a new request using the given timestamp, asking every
// given peer. Returns the peers to ask, or false if a request is
// already in progress.
func (e *Exclusion) Request(timestamp uint64, peers []types.NodeID) ([]types.NodeID, bool) {
	if e.requesting {
		return nil, false
	}

	e.requesting = true
	e.timestamp = timestamp
	var targets []types.NodeID
	for _, peer := range peers {
		if peer == e.self {
			continue
		}
		e.expected[peer] = true
		targets = append(targets, peer)
	}
	return targets, true
}

// If the request from the given peer comes before our own.
func (e *Exclusion) precedes(from types.NodeID, timestamp uint64) bool {
	if !e.requesting {
		return true
	}

	if timestamp != e.timestamp {
		return timestamp < e.timestamp
	}
	return from < e.self
}

// Admit adds a peer that joined after the current request started, so
// its consent is awaited as well. Returns true if the peer must
// receive the request. Once GotLock is announced the round is closed
// and late peers are deferred instead.
func (e *Exclusion) Admit(peer types.NodeID) bool {
	if !e.requesting || e.announced || peer == e.self || e.expected[peer] {
		return false
	}
	e.expected[peer] = true
	return true
}

// OnRequest handles a request from a peer. Returns true if the
// consent must be sent now, otherwise the peer is deferred. After
// GotLock is announced every request is deferred.
func (e *Exclusion) OnRequest(from types.NodeID, timestamp uint64) bool {
	if !e.holding && !e.announced && e.precedes(from, timestamp) {
		return true
	}

	for _, d := range e.deferred {
		if d == from {
			return false
		}
	}
	e.deferred = append(e.deferred, from)
	return false
}

// OnConsent records a consent. Returns true when GotLock must be announced.
func (e *Exclusion) OnConsent(from types.NodeID) bool {
	if !e.requesting || !e.expected[from] {
		return false
	}
	e.consents[from] = true
	return e.ReadyToAnnounce()
}

// ReadyToAnnounce verifies if every expected peer consented. Returns true
// only once per request.
func (e *Exclusion) ReadyToAnnounce() bool {
	if !e.requesting || e.announced || !contains(e.consents, e.expected) {
		return false
	}
	e.announced = true
	return true
}

// OnGotLockDelivered is called when the own GotLock is delivered.
// Returns true if the node entered the critical section.
func (e *Exclusion) OnGotLockDelivered() bool {
	if !e.requesting || !e.announced {
		return false
	}
	e.confirmed = true
	return e.tryEnter()
}

// OnLockAck records a GotLock acknowledgement. Returns true if the
// node entered the critical section.
func (e *Exclusion) OnLockAck(from types.NodeID) bool {
	if !e.requesting || !e.expected[from] {
		return false
	}
	e.acks[from] = true
	return e.tryEnter()
}

func (e *Exclusion) tryEnter() bool {
	if e.holding || !e.confirmed || !contains(e.acks, e.expected) {
		return false
	}
	e.holding = true
	return true
}

// Release leaves the critical section. Returns the deferred peers that
// must receive a consent now, or false if the node was not holding.
func (e *Exclusion) Release() ([]types.NodeID, bool) {
	if !e.holding {
		return nil, false
	}

	deferred := e.deferred
	e.deferred = nil
	e.reset()
	return deferred, true
}

// Forget removes a departed peer from the current round. Returns if
// GotLock must be announced and if the node entered the critical section.
func (e *Exclusion) Forget(node types.NodeID) (bool, bool) {
	delete(e.expected, node)
	delete(e.consents, node)
	delete(e.acks, node)

	deferred := e.deferred[:0]
	for _, d := range e.deferred {
		if d != node {
			deferred = append(deferred, d)
		}
	}
	e.deferred = deferred

	if !e.requesting {
		return false, false
	}
	return e.ReadyToAnnounce(), e.tryEnter()
}

// OnPeerGotLock marks the floor as taken by another participant.
func (e *Exclusion) OnPeerGotLock(holder types.NodeID) {
	e.othersHolding = true
	e.holder = holder
}

// OnPeerLostLock marks the floor as free if released by the holder.
// Returns true if the state changed.
func (e *Exclusion) OnPeerLostLock(holder types.NodeID) bool {
	if !e.othersHolding || e.holder != holder {
		return false
	}
	e.othersHolding = false
	e.holder = ""
	return true
}

// Timestamp returns the request timestamp, false means infinite.
func (e *Exclusion) Timestamp() (uint64, bool) {
	return e.timestamp, e.requesting
}

// IsRequesting verify if the node is requesting or holding the floor.
func (e *Exclusion) IsRequesting() bool {
	return e.requesting
}

// IsHolding verify if the node is inside the critical section.
func (e *Exclusion) IsHolding() bool {
	return e.holding
}

// SomeoneElseHolding verify if another participant holds the floor.
func (e *Exclusion) SomeoneElseHolding() bool {
	return e.othersHolding
}

// Holder returns the participant holding the floor, if any other.
func (e *Exclusion) Holder() types.NodeID {
	return e.holder
}

// Deferred returns the peers waiting for a consent.
func (e *Exclusion) Deferred() []types.NodeID {
	return append([]types.NodeID(nil), e.deferred...)
}

// Expected returns how many consents the current request awaits.
func (e *Exclusion) Expected() int {
	return len(e.expected)
}

// Verify that every key of expected is present in values.
func contains(values, expected map[types.NodeID]bool) bool {
	for k := range expected {
		if !values[k] {
			return false
		}
	}
	return true
}
