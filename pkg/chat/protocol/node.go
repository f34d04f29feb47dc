package protocol

import (
	"sort"
	"time"

	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const (
	// Chat text that asks for the floor once delivered.
	EnterSentinel = ":enter-cs"

	// Chat text that releases the floor once delivered.
	ExitSentinel = ":exit-cs"
)

// State of a client node.
type State uint8

const (
	// Learning the lock state of the existing peers.
	Bootstrapping State = iota

	// Exchanging messages with the group.
	Active

	// The node left the group.
	Closed
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Active:
		return "active"
	default:
		return "closed"
	}
}

// Timer bounding how long the floor is held. When the timer fires
// the owner must receive a TimedOutMessage.
type Timer interface {
	// Start the timer, restarting it if already running.
	Start(duration time.Duration)

	// Stop the timer, if running.
	Stop()
}

type noopTimer struct{}

func (noopTimer) Start(time.Duration) {}

func (noopTimer) Stop() {}

// Holds what is needed to create a node.
type NodeConfiguration struct {
	// Identity of the node.
	Self types.Peer

	// The membership registry, notified about the lock state.
	Registry types.NodeID

	// Version at which the node is working.
	Version uint

	// Roster received on login, without the node itself.
	Roster []types.Peer

	// Initial value for the logical clock.
	Clock uint64

	// How long the floor can be held.
	LockTimeout time.Duration

	// Receives the delivered events.
	Display types.Display

	// The lock timer.
	Timer Timer

	Logger types.Logger
}

type handler func(message types.Message)

// Node is the client protocol engine, combining the total order
// broadcast and the mutual exclusion.
//
// The node is a state machine driven by messages: each call to
// Process handles a single message to completion and returns the
// messages that must be sent, messages addressed to the node itself
// included. The caller must serialize the calls.
type Node struct {
	self     types.Peer
	registry types.NodeID
	version  uint
	timeout  time.Duration

	// Current state, selects the dispatch table.
	state State

	// The dispatch table for each state.
	handlers map[State]map[types.MessageType]handler

	clock     LogicalClock
	roster    map[types.NodeID]types.Peer
	origin    *Originator
	sequencer *Sequencer
	exclusion *Exclusion

	// Peers that must still answer the state query.
	awaiting map[types.NodeID]bool

	// Peers whose departure was received but not delivered yet.
	// They are no longer part of new rounds.
	departed map[types.NodeID]bool

	// Messages received while bootstrapping.
	stash []types.Message

	display types.Display
	timer   Timer
	log     types.Logger

	// Messages produced by the current step.
	outbox []types.Message
}

// NewNode creates the node in the bootstrapping state.
// Start must be called before processing any message.
func NewNode(conf NodeConfiguration) *Node {
	timer := conf.Timer
	if timer == nil {
		timer = noopTimer{}
	}

	clock := NewClockAt(conf.Clock)
	n := &Node{
		self:      conf.Self,
		registry:  conf.Registry,
		version:   conf.Version,
		timeout:   conf.LockTimeout,
		state:     Bootstrapping,
		clock:     clock,
		roster:    make(map[types.NodeID]types.Peer),
		origin:    NewOriginator(conf.Self),
		sequencer: NewSequencer(clock, NewPurgatory(), conf.Logger),
		exclusion: NewExclusion(conf.Self.ID),
		awaiting:  make(map[types.NodeID]bool),
		departed:  make(map[types.NodeID]bool),
		display:   conf.Display,
		timer:     timer,
		log:       conf.Logger,
	}

	for _, peer := range conf.Roster {
		if peer.ID == conf.Self.ID {
			continue
		}
		n.roster[peer.ID] = peer
		n.awaiting[peer.ID] = true
	}

	n.handlers = map[State]map[types.MessageType]handler{
		Bootstrapping: {
			types.StateQueryMessage: n.onStateQuery,
			types.StateReplyMessage: n.onStateReply,
			types.EnvelopeMessage:   n.onBootstrapEnvelope,
			types.TimestampMessage:  n.stashed,
			types.SequenceMessage:   n.stashed,
			types.RequestMessage:    n.stashed,
			types.ConsentMessage:    n.stashed,
			types.LockAckMessage:    n.stashed,
		},
		Active: {
			types.EnvelopeMessage:   n.onEnvelope,
			types.TimestampMessage:  n.onTimestamp,
			types.SequenceMessage:   n.onSequence,
			types.RequestMessage:    n.onRequest,
			types.ConsentMessage:    n.onConsent,
			types.LockAckMessage:    n.onLockAck,
			types.StateQueryMessage: n.onStateQuery,
			types.StateReplyMessage: n.onLateStateReply,
			types.TimedOutMessage:   n.onTimedOut,
		},
		Closed: {},
	}
	return n
}

// Start shows the initial roster and queries the existing peers about
// the lock state. Without peers the node is active right away.
func (n *Node) Start() []types.Message {
	for _, id := range n.rosterIDs() {
		n.display.AddParticipant(n.roster[id].Name)
	}

	if len(n.awaiting) == 0 {
		n.activate()
		return n.flush()
	}

	for _, id := range n.rosterIDs() {
		n.emit(n.message(types.StateQueryMessage, id))
	}
	return n.flush()
}

// Process handles a single message and returns the messages to send.
func (n *Node) Process(message types.Message) []types.Message {
	if message.Header.ProtocolVersion != n.version {
		n.log.Warnf("node not processing %s from %s on version %d", message.Header.Type, message.From, message.Header.ProtocolVersion)
		return nil
	}

	n.dispatch(message)
	return n.flush()
}

func (n *Node) dispatch(message types.Message) {
	h, ok := n.handlers[n.state][message.Header.Type]
	if !ok {
		n.log.Warnf("%s node ignoring %s from %s", n.state, message.Header.Type, message.From)
		return
	}
	h(message)
}

// Send broadcasts a chat line to the group.
func (n *Node) Send(text string) ([]types.Message, error) {
	switch n.state {
	case Bootstrapping:
		return nil, types.ErrBootstrapping
	case Closed:
		return nil, types.ErrClosed
	}

	if n.exclusion.SomeoneElseHolding() && text != EnterSentinel && text != ExitSentinel {
		return nil, types.ErrFloorTaken
	}

	n.broadcast(types.NewChatPayload(text))
	return n.flush(), nil
}

// Shutdown leaves the group, releasing the floor if holding it.
// The returned messages include the logout for the registry.
func (n *Node) Shutdown() []types.Message {
	if n.state == Closed {
		return nil
	}

	holding := n.exclusion.IsHolding()
	if holding {
		n.releaseEntry()
	}

	n.timer.Stop()
	n.state = Closed
	n.stash = nil
	n.display.SetConnectionState(false)

	logout := n.message(types.LogoutMessage, n.registry)
	logout.Holding = holding
	n.emit(logout)
	return n.flush()
}

func (n *Node) activate() {
	n.state = Active
	n.display.SetConnectionState(true)
	n.log.Debugf("node %s active with %d peers", n.self.ID, len(n.roster))

	stash := n.stash
	n.stash = nil
	for _, message := range stash {
		n.dispatch(message)
	}
}

func (n *Node) stashed(message types.Message) {
	n.stash = append(n.stash, message)
}

func (n *Node) onStateQuery(message types.Message) {
	reply := n.message(types.StateReplyMessage, message.From)
	reply.Holding = n.exclusion.IsHolding()
	n.emit(reply)
}

func (n *Node) onStateReply(message types.Message) {
	if !n.awaiting[message.From] {
		n.log.Warnf("unexpected state reply from %s", message.From)
		return
	}

	delete(n.awaiting, message.From)
	if message.Holding {
		n.exclusion.OnPeerGotLock(message.From)
		n.display.SetLockStatus(n.nameOf(message.From), true)
	}

	if len(n.awaiting) == 0 {
		n.activate()
	}
}

func (n *Node) onLateStateReply(message types.Message) {
	n.log.Debugf("ignoring late state reply from %s", message.From)
}

// While bootstrapping every envelope is stashed, but a peer that left
// will never answer the state query, so it is no longer awaited.
func (n *Node) onBootstrapEnvelope(message types.Message) {
	n.stashed(message)
	payload := message.Envelope.Payload
	if payload.Kind == types.PeerLeft && n.awaiting[payload.Subject.ID] {
		delete(n.awaiting, payload.Subject.ID)
		if len(n.awaiting) == 0 {
			n.activate()
		}
	}
}

func (n *Node) onEnvelope(message types.Message) {
	envelope := message.Envelope
	timestamp, ok := n.sequencer.Receive(envelope)
	if !ok {
		return
	}

	if envelope.Payload.Kind == types.PeerLeft {
		n.depart(envelope.Payload.Subject.ID)
	}

	reply := n.message(types.TimestampMessage, envelope.ID.Origin)
	reply.Identifier = envelope.ID
	reply.Timestamp = timestamp
	n.emit(reply)
}

func (n *Node) onTimestamp(message types.Message) {
	decided, ok := n.origin.Ack(message.Identifier, message.From, message.Timestamp)
	if !ok {
		n.log.Debugf("timestamp %d from %s for %s not deciding", message.Timestamp, message.From, message.Identifier)
		return
	}
	n.announceSequence(decided)
}

func (n *Node) onSequence(message types.Message) {
	n.deliverAll(n.sequencer.Sequence(message.Identifier, message.Timestamp))
}

func (n *Node) onRequest(message types.Message) {
	n.clock.Leap(message.Timestamp)

	// A request from a peer missing on our own round means it joined
	// after we asked, it must also consent before we enter.
	if !n.departed[message.From] && n.exclusion.Admit(message.From) {
		own, _ := n.exclusion.Timestamp()
		request := n.message(types.RequestMessage, message.From)
		request.Timestamp = own
		n.emit(request)
	}

	if n.exclusion.OnRequest(message.From, message.Timestamp) {
		n.emit(n.message(types.ConsentMessage, message.From))
		return
	}
	n.log.Debugf("deferring request %d from %s", message.Timestamp, message.From)
}

func (n *Node) onConsent(message types.Message) {
	if n.exclusion.OnConsent(message.From) {
		n.announceLock()
	}
}

func (n *Node) onLockAck(message types.Message) {
	if n.exclusion.OnLockAck(message.From) {
		n.enter()
	}
}

func (n *Node) onTimedOut(types.Message) {
	if n.exclusion.IsHolding() {
		n.log.Infof("node %s held the floor for too long", n.self.ID)
		n.releaseEntry()
	}
}

// Removes the departed peer from every round in progress. This happens
// as soon as the departure is received, not when delivered, otherwise
// an envelope from the departed peer could block the delivery of the
// departure itself.
func (n *Node) depart(id types.NodeID) {
	if id == n.self.ID {
		return
	}

	n.departed[id] = true
	discarded, delivered := n.sequencer.Discard(id)
	if len(discarded) > 0 {
		n.log.Debugf("discarded %d envelopes from %s", len(discarded), id)
	}

	for _, decided := range n.origin.Forget(id) {
		n.announceSequence(decided)
	}

	announce, enter := n.exclusion.Forget(id)
	if announce {
		n.announceLock()
	}

	if enter {
		n.enter()
	}
	n.deliverAll(delivered)
}

func (n *Node) deliverAll(envelopes []types.Envelope) {
	for _, envelope := range envelopes {
		n.deliver(envelope)
	}
}

func (n *Node) deliver(envelope types.Envelope) {
	origin := envelope.ID.Origin
	payload := envelope.Payload
	switch payload.Kind {
	case types.ChatText:
		n.display.ShowChatLine(envelope.OriginName, payload.Text)
		if origin != n.self.ID {
			return
		}

		switch payload.Text {
		case EnterSentinel:
			n.requestEntry()
		case ExitSentinel:
			if !n.releaseEntry() {
				n.log.Debugf("node %s not holding the floor to release", n.self.ID)
			}
		}
	case types.PeerJoined:
		subject := payload.Subject
		if _, ok := n.roster[subject.ID]; ok || subject.ID == n.self.ID {
			return
		}
		delete(n.departed, subject.ID)
		n.roster[subject.ID] = subject
		n.display.AddParticipant(subject.Name)
	case types.PeerLeft:
		if peer, ok := n.roster[payload.Subject.ID]; ok {
			delete(n.roster, peer.ID)
			n.display.RemoveParticipant(peer.Name)
		}
	case types.GotLock:
		if origin == n.self.ID {
			if n.exclusion.OnGotLockDelivered() {
				n.enter()
			}
			return
		}

		n.exclusion.OnPeerGotLock(origin)
		n.display.SetLockStatus(envelope.OriginName, true)
		n.emit(n.message(types.LockAckMessage, origin))
	case types.LostLock:
		if origin == n.self.ID {
			n.display.SetLockStatus(n.self.Name, false)
			return
		}

		// The next holder can be delivered first, the state is
		// only cleared if still pointing to the origin.
		n.exclusion.OnPeerLostLock(origin)
		n.display.SetLockStatus(envelope.OriginName, false)
	case types.LostLockAfterDeparture:
		if n.exclusion.OnPeerLostLock(payload.Subject.ID) {
			n.display.SetLockStatus(payload.Subject.Name, false)
		}
	default:
		n.log.Warnf("unknown payload %s on %s", payload.Kind, envelope.ID)
	}
}

func (n *Node) requestEntry() {
	timestamp := n.clock.Tick()
	targets, ok := n.exclusion.Request(timestamp, n.members())
	if !ok {
		n.log.Debugf("node %s already requesting the floor", n.self.ID)
		return
	}

	for _, target := range targets {
		request := n.message(types.RequestMessage, target)
		request.Timestamp = timestamp
		n.emit(request)
	}

	if n.exclusion.ReadyToAnnounce() {
		n.announceLock()
	}
}

func (n *Node) announceLock() {
	n.broadcast(types.NewSubjectPayload(types.GotLock, n.self))
}

func (n *Node) enter() {
	n.log.Debugf("node %s holding the floor", n.self.ID)
	n.timer.Start(n.timeout)
	n.display.SetLockStatus(n.self.Name, true)
	if n.registry != "" {
		n.emit(n.message(types.LockHeldMessage, n.registry))
	}
}

func (n *Node) releaseEntry() bool {
	deferred, ok := n.exclusion.Release()
	if !ok {
		return false
	}

	n.timer.Stop()
	for _, peer := range deferred {
		n.emit(n.message(types.ConsentMessage, peer))
	}

	n.broadcast(types.NewSubjectPayload(types.LostLock, n.self))
	if n.registry != "" {
		n.emit(n.message(types.LockReleasedMessage, n.registry))
	}
	return true
}

// Sends the envelope to every peer in the roster and to the node itself.
func (n *Node) broadcast(payload types.Payload) {
	recipients := append(n.members(), n.self.ID)
	envelope := n.origin.Originate(payload, recipients)
	for _, recipient := range recipients {
		message := n.message(types.EnvelopeMessage, recipient)
		message.Envelope = envelope
		n.emit(message)
	}
}

func (n *Node) announceSequence(decided Sequenced) {
	for _, recipient := range decided.Recipients {
		message := n.message(types.SequenceMessage, recipient)
		message.Identifier = decided.ID
		message.Timestamp = decided.Sequence
		n.emit(message)
	}
}

func (n *Node) message(t types.MessageType, to types.NodeID) types.Message {
	message := types.NewMessage(t, n.self.ID, to)
	message.Header.ProtocolVersion = n.version
	return message
}

func (n *Node) emit(message types.Message) {
	if message.To == "" {
		return
	}
	n.outbox = append(n.outbox, message)
}

func (n *Node) flush() []types.Message {
	out := n.outbox
	n.outbox = nil
	return out
}

func (n *Node) nameOf(id types.NodeID) string {
	if peer, ok := n.roster[id]; ok {
		return peer.Name
	}
	return string(id)
}

// The roster without the peers known to have departed.
func (n *Node) members() []types.NodeID {
	var ids []types.NodeID
	for _, id := range n.rosterIDs() {
		if !n.departed[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (n *Node) rosterIDs() []types.NodeID {
	ids := make([]types.NodeID, 0, len(n.roster))
	for id := range n.roster {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// Self returns the node identity.
func (n *Node) Self() types.Peer {
	return n.self
}

// State returns the current node state.
func (n *Node) State() State {
	return n.state
}

// Clock returns the current logical clock value.
func (n *Node) Clock() uint64 {
	return n.clock.Tock()
}

// Roster returns the known peers, sorted by id.
func (n *Node) Roster() []types.Peer {
	var peers []types.Peer
	for _, id := range n.rosterIDs() {
		peers = append(peers, n.roster[id])
	}
	return peers
}

// IsHolding verify if the node is holding the floor.
func (n *Node) IsHolding() bool {
	return n.exclusion.IsHolding()
}

// IsRequesting verify if the node is requesting or holding the floor.
func (n *Node) IsRequesting() bool {
	return n.exclusion.IsRequesting()
}

// SomeoneElseHolding verify if another participant holds the floor.
func (n *Node) SomeoneElseHolding() bool {
	return n.exclusion.SomeoneElseHolding()
}

// Pending returns how many envelopes wait for a sequence number.
func (n *Node) Pending() int {
	return n.sequencer.Pending()
}

// Delivering returns how many sequenced envelopes wait for delivery.
func (n *Node) Delivering() int {
	return n.sequencer.Delivering()
}

// OpenRounds returns how many originated envelopes wait for timestamps.
func (n *Node) OpenRounds() int {
	return n.origin.Open()
}
