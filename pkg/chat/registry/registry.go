package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/ReneKroon/ttlcache"
	"github.com/jabolina/go-groupchat/pkg/chat/concurrent"
	"github.com/jabolina/go-groupchat/pkg/chat/core"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/protocol"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Name shown as the originator of the membership events.
const Name = "registry"

// Registry is the membership authority. It hands the roster to the
// nodes logging in and tells the group about every join and departure
// through the same total order protocol used by the nodes, acting as
// the originator of those envelopes.
//
// Nodes must send heartbeats, a node silent for longer than the
// liveness timeout is removed as if it had logged out.
type Registry struct {
	configuration *types.RegistryConfiguration

	// Identity used as the membership events origin.
	self types.Peer

	transport core.Transport

	// Handles every event for the registry.
	mailbox concurrent.Mailbox

	// Used to spawn and control all go routines.
	invoker core.Invoker

	// Guards the membership state, read from outside the mailbox.
	mutex *sync.Mutex

	// Current members of the group.
	members map[types.NodeID]types.Peer

	// Member announced to be holding the floor, if any.
	holder types.NodeID

	// Sequences the membership envelopes.
	origin *protocol.Originator

	// Expires the members that stop sending heartbeats.
	liveness *ttlcache.Cache

	// Reports late heartbeats.
	detector *concurrent.Detector

	logger types.Logger

	context context.Context
	finish  context.CancelFunc
	flag    helper.Flag
}

// NewRegistry starts the registry over the given transport, which
// is owned by the registry from now on.
func NewRegistry(configuration *types.RegistryConfiguration, transport core.Transport) *Registry {
	ctx, finish := context.WithCancel(configuration.Ctx)
	self := types.Peer{ID: transport.Address(), Name: Name}
	r := &Registry{
		configuration: configuration,
		self:          self,
		transport:     transport,
		invoker:       core.NewInvoker(),
		mutex:         &sync.Mutex{},
		members:       make(map[types.NodeID]types.Peer),
		origin:        protocol.NewOriginator(self),
		liveness:      ttlcache.NewCache(),
		detector:      concurrent.NewDetector(configuration.LivenessTimeout / 2),
		logger:        configuration.Logger,
		context:       ctx,
		finish:        finish,
	}

	r.liveness.SetTTL(configuration.LivenessTimeout)
	r.liveness.SetExpirationCallback(r.expired)
	r.mailbox = concurrent.NewMailbox(ctx, r.handle)
	r.invoker.Spawn(r.poll)
	return r
}

// Called by the cache when a member is silent for too long.
func (r *Registry) expired(key string, _ interface{}) {
	lost := types.NewMessage(types.PeerLostMessage, types.NodeID(key), r.self.ID)
	lost.Header.ProtocolVersion = r.configuration.Version
	r.mailbox.Post(lost)
}

func (r *Registry) poll() {
	defer r.logger.Debugf("closing the registry %s", r.self.ID)
	for {
		select {
		case <-r.context.Done():
			return
		case m, ok := <-r.transport.Listen():
			if !ok {
				return
			}
			r.mailbox.Post(m)
		}
	}
}

func (r *Registry) handle(_ context.Context, message types.Message) {
	if message.Header.ProtocolVersion != r.configuration.Version {
		r.logger.Warnf("registry not processing %s from %s on version %d", message.Header.Type, message.From, message.Header.ProtocolVersion)
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	switch message.Header.Type {
	case types.LoginMessage:
		r.login(message)
	case types.LogoutMessage:
		if _, ok := r.members[message.From]; ok {
			r.logger.Infof("%s logged out", message.From)
			r.remove(message.From, message.Holding || r.holder == message.From)
		}
	case types.HeartbeatMessage:
		r.heartbeat(message.From)
	case types.PeerLostMessage:
		if _, ok := r.members[message.From]; ok {
			r.logger.Warnf("%s stopped sending heartbeats", message.From)
			r.remove(message.From, r.holder == message.From)
		}
	case types.TimestampMessage:
		if decided, ok := r.origin.Ack(message.Identifier, message.From, message.Timestamp); ok {
			r.announce(decided)
		}
	case types.LockHeldMessage:
		if _, ok := r.members[message.From]; ok {
			r.holder = message.From
		}
	case types.LockReleasedMessage:
		if r.holder == message.From {
			r.holder = ""
		}
	default:
		r.logger.Warnf("registry ignoring %s from %s", message.Header.Type, message.From)
	}
}

// Adds the node to the group. A repeated login receives the
// reply again without announcing the node twice.
func (r *Registry) login(message types.Message) {
	peer := types.Peer{ID: message.From, Name: message.Name}
	_, repeated := r.members[peer.ID]

	reply := r.message(types.LoginReplyMessage, peer.ID)
	reply.Roster = r.roster(peer.ID)
	reply.Timestamp = r.origin.Highest()
	if err := r.transport.Unicast(reply); err != nil {
		r.logger.Warnf("failed answering login from %s. %v", peer.ID, err)
		return
	}

	if repeated {
		r.logger.Debugf("repeated login from %s", peer.ID)
		return
	}

	// The joiner already has the roster from the reply.
	previous := r.ids()

	r.members[peer.ID] = peer
	r.liveness.Set(string(peer.ID), peer)
	r.detector.Happened(string(peer.ID))
	r.logger.Infof("%s joined as %s", peer.ID, peer.Name)
	r.broadcast(types.NewSubjectPayload(types.PeerJoined, peer), previous)
}

func (r *Registry) heartbeat(from types.NodeID) {
	if _, ok := r.members[from]; !ok {
		r.logger.Debugf("heartbeat from unknown %s", from)
		return
	}

	if ok, exceed := r.detector.Happened(string(from)); !ok {
		r.logger.Warnf("heartbeat from %s late by %s", from, exceed)
	}
	r.liveness.Set(string(from), r.members[from])
}

// Removes the member and tells the remaining ones.
func (r *Registry) remove(id types.NodeID, holding bool) {
	peer := r.members[id]
	delete(r.members, id)
	r.liveness.Remove(string(id))
	r.detector.Forget(string(id))
	if r.holder == id {
		r.holder = ""
	}

	for _, decided := range r.origin.Forget(id) {
		r.announce(decided)
	}

	r.broadcast(types.NewSubjectPayload(types.PeerLeft, peer), r.ids())
	if holding {
		r.broadcast(types.NewSubjectPayload(types.LostLockAfterDeparture, peer), r.ids())
	}
}

// Sends the payload to the recipients. Should be called with the lock held.
func (r *Registry) broadcast(payload types.Payload, recipients []types.NodeID) {
	if len(recipients) == 0 {
		return
	}

	envelope := r.origin.Originate(payload, recipients)
	for _, recipient := range recipients {
		message := r.message(types.EnvelopeMessage, recipient)
		message.Envelope = envelope
		r.send(message)
	}
}

func (r *Registry) announce(decided protocol.Sequenced) {
	for _, recipient := range decided.Recipients {
		message := r.message(types.SequenceMessage, recipient)
		message.Identifier = decided.ID
		message.Timestamp = decided.Sequence
		r.send(message)
	}
}

func (r *Registry) send(message types.Message) {
	if err := r.transport.Unicast(message); err != nil {
		r.logger.Debugf("failed sending %s to %s. %v", message.Header.Type, message.To, err)
	}
}

func (r *Registry) message(t types.MessageType, to types.NodeID) types.Message {
	message := types.NewMessage(t, r.self.ID, to)
	message.Header.ProtocolVersion = r.configuration.Version
	return message
}

func (r *Registry) ids() []types.NodeID {
	ids := make([]types.NodeID, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// The members except the given one.
func (r *Registry) roster(except types.NodeID) []types.Peer {
	var peers []types.Peer
	for _, id := range r.ids() {
		if id != except {
			peers = append(peers, r.members[id])
		}
	}
	return peers
}

// Address returns the registry endpoint.
func (r *Registry) Address() types.NodeID {
	return r.self.ID
}

// Members returns the current members, sorted by id.
func (r *Registry) Members() []types.Peer {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.roster("")
}

// Holder returns the member holding the floor, if known.
func (r *Registry) Holder() types.NodeID {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.holder
}

// Close stops the registry. The members are not notified.
func (r *Registry) Close() error {
	if !r.flag.Inactivate() {
		return nil
	}

	r.finish()
	r.invoker.Stop()
	r.mailbox.Stop()
	r.liveness.Close()
	return r.transport.Close()
}
