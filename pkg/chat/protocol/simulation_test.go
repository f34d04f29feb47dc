package protocol

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/output"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const simulatedRegistry = types.NodeID("registry")

type link struct {
	from types.NodeID
	to   types.NodeID
}

// A deterministic network for nodes. Each step delivers the head of a
// random link, so the order inside a link is always preserved. The
// simulation also plays the registry, sequencing membership events.
type simulation struct {
	t        *testing.T
	random   *rand.Rand
	nodes    map[types.NodeID]*Node
	displays map[types.NodeID]*output.Transcript
	links    map[link][]types.Message
	registry *Originator
	logouts  map[types.NodeID]bool
	clocks   map[types.NodeID]uint64
	log      types.Logger
}

func newSimulation(t *testing.T, seed int64) *simulation {
	return &simulation{
		t:        t,
		random:   rand.New(rand.NewSource(seed)),
		nodes:    make(map[types.NodeID]*Node),
		displays: make(map[types.NodeID]*output.Transcript),
		links:    make(map[link][]types.Message),
		registry: NewOriginator(types.Peer{ID: simulatedRegistry, Name: string(simulatedRegistry)}),
		logouts:  make(map[types.NodeID]bool),
		clocks:   make(map[types.NodeID]uint64),
		log:      helper.NewDefaultLogger(fmt.Sprintf("simulation-%d", seed)),
	}
}

func peerFor(name string) types.Peer {
	return types.Peer{ID: types.NodeID("node-" + name), Name: name}
}

// Creates a node knowing the given roster. The node is not started.
func (s *simulation) add(self types.Peer, roster []types.Peer) *Node {
	display := output.NewTranscript()
	node := NewNode(NodeConfiguration{
		Self:     self,
		Registry: simulatedRegistry,
		Version:  types.LatestProtocolVersion,
		Roster:   roster,
		Display:  display,
		Logger:   s.log.AddContext(self.Name),
	})
	s.nodes[self.ID] = node
	s.displays[self.ID] = display
	return node
}

// Creates every node knowing each other and starts them.
func (s *simulation) group(names ...string) []*Node {
	var peers []types.Peer
	for _, name := range names {
		peers = append(peers, peerFor(name))
	}

	var nodes []*Node
	for _, peer := range peers {
		nodes = append(nodes, s.add(peer, peers))
	}

	for _, node := range nodes {
		s.enqueue(node.Start())
	}
	s.run()

	for _, node := range nodes {
		if node.State() != Active {
			s.t.Fatalf("node %s is %s after start", node.Self().Name, node.State())
		}
	}
	return nodes
}

func (s *simulation) enqueue(messages []types.Message) {
	for _, message := range messages {
		l := link{from: message.From, to: message.To}
		s.links[l] = append(s.links[l], message)
	}
}

func (s *simulation) send(node *Node, text string) {
	out, err := node.Send(text)
	if err != nil {
		s.t.Fatalf("node %s failed sending %q. %v", node.Self().Name, text, err)
	}
	s.enqueue(out)
}

func (s *simulation) active() []link {
	var links []link
	for l, queue := range s.links {
		if len(queue) > 0 {
			links = append(links, l)
		}
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].from != links[j].from {
			return links[i].from < links[j].from
		}
		return links[i].to < links[j].to
	})
	return links
}

// Delivers a single message. Returns false if nothing is in flight.
func (s *simulation) step() bool {
	links := s.active()
	if len(links) == 0 {
		return false
	}

	l := links[s.random.Intn(len(links))]
	message := s.links[l][0]
	s.links[l] = s.links[l][1:]

	if message.To == simulatedRegistry {
		s.onRegistry(message)
		return true
	}

	node, ok := s.nodes[message.To]
	if !ok {
		return true
	}

	s.enqueue(node.Process(message))
	s.verify()
	return true
}

func (s *simulation) run() {
	for i := 0; s.step(); i++ {
		if i > 100_000 {
			s.t.Fatalf("simulation did not settle")
		}
	}
}

// Runs at most the given number of steps.
func (s *simulation) steps(n int) {
	for i := 0; i < n && s.step(); i++ {
	}
}

func (s *simulation) onRegistry(message types.Message) {
	switch message.Header.Type {
	case types.TimestampMessage:
		if decided, ok := s.registry.Ack(message.Identifier, message.From, message.Timestamp); ok {
			s.sequence(decided)
		}
	case types.LogoutMessage:
		s.logouts[message.From] = true
	}
}

func (s *simulation) sequence(decided Sequenced) {
	var out []types.Message
	for _, recipient := range decided.Recipients {
		m := types.NewMessage(types.SequenceMessage, simulatedRegistry, recipient)
		m.Identifier = decided.ID
		m.Timestamp = decided.Sequence
		out = append(out, m)
	}
	s.enqueue(out)
}

// The registry broadcasts the payload to the given nodes.
func (s *simulation) announce(payload types.Payload, recipients ...types.NodeID) {
	envelope := s.registry.Originate(payload, recipients)
	var out []types.Message
	for _, recipient := range recipients {
		m := types.NewMessage(types.EnvelopeMessage, simulatedRegistry, recipient)
		m.Envelope = envelope
		out = append(out, m)
	}
	s.enqueue(out)
}

// The node stops without a goodbye. Messages in flight from and
// to the node are lost.
func (s *simulation) crash(node *Node) {
	id := node.Self().ID
	delete(s.nodes, id)
	for l := range s.links {
		if l.from == id || l.to == id {
			delete(s.links, l)
		}
	}
}

// The registry notices the departure and tells the remaining nodes.
func (s *simulation) depart(node *Node, holding bool) {
	remaining := s.ids()
	s.announce(types.NewSubjectPayload(types.PeerLeft, node.Self()), remaining...)
	if holding {
		s.announce(types.NewSubjectPayload(types.LostLockAfterDeparture, node.Self()), remaining...)
	}
}

func (s *simulation) ids() []types.NodeID {
	var ids []types.NodeID
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[i] < ids[j]
	})
	return ids
}

// Properties verified after every step.
func (s *simulation) verify() {
	var holders []string
	for id, node := range s.nodes {
		if node.IsHolding() {
			holders = append(holders, node.Self().Name)
		}

		clock := node.Clock()
		if clock < s.clocks[id] {
			s.t.Fatalf("clock of %s went back from %d to %d", node.Self().Name, s.clocks[id], clock)
		}
		s.clocks[id] = clock
	}

	if len(holders) > 1 {
		s.t.Fatalf("more than one node holding the floor: %v", holders)
	}
}

func (s *simulation) holder() *Node {
	for _, id := range s.ids() {
		if s.nodes[id].IsHolding() {
			return s.nodes[id]
		}
	}
	return nil
}

func (s *simulation) lines(node *Node) []string {
	return s.displays[node.Self().ID].Lines()
}
