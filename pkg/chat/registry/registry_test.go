package registry

import (
	"context"
	"testing"
	"time"

	"github.com/jabolina/go-groupchat/pkg/chat/core"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
	"go.uber.org/goleak"
)

func configuration(liveness time.Duration) *types.RegistryConfiguration {
	ctx, cancel := context.WithCancel(context.Background())
	return &types.RegistryConfiguration{
		Version:         types.LatestProtocolVersion,
		LivenessTimeout: liveness,
		ActionTimeout:   time.Second,
		Logger:          helper.NewDefaultLogger("registry-test"),
		Ctx:             ctx,
		Cancel:          cancel,
	}
}

func start(t *testing.T, liveness time.Duration) (*core.Hub, *Registry) {
	hub := core.NewHub()
	transport, err := hub.Endpoint("registry")
	if err != nil {
		t.Fatalf("failed creating registry endpoint. %v", err)
	}
	return hub, NewRegistry(configuration(liveness), transport)
}

func endpoint(t *testing.T, hub *core.Hub, address types.NodeID) *core.MemoryTransport {
	transport, err := hub.Endpoint(address)
	if err != nil {
		t.Fatalf("failed creating %s. %v", address, err)
	}
	return transport
}

func login(t *testing.T, transport core.Transport, name string) {
	message := types.NewMessage(types.LoginMessage, transport.Address(), "registry")
	message.Name = name
	if err := transport.Unicast(message); err != nil {
		t.Fatalf("failed sending login. %v", err)
	}
}

// Reads from the transport until a message satisfying the condition arrives.
func expect(t *testing.T, transport core.Transport, what string, condition func(types.Message) bool) types.Message {
	timeout := time.After(3 * time.Second)
	for {
		select {
		case m, ok := <-transport.Listen():
			if !ok {
				t.Fatalf("transport closed waiting for %s", what)
			}
			if condition(m) {
				return m
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func isReply(m types.Message) bool {
	return m.Header.Type == types.LoginReplyMessage
}

func isEnvelope(kind types.PayloadKind, subject types.NodeID) func(types.Message) bool {
	return func(m types.Message) bool {
		return m.Header.Type == types.EnvelopeMessage &&
			m.Envelope.Payload.Kind == kind &&
			m.Envelope.Payload.Subject.ID == subject
	}
}

func TestRegistry_LoginRepliesRosterAndAnnounces(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, time.Second)
	defer r.Close()

	a := endpoint(t, hub, "a")
	b := endpoint(t, hub, "b")
	defer a.Close()
	defer b.Close()

	login(t, a, "alice")
	reply := expect(t, a, "alice reply", isReply)
	if len(reply.Roster) != 0 {
		t.Errorf("first member received roster %v", reply.Roster)
	}

	login(t, b, "bob")
	reply = expect(t, b, "bob reply", isReply)
	if len(reply.Roster) != 1 || reply.Roster[0].ID != "a" || reply.Roster[0].Name != "alice" {
		t.Errorf("bob received roster %v", reply.Roster)
	}

	joined := expect(t, a, "alice seeing bob", isEnvelope(types.PeerJoined, "b"))
	if joined.Envelope.OriginName != Name || joined.Envelope.ID.Origin != r.Address() {
		t.Errorf("membership event from %s", joined.Envelope.ID)
	}

	// A repeated login is answered again without a new announcement.
	login(t, b, "bob")
	expect(t, b, "bob second reply", isReply)
	if members := r.Members(); len(members) != 2 {
		t.Errorf("registry members %v", members)
	}
}

func TestRegistry_JoinerNotAnnouncedToItself(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, time.Second)
	defer r.Close()

	a := endpoint(t, hub, "a")
	b := endpoint(t, hub, "b")
	c := endpoint(t, hub, "c")
	defer a.Close()
	defer b.Close()
	defer c.Close()

	login(t, a, "alice")
	expect(t, a, "alice reply", isReply)
	login(t, b, "bob")
	expect(t, b, "bob reply", isReply)
	expect(t, a, "alice seeing bob", isEnvelope(types.PeerJoined, "b"))

	login(t, c, "carol")
	expect(t, c, "carol reply", isReply)

	// The first envelope bob receives is about carol, never about bob.
	first := expect(t, b, "bob envelope", func(m types.Message) bool {
		return m.Header.Type == types.EnvelopeMessage
	})
	if first.Envelope.Payload.Kind != types.PeerJoined || first.Envelope.Payload.Subject.ID != "c" {
		t.Errorf("bob received %s about %s", first.Envelope.Payload.Kind, first.Envelope.Payload.Subject.ID)
	}

	carol := expect(t, a, "alice seeing carol", isEnvelope(types.PeerJoined, "c"))
	if carol.Envelope.ID != first.Envelope.ID {
		t.Errorf("alice and bob received different events %s and %s", carol.Envelope.ID, first.Envelope.ID)
	}

	select {
	case m := <-c.Listen():
		t.Errorf("carol received %s", m.Header.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRegistry_SequencesMembershipEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, time.Second)
	defer r.Close()

	a := endpoint(t, hub, "a")
	b := endpoint(t, hub, "b")
	defer a.Close()
	defer b.Close()

	login(t, a, "alice")
	expect(t, a, "alice reply", isReply)
	login(t, b, "bob")
	expect(t, b, "bob reply", isReply)
	joined := expect(t, a, "alice seeing bob", isEnvelope(types.PeerJoined, "b"))

	proposal := types.NewMessage(types.TimestampMessage, "a", "registry")
	proposal.Identifier = joined.Envelope.ID
	proposal.Timestamp = 7
	if err := a.Unicast(proposal); err != nil {
		t.Fatalf("failed proposing timestamp. %v", err)
	}

	sequence := expect(t, a, "sequence", func(m types.Message) bool {
		return m.Header.Type == types.SequenceMessage
	})
	if sequence.Identifier != joined.Envelope.ID || sequence.Timestamp != 7 {
		t.Errorf("sequence %d for %s", sequence.Timestamp, sequence.Identifier)
	}
}

func TestRegistry_LogoutWhileHolding(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, time.Second)
	defer r.Close()

	a := endpoint(t, hub, "a")
	b := endpoint(t, hub, "b")
	defer a.Close()
	defer b.Close()

	login(t, a, "alice")
	expect(t, a, "alice reply", isReply)
	login(t, b, "bob")
	expect(t, b, "bob reply", isReply)
	expect(t, a, "alice seeing bob", isEnvelope(types.PeerJoined, "b"))

	if err := b.Unicast(types.NewMessage(types.LockHeldMessage, "b", "registry")); err != nil {
		t.Fatalf("failed sending lock held. %v", err)
	}

	logout := types.NewMessage(types.LogoutMessage, "b", "registry")
	if err := b.Unicast(logout); err != nil {
		t.Fatalf("failed sending logout. %v", err)
	}

	expect(t, a, "bob left", isEnvelope(types.PeerLeft, "b"))
	expect(t, a, "bob lock freed", isEnvelope(types.LostLockAfterDeparture, "b"))
	if members := r.Members(); len(members) != 1 || members[0].ID != "a" {
		t.Errorf("registry members %v", members)
	}

	if holder := r.Holder(); holder != "" {
		t.Errorf("registry still has holder %s", holder)
	}
}

func TestRegistry_RemovesSilentMembers(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, 300*time.Millisecond)
	defer r.Close()

	a := endpoint(t, hub, "a")
	b := endpoint(t, hub, "b")
	defer a.Close()
	defer b.Close()

	done := make(chan struct{})
	beating := make(chan struct{})
	go func() {
		defer close(beating)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				a.Unicast(types.NewMessage(types.HeartbeatMessage, "a", "registry"))
			}
		}
	}()
	defer func() {
		close(done)
		<-beating
	}()

	login(t, a, "alice")
	expect(t, a, "alice reply", isReply)
	login(t, b, "bob")
	expect(t, b, "bob reply", isReply)

	expect(t, a, "bob expired", isEnvelope(types.PeerLeft, "b"))
	if members := r.Members(); len(members) != 1 || members[0].ID != "a" {
		t.Errorf("registry members %v", members)
	}
}

func TestRegistry_IgnoresOtherVersions(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, r := start(t, time.Second)
	defer r.Close()

	a := endpoint(t, hub, "a")
	defer a.Close()

	message := types.NewMessage(types.LoginMessage, "a", "registry")
	message.Name = "alice"
	message.Header.ProtocolVersion = types.LatestProtocolVersion + 1
	if err := a.Unicast(message); err != nil {
		t.Fatalf("failed sending login. %v", err)
	}

	login(t, a, "alice")
	expect(t, a, "alice reply", isReply)
	if members := r.Members(); len(members) != 1 {
		t.Errorf("registry members %v", members)
	}
}
