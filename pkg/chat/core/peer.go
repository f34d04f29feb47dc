package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jabolina/go-groupchat/pkg/chat/concurrent"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/protocol"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const (
	// Longest wait for the login reply before sending it again.
	loginAttemptWait = 500 * time.Millisecond
)

// Client is the runtime around a single protocol node. Messages from
// the transport, the lock timer and the loopback are all handled by
// one mailbox, so the node sees a single ordered stream of events.
type Client struct {
	// Used to spawn and control all go routines.
	invoker Invoker

	// Configuration for the client.
	configuration *types.PeerConfiguration

	// Identity of this participant.
	self types.Peer

	// Transport used to talk with the peers and the registry.
	transport Transport

	// Handles every event for the node.
	mailbox concurrent.Mailbox

	// Bounds how long the floor is held.
	timer *concurrent.Timer

	// Guards the node, it is created once the login reply arrives.
	mutex *sync.Mutex
	node  *protocol.Node

	// Messages received before the login reply.
	early []types.Message

	// Closed once the node exists.
	ready chan struct{}

	// Client logger.
	logger types.Logger

	// The client cancellable context.
	context context.Context

	// A cancel function to finish the client processing.
	finish context.CancelFunc

	// Closes the client exactly once.
	flag helper.Flag
}

// NewClient logs into the registry through the given transport and
// starts processing messages. The transport address is the
// participant identity. The transport is owned by the client.
func NewClient(configuration *types.PeerConfiguration, transport Transport) (*Client, error) {
	ctx, finish := context.WithCancel(configuration.Ctx)
	c := &Client{
		invoker:       NewInvoker(),
		configuration: configuration,
		self:          types.Peer{ID: transport.Address(), Name: configuration.Name},
		transport:     transport,
		mutex:         &sync.Mutex{},
		ready:         make(chan struct{}),
		logger:        configuration.Logger,
		context:       ctx,
		finish:        finish,
	}

	c.mailbox = concurrent.NewMailbox(ctx, c.handle)
	c.timer = concurrent.NewTimer(c.expired)
	c.invoker.Spawn(c.poll)

	if err := c.login(); err != nil {
		c.stop()
		return nil, err
	}

	c.invoker.Spawn(c.heartbeat)
	return c, nil
}

// Sends the login until the registry answers or the timeout elapses.
func (c *Client) login() error {
	ctx, cancel := context.WithTimeout(c.context, c.configuration.ActionTimeout)
	defer cancel()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = c.configuration.ActionTimeout

	attempt := func() error {
		message := c.message(types.LoginMessage, c.configuration.Registry)
		message.Name = c.self.Name
		if err := c.transport.Unicast(message); err != nil {
			c.logger.Debugf("failed sending login to %s. %v", c.configuration.Registry, err)
			return err
		}

		wait := time.NewTimer(loginAttemptWait)
		defer wait.Stop()
		select {
		case <-c.ready:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-wait.C:
			return types.ErrLoginTimeout
		}
	}

	if err := backoff.Retry(attempt, backoff.WithContext(policy, ctx)); err != nil {
		select {
		case <-c.ready:
			return nil
		default:
		}
		return fmt.Errorf("login at %s failed, %v: %w", c.configuration.Registry, err, types.ErrLoginTimeout)
	}
	return nil
}

// This method will keep polling as long as the client is active,
// moving the transport messages to the mailbox.
func (c *Client) poll() {
	defer c.logger.Debugf("closing the client %s", c.self.Name)
	for {
		select {
		case <-c.context.Done():
			return
		case m, ok := <-c.transport.Listen():
			if !ok {
				return
			}
			c.mailbox.Post(m)
		}
	}
}

// Periodically tells the registry this client is alive.
func (c *Client) heartbeat() {
	ticker := time.NewTicker(c.configuration.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.context.Done():
			return
		case <-ticker.C:
			if err := c.transport.Unicast(c.message(types.HeartbeatMessage, c.configuration.Registry)); err != nil {
				c.logger.Warnf("failed sending heartbeat. %v", err)
			}
		}
	}
}

func (c *Client) expired() {
	c.mailbox.Post(c.message(types.TimedOutMessage, c.self.ID))
}

// Handles a single message from the mailbox.
func (c *Client) handle(_ context.Context, message types.Message) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.node == nil {
		if message.Header.Type == types.LoginReplyMessage {
			c.bootstrap(message)
			return
		}
		c.early = append(c.early, message)
		return
	}

	if message.Header.Type == types.LoginReplyMessage {
		c.logger.Debugf("ignoring repeated login reply")
		return
	}
	c.dispatch(c.node.Process(message))
}

// Creates the node with the roster from the registry. Should be
// called with the lock held.
func (c *Client) bootstrap(reply types.Message) {
	c.node = protocol.NewNode(protocol.NodeConfiguration{
		Self:        c.self,
		Registry:    c.configuration.Registry,
		Version:     c.configuration.Version,
		Roster:      reply.Roster,
		Clock:       reply.Timestamp,
		LockTimeout: c.configuration.LockTimeout,
		Display:     c.configuration.Display,
		Timer:       c.timer,
		Logger:      c.logger,
	})

	c.logger.Infof("%s logged in with %d peers", c.self.Name, len(reply.Roster))
	c.dispatch(c.node.Start())
	early := c.early
	c.early = nil
	for _, message := range early {
		c.dispatch(c.node.Process(message))
	}
	close(c.ready)
}

// Sends the messages produced by the node. Should be called with the
// lock held.
func (c *Client) dispatch(messages []types.Message) {
	for _, message := range messages {
		if message.To == c.self.ID {
			c.mailbox.Post(message)
			continue
		}

		if err := c.transport.Unicast(message); err != nil {
			c.logger.Debugf("failed sending %s to %s. %v", message.Header.Type, message.To, err)
		}
	}
}

func (c *Client) message(t types.MessageType, to types.NodeID) types.Message {
	message := types.NewMessage(t, c.self.ID, to)
	message.Header.ProtocolVersion = c.configuration.Version
	return message
}

// Send broadcasts a chat line to the group. Fails while bootstrapping
// or while another participant holds the floor.
func (c *Client) Send(text string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.flag.IsInactive() {
		return types.ErrClosed
	}

	if c.node == nil {
		return types.ErrBootstrapping
	}

	out, err := c.node.Send(text)
	if err != nil {
		return err
	}
	c.dispatch(out)
	return nil
}

// RequestFloor asks for the exclusive right to talk.
func (c *Client) RequestFloor() error {
	return c.Send(protocol.EnterSentinel)
}

// ReleaseFloor gives up the exclusive right to talk.
func (c *Client) ReleaseFloor() error {
	return c.Send(protocol.ExitSentinel)
}

// Close leaves the group, releasing the floor if needed, and stops
// every routine.
func (c *Client) Close() error {
	if !c.flag.Inactivate() {
		return nil
	}

	c.mutex.Lock()
	if c.node != nil {
		c.dispatch(c.node.Shutdown())
	}
	c.mutex.Unlock()
	return c.stop()
}

// Kill stops the client without telling anyone, the registry will
// notice through the missing heartbeats.
func (c *Client) Kill() error {
	if !c.flag.Inactivate() {
		return nil
	}
	return c.stop()
}

func (c *Client) stop() error {
	c.flag.Inactivate()
	c.finish()
	c.invoker.Stop()
	c.mailbox.Stop()
	c.timer.Stop()
	return c.transport.Close()
}

// Self returns the participant identity.
func (c *Client) Self() types.Peer {
	return c.self
}

func (c *Client) inspect(f func(node *protocol.Node)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.node != nil {
		f(c.node)
	}
}

// Active verify if the client finished bootstrapping.
func (c *Client) Active() bool {
	active := false
	c.inspect(func(node *protocol.Node) {
		active = node.State() == protocol.Active
	})
	return active
}

// IsHolding verify if this participant holds the floor.
func (c *Client) IsHolding() bool {
	holding := false
	c.inspect(func(node *protocol.Node) {
		holding = node.IsHolding()
	})
	return holding
}

// SomeoneElseHolding verify if another participant holds the floor.
func (c *Client) SomeoneElseHolding() bool {
	holding := false
	c.inspect(func(node *protocol.Node) {
		holding = node.SomeoneElseHolding()
	})
	return holding
}

// Roster returns the known peers.
func (c *Client) Roster() []types.Peer {
	var roster []types.Peer
	c.inspect(func(node *protocol.Node) {
		roster = node.Roster()
	})
	return roster
}

// Clock returns the logical clock value.
func (c *Client) Clock() uint64 {
	var clock uint64
	c.inspect(func(node *protocol.Node) {
		clock = node.Clock()
	})
	return clock
}
