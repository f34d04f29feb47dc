package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/jabolina/go-groupchat/pkg/chat/concurrent"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const (
	rpcMessage uint8 = iota
)

var (
	ErrorNotAdvertiseAddress = errors.New("local bind address not advertised")
	ErrorNotTCP              = errors.New("local address is not TCP")
)

/*

NetworkTransport provides a network based transport that can be
used to communicate on remote machines. It requires an underlying
stream layer to provide a stream abstraction.

Every message is framed by sending a byte that indicates the frame
type, followed by the MsgPack encoded message. Messages are one way,
there is no response. Each destination uses a single pooled
connection, so the messages to the same destination keep the order.

*/
type NetworkTransport struct {
	connPool     map[types.NodeID]*netConn
	connPoolLock sync.Mutex

	// Inbound connections, closed on shutdown.
	inbound     map[net.Conn]bool
	inboundLock sync.Mutex

	// Received messages are handed to the listener in order.
	mailbox  concurrent.Mailbox
	producer chan types.Message

	logger types.Logger

	invoker Invoker

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	// Used for I/O control.
	timeout time.Duration
}

// StreamLayer is used with the NetworkTransport to provide
// the low level stream abstraction.
type StreamLayer interface {
	net.Listener

	// Dial is used to create a new outgoing connection.
	Dial(address types.NodeID, timeout time.Duration) (net.Conn, error)
}

// Context about a network connection.
type netConn struct {
	mutex  sync.Mutex
	target types.NodeID
	conn   net.Conn
	w      *bufio.Writer
	enc    *codec.Encoder
}

func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates the transport over the given stream layer
// and starts accepting connections.
func NewNetworkTransport(stream StreamLayer, timeout time.Duration, logger types.Logger) *NetworkTransport {
	trans := &NetworkTransport{
		connPool:   make(map[types.NodeID]*netConn),
		inbound:    make(map[net.Conn]bool),
		producer:   make(chan types.Message),
		logger:     logger,
		invoker:    NewInvoker(),
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}

	trans.mailbox = concurrent.NewMailbox(context.Background(), trans.forward)
	trans.invoker.Spawn(trans.listen)
	return trans
}

func (n *NetworkTransport) forward(ctx context.Context, message types.Message) {
	select {
	case n.producer <- message:
	case <-ctx.Done():
	case <-n.shutdownCh:
	}
}

// Listen for incoming connections.
func (n *NetworkTransport) listen() {
	const baseDelay = 5 * time.Millisecond
	const maxDelay = 1 * time.Second

	var loopDelay time.Duration
	for {
		// Accepts connections
		conn, err := n.stream.Accept()

		// If some error happened readjust the loopDelay
		if err != nil {
			if n.IsShutdown() {
				return
			}

			if loopDelay == 0 {
				loopDelay = baseDelay
			} else {
				loopDelay *= 2
			}

			if loopDelay > maxDelay {
				loopDelay = maxDelay
			}

			n.logger.Errorf("failed to accept connection. %v", err)

			// Wait again to proceed
			select {
			case <-n.shutdownCh:
				return
			case <-time.After(loopDelay):
				continue
			}
		}

		loopDelay = 0
		n.logger.Debugf("accepted connection with local-address %s and remote-address %s", n.Address(), conn.RemoteAddr().String())
		if !n.track(conn) || !n.invoker.Spawn(func() { n.handleConn(conn) }) {
			conn.Close()
			return
		}
	}
}

func (n *NetworkTransport) track(conn net.Conn) bool {
	n.inboundLock.Lock()
	defer n.inboundLock.Unlock()
	if n.IsShutdown() {
		return false
	}
	n.inbound[conn] = true
	return true
}

func (n *NetworkTransport) untrack(conn net.Conn) {
	n.inboundLock.Lock()
	defer n.inboundLock.Unlock()
	delete(n.inbound, conn)
}

// Handle inbound connections for all connection lifespan.
// The handler will exit when the connection is closed.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	defer func() {
		n.untrack(conn)
		conn.Close()
	}()

	r := bufio.NewReader(conn)
	dec := codec.NewDecoder(r, &codec.MsgpackHandle{})
	for {
		if err := n.handleFrame(r, dec); err != nil {
			if err != io.EOF && !n.IsShutdown() {
				n.logger.Errorf("failed to decode incoming frame. %v", err)
			}
			return
		}
	}
}

// Decode and dispatch a single frame.
func (n *NetworkTransport) handleFrame(r *bufio.Reader, dec *codec.Decoder) error {
	frameType, err := r.ReadByte()
	if err != nil {
		return err
	}

	switch frameType {
	case rpcMessage:
		var message types.Message
		if err := dec.Decode(&message); err != nil {
			return err
		}

		if !n.mailbox.Post(message) {
			return types.ErrTransportShutdown
		}
		return nil
	default:
		return fmt.Errorf("unknown frame type %d", frameType)
	}
}

// Unicast implements the Transport interface. A failed write is
// retried once over a new connection.
func (n *NetworkTransport) Unicast(message types.Message) error {
	if n.IsShutdown() {
		return types.ErrTransportShutdown
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		var conn *netConn
		conn, err = n.getConn(message.To)
		if err != nil {
			return fmt.Errorf("dialing %s: %w", message.To, err)
		}

		if err = sendFrame(conn, n.timeout, rpcMessage, &message); err == nil {
			return nil
		}
		n.dropConn(conn)
	}
	return fmt.Errorf("sending to %s: %w", message.To, err)
}

// Get the pooled connection to the target, creating one if needed.
// Dials outside the pool lock, a slow target must not stall the others.
func (n *NetworkTransport) getConn(target types.NodeID) (*netConn, error) {
	n.connPoolLock.Lock()
	if conn, ok := n.connPool[target]; ok {
		n.connPoolLock.Unlock()
		return conn, nil
	}
	n.connPoolLock.Unlock()

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return nil, err
	}

	created := &netConn{
		target: target,
		conn:   conn,
		w:      bufio.NewWriter(conn),
	}
	created.enc = codec.NewEncoder(created.w, &codec.MsgpackHandle{})

	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	// Another send dialed the same target meanwhile.
	if existing, ok := n.connPool[target]; ok {
		created.Release()
		return existing, nil
	}

	if n.IsShutdown() {
		created.Release()
		return nil, types.ErrTransportShutdown
	}

	n.connPool[target] = created
	return created, nil
}

// Removes a broken connection from the pool.
func (n *NetworkTransport) dropConn(conn *netConn) {
	n.connPoolLock.Lock()
	defer n.connPoolLock.Unlock()

	if current, ok := n.connPool[conn.target]; ok && current == conn {
		delete(n.connPool, conn.target)
	}
	conn.Release()
}

// Verify if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// Address implements the Transport interface.
func (n *NetworkTransport) Address() types.NodeID {
	return types.NodeID(n.stream.Addr().String())
}

// Listen implements the Transport interface.
func (n *NetworkTransport) Listen() <-chan types.Message {
	return n.producer
}

// Close implements the Transport interface.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	if n.shutdown {
		n.shutdownLock.Unlock()
		return nil
	}
	close(n.shutdownCh)
	n.shutdown = true
	n.shutdownLock.Unlock()

	err := n.stream.Close()

	n.inboundLock.Lock()
	for conn := range n.inbound {
		conn.Close()
	}
	n.inboundLock.Unlock()

	n.connPoolLock.Lock()
	for target, conn := range n.connPool {
		conn.Release()
		delete(n.connPool, target)
	}
	n.connPoolLock.Unlock()

	n.invoker.Stop()
	n.mailbox.Stop()
	close(n.producer)
	return err
}

// Encodes and send a frame.
func sendFrame(conn *netConn, timeout time.Duration, frameType uint8, req interface{}) error {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()

	if timeout > 0 {
		conn.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	// Write the frame type
	if err := conn.w.WriteByte(frameType); err != nil {
		return err
	}

	// Send the message
	if err := conn.enc.Encode(req); err != nil {
		return err
	}

	// Flush
	return conn.w.Flush()
}
