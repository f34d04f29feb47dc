package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/jabolina/go-groupchat/pkg/chat/concurrent"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Hub connects in-process endpoints. Every endpoint owns a FIFO
// mailbox, so the messages between two endpoints keep the order.
type Hub struct {
	mutex     *sync.Mutex
	endpoints map[types.NodeID]*MemoryTransport
}

func NewHub() *Hub {
	return &Hub{
		mutex:     &sync.Mutex{},
		endpoints: make(map[types.NodeID]*MemoryTransport),
	}
}

// Endpoint creates a new transport attached to the hub. If the
// address is empty an unique one is generated.
func (h *Hub) Endpoint(address types.NodeID) (*MemoryTransport, error) {
	if address == "" {
		address = types.NodeID(helper.GenerateUID())
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.endpoints[address]; ok {
		return nil, fmt.Errorf("endpoint %s already exists: %w", address, types.ErrInvalidConfiguration)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &MemoryTransport{
		hub:      h,
		address:  address,
		producer: make(chan types.Message),
		cancel:   cancel,
	}
	t.mailbox = concurrent.NewMailbox(ctx, t.forward)
	h.endpoints[address] = t
	return t, nil
}

func (h *Hub) lookup(address types.NodeID) (*MemoryTransport, bool) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	t, ok := h.endpoints[address]
	return t, ok
}

func (h *Hub) remove(address types.NodeID) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	delete(h.endpoints, address)
}

// Size returns how many endpoints are attached.
func (h *Hub) Size() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.endpoints)
}

// MemoryTransport implements the Transport interface for
// endpoints living on the same process.
type MemoryTransport struct {
	hub      *Hub
	address  types.NodeID
	mailbox  concurrent.Mailbox
	producer chan types.Message
	cancel   context.CancelFunc
	flag     helper.Flag
}

// Hands the message to the listener, giving up when closed.
func (m *MemoryTransport) forward(ctx context.Context, message types.Message) {
	select {
	case m.producer <- message:
	case <-ctx.Done():
	}
}

// Unicast implements the Transport interface.
func (m *MemoryTransport) Unicast(message types.Message) error {
	if m.flag.IsInactive() {
		return types.ErrTransportShutdown
	}

	destination, ok := m.hub.lookup(message.To)
	if !ok {
		return fmt.Errorf("sending to %s: %w", message.To, types.ErrUnknownPeer)
	}

	if !destination.mailbox.Post(message) {
		return fmt.Errorf("sending to %s: %w", message.To, types.ErrTransportShutdown)
	}
	return nil
}

// Listen implements the Transport interface.
func (m *MemoryTransport) Listen() <-chan types.Message {
	return m.producer
}

// Address implements the Transport interface.
func (m *MemoryTransport) Address() types.NodeID {
	return m.address
}

// Close implements the Transport interface.
func (m *MemoryTransport) Close() error {
	if !m.flag.Inactivate() {
		return nil
	}

	m.hub.remove(m.address)
	m.cancel()
	m.mailbox.Stop()
	close(m.producer)
	return nil
}
