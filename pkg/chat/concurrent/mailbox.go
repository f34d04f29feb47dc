package concurrent

import (
	"context"
	"sync"

	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Handler consumes a single message, it runs to completion before
// the next message is handed.
type Handler func(ctx context.Context, message types.Message)

// Mailbox is an unbounded FIFO with a single consumer. Every entity
// owns one mailbox and all of its state is touched only by the handler.
type Mailbox interface {
	// Post a message to be handled sometime in the future.
	// Returns false if the mailbox is already stopped.
	Post(types.Message) bool

	// How many messages are pending.
	Pending() int

	// Wait up to the number of given messages to be handled.
	Wait(int)

	// Stop the mailbox, pending messages are dropped.
	Stop()
}

type fifo struct {
	mutex sync.Mutex

	ch        chan struct{}
	completed int
	pending   []types.Message
	handler   Handler

	ctx         context.Context
	cancellable context.CancelFunc

	finishes *sync.Cond
	close    chan struct{}
}

// NewMailbox creates the mailbox and starts the consumer, which
// lives until Stop is called or the parent context is done.
func NewMailbox(parent context.Context, handler Handler) Mailbox {
	m := &fifo{
		ch:      make(chan struct{}, 1),
		close:   make(chan struct{}),
		handler: handler,
	}

	m.finishes = sync.NewCond(&m.mutex)
	m.ctx, m.cancellable = context.WithCancel(parent)
	go m.forever()
	return m
}

// Post the message at the tail of the mailbox.
func (m *fifo) Post(message types.Message) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cancellable == nil || m.ctx.Err() != nil {
		return false
	}

	if len(m.pending) == 0 {
		select {
		case m.ch <- struct{}{}:
		default:
		}
	}
	m.pending = append(m.pending, message)
	return true
}

// How many messages are still pending.
func (m *fifo) Pending() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return len(m.pending)
}

// Wait up to n messages to be handled before returning.
func (m *fifo) Wait(how int) {
	m.finishes.L.Lock()
	defer m.finishes.L.Unlock()

	for m.ctx.Err() == nil && (m.completed < how || len(m.pending) != 0) {
		m.finishes.Wait()
	}
}

// Stop the current mailbox and wait for the consumer to finish.
func (m *fifo) Stop() {
	m.mutex.Lock()
	if m.cancellable != nil {
		m.cancellable()
		m.cancellable = nil
	}
	m.mutex.Unlock()
	<-m.close
}

// Keeps polling the posted messages forever.
func (m *fifo) forever() {
	defer func() {
		m.finishes.L.Lock()
		m.pending = nil
		m.finishes.Broadcast()
		m.finishes.L.Unlock()
		close(m.close)
	}()

	for {
		var message types.Message
		has := false
		m.mutex.Lock()
		if len(m.pending) != 0 {
			message, has = m.pending[0], true
		}
		m.mutex.Unlock()

		if !has {
			select {
			case <-m.ch:
			case <-m.ctx.Done():
				return
			}
			continue
		}

		if m.ctx.Err() != nil {
			return
		}

		m.handler(m.ctx, message)
		m.finishes.L.Lock()
		m.completed++
		m.pending = m.pending[1:]
		m.finishes.Broadcast()
		m.finishes.L.Unlock()
	}
}
