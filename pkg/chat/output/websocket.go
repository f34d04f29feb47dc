package output

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const (
	writeWait    = 5 * time.Second
	clientBuffer = 128
)

type client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// WebSocket is a Display publishing each event as JSON to every
// connected websocket client. A slow client loses events instead of
// blocking the node.
type WebSocket struct {
	mutex    *sync.Mutex
	upgrader websocket.Upgrader
	clients  map[*client]bool
	closed   bool
	group    *sync.WaitGroup
	log      types.Logger
}

func NewWebSocket(log types.Logger) *WebSocket {
	return &WebSocket{
		mutex: &sync.Mutex{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]bool),
		group:   &sync.WaitGroup{},
		log:     log,
	}
}

// ServeHTTP upgrades the request and keeps the client subscribed
// until the connection is closed.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.log.Warnf("failed upgrading websocket. %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan Event, clientBuffer)}
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		conn.Close()
		return
	}
	w.clients[c] = true
	w.group.Add(1)
	w.mutex.Unlock()

	go w.write(c)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			w.log.Debugf("websocket client %s disconnected. %v", conn.RemoteAddr(), err)
			break
		}
	}
	w.remove(c)
}

func (w *WebSocket) write(c *client) {
	defer w.group.Done()
	defer c.conn.Close()

	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(event); err != nil {
			w.log.Debugf("failed writing to websocket client. %v", err)
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}

func (w *WebSocket) remove(c *client) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.clients[c] {
		delete(w.clients, c)
		c.close()
	}
}

func (w *WebSocket) publish(event Event) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for c := range w.clients {
		select {
		case c.send <- event:
		default:
			w.log.Warnf("websocket client %s too slow, dropping %s", c.conn.RemoteAddr(), event.Kind)
		}
	}
}

// Clients returns how many clients are subscribed.
func (w *WebSocket) Clients() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.clients)
}

// Close disconnects every client and waits for the writers.
func (w *WebSocket) Close() error {
	w.mutex.Lock()
	w.closed = true
	for c := range w.clients {
		delete(w.clients, c)
		c.close()
	}
	w.mutex.Unlock()
	w.group.Wait()
	return nil
}

func (w *WebSocket) ShowChatLine(senderName, text string) {
	w.publish(chatEvent(senderName, text))
}

func (w *WebSocket) AddParticipant(name string) {
	w.publish(Event{Kind: Joined, Name: name})
}

func (w *WebSocket) RemoveParticipant(name string) {
	w.publish(Event{Kind: Left, Name: name})
}

func (w *WebSocket) SetLockStatus(participantName string, locked bool) {
	w.publish(lockEvent(participantName, locked))
}

func (w *WebSocket) SetConnectionState(connected bool) {
	w.publish(connectionEvent(connected))
}

var _ types.Display = (*WebSocket)(nil)
