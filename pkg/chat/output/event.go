package output

import "fmt"

// Which display change an event records.
type EventKind string

const (
	ChatLine     EventKind = "chat"
	Joined       EventKind = "joined"
	Left         EventKind = "left"
	Locked       EventKind = "locked"
	Unlocked     EventKind = "unlocked"
	Connected    EventKind = "connected"
	Disconnected EventKind = "disconnected"
)

// Event is a single change applied to a display.
type Event struct {
	Kind EventKind `json:"kind"`
	Name string    `json:"name,omitempty"`
	Text string    `json:"text,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case ChatLine:
		return fmt.Sprintf("%s: %s", e.Name, e.Text)
	case Joined:
		return fmt.Sprintf("%s has joined to the chat!", e.Name)
	case Left:
		return fmt.Sprintf("%s has left the chat!", e.Name)
	case Locked:
		return fmt.Sprintf("%s got the mutex!", e.Name)
	case Unlocked:
		return fmt.Sprintf("%s released the mutex!", e.Name)
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

func chatEvent(senderName, text string) Event {
	return Event{Kind: ChatLine, Name: senderName, Text: text}
}

func lockEvent(name string, locked bool) Event {
	if locked {
		return Event{Kind: Locked, Name: name}
	}
	return Event{Kind: Unlocked, Name: name}
}

func connectionEvent(connected bool) Event {
	if connected {
		return Event{Kind: Connected}
	}
	return Event{Kind: Disconnected}
}
