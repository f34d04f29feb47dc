package output

import (
	"sort"
	"sync"

	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

// Transcript is a Display that records every event. This is an
// append only log, where each event is added at the tail.
//
// Since the events are applied in delivery order, the chat lines
// recorded by each participant of the group should be the same.
type Transcript struct {
	// Synchronize operations.
	mutex *sync.Mutex

	// Every event, append only.
	events []Event

	// Participants currently in the group.
	participants map[string]bool

	// Participants currently holding the floor.
	holders map[string]bool

	connected bool
}

func NewTranscript() *Transcript {
	return &Transcript{
		mutex:        &sync.Mutex{},
		participants: make(map[string]bool),
		holders:      make(map[string]bool),
	}
}

func (t *Transcript) append(event Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.events = append(t.events, event)

	switch event.Kind {
	case Joined:
		t.participants[event.Name] = true
	case Left:
		delete(t.participants, event.Name)
		delete(t.holders, event.Name)
	case Locked:
		t.holders[event.Name] = true
	case Unlocked:
		delete(t.holders, event.Name)
	case Connected:
		t.connected = true
	case Disconnected:
		t.connected = false
	}
}

func (t *Transcript) ShowChatLine(senderName, text string) {
	t.append(chatEvent(senderName, text))
}

func (t *Transcript) AddParticipant(name string) {
	t.append(Event{Kind: Joined, Name: name})
}

func (t *Transcript) RemoveParticipant(name string) {
	t.append(Event{Kind: Left, Name: name})
}

func (t *Transcript) SetLockStatus(participantName string, locked bool) {
	t.append(lockEvent(participantName, locked))
}

func (t *Transcript) SetConnectionState(connected bool) {
	t.append(connectionEvent(connected))
}

// Events returns a copy of every recorded event.
func (t *Transcript) Events() []Event {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return append([]Event(nil), t.events...)
}

// Lines returns only the chat lines, rendered as "name: text".
func (t *Transcript) Lines() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var lines []string
	for _, event := range t.events {
		if event.Kind == ChatLine {
			lines = append(lines, event.String())
		}
	}
	return lines
}

// Size is the number of recorded events.
func (t *Transcript) Size() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return len(t.events)
}

// Participants returns the names currently in the group, sorted.
func (t *Transcript) Participants() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return sortedKeys(t.participants)
}

// Holders returns the names currently shown holding the floor, sorted.
func (t *Transcript) Holders() []string {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return sortedKeys(t.holders)
}

// IsConnected verify the last connection state shown.
func (t *Transcript) IsConnected() bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	return t.connected
}

func sortedKeys(values map[string]bool) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ types.Display = (*Transcript)(nil)
