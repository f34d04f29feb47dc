package output

import (
	"bytes"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/jabolina/go-groupchat/pkg/chat/helper"
)

func TestTranscript_RecordsState(t *testing.T) {
	transcript := NewTranscript()
	transcript.SetConnectionState(true)
	transcript.AddParticipant("alice")
	transcript.AddParticipant("bob")
	transcript.ShowChatLine("alice", "hi")
	transcript.SetLockStatus("bob", true)
	transcript.RemoveParticipant("alice")

	if !transcript.IsConnected() {
		t.Errorf("transcript should be connected")
	}

	if lines := transcript.Lines(); !reflect.DeepEqual(lines, []string{"alice: hi"}) {
		t.Errorf("unexpected lines %v", lines)
	}

	if p := transcript.Participants(); !reflect.DeepEqual(p, []string{"bob"}) {
		t.Errorf("unexpected participants %v", p)
	}

	if h := transcript.Holders(); !reflect.DeepEqual(h, []string{"bob"}) {
		t.Errorf("unexpected holders %v", h)
	}

	transcript.RemoveParticipant("bob")
	if h := transcript.Holders(); len(h) != 0 {
		t.Errorf("departed participant still holding %v", h)
	}

	if transcript.Size() != 7 {
		t.Errorf("expected 7 events, found %d", transcript.Size())
	}
}

func TestTerminal_WritesNotices(t *testing.T) {
	previous := color.NoColor
	color.NoColor = true
	defer func() {
		color.NoColor = previous
	}()

	buf := &bytes.Buffer{}
	terminal := NewTerminal(buf)
	terminal.AddParticipant("alice")
	terminal.ShowChatLine("alice", "hello")
	terminal.SetLockStatus("alice", true)
	terminal.SetLockStatus("alice", false)
	terminal.RemoveParticipant("alice")

	expected := []string{
		"alice has joined to the chat!",
		"alice: hello",
		"alice got the mutex!",
		"alice released the mutex!",
		"alice has left the chat!",
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !reflect.DeepEqual(lines, expected) {
		t.Errorf("expected %q, found %q", expected, lines)
	}
}

func TestMulti_FanOut(t *testing.T) {
	first, second := NewTranscript(), NewTranscript()
	multi := Multi{first, second}
	multi.ShowChatLine("carol", "one")
	multi.SetConnectionState(true)

	if !reflect.DeepEqual(first.Events(), second.Events()) {
		t.Errorf("displays diverged. %v != %v", first.Events(), second.Events())
	}

	if first.Size() != 2 {
		t.Errorf("expected 2 events, found %d", first.Size())
	}
}

func TestWebSocket_PublishEvents(t *testing.T) {
	ws := NewWebSocket(helper.NewDefaultLogger("websocket-test"))
	server := httptest.NewServer(ws)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed dialing %s. %v", url, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for ws.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ws.ShowChatLine("dave", "over the wire")
	ws.SetLockStatus("dave", true)

	expected := []Event{
		{Kind: ChatLine, Name: "dave", Text: "over the wire"},
		{Kind: Locked, Name: "dave"},
	}
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for _, e := range expected {
		var received Event
		if err := conn.ReadJSON(&received); err != nil {
			t.Fatalf("failed reading event. %v", err)
		}

		if received != e {
			t.Errorf("expected %v, found %v", e, received)
		}
	}

	if err := ws.Close(); err != nil {
		t.Errorf("failed closing. %v", err)
	}

	if ws.Clients() != 0 {
		t.Errorf("clients still subscribed after close")
	}
}
