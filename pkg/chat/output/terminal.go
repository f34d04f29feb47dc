package output

import (
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/jabolina/go-groupchat/pkg/chat/types"
)

const separator = "----"

// Terminal writes the delivered events to a writer, names in bold
// and notices in italic.
type Terminal struct {
	mutex  *sync.Mutex
	out    io.Writer
	name   *color.Color
	notice *color.Color
	status *color.Color
}

func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		mutex:  &sync.Mutex{},
		out:    out,
		name:   color.New(color.Bold),
		notice: color.New(color.Italic),
		status: color.New(color.FgYellow),
	}
}

func (t *Terminal) ShowChatLine(senderName, text string) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.name.Fprintf(t.out, "%s: ", senderName)
	io.WriteString(t.out, text+"\n")
}

func (t *Terminal) AddParticipant(name string) {
	t.noticef(Event{Kind: Joined, Name: name})
}

func (t *Terminal) RemoveParticipant(name string) {
	t.noticef(Event{Kind: Left, Name: name})
}

func (t *Terminal) SetLockStatus(participantName string, locked bool) {
	t.noticef(lockEvent(participantName, locked))
}

func (t *Terminal) SetConnectionState(connected bool) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.status.Fprintln(t.out, separator, connectionEvent(connected).String(), separator)
}

func (t *Terminal) noticef(event Event) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.notice.Fprintln(t.out, event.String())
}

var _ types.Display = (*Terminal)(nil)
