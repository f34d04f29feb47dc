package output

import "github.com/jabolina/go-groupchat/pkg/chat/types"

// Multi applies every event to all displays, in the given order.
type Multi []types.Display

func (m Multi) ShowChatLine(senderName, text string) {
	for _, d := range m {
		d.ShowChatLine(senderName, text)
	}
}

func (m Multi) AddParticipant(name string) {
	for _, d := range m {
		d.AddParticipant(name)
	}
}

func (m Multi) RemoveParticipant(name string) {
	for _, d := range m {
		d.RemoveParticipant(name)
	}
}

func (m Multi) SetLockStatus(participantName string, locked bool) {
	for _, d := range m {
		d.SetLockStatus(participantName, locked)
	}
}

func (m Multi) SetConnectionState(connected bool) {
	for _, d := range m {
		d.SetConnectionState(connected)
	}
}
