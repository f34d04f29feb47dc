package types

// Display is the presentation layer consumed by a client node.
// All methods are called from the node event loop, one at a
// time and in delivery order, implementations must not block.
type Display interface {
	// A chat line was delivered.
	ShowChatLine(senderName, text string)

	// A participant joined the group.
	AddParticipant(name string)

	// A participant left the group.
	RemoveParticipant(name string)

	// A participant acquired or released the floor.
	SetLockStatus(participantName string, locked bool)

	// The local node became active or was disconnected.
	SetConnectionState(connected bool)
}
