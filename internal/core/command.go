package core

import "github.com/roomcast/roomcast-server/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoin attaches the connection to a conversation.
	CommandJoin CommandKind = iota
	// CommandInitiateDirect resolves the direct conversation with a target
	// identity and attaches to it.
	CommandInitiateDirect
	// CommandLeave detaches the connection from its conversation.
	CommandLeave
	// CommandSendMessage delivers a chat message to conversation participants.
	CommandSendMessage
	// CommandTyping relays a typing or stopped-typing signal.
	CommandTyping
	// CommandSetStatus updates the identity's presence status.
	CommandSetStatus
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind

	// Join / send / typing target.
	ConversationKind store.Kind
	ConversationID   int64
	ConversationName string // public conversations are addressed by name

	// Direct initiation.
	TargetIdentityID int64

	// Message payload.
	Text string

	// Typing signal: true while composing, false when stopped.
	Typing bool

	// Status update.
	Status        store.Status
	StatusMessage string
}
