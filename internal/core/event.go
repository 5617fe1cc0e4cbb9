package core

import (
	"time"

	"github.com/roomcast/roomcast-server/internal/store"
)

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventJoined is the response to a join or direct-initiation request.
	EventJoined EventKind = iota
	// EventMemberList notifies a public conversation about membership changes.
	EventMemberList
	// EventMessage fans out an accepted chat message.
	EventMessage
	// EventDirectSummary refreshes a participant's direct-conversation list.
	EventDirectSummary
	// EventPresence notifies about an identity's status change.
	EventPresence
	// EventTyping relays a typing signal within a conversation.
	EventTyping
	// EventError notifies the originating connection about a failed operation.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind EventKind

	ConversationID   int64
	ConversationKind store.Kind

	// EventJoined.
	Conversation *store.Conversation
	WasCreated   bool
	Recent       []*store.Message

	// EventJoined (public) and EventMemberList.
	Members []Snapshot

	// EventMessage.
	Message *store.Message
	Sender  Snapshot

	// EventDirectSummary.
	Other        Snapshot
	LastActivity time.Time
	Unread       bool

	// EventPresence and EventTyping.
	User Snapshot
	// EventTyping.
	Typing bool

	// EventError.
	Error *CoreError
}
