package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	InboundTypeJoin   = "join"
	InboundTypeDirect = "direct"
	InboundTypeLeave  = "leave"
	InboundTypeMsg    = "msg"
	InboundTypeTyping = "typing"
	InboundTypeStatus = "status"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventNameJoined        = "joined"
	EventNameMembers       = "members"
	EventNameMessage       = "message"
	EventNameDirectSummary = "dm_summary"
	EventNamePresence      = "presence"
	EventNameTyping        = "typing"
)

// ConversationRef addresses a conversation in inbound payloads. Public
// conversations are addressed by name, direct and private ones by id.
type ConversationRef struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// JoinData requests to attach to a conversation.
type JoinData struct {
	Conversation ConversationRef `json:"conversation"`
}

// DirectData requests the direct conversation with another identity.
type DirectData struct {
	TargetIdentityID int64 `json:"target_identity_id"`
}

// MsgData is a chat message from the client.
type MsgData struct {
	Conversation ConversationRef `json:"conversation"`
	Text         string          `json:"text"`
}

// TypingData is a typing / stopped-typing signal.
type TypingData struct {
	Conversation ConversationRef `json:"conversation"`
	Typing       bool            `json:"typing"`
}

// StatusData updates the identity's presence status.
type StatusData struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// IdentityInfo is the public view of an identity in outbound payloads.
type IdentityInfo struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	LastSeen      int64  `json:"last_seen"`
}

// ConversationInfo describes a conversation in outbound payloads.
type ConversationInfo struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Name         string `json:"name,omitempty"`
	DisplayName  string `json:"display_name,omitempty"`
	LastActivity int64  `json:"last_activity"`
}

// EventMessage is the fan-out payload for an accepted chat message.
type EventMessage struct {
	ID           int64           `json:"id"`
	Conversation ConversationRef `json:"conversation"`
	Sender       IdentityInfo    `json:"sender"`
	Text         string          `json:"text"`
	TS           int64           `json:"ts"`
}

// EventJoined is the response to a join or direct-initiation request.
type EventJoined struct {
	Conversation   ConversationInfo `json:"conversation"`
	WasCreated     bool             `json:"was_created"`
	Members        []IdentityInfo   `json:"members,omitempty"`
	RecentMessages []EventMessage   `json:"recent_messages"`
}

// EventMembers notifies about a public conversation's membership change.
type EventMembers struct {
	ConversationID int64          `json:"conversation_id"`
	Members        []IdentityInfo `json:"members"`
}

// EventDirectSummary refreshes one entry of the direct-conversation list.
type EventDirectSummary struct {
	ConversationID int64        `json:"conversation_id"`
	Other          IdentityInfo `json:"other"`
	LastActivity   int64        `json:"last_activity"`
	Unread         bool         `json:"unread"`
}

// EventPresence notifies about an identity's status change.
type EventPresence struct {
	IdentityID    int64  `json:"identity_id"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message,omitempty"`
	LastSeen      int64  `json:"last_seen"`
}

// EventTyping relays a typing signal.
type EventTyping struct {
	ConversationID int64  `json:"conversation_id"`
	IdentityID     int64  `json:"identity_id"`
	Name           string `json:"name"`
	Typing         bool   `json:"typing"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
