package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert violates a uniqueness constraint.
	// The direct-conversation resolver relies on this to recover from
	// concurrent creation of the same pair.
	ErrConflict = errors.New("conflict")
)

// Status is an identity's presence status.
type Status string

const (
	StatusOnline       Status = "online"
	StatusAway         Status = "away"
	StatusDoNotDisturb Status = "doNotDisturb"
	StatusOffline      Status = "offline"
)

// ValidStatus reports whether s is one of the known presence statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusAway, StatusDoNotDisturb, StatusOffline:
		return true
	}
	return false
}

// Identity represents an authenticated end user.
type Identity struct {
	ID            int64
	Username      string
	DisplayName   string
	AvatarURL     string
	PasswordHash  string
	IsGuest       bool
	SessionID     string // guest session tracking
	Status        Status
	StatusMessage string
	LastSeen      time.Time
	CreatedAt     time.Time
}

// Kind distinguishes conversation types.
type Kind string

const (
	KindPublic  Kind = "public"
	KindPrivate Kind = "private"
	KindDirect  Kind = "direct"
)

// Conversation is a public room or a one-to-one direct chat.
type Conversation struct {
	ID           int64
	Kind         Kind
	Name         string // unique among public conversations
	DisplayName  string
	DirectKey    *string // for direct: "dm:{minID}:{maxID}"
	LastActivity time.Time
	CreatedAt    time.Time
}

// DirectKey returns the canonical deduplication key for a pair of identities.
func DirectKey(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("dm:%d:%d", a, b)
}

// Message is a persisted chat message. Messages are append-only.
// SenderName is a read-side convenience filled by RecentMessages; it is not
// stored on the message row.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderName     string
	Body           string
	CreatedAt      time.Time
}

// IdentityStore handles identity persistence.
type IdentityStore interface {
	// CreateIdentity creates a new identity with a hashed password.
	CreateIdentity(ctx context.Context, username, passwordHash string) (*Identity, error)

	// CreateGuestIdentity creates a temporary guest identity bound to a session ID.
	CreateGuestIdentity(ctx context.Context, sessionID string) (*Identity, error)

	// GetIdentityByID retrieves an identity by ID.
	GetIdentityByID(ctx context.Context, id int64) (*Identity, error)

	// GetIdentityByUsername retrieves a registered identity by username.
	GetIdentityByUsername(ctx context.Context, username string) (*Identity, error)

	// GetIdentityBySessionID retrieves a guest identity by session ID.
	GetIdentityBySessionID(ctx context.Context, sessionID string) (*Identity, error)

	// UpdateIdentityStatus persists a status change together with the
	// status message and last-seen timestamp.
	UpdateIdentityStatus(ctx context.Context, id int64, status Status, statusMessage string, lastSeen time.Time) error
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation creates a public or private conversation.
	// Returns ErrConflict if the name is already taken.
	CreateConversation(ctx context.Context, name, displayName string, kind Kind) (*Conversation, error)

	// CreateDirectConversation creates the direct conversation for a pair,
	// adding both identities as participants in one transaction.
	// Returns ErrConflict if a conversation with the same direct key exists.
	CreateDirectConversation(ctx context.Context, directKey string, idA, idB int64) (*Conversation, error)

	// GetConversationByID retrieves a conversation by ID.
	GetConversationByID(ctx context.Context, id int64) (*Conversation, error)

	// GetConversationByName retrieves a public conversation by its unique name.
	GetConversationByName(ctx context.Context, name string) (*Conversation, error)

	// GetConversationByDirectKey retrieves a direct conversation by its key.
	GetConversationByDirectKey(ctx context.Context, directKey string) (*Conversation, error)

	// ConversationParticipants lists the participant identity IDs of a
	// direct conversation.
	ConversationParticipants(ctx context.Context, conversationID int64) ([]int64, error)

	// TouchActivity advances a conversation's last-activity timestamp.
	TouchActivity(ctx context.Context, conversationID int64, ts time.Time) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its assigned ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// RecentMessages returns up to limit most recent messages of a
	// conversation in chronological order.
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces consumed by the core.
type Store interface {
	IdentityStore
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
